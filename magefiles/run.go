//go:build mage

package main

import (
	"fmt"
	"strconv"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed with config/testbed.toml.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "config/testbed.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed on the given backend for a number of frames.
func (Run) Backend(backend string, frames int) error {
	fmt.Printf("Run engine on %s for %d frames...\n", backend, frames)
	args := withArgs("run", ".", "-config", "config/testbed.toml", "-backend", backend, "-frames", strconv.Itoa(frames))
	if _, err := executeCmd("go", args, withStream()); err != nil {
		return err
	}
	return nil
}
