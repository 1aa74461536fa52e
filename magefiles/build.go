//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/naga"
	"github.com/magefile/mage/mg"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/reflection"
)

const (
	shaderSources = "assets/shaders"
	// SPIR-V goes outside the assets directory so the watcher does not report
	// every shader twice.
	shaderOutput = "build/shaders"
)

type Build mg.Namespace

// Compiles every WGSL shader under assets/shaders to SPIR-V in build/shaders.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary into bin/.
func (Build) Binary() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/anima-srbc", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	sources, err := filepath.Glob(filepath.Join(shaderSources, "*.wgsl"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(shaderOutput, 0o755); err != nil {
		return err
	}
	opts := naga.DefaultOptions()
	opts.Debug = mg.Verbose()
	for _, src := range sources {
		code, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		spv, err := naga.CompileWithOptions(reflection.PrepareWGSL(string(code)), opts)
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		out := filepath.Join(shaderOutput, strings.TrimSuffix(filepath.Base(src), ".wgsl")+".spv")
		if err := os.WriteFile(out, spv, 0o644); err != nil {
			return err
		}
		fmt.Printf("Compiled %s -> %s (%d bytes)\n", src, out, len(spv))
	}
	return nil
}
