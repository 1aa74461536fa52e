package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/spaghettifunk/anima-srbc/engine/core"
)

/** @brief A code returned by glGetError. */
type GLError uint32

func (e GLError) Error() string {
	return GLErrorString(uint32(e))
}

// GLErrorString returns the enum name of an error code.
func GLErrorString(code uint32) string {
	switch code {
	case gl.NO_ERROR:
		return "GL_NO_ERROR"
	case gl.INVALID_ENUM:
		return "GL_INVALID_ENUM"
	case gl.INVALID_VALUE:
		return "GL_INVALID_VALUE"
	case gl.INVALID_OPERATION:
		return "GL_INVALID_OPERATION"
	case gl.STACK_OVERFLOW:
		return "GL_STACK_OVERFLOW"
	case gl.STACK_UNDERFLOW:
		return "GL_STACK_UNDERFLOW"
	case gl.OUT_OF_MEMORY:
		return "GL_OUT_OF_MEMORY"
	case gl.INVALID_FRAMEBUFFER_OPERATION:
		return "GL_INVALID_FRAMEBUFFER_OPERATION"
	}
	return fmt.Sprintf("GL error 0x%04X", code)
}

// maxDrainedErrors bounds the glGetError loop on a lost context, which keeps
// reporting GL_CONTEXT_LOST.
const maxDrainedErrors = 16

// drainErrors pops every pending error flag and returns the first one.
func drainErrors(getError func() uint32) error {
	var first error
	for i := 0; i < maxDrainedErrors; i++ {
		code := getError()
		if code == gl.NO_ERROR {
			break
		}
		if first == nil {
			first = GLError(code)
		}
	}
	return first
}

// check turns a pending GL error into a BackendError for op at point.
func (b *Backend) check(op string, point uint32) error {
	if !b.checkErrors {
		return nil
	}
	if err := drainErrors(gl.GetError); err != nil {
		return &core.BackendError{Op: op, Point: point, Err: err}
	}
	return nil
}
