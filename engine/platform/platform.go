package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/anima-srbc/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type ClientAPI uint8

const (
	// An OpenGL 4.6 core context is made current on the window.
	ClientAPIOpenGL ClientAPI = iota
	// No context, the window only keeps GLFW (and its Vulkan loader) alive.
	ClientAPINone
)

/**
 * @brief A hidden window owning the GPU context the backends run on.
 * Nothing is ever presented to it.
 */
type Platform struct {
	Window    *glfw.Window
	clientAPI ClientAPI
	startTime float64
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup(applicationName string, api ClientAPI, debug bool) error {
	if p.Window != nil {
		return fmt.Errorf("platform already started: %w", core.ErrAlreadyInitialized)
	}
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	switch api {
	case ClientAPIOpenGL:
		glfw.WindowHint(glfw.ContextVersionMajor, 4)
		glfw.WindowHint(glfw.ContextVersionMinor, 6)
		glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
		glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
		if debug {
			glfw.WindowHint(glfw.OpenGLDebugContext, glfw.True)
		}
	case ClientAPINone:
		glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.
	}

	window, err := glfw.CreateWindow(1, 1, applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return err
	}
	if api == ClientAPIOpenGL {
		window.MakeContextCurrent()
	}
	p.Window = window
	p.clientAPI = api
	p.startTime = glfw.GetTime()

	core.LogDebug("platform started (api=%d)", api)
	return nil
}

func (p *Platform) ClientAPI() ClientAPI {
	return p.clientAPI
}

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (p *Platform) PumpMessages() bool {
	if p.Window == nil {
		return true
	}
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// GetAbsoluteTime returns the seconds elapsed since Startup.
func (p *Platform) GetAbsoluteTime() float64 {
	return glfw.GetTime() - p.startTime
}

func (p *Platform) Shutdown() error {
	if p.Window == nil {
		return nil
	}
	p.Window.Destroy()
	p.Window = nil
	glfw.Terminate()
	return nil
}
