package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/platform"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/headless"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/opengl"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/vulkan"
)

type Config struct {
	/** @brief One of headless, opengl or vulkan. */
	Backend string `toml:"backend"`
	/** @brief The headless capability profile, dsa or fallback. */
	Profile string        `toml:"profile"`
	OpenGL  opengl.Config `toml:"opengl"`
	Vulkan  vulkan.Config `toml:"vulkan"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend: metadata.BackendHeadless.String(),
		Profile: "dsa",
		OpenGL:  opengl.Config{CheckErrors: true},
		Vulkan:  vulkan.Config{FramesInFlight: 2},
	}
}

/**
 * @brief Owns the binding backend of one GPU API and the platform context it
 * needs.
 */
type Renderer struct {
	backendType metadata.BackendType
	backend     BindingBackend
	platform    *platform.Platform
	shutdown    func()
}

// New creates the backend selected by config. The OpenGL and Vulkan backends
// start a hidden platform window first.
func New(appName string, config *Config) (*Renderer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	bt, err := metadata.BackendTypeFromString(config.Backend)
	if err != nil {
		return nil, err
	}
	r := &Renderer{backendType: bt}

	switch bt {
	case metadata.BackendHeadless:
		switch config.Profile {
		case "", "dsa":
			r.backend = headless.NewDSA()
		case "fallback":
			r.backend = headless.NewFallback()
		default:
			return nil, fmt.Errorf("unknown headless profile '%s'", config.Profile)
		}
	case metadata.BackendOpenGL:
		r.platform = platform.New()
		if err := r.platform.Startup(appName, platform.ClientAPIOpenGL, config.OpenGL.CheckErrors); err != nil {
			return nil, err
		}
		b, err := opengl.New(config.OpenGL)
		if err != nil {
			_ = r.platform.Shutdown()
			return nil, err
		}
		r.backend = b
	case metadata.BackendVulkan:
		vc := config.Vulkan
		if vc.ApplicationName == "" {
			vc.ApplicationName = appName
		}
		if vc.UseGLFW {
			r.platform = platform.New()
			if err := r.platform.Startup(appName, platform.ClientAPINone, false); err != nil {
				return nil, err
			}
		}
		b, err := vulkan.New(vc)
		if err != nil {
			if r.platform != nil {
				_ = r.platform.Shutdown()
			}
			return nil, err
		}
		r.backend = b
		r.shutdown = b.Shutdown
	}

	core.LogInfo("renderer backend %s created", r.backend.Name())
	return r, nil
}

func (r *Renderer) Type() metadata.BackendType {
	return r.backendType
}

func (r *Renderer) Backend() BindingBackend {
	return r.backend
}

// Factory returns the resource factory of the backend, if it has one.
func (r *Renderer) Factory() (ResourceFactory, bool) {
	f, ok := r.backend.(ResourceFactory)
	return f, ok
}

func (r *Renderer) Platform() *platform.Platform {
	return r.platform
}

// PumpMessages returns false once the platform window was closed.
func (r *Renderer) PumpMessages() bool {
	if r.platform == nil {
		return true
	}
	return r.platform.PumpMessages()
}

func (r *Renderer) Shutdown() error {
	if r.shutdown != nil {
		r.shutdown()
		r.shutdown = nil
	}
	if r.platform != nil {
		if err := r.platform.Shutdown(); err != nil {
			return err
		}
		r.platform = nil
	}
	return nil
}
