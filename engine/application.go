package engine

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
)

type ApplicationConfig struct {
	// The application name, used for the platform window and the Vulkan instance.
	Name string `toml:"name"`
	// One of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
	// The watched directory holding shaders, layouts and registry configs. Empty
	// disables the asset manager.
	AssetsDir string `toml:"assets_dir"`
	// Frames to run before Run returns. 0 runs until the engine is stopped.
	Frames uint64 `toml:"frames"`
	// Resolver workers of the system manager.
	Workers int `toml:"workers"`

	Renderer *renderer.Config        `toml:"renderer"`
	Registry *systems.RegistryConfig `toml:"registry"`
}

func DefaultApplicationConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Name:     "Anima Binding Core",
		LogLevel: "info",
		Workers:  2,
		Renderer: renderer.DefaultConfig(),
		Registry: systems.DefaultRegistryConfig(),
	}
}

// LoadApplicationConfig decodes the TOML file at path over the defaults.
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultApplicationConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, config.Validate()
}

func (c *ApplicationConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Registry != nil {
		return c.Registry.Validate()
	}
	return nil
}

func (c *ApplicationConfig) managerConfig() *systems.SystemManagerConfig {
	mc := systems.DefaultSystemManagerConfig()
	if c.Registry != nil {
		mc.Registry = c.Registry
		mc.ShareStateCache = c.Registry.SharedStateCache
	}
	if c.Workers > 0 {
		mc.Workers = c.Workers
	}
	return mc
}
