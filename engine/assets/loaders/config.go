package loaders

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
)

/** @brief Loads *.registry.toml files into a validated systems.RegistryConfig. */
type RegistryConfigLoader struct{}

func (cl *RegistryConfigLoader) Load(path string) (*Resource, error) {
	config, err := LoadRegistryConfig(path)
	if err != nil {
		return nil, err
	}
	return &Resource{
		Name:     ShaderName(path),
		FullPath: path,
		Type:     ResourceTypeRegistryConfig,
		Data:     config,
	}, nil
}

// LoadRegistryConfig reads and parses the TOML file at path.
func LoadRegistryConfig(path string) (*systems.RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := ParseRegistryConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// ParseRegistryConfig decodes data over systems.DefaultRegistryConfig, so keys
// left out keep their default. Unknown keys are an error.
func ParseRegistryConfig(data []byte) (*systems.RegistryConfig, error) {
	config := systems.DefaultRegistryConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("registry config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// EncodeRegistryConfig writes config back as TOML.
func EncodeRegistryConfig(config *systems.RegistryConfig) ([]byte, error) {
	return toml.Marshal(config)
}
