package loaders

import (
	"path/filepath"
	"strings"
)

type ResourceType int

/** @brief The asset types the binding core knows how to load. */
const (
	ResourceTypeNone ResourceType = iota
	/** @brief SPIR-V bytecode for one shader stage. */
	ResourceTypeSpirv
	/** @brief WGSL source. One file may hold several stages. */
	ResourceTypeWGSL
	/** @brief A TOML registry configuration. */
	ResourceTypeRegistryConfig
	/** @brief A TOML binding layout. */
	ResourceTypeBindingLayout
	/** @brief An image decoded into texture pixels. */
	ResourceTypeImage
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeSpirv:
		return "spirv"
	case ResourceTypeWGSL:
		return "wgsl"
	case ResourceTypeRegistryConfig:
		return "registry_config"
	case ResourceTypeBindingLayout:
		return "binding_layout"
	case ResourceTypeImage:
		return "image"
	}
	return "none"
}

// IsShader reports whether the type holds shader modules.
func (t ResourceType) IsShader() bool {
	return t == ResourceTypeSpirv || t == ResourceTypeWGSL
}

/**
 * @brief A generic structure for a loaded asset. All loaders load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. For shaders, the program the module belongs to. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	Type     ResourceType
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. The concrete type depends on Type. */
	Data interface{}
}

// ResourceTypeFromPath picks the type from the file name. Registry configs are
// named *.registry.toml, everything else ending in .toml is a binding layout.
func ResourceTypeFromPath(path string) ResourceType {
	base := strings.ToLower(filepath.Base(path))
	switch filepath.Ext(base) {
	case ".spv":
		return ResourceTypeSpirv
	case ".wgsl":
		return ResourceTypeWGSL
	case ".png", ".jpg", ".jpeg", ".bmp", ".tiff":
		return ResourceTypeImage
	case ".toml":
		if strings.HasSuffix(base, ".registry.toml") {
			return ResourceTypeRegistryConfig
		}
		return ResourceTypeBindingLayout
	}
	return ResourceTypeNone
}

// ShaderName is the program a module file belongs to: "basic.vert.spv" and
// "basic.wgsl" both belong to "basic".
func ShaderName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
