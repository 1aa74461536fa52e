package systems

import (
	"strings"

	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

var (
	systemTokens   = []string{"system", "camera", "time", "view", "projection", "frame"}
	globalTokens   = []string{"light", "environment", "env", "shadow", "fog", "ibl"}
	instanceTokens = []string{"model", "instance", "transform", "object", "bone", "skin"}
)

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// ClassifyResource picks the set priority of a resource from its name and kind.
// A name matching more than one group, and anything unmatched, lands in Material.
func ClassifyResource(name string, kind metadata.ResourceKind) metadata.SetPriority {
	n := strings.ToLower(name)
	matches := 0
	priority := metadata.SetPriorityMaterial
	if containsAny(n, systemTokens) {
		matches++
		priority = metadata.SetPrioritySystem
	}
	if containsAny(n, globalTokens) {
		matches++
		priority = metadata.SetPriorityGlobal
	}
	if containsAny(n, instanceTokens) {
		matches++
		priority = metadata.SetPriorityInstance
	}
	if matches != 1 {
		return metadata.SetPriorityMaterial
	}
	// Per-instance textures do not exist. They belong to the material.
	if priority == metadata.SetPriorityInstance && kind.IsTexture() {
		return metadata.SetPriorityMaterial
	}
	return priority
}

// DefaultKindPriorities is the update priority of batched updates per kind.
func DefaultKindPriorities() map[metadata.ResourceKind]metadata.UpdatePriority {
	return map[metadata.ResourceKind]metadata.UpdatePriority{
		metadata.ResourceKindUniformBuffer: metadata.UpdatePriorityHigh,
		metadata.ResourceKindStorageBuffer: metadata.UpdatePriorityNormal,
		metadata.ResourceKindTexture2D:     metadata.UpdatePriorityLow,
		metadata.ResourceKindTextureCube:   metadata.UpdatePriorityLow,
		metadata.ResourceKindImage2D:       metadata.UpdatePriorityNormal,
	}
}

/** @brief The families of shaders the registry knows default layouts for. */
type ShaderPattern uint8

const (
	ShaderPatternUnknown ShaderPattern = iota
	ShaderPatternPBR
	ShaderPatternUnlit
	ShaderPatternPostProcess
	ShaderPatternCompute
	ShaderPatternSkybox
	ShaderPatternShadowMapping
	ShaderPatternInstanced
)

func (p ShaderPattern) String() string {
	switch p {
	case ShaderPatternPBR:
		return "pbr"
	case ShaderPatternUnlit:
		return "unlit"
	case ShaderPatternPostProcess:
		return "post_process"
	case ShaderPatternCompute:
		return "compute"
	case ShaderPatternSkybox:
		return "skybox"
	case ShaderPatternShadowMapping:
		return "shadow_mapping"
	case ShaderPatternInstanced:
		return "instanced"
	}
	return "unknown"
}

// DetectShaderPattern guesses the family of a shader from its name, stages and
// discovered resource names. The result is advisory.
func DetectShaderPattern(shaderName string, stages metadata.ShaderStageFlags, names []string) ShaderPattern {
	if stages.Has(metadata.ShaderStageCompute) && !stages.Has(metadata.ShaderStageVertex) && !stages.Has(metadata.ShaderStageFragment) {
		return ShaderPatternCompute
	}
	sn := strings.ToLower(shaderName)
	all := strings.ToLower(strings.Join(names, " "))
	switch {
	case strings.Contains(sn, "skybox") || strings.Contains(sn, "sky"):
		return ShaderPatternSkybox
	case strings.Contains(sn, "shadow") || strings.Contains(sn, "depth"):
		return ShaderPatternShadowMapping
	case containsAny(sn, []string{"post", "fx", "screen", "fullscreen", "blit"}):
		return ShaderPatternPostProcess
	case containsAny(sn, []string{"instanc"}) || containsAny(all, []string{"instances", "instancedata"}):
		return ShaderPatternInstanced
	case containsAny(all, []string{"metallic", "roughness", "albedo", "occlusion"}):
		return ShaderPatternPBR
	}
	return ShaderPatternUnlit
}

// DefaultTextureFor picks the default texture that stands in for an unset
// texture binding.
func DefaultTextureFor(name string, kind metadata.ResourceKind) string {
	n := strings.ToLower(name)
	switch {
	case kind.Element() == metadata.ResourceKindTextureCube:
		return metadata.DEFAULT_CUBE_TEXTURE_NAME
	case strings.Contains(n, "normal"):
		return metadata.DEFAULT_NORMAL_TEXTURE_NAME
	case strings.Contains(n, "spec") || strings.Contains(n, "metal") || strings.Contains(n, "rough"):
		return metadata.DEFAULT_SPECULAR_TEXTURE_NAME
	case strings.Contains(n, "diffuse") || strings.Contains(n, "albedo") || strings.Contains(n, "color") || strings.Contains(n, "base"):
		return metadata.DEFAULT_DIFFUSE_TEXTURE_NAME
	}
	return metadata.DEFAULT_TEXTURE_NAME
}
