package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/** @brief A resource the registry can create when nothing was set by the user. */
type DefaultResource struct {
	Name string
	Kind metadata.ResourceKind
	/** @brief Buffer size in bytes. Ignored for textures. */
	Size uint64
	/** @brief Default texture name for texture kinds. Empty picks one from the binding name. */
	Texture string
	/** @brief Declared by the registry when the shader does not declare it. */
	System bool
}

// SystemDefaults are the engine wide uniform blocks every shader may use.
func SystemDefaults() []DefaultResource {
	return []DefaultResource{
		{Name: "SystemUniforms", Kind: metadata.ResourceKindUniformBuffer, Size: 256, System: true},
		{Name: "LightingUniforms", Kind: metadata.ResourceKindUniformBuffer, Size: 512, System: true},
	}
}

// PatternDefaults are the resources a shader family usually reads. They only
// fill declarations the shader already has.
func PatternDefaults(p ShaderPattern) []DefaultResource {
	switch p {
	case ShaderPatternPBR:
		return []DefaultResource{
			{Name: "MaterialUniforms", Kind: metadata.ResourceKindUniformBuffer, Size: 64},
			{Name: "albedoMap", Kind: metadata.ResourceKindTexture2D, Texture: metadata.DEFAULT_DIFFUSE_TEXTURE_NAME},
			{Name: "normalMap", Kind: metadata.ResourceKindTexture2D, Texture: metadata.DEFAULT_NORMAL_TEXTURE_NAME},
			{Name: "metallicRoughnessMap", Kind: metadata.ResourceKindTexture2D, Texture: metadata.DEFAULT_SPECULAR_TEXTURE_NAME},
			{Name: "irradianceMap", Kind: metadata.ResourceKindTextureCube, Texture: metadata.DEFAULT_CUBE_TEXTURE_NAME},
		}
	case ShaderPatternUnlit:
		return []DefaultResource{
			{Name: "MaterialUniforms", Kind: metadata.ResourceKindUniformBuffer, Size: 32},
			{Name: "diffuseTexture", Kind: metadata.ResourceKindTexture2D, Texture: metadata.DEFAULT_DIFFUSE_TEXTURE_NAME},
		}
	case ShaderPatternPostProcess:
		return []DefaultResource{
			{Name: "screenTexture", Kind: metadata.ResourceKindTexture2D, Texture: metadata.DEFAULT_TEXTURE_NAME},
			{Name: "PostProcessUniforms", Kind: metadata.ResourceKindUniformBuffer, Size: 32},
		}
	case ShaderPatternSkybox:
		return []DefaultResource{
			{Name: "skybox", Kind: metadata.ResourceKindTextureCube, Texture: metadata.DEFAULT_CUBE_TEXTURE_NAME},
		}
	case ShaderPatternShadowMapping:
		return []DefaultResource{
			{Name: "LightSpaceUniforms", Kind: metadata.ResourceKindUniformBuffer, Size: 64},
		}
	case ShaderPatternInstanced:
		return []DefaultResource{
			{Name: "InstanceData", Kind: metadata.ResourceKindStorageBuffer, Size: 64 * 1024},
		}
	}
	return nil
}

// InitializeDefaultResources creates default resources for every declaration
// that has nothing set, and declares the system defaults when configured.
// Resources set by the user are never replaced.
func (r *ResourceRegistry) InitializeDefaultResources() error {
	if !r.config.EnableDefaultResources {
		return core.ErrFeatureDisabled
	}
	if r.factory == nil {
		return fmt.Errorf("default resources on %s: %w", r.backend.Name(), core.ErrUnsupported)
	}
	if r.config.AutoDetectShaderPattern && r.shader != nil {
		var stages metadata.ShaderStageFlags
		for _, m := range r.shader.Modules {
			stages = stages.With(m.Stage)
		}
		r.pattern = DetectShaderPattern(r.shader.Name, stages, r.Names())
		core.LogDebug("%s: detected shader pattern %s", r, r.pattern)
	}

	list := append([]DefaultResource(nil), r.defaults...)
	if r.config.CreateSystemDefaults {
		list = append(list, SystemDefaults()...)
	}
	list = append(list, PatternDefaults(r.pattern)...)

	var firstErr error
	for _, d := range list {
		b, ok := r.bindings[d.Name]
		if !ok {
			if !d.System || !r.config.CreateSystemDefaults {
				continue
			}
			decl := metadata.BindingDeclaration{
				Name:         d.Name,
				Kind:         d.Kind,
				BindingPoint: r.freePoint(d.Kind.Target()),
				Set:          metadata.UnassignedSet,
				ElementSize:  d.Size,
				ArraySize:    1,
			}
			if _, err := r.install(decl, BindingSourceDefault); err != nil {
				core.LogWarn("%s: cannot declare default '%s': %s", r, d.Name, err)
				continue
			}
			b = r.bindings[d.Name]
		}
		if err := r.fillDefault(b, d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, n := range r.Names() {
		b := r.bindings[n]
		if !b.Declaration.Kind.IsTexture() {
			continue
		}
		d := DefaultResource{Name: n, Kind: b.Declaration.Kind, Texture: DefaultTextureFor(n, b.Declaration.Kind)}
		if err := r.fillDefault(b, d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// freePoint is the lowest backend point of target no binding holds.
func (r *ResourceRegistry) freePoint(target metadata.BindTarget) uint32 {
	p := uint32(0)
	for !r.pointsFree(target, p, 1) {
		p++
	}
	return p
}

func (r *ResourceRegistry) fillDefault(b *ResourceBinding, d DefaultResource) error {
	name := b.Declaration.Name
	if !b.Resource.IsEmpty() {
		return nil
	}
	if _, pending := r.pending[name]; pending {
		return nil
	}
	if d.Kind != metadata.ResourceKindNone && d.Kind.Element() != b.Declaration.Kind.Element() {
		core.LogDebug("%s: default for '%s' is a %s, declaration is %s", r, name, d.Kind, b.Declaration.Kind)
		return nil
	}
	h, err := r.createDefault(b.Declaration, d)
	if err != nil {
		core.LogWarn("%s: default for '%s': %s", r, name, err)
		return err
	}
	if b.Declaration.Kind.IsArray() {
		h = h.AsArray()
	}
	r.queue(b, h)
	b.IsDefault = true
	return nil
}

func (r *ResourceRegistry) createDefault(decl metadata.BindingDeclaration, d DefaultResource) (metadata.ResourceHandle, error) {
	kind := decl.Kind.Element()
	switch {
	case kind.IsBuffer():
		size := decl.ElementSize
		if size == 0 {
			size = d.Size
		}
		if size == 0 {
			size = DefaultBufferSize
		}
		h, err := r.factory.CreateBuffer(metadata.BufferConfig{Name: decl.Name, Kind: kind, Size: size})
		if err != nil {
			return metadata.ResourceHandle{}, err
		}
		r.owned = append(r.owned, h)
		return h, nil
	case kind.IsTexture():
		tex := d.Texture
		if tex == "" {
			tex = DefaultTextureFor(decl.Name, kind)
		}
		if kind == metadata.ResourceKindTextureCube {
			tex = metadata.DEFAULT_CUBE_TEXTURE_NAME
		}
		return r.defaultTexture(tex)
	}
	return metadata.ResourceHandle{}, fmt.Errorf("no default for %s: %w", kind, core.ErrUnsupported)
}

// defaultTexture creates each default texture once per registry.
func (r *ResourceRegistry) defaultTexture(name string) (metadata.ResourceHandle, error) {
	if h, ok := r.defaultTextures[name]; ok {
		return h, nil
	}
	for _, cfg := range metadata.DefaultTextures() {
		if cfg.Name != name {
			continue
		}
		h, err := r.factory.CreateTexture(cfg)
		if err != nil {
			return metadata.ResourceHandle{}, err
		}
		r.defaultTextures[name] = h
		r.owned = append(r.owned, h)
		return h, nil
	}
	return metadata.ResourceHandle{}, fmt.Errorf("unknown default texture '%s'", name)
}

// AutoAssignResourceSets puts every binding without a set into the set its
// name and kind classify it to. Returns the number of bindings assigned.
func (r *ResourceRegistry) AutoAssignResourceSets() int {
	n := 0
	for _, name := range r.Names() {
		b := r.bindings[name]
		if b.Declaration.Set != metadata.UnassignedSet {
			continue
		}
		idx := r.sets.IndexFor(ClassifyResource(name, b.Declaration.Kind))
		if err := r.assignSet(name, idx); err != nil {
			core.LogWarn("%s: cannot assign '%s' to set %d: %s", r, name, idx, err)
			continue
		}
		n++
	}
	return n
}
