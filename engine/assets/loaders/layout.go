package loaders

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
)

/*
A binding layout file looks like:

	[[binding]]
	name = "Camera"
	kind = "UniformBuffer"
	set = 0
	binding = 0
	size = 128
	stages = ["vertex", "fragment"]
	priority = "High"

	[[set]]
	index = 2
	name = "material"
	priority = "Material"

	[dependencies]
	Material = ["Camera"]

	[[default]]
	name = "albedo"
	kind = "Texture2D"

A binding without a set is placed by automatic set assignment.
*/

type layoutFile struct {
	Bindings     []bindingEntry      `toml:"binding"`
	Sets         []setEntry          `toml:"set"`
	Dependencies map[string][]string `toml:"dependencies"`
	Required     map[string][]string `toml:"required"`
	Forbidden    map[string][]string `toml:"forbidden"`
	Defaults     []defaultEntry      `toml:"default"`
}

type bindingEntry struct {
	Name      string                   `toml:"name"`
	Kind      string                   `toml:"kind"`
	Set       *uint32                  `toml:"set"`
	Binding   uint32                   `toml:"binding"`
	Size      uint64                   `toml:"size"`
	ArraySize uint32                   `toml:"array_size"`
	Stages    []string                 `toml:"stages"`
	Priority  *metadata.UpdatePriority `toml:"priority"`
}

type setEntry struct {
	Index    uint32 `toml:"index"`
	Name     string `toml:"name"`
	Priority string `toml:"priority"`
}

type defaultEntry struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Size    uint64 `toml:"size"`
	Texture string `toml:"texture"`
	System  bool   `toml:"system"`
}

/** @brief Loads binding layout TOML files into a systems.BindingLayout. */
type BindingLayoutLoader struct{}

func (ll *BindingLayoutLoader) Load(path string) (*Resource, error) {
	layout, err := LoadBindingLayout(path)
	if err != nil {
		return nil, err
	}
	return &Resource{
		Name:     ShaderName(path),
		FullPath: path,
		Type:     ResourceTypeBindingLayout,
		DataSize: uint64(len(layout.Declarations)),
		Data:     layout,
	}, nil
}

func LoadBindingLayout(path string) (*systems.BindingLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	layout, err := ParseBindingLayout(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return layout, nil
}

func ParseBindingLayout(data []byte) (*systems.BindingLayout, error) {
	var f layoutFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("binding layout: %w", err)
	}

	layout := &systems.BindingLayout{
		SetNames:     map[uint32]string{},
		SetMapping:   map[metadata.SetPriority]uint32{},
		Dependencies: f.Dependencies,
		Required:     f.Required,
		Forbidden:    f.Forbidden,
		Priorities:   map[string]metadata.UpdatePriority{},
	}
	seen := map[string]bool{}
	for i, b := range f.Bindings {
		if b.Name == "" {
			return nil, fmt.Errorf("binding layout: binding #%d has no name", i)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("binding layout: binding '%s' declared twice", b.Name)
		}
		seen[b.Name] = true
		decl, err := b.declaration()
		if err != nil {
			return nil, fmt.Errorf("binding layout: binding '%s': %w", b.Name, err)
		}
		layout.Declarations = append(layout.Declarations, decl)
		if b.Priority != nil {
			layout.Priorities[b.Name] = *b.Priority
		}
	}
	for _, s := range f.Sets {
		if s.Name != "" {
			layout.SetNames[s.Index] = s.Name
		}
		if s.Priority != "" {
			p, err := metadata.SetPriorityFromString(s.Priority)
			if err != nil {
				return nil, fmt.Errorf("binding layout: set %d: %w", s.Index, err)
			}
			layout.SetMapping[p] = s.Index
		}
	}
	for _, d := range f.Defaults {
		kind, err := metadata.ResourceKindFromString(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("binding layout: default '%s': %w", d.Name, err)
		}
		layout.Defaults = append(layout.Defaults, systems.DefaultResource{
			Name:    d.Name,
			Kind:    kind,
			Size:    d.Size,
			Texture: d.Texture,
			System:  d.System,
		})
	}
	return layout, nil
}

func (b bindingEntry) declaration() (metadata.BindingDeclaration, error) {
	kind, err := metadata.ResourceKindFromString(b.Kind)
	if err != nil {
		return metadata.BindingDeclaration{}, err
	}
	d := metadata.BindingDeclaration{
		Name:         b.Name,
		Kind:         kind,
		BindingPoint: b.Binding,
		Set:          metadata.UnassignedSet,
		ElementSize:  b.Size,
		IsArray:      kind.IsArray(),
		ArraySize:    1,
	}
	if b.Set != nil {
		d.Set = *b.Set
	}
	if d.IsArray {
		if b.ArraySize == 0 {
			return d, fmt.Errorf("array kind %s needs an array_size", kind)
		}
		d.ArraySize = b.ArraySize
	} else if b.ArraySize > 1 {
		return d, fmt.Errorf("kind %s cannot hold %d elements", kind, b.ArraySize)
	}
	if len(b.Stages) == 0 {
		b.Stages = []string{"vertex", "fragment"}
	}
	for _, s := range b.Stages {
		stage, err := metadata.ShaderStageFromString(s)
		if err != nil {
			return d, err
		}
		d.Stages = d.Stages.With(stage)
	}
	return d, nil
}
