package systems

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/**
 * @brief The reusable part of a registry: declarations, defaults, set layout,
 * dependencies and priorities. Never carries resources or dirty state.
 */
type ResourceTemplate struct {
	ID           string
	Name         string
	Pattern      ShaderPattern
	Declarations []metadata.BindingDeclaration
	Defaults     []DefaultResource
	SetNames     map[uint32]string
	SetMapping   map[metadata.SetPriority]uint32
	Dependencies map[string][]string
	Required     map[string][]string
	Forbidden    map[string][]string
	Priorities   map[string]metadata.UpdatePriority
}

// CompatibleWith checks the template against discovered declarations: every
// template declaration sharing a name with a discovered one must have the
// same layout.
func (t *ResourceTemplate) CompatibleWith(discovered []metadata.BindingDeclaration) error {
	byName := make(map[string]metadata.BindingDeclaration, len(discovered))
	for _, d := range discovered {
		byName[d.Name] = normalize(d)
	}
	for _, d := range t.Declarations {
		o, ok := byName[d.Name]
		if !ok {
			continue
		}
		if !normalize(d).SameLayout(o) {
			return &core.TypeMismatchError{Name: d.Name, Expected: d.Kind, Got: o.Kind}
		}
	}
	return nil
}

// Layout returns a deep copy of the template as an Initialize layout.
func (t *ResourceTemplate) Layout() (*BindingLayout, error) {
	layout := &BindingLayout{}
	if err := copier.CopyWithOption(layout, t, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("template %s: %w", t.Name, err)
	}
	return layout, nil
}

// CreateTemplate captures the reusable part of the registry under name.
func (r *ResourceRegistry) CreateTemplate(name string) (*ResourceTemplate, error) {
	if !r.config.AllowTemplateCreation {
		return nil, core.ErrFeatureDisabled
	}
	if !r.initialized {
		return nil, core.ErrNotInitialized
	}
	return r.template(name)
}

func (r *ResourceRegistry) template(name string) (*ResourceTemplate, error) {
	src := &ResourceTemplate{
		Name:         name,
		Pattern:      r.pattern,
		Declarations: r.Declarations(),
		Defaults:     r.defaults,
		SetNames:     map[uint32]string{},
		SetMapping:   r.sets.Mapping(),
		Dependencies: map[string][]string{},
		Required:     map[string][]string{},
		Forbidden:    map[string][]string{},
		Priorities:   r.namePriorities,
	}
	for _, s := range r.sets.Sets() {
		src.SetNames[s.Index] = s.Name
	}
	for _, e := range r.deps.Edges() {
		src.Dependencies[e[0]] = append(src.Dependencies[e[0]], e[1])
	}
	for n, s := range r.required {
		src.Required[n] = s.sorted()
	}
	for n, s := range r.forbidden {
		src.Forbidden[n] = s.sorted()
	}

	t := &ResourceTemplate{}
	if err := copier.CopyWithOption(t, src, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	t.ID = uuid.NewString()
	return t, nil
}

// Clone builds a new registry for target from a template of this one, named
// name, on the same backend. Pending and bound resources, dirty state and
// invalidation history are not copied. A nil target reuses this registry's
// shader.
func (r *ResourceRegistry) Clone(target *metadata.Shader, name string) (*ResourceRegistry, error) {
	if !r.config.AllowCloning {
		return nil, core.ErrFeatureDisabled
	}
	if !r.initialized {
		return nil, core.ErrNotInitialized
	}
	t, err := r.template(name)
	if err != nil {
		return nil, err
	}
	config := &RegistryConfig{}
	if err := copier.CopyWithOption(config, r.config, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("clone %s: %w", name, err)
	}
	if target == nil {
		target = r.shader
	}
	c, err := NewResourceRegistry(config, r.backend)
	if err != nil {
		return nil, err
	}
	c.reflect = r.reflect
	c.now = r.now
	if config.SharedStateCache {
		c.stateCache = r.stateCache
	}
	if err := c.initializeFrom(target, t); err != nil {
		return nil, err
	}
	core.LogDebug("%s: cloned into %s", r, c)
	return c, nil
}

// initializeFrom initializes a fresh registry from t without creating
// default resources.
func (r *ResourceRegistry) initializeFrom(shader *metadata.Shader, t *ResourceTemplate) error {
	for _, m := range shader.Modules {
		res, err := r.reflect(m)
		if err != nil {
			return err
		}
		if err := t.CompatibleWith(res.Declarations); err != nil {
			return fmt.Errorf("template %s does not fit %s: %w", t.Name, shader, err)
		}
	}
	layout, err := t.Layout()
	if err != nil {
		return err
	}
	defaults := r.config.EnableDefaultResources
	r.config.EnableDefaultResources = false
	err = r.Initialize(shader, layout)
	r.config.EnableDefaultResources = defaults
	if err != nil {
		return err
	}
	r.pattern = t.Pattern
	for _, d := range t.Declarations {
		if b, ok := r.bindings[d.Name]; ok && b.Source == BindingSourceDeclared {
			b.Source = BindingSourceTemplate
		}
	}
	return nil
}

// ApplyTemplate merges t into an initialized registry. Declarations the
// registry does not have are added, existing ones must match.
func (r *ResourceRegistry) ApplyTemplate(t *ResourceTemplate) error {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	if err := t.CompatibleWith(r.Declarations()); err != nil {
		return err
	}
	layout, err := t.Layout()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(layout.Declarations))
	for _, d := range layout.Declarations {
		if _, ok := r.bindings[d.Name]; ok {
			continue
		}
		if _, err := r.install(d, BindingSourceTemplate); err != nil {
			return err
		}
		names = append(names, d.Name)
	}
	layout.Declarations = nil
	if err := r.installLayout(layout); err != nil {
		return err
	}
	sort.Strings(names)
	core.LogDebug("%s: template %s added %v", r, t.Name, names)
	return nil
}
