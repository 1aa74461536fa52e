package systems

import (
	"testing"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/headless"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func templateSource(t *testing.T, config *RegistryConfig) *ResourceRegistry {
	t.Helper()
	r := newTestRegistry(t, config, headless.NewDSA(), ubDecl("Camera", 0, 0, 128), ubDecl("Material", 2, 1, 64), texDecl("albedo", 2, 0))
	require.NoError(t, r.AddResourceDependency("Material", "Camera"))
	require.NoError(t, r.SetResourcePriority("albedo", metadata.UpdatePriorityHigh))
	r.DescriptorSets().Rename(2, "material")
	return r
}

func TestCreateTemplate(t *testing.T) {
	r := templateSource(t, nil)
	tmpl, err := r.CreateTemplate("lit")
	require.NoError(t, err)
	assert.NotEmpty(t, tmpl.ID)
	assert.Equal(t, "lit", tmpl.Name)
	assert.Equal(t, r.Declarations(), tmpl.Declarations)
	assert.Equal(t, []string{"Camera"}, tmpl.Dependencies["Material"])
	assert.Equal(t, metadata.UpdatePriorityHigh, tmpl.Priorities["albedo"])
	assert.Equal(t, "material", tmpl.SetNames[2])

	// The template is a deep copy.
	tmpl.Declarations[0].Name = "Renamed"
	tmpl.Priorities["albedo"] = metadata.UpdatePriorityLow
	assert.Equal(t, "Camera", r.Declarations()[0].Name)
	p, _ := r.CreateTemplate("again")
	assert.Equal(t, metadata.UpdatePriorityHigh, p.Priorities["albedo"])
	assert.NotEqual(t, tmpl.ID, p.ID)
}

func TestTemplateLayoutIsIndependent(t *testing.T) {
	r := templateSource(t, nil)
	tmpl, err := r.CreateTemplate("lit")
	require.NoError(t, err)
	layout, err := tmpl.Layout()
	require.NoError(t, err)
	require.Len(t, layout.Declarations, len(tmpl.Declarations))
	assert.Equal(t, tmpl.Dependencies, layout.Dependencies)
	assert.Equal(t, tmpl.Priorities, layout.Priorities)
	layout.Declarations[0].BindingPoint = 42
	assert.NotEqual(t, uint32(42), tmpl.Declarations[0].BindingPoint)
}

func TestCloneCopiesStructureOnly(t *testing.T) {
	r := templateSource(t, nil)
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	require.NoError(t, r.Invalidate("Material"))

	c, err := r.Clone(nil, "copy")
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, c.ID)
	assert.Equal(t, r.Declarations(), c.Declarations())
	assert.Empty(t, c.PendingNames())
	assert.Empty(t, c.DirtyNames())
	assert.Empty(t, c.InvalidationHistory())
	assert.True(t, c.Dependencies().DependsOn("Material", "Camera"))
	b, ok := c.Binding("Camera")
	require.True(t, ok)
	assert.Equal(t, BindingSourceTemplate, b.Source)
	assert.True(t, b.Resource.IsEmpty())
	info, _ := c.DescriptorSets().Get(2)
	assert.Equal(t, "material", info.Name)

	// Both registries stay usable on their own.
	require.NoError(t, c.Set("Camera", metadata.NewUniformBuffer(9, 0, 128)))
	_, err = c.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Equal(t, []string{"Camera"}, r.PendingNames())
}

func TestCloneAndTemplatesCanBeDisabled(t *testing.T) {
	config := DefaultRegistryConfig()
	config.AllowCloning = false
	config.AllowTemplateCreation = false
	r := templateSource(t, config)
	_, err := r.Clone(nil, "copy")
	assert.ErrorIs(t, err, core.ErrFeatureDisabled)
	_, err = r.CreateTemplate("lit")
	assert.ErrorIs(t, err, core.ErrFeatureDisabled)
}

func TestApplyTemplateAddsMissingDeclarations(t *testing.T) {
	tmpl, err := templateSource(t, nil).CreateTemplate("lit")
	require.NoError(t, err)

	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.ApplyTemplate(tmpl))
	assert.Equal(t, []string{"Camera", "Material", "albedo"}, r.Names())
	b, _ := r.Binding("Material")
	assert.Equal(t, BindingSourceTemplate, b.Source)
	c, _ := r.Binding("Camera")
	assert.Equal(t, BindingSourceDeclared, c.Source)
	assert.True(t, r.Dependencies().DependsOn("Material", "Camera"))
	checkInvariants(t, r)
}

func TestApplyTemplateRejectsDifferentLayout(t *testing.T) {
	tmpl, err := templateSource(t, nil).CreateTemplate("lit")
	require.NoError(t, err)

	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 256))
	err = r.ApplyTemplate(tmpl)
	assert.ErrorIs(t, err, core.ErrTypeMismatch)
	assert.Equal(t, []string{"Camera"}, r.Names())
}

func TestCloneOntoIncompatibleShader(t *testing.T) {
	r, err := NewResourceRegistry(nil, headless.NewDSA())
	require.NoError(t, err)
	r.reflect = stubReflector(map[string][]metadata.BindingDeclaration{
		"v1":  {ubDecl("Camera", 0, 0, 128)},
		"bad": {texDecl("Camera", 0, 0)},
	})
	require.NoError(t, r.Initialize(&metadata.Shader{ID: 1, Name: "a", Modules: []metadata.ShaderModule{{Stage: metadata.ShaderStageVertex, Path: "v1"}}}, nil))

	_, err = r.Clone(&metadata.Shader{ID: 2, Name: "b", Modules: []metadata.ShaderModule{{Stage: metadata.ShaderStageVertex, Path: "bad"}}}, "b")
	assert.ErrorIs(t, err, core.ErrTypeMismatch)

	c, err := r.Clone(&metadata.Shader{ID: 3, Name: "c", Modules: []metadata.ShaderModule{{Stage: metadata.ShaderStageVertex, Path: "v1"}}}, "c")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), c.Shader().ID)
	assert.Equal(t, r.Declarations(), c.Declarations())
}
