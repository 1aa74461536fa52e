package systems

import (
	"fmt"
	"testing"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/headless"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/reflection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReflector serves declarations by module path.
func stubReflector(byPath map[string][]metadata.BindingDeclaration) reflection.Reflector {
	return func(m metadata.ShaderModule) (*reflection.Result, error) {
		decls, ok := byPath[m.Path]
		if !ok {
			return nil, fmt.Errorf("%s: %w", m.Path, core.ErrReflectionFailed)
		}
		return &reflection.Result{Stage: m.Stage, Declarations: decls}, nil
	}
}

func modules(paths ...string) []metadata.ShaderModule {
	out := make([]metadata.ShaderModule, 0, len(paths))
	for _, p := range paths {
		out = append(out, metadata.ShaderModule{Stage: metadata.ShaderStageVertex, Path: p})
	}
	return out
}

func newReflectedRegistry(t *testing.T, backend *headless.Backend, byPath map[string][]metadata.BindingDeclaration, paths ...string) *ResourceRegistry {
	t.Helper()
	r, err := NewResourceRegistry(nil, backend)
	require.NoError(t, err)
	r.reflect = stubReflector(byPath)
	require.NoError(t, r.Initialize(&metadata.Shader{ID: 1, Name: "test", Modules: modules(paths...)}, nil))
	return r
}

var rebuildModules = map[string][]metadata.BindingDeclaration{
	"v1": {ubDecl("Camera", 0, 0, 128), ubDecl("Old", 0, 1, 64)},
	"v2": {ubDecl("Camera", 0, 0, 128), texDecl("New", 2, 1)},
	"v3": {ubDecl("Camera", 0, 0, 256)},
}

func TestReflectedDeclarations(t *testing.T) {
	r := newReflectedRegistry(t, headless.NewDSA(), rebuildModules, "v1")
	assert.Equal(t, []string{"Camera", "Old"}, r.Names())
	b, _ := r.Binding("Camera")
	assert.Equal(t, BindingSourceReflected, b.Source)
	assert.Equal(t, metadata.LifecycleDeclared, b.Lifecycle)
}

func TestReflectionFailureFailsInitialize(t *testing.T) {
	r, err := NewResourceRegistry(nil, headless.NewDSA())
	require.NoError(t, err)
	r.reflect = stubReflector(rebuildModules)
	err = r.Initialize(&metadata.Shader{ID: 1, Name: "broken", Modules: modules("missing")}, nil)
	assert.ErrorIs(t, err, core.ErrReflectionFailed)
	assert.False(t, r.Initialized())
}

func TestDiscoverResourcesMergesModules(t *testing.T) {
	r := newReflectedRegistry(t, headless.NewDSA(), rebuildModules, "v1")
	n, err := r.DiscoverResources(metadata.ShaderModule{Stage: metadata.ShaderStageFragment, Path: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only New is new")
	n, err = r.DiscoverResources(metadata.ShaderModule{Stage: metadata.ShaderStageFragment, Path: "v2"})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"Camera", "New", "Old"}, r.Names())

	// A different layout under a known name is dropped.
	_, err = r.DiscoverResources(metadata.ShaderModule{Stage: metadata.ShaderStageFragment, Path: "v3"})
	require.NoError(t, err)
	b, _ := r.Binding("Camera")
	assert.Equal(t, uint64(128), b.Declaration.ElementSize)
}

func TestShaderRebuiltReconcilesDeclarations(t *testing.T) {
	backend := headless.NewDSA()
	r := newReflectedRegistry(t, backend, rebuildModules, "v1")
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	require.NoError(t, r.Set("Old", metadata.NewUniformBuffer(8, 0, 64)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	backend.ResetCalls()

	require.NoError(t, r.OnShaderRebuilt(&metadata.Shader{ID: 1, Name: "test", Modules: modules("v2")}))
	assert.Equal(t, []string{"Camera", "New"}, r.Names())
	b, _ := r.Binding("Camera")
	assert.True(t, b.IsDirty)
	assert.False(t, b.IsActive)
	assert.Zero(t, b.GpuHandle)
	assert.Equal(t, metadata.LifecycleBound, b.Lifecycle)
	_, cached := r.StateCache().Get(metadata.TargetKey{Target: metadata.BindTargetUniformBuffer, Point: 0})
	assert.False(t, cached)

	n, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	calls := backend.CallsOf(headless.OpBindUniformBuffer)
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(7), calls[0].Handle)
	b, _ = r.Binding("Camera")
	assert.Equal(t, metadata.LifecycleActive, b.Lifecycle)
	checkInvariants(t, r)
}

func TestShaderRebuiltReplacesChangedLayout(t *testing.T) {
	r := newReflectedRegistry(t, headless.NewDSA(), rebuildModules, "v1")
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.CommitPendingUpdates()
	require.NoError(t, err)

	require.NoError(t, r.OnShaderRebuilt(&metadata.Shader{ID: 1, Name: "test", Modules: modules("v3")}))
	b, ok := r.Binding("Camera")
	require.True(t, ok)
	assert.Equal(t, uint64(256), b.Declaration.ElementSize)
	assert.True(t, b.Resource.IsEmpty())
	_, ok = r.Get("Camera", metadata.ResourceKindUniformBuffer)
	assert.False(t, ok)
}

func TestShaderRebuiltKeepsDeclaredBindings(t *testing.T) {
	r, err := NewResourceRegistry(nil, headless.NewDSA())
	require.NoError(t, err)
	r.reflect = stubReflector(rebuildModules)
	layout := &BindingLayout{Declarations: []metadata.BindingDeclaration{ubDecl("Extra", 3, 0, 16)}}
	require.NoError(t, r.Initialize(&metadata.Shader{ID: 1, Name: "test", Modules: modules("v1")}, layout))

	require.NoError(t, r.OnShaderRebuilt(&metadata.Shader{ID: 1, Name: "test", Modules: modules("v3")}))
	assert.Equal(t, []string{"Camera", "Extra"}, r.Names())
}

func TestShaderRebuiltWithoutModulesOnlyDirties(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	require.Empty(t, r.DirtyNames())

	require.NoError(t, r.OnShaderRebuilt(nil))
	assert.Equal(t, []string{"Camera"}, r.DirtyNames())
	assert.Equal(t, "test", r.Shader().Name)
}
