package systems

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/headless"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestRegistry(t *testing.T, config *RegistryConfig, backend *headless.Backend, decls ...metadata.BindingDeclaration) *ResourceRegistry {
	t.Helper()
	if config == nil {
		config = DefaultRegistryConfig()
	}
	r, err := NewResourceRegistry(config, backend)
	require.NoError(t, err)
	require.NoError(t, r.Initialize(&metadata.Shader{ID: 1, Name: "test"}, &BindingLayout{Declarations: decls}))
	return r
}

func ubDecl(name string, set, point uint32, size uint64) metadata.BindingDeclaration {
	return metadata.BindingDeclaration{Name: name, Kind: metadata.ResourceKindUniformBuffer, Set: set, BindingPoint: point, ElementSize: size}
}

func texDecl(name string, set, unit uint32) metadata.BindingDeclaration {
	return metadata.BindingDeclaration{Name: name, Kind: metadata.ResourceKindTexture2D, Set: set, BindingPoint: unit}
}

// checkInvariants asserts the structural guarantees every registry keeps
// between calls.
func checkInvariants(t *testing.T, r *ResourceRegistry) {
	t.Helper()
	slots := map[metadata.SlotKey]string{}
	for _, d := range r.Declarations() {
		if d.Set == metadata.UnassignedSet {
			continue
		}
		owner, taken := slots[d.Slot()]
		assert.False(t, taken, "%s shares %s with %s", d.Name, d.Slot(), owner)
		slots[d.Slot()] = d.Name
	}
	held := map[metadata.TargetKey]string{}
	for _, n := range r.Names() {
		b, _ := r.Binding(n)
		for i := uint32(0); i < b.Declaration.Capacity(); i++ {
			k := metadata.TargetKey{Target: b.Declaration.Kind.Target(), Point: b.BackendPoint + i}
			owner, taken := held[k]
			assert.False(t, taken, "%s binds %s like %s", n, k, owner)
			held[k] = n
		}
	}
	for _, n := range r.Names() {
		b, _ := r.Binding(n)
		if b.IsActive {
			assert.NotZero(t, b.GpuHandle, "%s is active without a handle", n)
			assert.False(t, b.Resource.IsEmpty(), "%s is active without a resource", n)
		}
	}
	assert.False(t, r.Dependencies().HasCycle())
	names := map[string]bool{}
	for _, n := range r.Names() {
		names[n] = true
	}
	for _, n := range r.PendingNames() {
		assert.True(t, names[n], "pending update for undeclared %s", n)
	}
	for _, key := range r.StateCache().Keys() {
		e, _ := r.StateCache().Get(key)
		if e.Dirty {
			continue
		}
		owned := false
		for _, b := range r.bindings {
			if b.Declaration.Kind.Target() != key.Target || key.Point < b.BackendPoint {
				continue
			}
			el, ok := b.Resource.Element(int(key.Point - b.BackendPoint))
			if ok && el.RawID() == e.Handle {
				owned = true
			}
		}
		assert.True(t, owned, "state cache claims %s holds %d", key, e.Handle)
	}
}

func TestApplySingleUniformBuffer(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	n, err := r.Apply(metadata.ApplyIndividual)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, headless.Call{Op: headless.OpBindUniformBuffer, Target: metadata.BindTargetUniformBuffer, Point: 0, Handle: 7, Size: 128}, calls[0])
	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.BindOps)
	assert.Zero(t, stats.CacheHits)

	b, ok := r.Binding("Camera")
	require.True(t, ok)
	assert.True(t, b.IsActive)
	assert.False(t, b.IsDirty)
	assert.Equal(t, uint32(7), b.GpuHandle)
	assert.Equal(t, metadata.LifecycleActive, b.Lifecycle)
	checkInvariants(t, r)
}

func TestApplySkipsRedundantRebind(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyIndividual)
	require.NoError(t, err)
	backend.ResetCalls()

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	n, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, backend.Calls())
	assert.Equal(t, uint64(1), r.Stats().CacheHits)
	assert.Empty(t, r.DirtyNames())
}

func TestApplyPerSetOrder(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend,
		texDecl("albedo", 2, 0),
		ubDecl("Lights", 1, 1, 64),
		ubDecl("SystemData", 0, 0, 64),
	)
	require.NoError(t, r.Set("SystemData", metadata.NewUniformBuffer(1, 0, 64)))
	require.NoError(t, r.Set("Lights", metadata.NewUniformBuffer(2, 0, 64)))
	require.NoError(t, r.Set("albedo", metadata.NewTexture2D(3)))

	n, err := r.Apply(metadata.ApplyPerSet)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	calls := backend.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, headless.OpBindUniformBuffer, calls[0].Op)
	assert.Equal(t, uint32(0), calls[0].Point)
	assert.Equal(t, uint32(1), calls[0].Handle)
	assert.Equal(t, headless.OpBindUniformBuffer, calls[1].Op)
	assert.Equal(t, uint32(1), calls[1].Point)
	assert.Equal(t, headless.OpBindTexture, calls[2].Op)
	assert.Equal(t, uint32(0), calls[2].Point)
	assert.Equal(t, uint32(3), calls[2].Handle)

	for _, idx := range []uint32{0, 1, 2} {
		info, ok := r.DescriptorSets().Get(idx)
		require.True(t, ok)
		assert.Equal(t, uint64(1), info.BindFrequency, "set %d", idx)
	}
}

func TestSetTypeMismatchChangesNothing(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))

	err := r.Set("Camera", metadata.NewTexture2D(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTypeMismatch))
	var mismatch *core.TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "Camera", mismatch.Name)

	assert.Empty(t, r.PendingNames())
	assert.Empty(t, r.DirtyNames())
	_, ok := r.Get("Camera", metadata.ResourceKindTexture2D)
	assert.False(t, ok)
}

func TestSetRejectsUnknownAndNullHandles(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128))

	err := r.Set("Missing", metadata.NewUniformBuffer(1, 0, 16))
	assert.True(t, errors.Is(err, core.ErrUnknownResource))
	err = r.Set("Camera", metadata.NewUniformBuffer(0, 0, 16))
	assert.True(t, errors.Is(err, core.ErrNullHandle))
	err = r.Set("Camera", metadata.ResourceHandle{})
	assert.True(t, errors.Is(err, core.ErrTypeMismatch))
	assert.Empty(t, r.PendingNames())
}

func TestInvalidationPropagatesToDependents(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128), ubDecl("Material", 2, 1, 64))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(1, 0, 128)))
	require.NoError(t, r.Set("Material", metadata.NewUniformBuffer(2, 0, 64)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	require.Empty(t, r.DirtyNames())

	require.NoError(t, r.AddResourceDependency("Material", "Camera"))
	require.NoError(t, r.InvalidateWith("Camera", metadata.InvalidationUserRequested, true))

	assert.Subset(t, r.DirtyNames(), []string{"Camera", "Material"})
	assert.Equal(t, []string{"Camera", "Material"}, r.InvalidatedNames())
	history := r.InvalidationHistory()
	require.Len(t, history, 2)
	assert.Equal(t, metadata.InvalidationUserRequested, history[0].Reason)
	assert.Equal(t, "Material", history[1].Name)
	assert.Equal(t, metadata.InvalidationDependencyChanged, history[1].Reason)

	backend.ResetCalls()
	n, err := r.Apply(metadata.ApplyIndividual)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, r.InvalidatedNames())
}

func TestEqualPointsInDifferentSets(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128), ubDecl("Material", 1, 0, 64))

	camera, _ := r.Binding("Camera")
	material, _ := r.Binding("Material")
	assert.Equal(t, uint32(0), camera.BackendPoint)
	assert.Equal(t, uint32(1), material.BackendPoint)
	assert.Equal(t, uint32(0), material.Declaration.BindingPoint, "the declaration keeps its point")

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	require.NoError(t, r.Set("Material", metadata.NewUniformBuffer(9, 0, 64)))
	_, err := r.Apply(metadata.ApplyPerSet)
	require.NoError(t, err)
	h, _ := backend.QueryCurrentBinding(metadata.BindTargetUniformBuffer, 0)
	assert.Equal(t, uint32(7), h)
	h, _ = backend.QueryCurrentBinding(metadata.BindTargetUniformBuffer, 1)
	assert.Equal(t, uint32(9), h)

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(8, 0, 128)))
	n, err := r.Apply(metadata.ApplyPerSet)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h, _ = backend.QueryCurrentBinding(metadata.BindTargetUniformBuffer, 1)
	assert.Equal(t, uint32(9), h, "rebinding Camera leaves Material in place")

	issues, err := r.Validate(metadata.ValidateBindingPointConflicts)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, uint32(2), r.freePoint(metadata.BindTargetUniformBuffer))
	checkInvariants(t, r)

	// a freed point is handed to the next binding that declares it
	require.NoError(t, r.RemoveResource("Camera"))
	require.NoError(t, r.DeclareResource(ubDecl("Globals", 2, 0, 64)))
	globals, _ := r.Binding("Globals")
	assert.Equal(t, uint32(0), globals.BackendPoint)
	checkInvariants(t, r)
}

func TestPropagationIsTransitive(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("A", 0, 0, 16), ubDecl("B", 0, 1, 16), ubDecl("C", 0, 2, 16), ubDecl("D", 0, 3, 16))
	require.NoError(t, r.AddResourceDependency("B", "A"))
	require.NoError(t, r.AddResourceDependency("C", "B"))
	require.NoError(t, r.AddResourceDependency("D", "A"))
	require.NoError(t, r.AddResourceDependency("D", "C"))

	require.NoError(t, r.InvalidateWith("A", metadata.InvalidationUserRequested, true))
	assert.Equal(t, []string{"A", "B", "C", "D"}, r.InvalidatedNames())
	// D is reachable twice but recorded once.
	assert.Len(t, r.InvalidationHistory(), 4)

	err := r.AddResourceDependency("A", "D")
	assert.True(t, errors.Is(err, core.ErrCycleDetected))
	checkInvariants(t, r)
}

func TestArrayDeclarationAcceptsSingleHandle(t *testing.T) {
	backend := headless.NewDSA()
	decl := metadata.BindingDeclaration{Name: "Lights", Kind: metadata.ResourceKindUniformBufferArray, Set: 1, BindingPoint: 2, ArraySize: 4, ElementSize: 64}
	r := newTestRegistry(t, nil, backend, decl)

	require.NoError(t, r.Set("Lights", metadata.NewUniformBuffer(5, 0, 64)))
	s := r.Suggestions()
	require.Len(t, s, 1)
	assert.Equal(t, "Lights", s[0].Name)
	assert.Equal(t, uint64(1), r.Stats().ConversionSuggestions)

	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, headless.OpBindUniformBuffer, calls[0].Op)
	assert.Equal(t, uint32(2), calls[0].Point)
	assert.Equal(t, uint32(5), calls[0].Handle)
}

func TestSingleDeclarationAcceptsOneElementArray(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), texDecl("albedo", 2, 0))

	require.NoError(t, r.Set("albedo", metadata.NewTexture2D(4)))
	assert.Empty(t, r.Suggestions())
	require.NoError(t, r.Set("albedo", metadata.NewTexture2DArray(3)))
	assert.Len(t, r.Suggestions(), 1)

	err := r.Set("albedo", metadata.NewTexture2DArray(3, 4))
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
}

func TestArrayCapacity(t *testing.T) {
	decl := metadata.BindingDeclaration{Name: "shadowMaps", Kind: metadata.ResourceKindTexture2DArray, Set: 1, BindingPoint: 4, ArraySize: 2}
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, decl)

	err := r.Set("shadowMaps", metadata.NewTexture2DArray(1, 2, 3))
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
	require.NoError(t, r.Set("shadowMaps", metadata.NewTexture2DArray(1, 2)))
	_, err = r.Apply(metadata.ApplyIndividual)
	require.NoError(t, err)
	calls := backend.CallsOf(headless.OpBindTexture)
	require.Len(t, calls, 2)
	assert.Equal(t, uint32(4), calls[0].Point)
	assert.Equal(t, uint32(5), calls[1].Point)
	checkInvariants(t, r)
}

func TestZeroSizeUniformBufferBindsWholeBuffer(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 3, 0))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(9, 0, 0)))
	_, err := r.Apply(metadata.ApplyIndividual)
	require.NoError(t, err)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(3), calls[0].Point)
	assert.Zero(t, calls[0].Size)
}

func TestSetThenGet(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128))
	h := metadata.NewUniformBuffer(7, 256, 128)
	require.NoError(t, r.Set("Camera", h))

	_, ok := r.Get("Camera", metadata.ResourceKindUniformBuffer)
	assert.False(t, ok, "nothing is committed before apply")

	n, err := r.CommitPendingUpdates()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, ok := r.Get("Camera", metadata.ResourceKindUniformBuffer)
	require.True(t, ok)
	assert.True(t, got.Equal(h))
	_, ok = r.Get("Camera", metadata.ResourceKindStorageBuffer)
	assert.False(t, ok)

	res := r.GetEnhanced("Camera", metadata.ResourceKindUniformBufferArray)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Resource.Len())
	assert.NotEmpty(t, res.ConversionSuggestion)

	res = r.GetEnhanced("Camera", metadata.ResourceKindTexture2D)
	assert.True(t, errors.Is(res.Err, core.ErrTypeMismatch))
}

func TestApplyIsIdempotent(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128), texDecl("albedo", 2, 0))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	require.NoError(t, r.Set("albedo", metadata.NewTexture2D(3)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	backend.ResetCalls()

	n, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, backend.Calls())
}

func TestInvalidateForcesRebind(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	backend.ResetCalls()

	require.NoError(t, r.Invalidate("Camera"))
	n, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, backend.CallsOf(headless.OpBindUniformBuffer), 1)
	assert.True(t, errors.Is(r.Invalidate("Missing"), core.ErrUnknownResource))
}

func TestChangedResourceRebinds(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(8, 0, 128)))
	_, err = r.CommitPendingUpdates()
	require.NoError(t, err)
	checkInvariants(t, r)

	backend.ResetCalls()
	_, err = r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(8), calls[0].Handle)
	checkInvariants(t, r)
}

func TestFrameInFlightRotation(t *testing.T) {
	config := DefaultRegistryConfig()
	config.EnableFrameInFlight = true
	config.FramesInFlight = 3
	backend := headless.NewDSA()
	r := newTestRegistry(t, config, backend, ubDecl("Camera", 0, 0, 64))

	instances := []metadata.ResourceHandle{
		metadata.NewUniformBuffer(11, 0, 64),
		metadata.NewUniformBuffer(12, 0, 64),
		metadata.NewUniformBuffer(13, 0, 64),
	}
	require.NoError(t, r.SetFrameInstances("Camera", instances...))

	for i := 0; i < 7; i++ {
		cur, ok := r.GetCurrent("Camera")
		require.True(t, ok)
		assert.True(t, cur.Equal(instances[i%3]), "frame %d", i)

		backend.ResetCalls()
		_, err := r.Apply(metadata.ApplyOptimal)
		require.NoError(t, err)
		calls := backend.CallsOf(headless.OpBindUniformBuffer)
		require.Len(t, calls, 1, "frame %d", i)
		assert.Equal(t, instances[i%3].RawID(), calls[0].Handle)
		r.NextFrame()
	}

	err := r.SetFrameInstances("Camera", instances[0])
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
}

func TestFrameInstancesNeedFeature(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 64))
	err := r.SetFrameInstances("Camera", metadata.NewUniformBuffer(1, 0, 64))
	assert.True(t, errors.Is(err, core.ErrFeatureDisabled))
	_, ok := r.GetCurrent("Camera")
	assert.False(t, ok)
}

func TestClearUnbinds(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	backend.ResetCalls()

	require.NoError(t, r.Clear("Camera"))
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, headless.OpUnbindOne, calls[0].Op)
	b, _ := r.Binding("Camera")
	assert.False(t, b.IsActive)
	assert.Equal(t, metadata.LifecycleUnbound, b.Lifecycle)
	_, ok := r.Get("Camera", metadata.ResourceKindUniformBuffer)
	assert.False(t, ok)
	_, ok = r.StateCache().Get(metadata.TargetKey{Target: metadata.BindTargetUniformBuffer, Point: 0})
	assert.False(t, ok)

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	backend.ResetCalls()
	_, err = r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Len(t, backend.Calls(), 1)
}

func TestRemoveResource(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128), ubDecl("Material", 2, 1, 64))
	require.NoError(t, r.AddResourceDependency("Material", "Camera"))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))

	require.NoError(t, r.RemoveResource("Camera"))
	assert.Equal(t, []string{"Material"}, r.Names())
	assert.Empty(t, r.PendingNames())
	assert.Empty(t, r.Dependencies().Dependencies("Material"))
	assert.True(t, errors.Is(r.RemoveResource("Camera"), core.ErrUnknownResource))

	// The slot is free again.
	require.NoError(t, r.DeclareResource(ubDecl("Camera2", 0, 0, 128)))
	checkInvariants(t, r)
}

func TestDeclareConflictingSlot(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128))
	err := r.DeclareResource(ubDecl("Other", 0, 0, 64))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBindingPointConflict))
	var conflict *core.BindingPointConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Camera", conflict.Owner)
	assert.Equal(t, "Other", conflict.Other)

	// Same name, same layout merges stages.
	d := ubDecl("Camera", 0, 0, 128)
	d.Stages = metadata.ShaderStageFlags(metadata.ShaderStageFragment)
	require.NoError(t, r.DeclareResource(d))
	b, _ := r.Binding("Camera")
	assert.True(t, b.Declaration.Stages.Has(metadata.ShaderStageFragment))
	checkInvariants(t, r)
}

func TestAutoAssignSets(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(),
		metadata.BindingDeclaration{Name: "CameraBlock", Kind: metadata.ResourceKindUniformBuffer, Set: metadata.UnassignedSet, BindingPoint: 0, ElementSize: 64},
		metadata.BindingDeclaration{Name: "LightData", Kind: metadata.ResourceKindUniformBuffer, Set: metadata.UnassignedSet, BindingPoint: 1, ElementSize: 64},
		metadata.BindingDeclaration{Name: "albedo", Kind: metadata.ResourceKindTexture2D, Set: metadata.UnassignedSet, BindingPoint: 0},
		metadata.BindingDeclaration{Name: "ModelMatrix", Kind: metadata.ResourceKindUniformBuffer, Set: metadata.UnassignedSet, BindingPoint: 2, ElementSize: 64},
	)
	sets := map[string]uint32{}
	for _, d := range r.Declarations() {
		sets[d.Name] = d.Set
	}
	assert.Equal(t, uint32(0), sets["CameraBlock"])
	assert.Equal(t, uint32(1), sets["LightData"])
	assert.Equal(t, uint32(2), sets["albedo"])
	assert.Equal(t, uint32(3), sets["ModelMatrix"])
	checkInvariants(t, r)
}

func TestLifecycleThroughOperations(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128))
	state := func() metadata.LifecycleState {
		b, _ := r.Binding("Camera")
		return b.Lifecycle
	}
	assert.Equal(t, metadata.LifecycleDeclared, state())

	err := r.TransitionLifecycle("Camera", metadata.LifecycleActive)
	var lerr *core.LifecycleTransitionError
	require.ErrorAs(t, err, &lerr)
	assert.True(t, errors.Is(err, core.ErrInvalidLifecycleTransition))
	assert.Equal(t, metadata.LifecycleDeclared, state())

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err = r.CommitPendingUpdates()
	require.NoError(t, err)
	assert.Equal(t, metadata.LifecycleAllocated, state())

	_, err = r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Equal(t, metadata.LifecycleActive, state())

	require.NoError(t, r.Clear("Camera"))
	assert.Equal(t, metadata.LifecycleUnbound, state())

	require.NoError(t, r.TransitionLifecycle("Camera", metadata.LifecycleDeallocated))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err = r.CommitPendingUpdates()
	require.NoError(t, err)
	assert.Equal(t, metadata.LifecycleAllocated, state())
}

func TestStaleBindingsReactivate(t *testing.T) {
	config := DefaultRegistryConfig()
	config.StaleThreshold = 2
	backend := headless.NewDSA()
	r := newTestRegistry(t, config, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r.NextFrame()
	}
	b, _ := r.Binding("Camera")
	assert.Equal(t, metadata.LifecycleStale, b.Lifecycle)

	backend.ResetCalls()
	_, err = r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Empty(t, backend.Calls(), "the slot still holds the buffer")
	b, _ = r.Binding("Camera")
	assert.Equal(t, metadata.LifecycleActive, b.Lifecycle)
	assert.Equal(t, uint64(3), b.LastBoundFrame)
}

func TestNotifyDependencyUpdated(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128), ubDecl("Material", 2, 1, 64))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(1, 0, 128)))
	require.NoError(t, r.Set("Material", metadata.NewUniformBuffer(2, 0, 64)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	require.NoError(t, r.AddResourceDependency("Material", "Camera"))

	require.NoError(t, r.NotifyDependencyUpdated("Camera"))
	assert.Equal(t, []string{"Material"}, r.DirtyNames())

	var unknown *core.UnknownResourceError
	assert.ErrorAs(t, r.NotifyDependencyUpdated("Nope"), &unknown)
}

func TestNotInitialized(t *testing.T) {
	r, err := NewResourceRegistry(nil, headless.NewDSA())
	require.NoError(t, err)
	assert.ErrorIs(t, r.Set("Camera", metadata.NewUniformBuffer(1, 0, 16)), core.ErrNotInitialized)
	_, err = r.Apply(metadata.ApplyOptimal)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = r.CommitPendingUpdates()
	assert.ErrorIs(t, err, core.ErrNotInitialized)

	require.NoError(t, r.Initialize(&metadata.Shader{ID: 1, Name: "test"}, nil))
	assert.ErrorIs(t, r.Initialize(&metadata.Shader{ID: 1, Name: "test"}, nil), core.ErrAlreadyInitialized)

	_, err = NewResourceRegistry(nil, nil)
	assert.Error(t, err)
}

func TestShutdownReleasesEverything(t *testing.T) {
	r := newTestRegistry(t, nil, headless.NewDSA(), ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)

	r.Shutdown()
	assert.False(t, r.Initialized())
	assert.Empty(t, r.Names())
	assert.Zero(t, r.StateCache().Len())
	assert.Zero(t, r.DescriptorSets().Len())
	_, err = r.Apply(metadata.ApplyOptimal)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestInvariantsAcrossMixedOperations(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend,
		ubDecl("Camera", 0, 0, 128),
		ubDecl("Lights", 1, 1, 64),
		texDecl("albedo", 2, 0),
		texDecl("normal", 2, 1),
	)
	steps := []func(){
		func() { _ = r.Set("Camera", metadata.NewUniformBuffer(1, 0, 128)) },
		func() { _ = r.Set("albedo", metadata.NewTexture2D(5)) },
		func() { _, _ = r.Apply(metadata.ApplyOptimal) },
		func() { _ = r.Set("Lights", metadata.NewUniformBuffer(2, 0, 64)) },
		func() { _ = r.AddResourceDependency("Lights", "Camera") },
		func() { _ = r.Set("Camera", metadata.NewUniformBuffer(3, 0, 128)) },
		func() { _, _ = r.CommitPendingUpdates() },
		func() { _ = r.InvalidateWith("Camera", metadata.InvalidationUserRequested, true) },
		func() { _, _ = r.Apply(metadata.ApplyBatched) },
		func() { _ = r.Clear("albedo") },
		func() { r.NextFrame() },
		func() { _ = r.Set("normal", metadata.NewTexture2D(6)) },
		func() { _, _ = r.Apply(metadata.ApplyIndividual) },
		func() { _ = r.RemoveResource("Lights") },
		func() { _, _ = r.Apply(metadata.ApplyPerSet) },
	}
	for _, step := range steps {
		step()
		checkInvariants(t, r)
	}
	assert.Empty(t, r.DirtyNames())
}
