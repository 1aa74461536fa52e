package systems

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/headless"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeBuffers(t *testing.T, config *RegistryConfig, backend *headless.Backend) *ResourceRegistry {
	t.Helper()
	r := newTestRegistry(t, config, backend, ubDecl("A", 0, 0, 64), ubDecl("B", 0, 1, 64), ubDecl("C", 0, 2, 64))
	require.NoError(t, r.Set("A", metadata.NewUniformBuffer(1, 0, 64)))
	require.NoError(t, r.Set("B", metadata.NewUniformBuffer(2, 0, 64)))
	require.NoError(t, r.Set("C", metadata.NewUniformBuffer(3, 0, 64)))
	return r
}

func TestMultiBindContiguousPoints(t *testing.T) {
	backend := headless.NewDSA()
	r := threeBuffers(t, nil, backend)

	n, err := r.Apply(metadata.ApplyBatched)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, headless.OpMultiBindUniformBuffers, calls[0].Op)
	assert.Equal(t, uint32(0), calls[0].Point)
	assert.Equal(t, []uint32{1, 2, 3}, calls[0].Handles)
	assert.Equal(t, uint64(1), r.Stats().MultiBinds)

	for _, p := range []uint32{0, 1, 2} {
		off, size := backend.QueryRange(metadata.BindTargetUniformBuffer, p)
		assert.Zero(t, off)
		assert.Equal(t, uint64(64), size)
	}
}

func TestIndividualModeNeverMultiBinds(t *testing.T) {
	backend := headless.NewDSA()
	r := threeBuffers(t, nil, backend)

	n, err := r.Apply(metadata.ApplyIndividual)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, backend.CallsOf(headless.OpBindUniformBuffer), 3)
	assert.Empty(t, backend.CallsOf(headless.OpMultiBindUniformBuffers))
}

func TestMultiBindBreaksOnGaps(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, texDecl("t0", 2, 0), texDecl("t1", 2, 1), texDecl("t3", 2, 3))
	require.NoError(t, r.Set("t0", metadata.NewTexture2D(10)))
	require.NoError(t, r.Set("t1", metadata.NewTexture2D(11)))
	require.NoError(t, r.Set("t3", metadata.NewTexture2D(13)))

	n, err := r.Apply(metadata.ApplyBatched)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, headless.OpMultiBindTextures, calls[0].Op)
	assert.Equal(t, []uint32{10, 11}, calls[0].Handles)
	assert.Equal(t, headless.OpBindTexture, calls[1].Op)
	assert.Equal(t, uint32(3), calls[1].Point)
}

func TestFallbackTextureBindIsOneOperation(t *testing.T) {
	backend := headless.NewFallback()
	r := newTestRegistry(t, nil, backend, texDecl("albedo", 2, 2))
	require.NoError(t, r.Set("albedo", metadata.NewTexture2D(42)))

	n, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), r.Stats().BindOps)

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, headless.OpActivateTextureUnit, calls[0].Op)
	assert.Equal(t, uint32(2), calls[0].Point)
	assert.Equal(t, headless.OpBindTextureToActiveUnit, calls[1].Op)
	assert.Equal(t, uint32(42), calls[1].Handle)

	h, err := backend.QueryCurrentBinding(metadata.BindTargetTexture, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), h)
}

func TestFallbackBackendBindsIndividually(t *testing.T) {
	backend := headless.NewFallback()
	r := threeBuffers(t, nil, backend)

	n, err := r.Apply(metadata.ApplyBatched)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, backend.CallsOf(headless.OpMultiBindUniformBuffers))
}

func TestDisablingDSAMasksCapabilities(t *testing.T) {
	config := DefaultRegistryConfig()
	config.EnableDSA = false
	backend := headless.NewDSA()
	r := newTestRegistry(t, config, backend, texDecl("albedo", 2, 0), texDecl("normal", 2, 1))
	assert.Equal(t, metadata.CapsFallback, r.Capabilities())

	require.NoError(t, r.Set("albedo", metadata.NewTexture2D(1)))
	require.NoError(t, r.Set("normal", metadata.NewTexture2D(2)))
	n, err := r.Apply(metadata.ApplyBatched)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, backend.CallsOf(headless.OpBindTexture))
	assert.Empty(t, backend.CallsOf(headless.OpMultiBindTextures))
	assert.Len(t, backend.CallsOf(headless.OpActivateTextureUnit), 2)
}

func TestRangeBindsWithoutCapability(t *testing.T) {
	backend := headless.New(0, metadata.DefaultLimits())
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 256, 128)))
	n, err := r.Apply(metadata.ApplyOptimal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBackendFailure))
	assert.True(t, errors.Is(err, core.ErrUnsupported))
	assert.Equal(t, 1, n)
	assert.Empty(t, backend.Calls(), "the registry refuses before reaching the backend")
	assert.Equal(t, []string{"Camera"}, r.DirtyNames())

	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err = r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Zero(t, calls[0].Size, "whole buffer bind")
	assert.Empty(t, r.DirtyNames())
}

func TestFailedBindStaysDirtyAndRetries(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128), texDecl("albedo", 2, 0))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	require.NoError(t, r.Set("albedo", metadata.NewTexture2D(3)))

	boom := errors.New("boom")
	backend.FailNext(headless.OpBindUniformBuffer, boom)
	n, err := r.Apply(metadata.ApplyIndividual)
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, errors.Is(err, boom))
	var berr *core.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "BindUniformBuffer", berr.Op)

	assert.Equal(t, []string{"Camera"}, r.DirtyNames())
	b, _ := r.Binding("Camera")
	assert.False(t, b.IsActive)
	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.FailedOps)
	assert.Len(t, stats.LastErrors, 1)
	_, cached := r.StateCache().Get(metadata.TargetKey{Target: metadata.BindTargetUniformBuffer, Point: 0})
	assert.False(t, cached)

	backend.ResetCalls()
	n, err = r.Apply(metadata.ApplyIndividual)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(7), calls[0].Handle)
	assert.Empty(t, r.DirtyNames())
}

func TestFailedMultiBindKeepsEveryMemberDirty(t *testing.T) {
	backend := headless.NewDSA()
	r := threeBuffers(t, nil, backend)

	backend.FailNext(headless.OpMultiBindUniformBuffers, errors.New("lost"))
	_, err := r.Apply(metadata.ApplyBatched)
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, r.DirtyNames())
	assert.Zero(t, r.StateCache().Len())

	_, err = r.Apply(metadata.ApplyBatched)
	require.NoError(t, err)
	assert.Empty(t, r.DirtyNames())
	assert.Equal(t, 3, r.StateCache().Len())
}

func TestGPUStateMismatchRebinds(t *testing.T) {
	config := DefaultRegistryConfig()
	config.ValidationInterval = 1
	backend := headless.NewDSA()
	r := newTestRegistry(t, config, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)

	// Something outside the registry rebinds the slot.
	backend.SetExternalBinding(metadata.BindTargetUniformBuffer, 0, 99)
	r.NextFrame()
	backend.ResetCalls()

	_, err = r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	calls := backend.CallsOf(headless.OpBindUniformBuffer)
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(7), calls[0].Handle)

	history := r.InvalidationHistory()
	require.NotEmpty(t, history)
	assert.Equal(t, metadata.InvalidationGpuStateMismatch, history[len(history)-1].Reason)
	assert.Equal(t, uint64(1), r.StateCache().Stats().ValidationMismatches)
}

func TestCanonicalStateChangeRebinds(t *testing.T) {
	config := DefaultRegistryConfig()
	config.ValidationInterval = 1
	backend := headless.NewDSA()
	r := newTestRegistry(t, config, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	_, err := r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)

	backend.SetExternalVertexArray(5)
	r.NextFrame()
	backend.ResetCalls()
	_, err = r.Apply(metadata.ApplyOptimal)
	require.NoError(t, err)
	assert.Len(t, backend.CallsOf(headless.OpBindUniformBuffer), 1)
}

func TestBindSet(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128), texDecl("albedo", 2, 0))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	require.NoError(t, r.Set("albedo", metadata.NewTexture2D(3)))

	n, err := r.BindSet(2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, headless.OpBindTexture, calls[0].Op)
	assert.Equal(t, []string{"Camera"}, r.DirtyNames())

	_, err = r.BindSet(9)
	assert.True(t, errors.Is(err, core.ErrUnknownResource))

	r.DescriptorSets().SetActive(0, false)
	n, err = r.BindSet(0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"Camera"}, r.DirtyNames())

	r.DescriptorSets().SetActive(0, true)
	n, err = r.BindAllSets()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, r.DirtyNames())
}

func TestBindAllSetsIncludesUnassigned(t *testing.T) {
	backend := headless.NewDSA()
	config := DefaultRegistryConfig()
	config.AutoAssignSets = false
	loose := ubDecl("Scratch", metadata.UnassignedSet, 1, 64)
	r := newTestRegistry(t, config, backend, ubDecl("Camera", 0, 0, 128), loose)
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))
	require.NoError(t, r.Set("Scratch", metadata.NewUniformBuffer(8, 0, 64)))

	n, err := r.BindAllSets()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, r.DirtyNames())
	h, _ := backend.QueryCurrentBinding(metadata.BindTargetUniformBuffer, 1)
	assert.Equal(t, uint32(8), h)

	// unassigned bindings come after every set, as with Apply(ApplyPerSet)
	binds := backend.CallsOf(headless.OpBindUniformBuffer)
	require.Len(t, binds, 2)
	assert.Equal(t, uint32(7), binds[0].Handle)
	assert.Equal(t, uint32(8), binds[1].Handle)
}

func TestBindImage(t *testing.T) {
	backend := headless.NewDSA()
	decl := metadata.BindingDeclaration{Name: "outputImage", Kind: metadata.ResourceKindImage2D, Set: 2, BindingPoint: 1}
	r := newTestRegistry(t, nil, backend, decl)
	require.NoError(t, r.Set("outputImage", metadata.NewImage2D(metadata.ImageRef{ID: 8, Level: 0})))

	_, err := r.Apply(metadata.ApplyBatched)
	require.NoError(t, err)
	calls := backend.CallsOf(headless.OpBindImage)
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(1), calls[0].Point)
	assert.Equal(t, uint32(8), calls[0].Handle)

	// Images are not cached by the balanced policy.
	require.NoError(t, r.Invalidate("outputImage"))
	backend.ResetCalls()
	_, err = r.Apply(metadata.ApplyBatched)
	require.NoError(t, err)
	assert.Len(t, backend.CallsOf(headless.OpBindImage), 1)
	assert.Zero(t, r.StateCache().Len())
}

func TestProcessUpdatesCommitsWithoutBinding(t *testing.T) {
	backend := headless.NewDSA()
	r := newTestRegistry(t, nil, backend, ubDecl("Camera", 0, 0, 128))
	require.NoError(t, r.Set("Camera", metadata.NewUniformBuffer(7, 0, 128)))

	n, err := r.ProcessUpdates(metadata.UpdateModeImmediate)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, backend.Calls())
	assert.Empty(t, r.PendingNames())
	_, ok := r.Get("Camera", metadata.ResourceKindUniformBuffer)
	assert.True(t, ok)
	assert.Equal(t, []string{"Camera"}, r.DirtyNames())
}
