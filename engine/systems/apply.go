package systems

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

// bindItem is one backend slot of a binding: element i of an array binding
// lives at BackendPoint+i.
type bindItem struct {
	name    string
	set     uint32
	kind    metadata.ResourceKind
	key     metadata.TargetKey
	handle  uint32
	offset  uint64
	size    uint64
	texture metadata.TextureType
	image   metadata.ImageRef
}

type bindGroup struct {
	set       uint32
	items     []bindItem
	multiBind bool
}

type applyResult struct {
	ops    int
	failed map[string]bool
	bound  map[string]bool
	sets   map[uint32]bool
	errs   []error
}

func (r *ResourceRegistry) items(b *ResourceBinding) []bindItem {
	out := make([]bindItem, 0, b.Resource.Len())
	for i := 0; i < b.Resource.Len(); i++ {
		e, _ := b.Resource.Element(i)
		it := bindItem{
			name:   b.Declaration.Name,
			set:    b.Declaration.Set,
			kind:   e.Kind,
			key:    metadata.TargetKey{Target: e.Kind.Target(), Point: b.BackendPoint + uint32(i)},
			handle: e.RawID(),
		}
		if i == 0 && r.config.EnableCaching && b.GpuHandle != 0 {
			it.handle = b.GpuHandle
		}
		switch {
		case e.Kind.IsBuffer():
			it.offset = e.Buffer.Offset
			it.size = e.Buffer.Size
		case e.Kind.IsTexture():
			it.texture = e.Texture.TextureType
		default:
			it.image = e.Image
		}
		out = append(out, it)
	}
	return out
}

func sortItems(items []bindItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.key.Target != b.key.Target {
			return a.key.Target < b.key.Target
		}
		if a.key.Point != b.key.Point {
			return a.key.Point < b.key.Point
		}
		return a.name < b.name
	})
}

// groups partitions items for mode. Sets are visited in descriptor set order,
// unassigned bindings last.
func (r *ResourceRegistry) groups(mode metadata.ApplyMode, items []bindItem) []bindGroup {
	if mode == metadata.ApplyOptimal {
		mode = metadata.ApplyBatched
		if r.config.UseSetPriority {
			mode = metadata.ApplyPerSet
		}
	}
	multi := mode != metadata.ApplyIndividual && r.caps.Has(metadata.CapMultiBind)
	if mode != metadata.ApplyPerSet {
		sortItems(items)
		return []bindGroup{{items: items, multiBind: multi}}
	}

	bySet := map[uint32][]bindItem{}
	for _, it := range items {
		bySet[it.set] = append(bySet[it.set], it)
	}
	order := r.sets.Order()
	if _, ok := bySet[metadata.UnassignedSet]; ok {
		order = append(order, metadata.UnassignedSet)
	}
	out := make([]bindGroup, 0, len(bySet))
	for _, idx := range order {
		g, ok := bySet[idx]
		if !ok {
			continue
		}
		sortItems(g)
		out = append(out, bindGroup{set: idx, items: g, multiBind: multi})
	}
	return out
}

// Apply binds every dirty binding through the backend and returns the number
// of logical binding operations emitted. Failed operations leave their
// bindings dirty and are reported joined in the error.
func (r *ResourceRegistry) Apply(mode metadata.ApplyMode) (int, error) {
	if !r.initialized {
		return 0, core.ErrNotInitialized
	}
	r.stats.Applies++
	r.validateGPUState()
	r.commitReady(r.config.EnableBatching)

	candidates := []*ResourceBinding{}
	for _, name := range r.Names() {
		b := r.bindings[name]
		if b.Resource.IsEmpty() {
			continue
		}
		if b.IsDirty || b.Lifecycle == metadata.LifecycleStale {
			candidates = append(candidates, b)
		}
	}
	res := r.emit(mode, candidates)
	r.record(candidates, res)
	return r.finishApply(res)
}

// BindSet applies the dirty bindings of one descriptor set only.
func (r *ResourceRegistry) BindSet(index uint32) (int, error) {
	if !r.initialized {
		return 0, core.ErrNotInitialized
	}
	info, ok := r.sets.Get(index)
	if !ok {
		return 0, fmt.Errorf("%w: descriptor set %d", core.ErrUnknownResource, index)
	}
	if !info.IsActive {
		return 0, nil
	}
	return r.applyMembers(info.Members)
}

func (r *ResourceRegistry) applyMembers(names []string) (int, error) {
	r.commitReady(r.config.EnableBatching)
	candidates := []*ResourceBinding{}
	for _, name := range names {
		b, ok := r.bindings[name]
		if !ok || b.Resource.IsEmpty() {
			continue
		}
		if b.IsDirty || b.Lifecycle == metadata.LifecycleStale {
			candidates = append(candidates, b)
		}
	}
	res := r.emit(metadata.ApplyPerSet, candidates)
	r.record(candidates, res)
	return r.finishApply(res)
}

// BindAllSets applies every active set in priority order, then the bindings
// not assigned to a set, the same order Apply(ApplyPerSet) uses. Errors of
// every set are joined.
func (r *ResourceRegistry) BindAllSets() (int, error) {
	if !r.initialized {
		return 0, core.ErrNotInitialized
	}
	total := 0
	var errs []error
	for _, idx := range r.sets.Order() {
		n, err := r.BindSet(idx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	unassigned := []string{}
	for _, name := range r.Names() {
		if r.bindings[name].Declaration.Set == metadata.UnassignedSet {
			unassigned = append(unassigned, name)
		}
	}
	if len(unassigned) > 0 {
		n, err := r.applyMembers(unassigned)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (r *ResourceRegistry) finishApply(res *applyResult) (int, error) {
	r.stats.LastApplyOps = res.ops
	for idx := range res.sets {
		r.sets.MarkBound(idx, r.frame)
	}
	if len(res.errs) == 0 {
		if state, err := r.backend.QueryCanonicalState(); err == nil {
			r.stateCache.RecordCanonicalState(state)
		}
	} else {
		for _, err := range res.errs {
			r.recordError(err)
		}
		core.LogWarn("%s: apply failed for %d binding(s), they stay dirty", r, len(res.failed))
	}
	if r.config.EnableValidation && r.config.RealtimeValidation {
		issues, _ := r.validate(metadata.ValidateAll, false)
		for _, i := range issues {
			if i.Severity >= metadata.SeverityWarning {
				core.LogWarn("%s: %s", r, i)
			}
		}
	}
	return res.ops, errors.Join(res.errs...)
}

// validateGPUState compares the state cache with the backend at most once per
// validation frame. A mismatch dirties every active binding.
func (r *ResourceRegistry) validateGPUState() {
	if !r.stateCache.ShouldValidate(r.frame) || (r.validatedOnce && r.validatedAt == r.frame) {
		return
	}
	r.validatedOnce = true
	r.validatedAt = r.frame
	mismatch, err := r.stateCache.Validate(r.backend)
	if err != nil {
		core.LogWarn("%s: GPU state validation: %s", r, err)
		return
	}
	if !mismatch {
		return
	}
	for _, name := range r.Names() {
		b := r.bindings[name]
		if b.IsActive {
			r.markInvalidated(b, metadata.InvalidationGpuStateMismatch)
		}
	}
}

// emit runs the redundancy filter and dispatches what remains.
func (r *ResourceRegistry) emit(mode metadata.ApplyMode, candidates []*ResourceBinding) *applyResult {
	res := &applyResult{failed: map[string]bool{}, bound: map[string]bool{}, sets: map[uint32]bool{}}
	items := []bindItem{}
	for _, b := range candidates {
		for _, it := range r.items(b) {
			if r.stateCache.IsRedundant(it.key, it.handle, it.offset, it.size) {
				r.stats.CacheHits++
				continue
			}
			r.stats.CacheMisses++
			items = append(items, it)
		}
	}
	for _, g := range r.groups(mode, items) {
		r.dispatch(g, res)
	}
	return res
}

func (r *ResourceRegistry) dispatch(g bindGroup, res *applyResult) {
	items := g.items
	for i := 0; i < len(items); {
		n := 1
		if g.multiBind {
			n = r.runLength(items[i:])
		}
		run := items[i : i+n]
		var op string
		var err error
		d := core.Measure(func() {
			if n >= 2 {
				op, err = r.multiBind(run)
			} else {
				op, err = r.bindOne(run[0])
			}
		})
		r.bindTime.Add(d)
		r.stateCache.RecordBindTime(d)
		res.ops++
		r.stats.BindOps++
		if n >= 2 {
			r.stats.MultiBinds++
		}
		if err != nil {
			r.stats.FailedOps++
			core.LogDebug("%s: %s at %s failed: %s", r, op, run[0].key, err)
			res.errs = append(res.errs, &core.BackendError{Op: op, Point: run[0].key.Point, Err: err})
			for _, it := range run {
				res.failed[it.name] = true
			}
		} else {
			for _, it := range run {
				r.stateCache.Record(it.key, it.kind, it.handle, it.offset, it.size, r.frame)
				res.bound[it.name] = true
				res.sets[it.set] = true
			}
		}
		i += n
	}
}

// runLength is the number of leading items that can go in one multi-bind:
// the same multi-bindable target at contiguous points.
func (r *ResourceRegistry) runLength(items []bindItem) int {
	first := items[0]
	if first.key.Target == metadata.BindTargetImage || !r.rangeOK(first) {
		return 1
	}
	n := 1
	for n < len(items) {
		it := items[n]
		if it.key.Target != first.key.Target || it.key.Point != first.key.Point+uint32(n) || !r.rangeOK(it) {
			break
		}
		n++
	}
	return n
}

func (r *ResourceRegistry) rangeOK(it bindItem) bool {
	return it.offset == 0 || r.caps.Has(metadata.CapBindRange)
}

// rangeSize is the size handed to the backend. Without range binds only whole
// buffers can be bound.
func (r *ResourceRegistry) rangeSize(it bindItem) uint64 {
	if !r.caps.Has(metadata.CapBindRange) {
		return 0
	}
	return it.size
}

func (r *ResourceRegistry) bindOne(it bindItem) (string, error) {
	p := it.key.Point
	switch it.key.Target {
	case metadata.BindTargetUniformBuffer, metadata.BindTargetStorageBuffer:
		op := "BindUniformBuffer"
		bind := r.backend.BindUniformBuffer
		if it.key.Target == metadata.BindTargetStorageBuffer {
			op = "BindStorageBuffer"
			bind = r.backend.BindStorageBuffer
		}
		if !r.rangeOK(it) {
			return op, fmt.Errorf("range bind at offset %d: %w", it.offset, core.ErrUnsupported)
		}
		return op, bind(p, it.handle, it.offset, r.rangeSize(it))
	case metadata.BindTargetTexture:
		if r.caps.Has(metadata.CapBindTextureUnit) {
			return "BindTexture", r.backend.BindTexture(p, it.handle, it.texture)
		}
		if err := r.backend.ActivateTextureUnit(p); err != nil {
			return "ActivateTextureUnit", err
		}
		return "BindTextureToActiveUnit", r.backend.BindTextureToActiveUnit(it.handle, it.texture)
	case metadata.BindTargetImage:
		if !r.caps.Has(metadata.CapBindImages) {
			return "BindImage", core.ErrUnsupported
		}
		return "BindImage", r.backend.BindImage(p, it.image)
	}
	return "Bind", fmt.Errorf("no bind target for %s", it.kind)
}

func (r *ResourceRegistry) multiBind(run []bindItem) (string, error) {
	first := run[0].key.Point
	switch run[0].key.Target {
	case metadata.BindTargetTexture:
		handles := make([]uint32, 0, len(run))
		for _, it := range run {
			handles = append(handles, it.handle)
		}
		return "MultiBindTextures", r.backend.MultiBindTextures(first, handles)
	case metadata.BindTargetStorageBuffer:
		return "MultiBindStorageBuffers", r.backend.MultiBindStorageBuffers(first, r.bufferBindings(run))
	}
	return "MultiBindUniformBuffers", r.backend.MultiBindUniformBuffers(first, r.bufferBindings(run))
}

func (r *ResourceRegistry) bufferBindings(run []bindItem) []metadata.BufferBinding {
	out := make([]metadata.BufferBinding, 0, len(run))
	for _, it := range run {
		out = append(out, metadata.BufferBinding{Handle: it.handle, Offset: it.offset, Size: r.rangeSize(it)})
	}
	return out
}

// record writes the outcome of an apply back into the bindings.
func (r *ResourceRegistry) record(candidates []*ResourceBinding, res *applyResult) {
	now := r.now()
	for _, b := range candidates {
		name := b.Declaration.Name
		if res.failed[name] {
			b.IsDirty = true
			b.IsActive = false
			for _, k := range r.targetKeys(b) {
				r.stateCache.InvalidateOne(k)
			}
			continue
		}
		b.IsDirty = false
		b.IsActive = true
		b.GpuHandle = b.Resource.RawID()
		b.LastBoundFrame = r.frame
		b.LastAccessed = now
		if res.bound[name] {
			b.BindCount++
		}
		e, _ := b.Resource.Element(0)
		b.StateHash = metadata.StateHash(b.Declaration.Kind, b.BackendPoint, b.GpuHandle, e.Buffer.Offset, e.Buffer.Size)
		delete(r.invalidated, name)
		switch b.Lifecycle {
		case metadata.LifecycleActive, metadata.LifecycleStale:
			r.transition(b, metadata.LifecycleActive)
		default:
			if b.Lifecycle == metadata.LifecycleAllocated {
				r.transition(b, metadata.LifecycleBound)
			}
			r.transition(b, metadata.LifecycleActive)
		}
	}
}

// AverageBindTime is the rolling mean duration of one backend operation.
func (r *ResourceRegistry) AverageBindTime() time.Duration {
	return r.bindTime.Average()
}
