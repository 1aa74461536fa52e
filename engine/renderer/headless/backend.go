package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

const (
	OpUseProgram              = "UseProgram"
	OpBindUniformBuffer       = "BindUniformBuffer"
	OpBindStorageBuffer       = "BindStorageBuffer"
	OpBindTexture             = "BindTexture"
	OpActivateTextureUnit     = "ActivateTextureUnit"
	OpBindTextureToActiveUnit = "BindTextureToActiveUnit"
	OpBindImage               = "BindImage"
	OpMultiBindUniformBuffers = "MultiBindUniformBuffers"
	OpMultiBindStorageBuffers = "MultiBindStorageBuffers"
	OpMultiBindTextures       = "MultiBindTextures"
	OpUnbindOne               = "UnbindOne"
	OpUnbindAllOfKind         = "UnbindAllOfKind"
	OpInvalidateBuffer        = "InvalidateBuffer"
)

/** @brief One recorded backend call. Queries are not recorded. */
type Call struct {
	Op     string
	Target metadata.BindTarget
	Point  uint32
	Handle uint32
	Offset uint64
	Size   uint64
	/** @brief Handles of a multi-bind, in point order. */
	Handles []uint32
	/** @brief The error the call returned, if any. */
	Err error
}

func (c Call) String() string {
	if len(c.Handles) > 0 {
		return fmt.Sprintf("%s(%d, %v)", c.Op, c.Point, c.Handles)
	}
	return fmt.Sprintf("%s(%d, %d, %d, %d)", c.Op, c.Point, c.Handle, c.Offset, c.Size)
}

type slotState struct {
	handle uint32
	offset uint64
	size   uint64
}

/**
 * @brief An in-memory binding backend. It models the binding tables of a GPU
 * context, logs every mutating call and can be told to fail specific ops.
 */
type Backend struct {
	mu      sync.Mutex
	profile string
	caps    metadata.Capabilities
	limits  metadata.Limits

	slots      map[metadata.TargetKey]slotState
	activeUnit uint32
	state      metadata.CanonicalState

	calls     []Call
	failOn    map[string]error
	failOnce  map[string]error
	failPoint map[metadata.TargetKey]error

	// Buffers and textures share one name space so a handle identifies one object.
	names   *core.IDAllocator
	objects map[uint32]metadata.ResourceHandle
}

func newBackend(profile string, caps metadata.Capabilities, limits metadata.Limits) *Backend {
	return &Backend{
		profile:   profile,
		caps:      caps,
		limits:    limits,
		slots:     make(map[metadata.TargetKey]slotState),
		failOn:    make(map[string]error),
		failOnce:  make(map[string]error),
		failPoint: make(map[metadata.TargetKey]error),
		names:     core.NewIDAllocator(),
		objects:   make(map[uint32]metadata.ResourceHandle),
	}
}

// New creates a headless backend advertising caps.
func New(caps metadata.Capabilities, limits metadata.Limits) *Backend {
	return newBackend("custom", caps, limits)
}

// NewDSA creates a backend with every capability.
func NewDSA() *Backend {
	return newBackend("dsa", metadata.CapsDSA, metadata.DefaultLimits())
}

// NewFallback creates a backend without multi-bind or direct texture units.
func NewFallback() *Backend {
	return newBackend("fallback", metadata.CapsFallback, metadata.DefaultLimits())
}

func (b *Backend) Name() string {
	return "headless/" + b.profile
}

func (b *Backend) String() string {
	return b.Name()
}

func (b *Backend) Capabilities() metadata.Capabilities {
	return b.caps
}

func (b *Backend) Limits() metadata.Limits {
	return b.limits
}

// FailOn makes every call of op fail with err until ClearFailures.
func (b *Backend) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOn[op] = err
}

// FailNext makes only the next call of op fail with err.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOnce[op] = err
}

// FailAt makes every bind touching (target, point) fail with err.
func (b *Backend) FailAt(target metadata.BindTarget, point uint32, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPoint[metadata.TargetKey{Target: target, Point: point}] = err
}

func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOn = make(map[string]error)
	b.failOnce = make(map[string]error)
	b.failPoint = make(map[metadata.TargetKey]error)
}

// Calls returns a copy of the call log.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsOf returns the logged calls of op.
func (b *Backend) CallsOf(op string) []Call {
	out := []Call{}
	for _, c := range b.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// SetExternalBinding changes a slot behind the binding core's back, the way
// another subsystem sharing the context would.
func (b *Backend) SetExternalBinding(target metadata.BindTarget, point, handle uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(metadata.TargetKey{Target: target, Point: point}, slotState{handle: handle})
}

// SetExternalVertexArray changes the canonical VAO state.
func (b *Backend) SetExternalVertexArray(vao uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.VertexArray = vao
}

func (b *Backend) record(c Call) error {
	err := b.failure(c)
	c.Err = err
	b.calls = append(b.calls, c)
	return err
}

func (b *Backend) failure(c Call) error {
	if err, ok := b.failOnce[c.Op]; ok {
		delete(b.failOnce, c.Op)
		return err
	}
	if err, ok := b.failOn[c.Op]; ok {
		return err
	}
	if c.Target == metadata.BindTargetNone {
		return nil
	}
	n := len(c.Handles)
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if err, ok := b.failPoint[metadata.TargetKey{Target: c.Target, Point: c.Point + uint32(i)}]; ok {
			return err
		}
	}
	return nil
}

func (b *Backend) set(key metadata.TargetKey, s slotState) {
	if s.handle == 0 {
		delete(b.slots, key)
		return
	}
	b.slots[key] = s
}

func (b *Backend) checkPoint(target metadata.BindTarget, point uint32, count int) error {
	limit := b.limits.MaxPoints(target)
	if uint64(point)+uint64(count) > uint64(limit) {
		return &core.CapacityError{What: target.String() + " binding point", Limit: uint64(limit), Got: uint64(point) + uint64(count)}
	}
	return nil
}

func (b *Backend) checkRange(target metadata.BindTarget, offset, size uint64) error {
	if offset == 0 && size == 0 {
		return nil
	}
	if !b.caps.Has(metadata.CapBindRange) {
		return fmt.Errorf("range bind on %s: %w", b.Name(), core.ErrUnsupported)
	}
	align := b.limits.UniformBufferOffsetAlignment
	if target == metadata.BindTargetStorageBuffer {
		align = b.limits.StorageBufferOffsetAlignment
	}
	if !metadata.IsAligned(offset, align) {
		return fmt.Errorf("offset %d is not aligned to %d", offset, align)
	}
	return nil
}

func (b *Backend) UseProgram(program uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(Call{Op: OpUseProgram, Handle: program}); err != nil {
		return err
	}
	b.state.Program = program
	return nil
}

func (b *Backend) bindBuffer(op string, target metadata.BindTarget, point, handle uint32, offset, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := Call{Op: op, Target: target, Point: point, Handle: handle, Offset: offset, Size: size}
	if err := b.checkPoint(target, point, 1); err != nil {
		c.Err = err
		b.calls = append(b.calls, c)
		return err
	}
	if err := b.checkRange(target, offset, size); err != nil {
		c.Err = err
		b.calls = append(b.calls, c)
		return err
	}
	if err := b.record(c); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: target, Point: point}, slotState{handle: handle, offset: offset, size: size})
	return nil
}

func (b *Backend) BindUniformBuffer(point, handle uint32, offset, size uint64) error {
	return b.bindBuffer(OpBindUniformBuffer, metadata.BindTargetUniformBuffer, point, handle, offset, size)
}

func (b *Backend) BindStorageBuffer(point, handle uint32, offset, size uint64) error {
	return b.bindBuffer(OpBindStorageBuffer, metadata.BindTargetStorageBuffer, point, handle, offset, size)
}

func (b *Backend) BindTexture(unit, handle uint32, textureType metadata.TextureType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := Call{Op: OpBindTexture, Target: metadata.BindTargetTexture, Point: unit, Handle: handle}
	if !b.caps.Has(metadata.CapBindTextureUnit) {
		c.Err = fmt.Errorf("%s on %s: %w", OpBindTexture, b.Name(), core.ErrUnsupported)
		b.calls = append(b.calls, c)
		return c.Err
	}
	if err := b.checkPoint(metadata.BindTargetTexture, unit, 1); err != nil {
		c.Err = err
		b.calls = append(b.calls, c)
		return err
	}
	if err := b.record(c); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: metadata.BindTargetTexture, Point: unit}, slotState{handle: handle})
	return nil
}

func (b *Backend) ActivateTextureUnit(unit uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := Call{Op: OpActivateTextureUnit, Target: metadata.BindTargetTexture, Point: unit}
	if err := b.checkPoint(metadata.BindTargetTexture, unit, 1); err != nil {
		c.Err = err
		b.calls = append(b.calls, c)
		return err
	}
	if err := b.record(c); err != nil {
		return err
	}
	b.activeUnit = unit
	return nil
}

func (b *Backend) BindTextureToActiveUnit(handle uint32, textureType metadata.TextureType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(Call{Op: OpBindTextureToActiveUnit, Target: metadata.BindTargetTexture, Point: b.activeUnit, Handle: handle}); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: metadata.BindTargetTexture, Point: b.activeUnit}, slotState{handle: handle})
	return nil
}

func (b *Backend) BindImage(unit uint32, image metadata.ImageRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := Call{Op: OpBindImage, Target: metadata.BindTargetImage, Point: unit, Handle: image.ID}
	if !b.caps.Has(metadata.CapBindImages) {
		c.Err = fmt.Errorf("%s on %s: %w", OpBindImage, b.Name(), core.ErrUnsupported)
		b.calls = append(b.calls, c)
		return c.Err
	}
	if err := b.checkPoint(metadata.BindTargetImage, unit, 1); err != nil {
		c.Err = err
		b.calls = append(b.calls, c)
		return err
	}
	if err := b.record(c); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: metadata.BindTargetImage, Point: unit}, slotState{handle: image.ID})
	return nil
}

func (b *Backend) multiBindBuffers(op string, target metadata.BindTarget, first uint32, items []metadata.BufferBinding) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	handles := make([]uint32, len(items))
	for i, it := range items {
		handles[i] = it.Handle
	}
	c := Call{Op: op, Target: target, Point: first, Handles: handles}
	fail := func(err error) error {
		c.Err = err
		b.calls = append(b.calls, c)
		return err
	}
	if !b.caps.Has(metadata.CapMultiBind) {
		return fail(fmt.Errorf("%s on %s: %w", op, b.Name(), core.ErrUnsupported))
	}
	if err := b.checkPoint(target, first, len(items)); err != nil {
		return fail(err)
	}
	// Validate every element before touching state.
	for _, it := range items {
		if err := b.checkRange(target, it.Offset, it.Size); err != nil {
			return fail(err)
		}
	}
	if err := b.record(c); err != nil {
		return err
	}
	for i, it := range items {
		b.set(metadata.TargetKey{Target: target, Point: first + uint32(i)}, slotState{handle: it.Handle, offset: it.Offset, size: it.Size})
	}
	return nil
}

func (b *Backend) MultiBindUniformBuffers(first uint32, items []metadata.BufferBinding) error {
	return b.multiBindBuffers(OpMultiBindUniformBuffers, metadata.BindTargetUniformBuffer, first, items)
}

func (b *Backend) MultiBindStorageBuffers(first uint32, items []metadata.BufferBinding) error {
	return b.multiBindBuffers(OpMultiBindStorageBuffers, metadata.BindTargetStorageBuffer, first, items)
}

func (b *Backend) MultiBindTextures(first uint32, handles []uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := Call{Op: OpMultiBindTextures, Target: metadata.BindTargetTexture, Point: first, Handles: append([]uint32(nil), handles...)}
	if !b.caps.Has(metadata.CapMultiBind) {
		c.Err = fmt.Errorf("%s on %s: %w", OpMultiBindTextures, b.Name(), core.ErrUnsupported)
		b.calls = append(b.calls, c)
		return c.Err
	}
	if err := b.checkPoint(metadata.BindTargetTexture, first, len(handles)); err != nil {
		c.Err = err
		b.calls = append(b.calls, c)
		return err
	}
	if err := b.record(c); err != nil {
		return err
	}
	for i, h := range handles {
		b.set(metadata.TargetKey{Target: metadata.BindTargetTexture, Point: first + uint32(i)}, slotState{handle: h})
	}
	return nil
}

func (b *Backend) UnbindOne(target metadata.BindTarget, point uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(Call{Op: OpUnbindOne, Target: target, Point: point}); err != nil {
		return err
	}
	delete(b.slots, metadata.TargetKey{Target: target, Point: point})
	return nil
}

func (b *Backend) UnbindAllOfKind(target metadata.BindTarget) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(Call{Op: OpUnbindAllOfKind, Target: target}); err != nil {
		return err
	}
	for k := range b.slots {
		if k.Target == target {
			delete(b.slots, k)
		}
	}
	return nil
}

func (b *Backend) QueryCurrentBinding(target metadata.BindTarget, point uint32) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(target, point, 1); err != nil {
		return 0, err
	}
	return b.slots[metadata.TargetKey{Target: target, Point: point}].handle, nil
}

// QueryRange returns the bound range at a buffer point.
func (b *Backend) QueryRange(target metadata.BindTarget, point uint32) (offset, size uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.slots[metadata.TargetKey{Target: target, Point: point}]
	return s.offset, s.size
}

func (b *Backend) QueryCanonicalState() (metadata.CanonicalState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, nil
}

func (b *Backend) InvalidateBuffer(handle uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.caps.Has(metadata.CapInvalidateBuffer) {
		err := fmt.Errorf("%s on %s: %w", OpInvalidateBuffer, b.Name(), core.ErrUnsupported)
		b.calls = append(b.calls, Call{Op: OpInvalidateBuffer, Handle: handle, Err: err})
		return err
	}
	return b.record(Call{Op: OpInvalidateBuffer, Handle: handle})
}
