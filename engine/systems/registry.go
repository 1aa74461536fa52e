package systems

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/reflection"
)

/** @brief Where a binding declaration came from. */
type BindingSource uint8

const (
	BindingSourceReflected BindingSource = iota
	BindingSourceDeclared
	BindingSourceTemplate
	BindingSourceDefault
)

func (s BindingSource) String() string {
	switch s {
	case BindingSourceReflected:
		return "reflected"
	case BindingSourceDeclared:
		return "declared"
	case BindingSourceTemplate:
		return "template"
	}
	return "default"
}

/** @brief The dynamic record the registry keeps for one declared name. */
type ResourceBinding struct {
	Declaration metadata.BindingDeclaration
	Source      BindingSource
	/** @brief The committed resource. Empty when unbound. */
	Resource metadata.ResourceHandle
	/**
	 * @brief First backend point of the binding within its target. It is the
	 * declared point unless a binding of another set already holds that point.
	 */
	BackendPoint uint32
	/** @brief Raw id after a commit or a successful apply. 0 means unknown. */
	GpuHandle uint32
	/** @brief The last apply of this binding succeeded. */
	IsActive bool
	/** @brief The backend may not hold Resource. The next apply re-binds it. */
	IsDirty        bool
	IsDefault      bool
	LastBoundFrame uint64
	BindCount      uint64
	StateHash      uint64
	Lifecycle      metadata.LifecycleState
	LastAccessed   time.Time
}

/** @brief Explicit declarations and structure installed by Initialize. */
type BindingLayout struct {
	Declarations []metadata.BindingDeclaration
	SetNames     map[uint32]string
	SetMapping   map[metadata.SetPriority]uint32
	/** @brief dependent -> dependencies */
	Dependencies map[string][]string
	Required     map[string][]string
	Forbidden    map[string][]string
	Priorities   map[string]metadata.UpdatePriority
	Defaults     []DefaultResource
}

/** @brief A diagnostic emitted when a resource was accepted through a conversion. */
type ConversionSuggestion struct {
	Name    string
	Message string
	Frame   uint64
}

/** @brief The result of GetEnhanced. */
type GetResult struct {
	Resource metadata.ResourceHandle
	Err      error
	/** @brief The raw handle was served by the handle cache. */
	Cached               bool
	ConversionSuggestion string
}

type RegistryStats struct {
	Applies               uint64
	BindOps               uint64
	MultiBinds            uint64
	CacheHits             uint64
	CacheMisses           uint64
	FailedOps             uint64
	Commits               uint64
	Invalidations         uint64
	ConversionSuggestions uint64
	LastApplyOps          int
	AverageBindTime       time.Duration
	LastErrors            []string
}

func (s RegistryStats) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

type lifecycleViolation struct {
	name     string
	from, to metadata.LifecycleState
	frame    uint64
}

const (
	maxInvalidationHistory = 256
	maxSuggestions         = 64
	maxLastErrors          = 8
	maxViolations          = 64
)

/**
 * @brief The per-shader orchestrator of the binding core. Not synchronized:
 * every call must come from the thread that emits GPU commands.
 */
type ResourceRegistry struct {
	ID     string
	config *RegistryConfig

	shader      *metadata.Shader
	backend     renderer.BindingBackend
	factory     renderer.ResourceFactory
	caps        metadata.Capabilities
	reflect     reflection.Reflector
	initialized bool

	bindings    map[string]*ResourceBinding
	slots       map[metadata.SlotKey]string
	points      map[metadata.TargetKey]string
	pending     map[string]*PendingUpdate
	invalidated map[string]metadata.InvalidationRecord
	history     []metadata.InvalidationRecord
	suggestions []ConversionSuggestion
	violations  []lifecycleViolation
	// violations[:violationsSeen] were already logged by realtime validation
	violationsSeen int

	deps           *DependencyGraph
	required       map[string]nameSet
	forbidden      map[string]nameSet
	namePriorities map[string]metadata.UpdatePriority
	kindPriorities map[metadata.ResourceKind]metadata.UpdatePriority

	sets        *DescriptorSetTable
	handleCache *HandleCache
	pools       *HandlePools
	transient   map[string]metadata.ResourceHandle
	stateCache  *BindingStateCache
	frames      *FrameInFlightManager
	scheduler   *BatchScheduler
	resolved    *ResolveQueue

	defaults        []DefaultResource
	defaultTextures map[string]metadata.ResourceHandle
	owned           []metadata.ResourceHandle
	pattern         ShaderPattern

	frame         uint64
	validatedAt   uint64
	validatedOnce bool
	stats         RegistryStats
	bindTime      core.RollingAverage
	now           func() time.Time
}

func NewResourceRegistry(config *RegistryConfig, backend renderer.BindingBackend) (*ResourceRegistry, error) {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	if backend == nil {
		return nil, fmt.Errorf("func NewResourceRegistry - a backend is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	kp, err := config.kindPriorities()
	if err != nil {
		return nil, err
	}
	sets, err := NewDescriptorSetTable(config.UseSetPriority, config.StartSet, config.EndSet)
	if err != nil {
		return nil, err
	}

	caps := backend.Capabilities()
	if !config.EnableDSA {
		caps &= metadata.CapsFallback
	}
	factory, _ := backend.(renderer.ResourceFactory)

	r := &ResourceRegistry{
		ID:              uuid.NewString(),
		config:          config,
		backend:         backend,
		factory:         factory,
		caps:            caps,
		reflect:         reflection.Reflect,
		bindings:        make(map[string]*ResourceBinding),
		slots:           make(map[metadata.SlotKey]string),
		points:          make(map[metadata.TargetKey]string),
		pending:         make(map[string]*PendingUpdate),
		invalidated:     make(map[string]metadata.InvalidationRecord),
		deps:            NewDependencyGraph(),
		required:        make(map[string]nameSet),
		forbidden:       make(map[string]nameSet),
		namePriorities:  make(map[string]metadata.UpdatePriority),
		kindPriorities:  kp,
		sets:            sets,
		handleCache:     NewHandleCache(HandleCacheConfig{MaxSize: config.MaxCacheSize, MaxAge: config.CacheMaxAge.Std()}),
		pools:           NewHandlePools(factory, config.MaxPoolSize),
		transient:       make(map[string]metadata.ResourceHandle),
		scheduler:       NewBatchScheduler(config.MaxBatchSize, config.MaxBatchDelay),
		resolved:        NewResolveQueue(),
		defaultTextures: make(map[string]metadata.ResourceHandle),
		now:             time.Now,
	}
	if config.SharedStateCache {
		r.stateCache = GlobalBindingStateCache()
	} else {
		r.stateCache = NewBindingStateCache(config.stateCacheConfig())
	}
	if config.EnableFrameInFlight {
		frames, err := NewFrameInFlightManager(config.FramesInFlight)
		if err != nil {
			return nil, err
		}
		r.frames = frames
	}
	return r, nil
}

func (r *ResourceRegistry) String() string {
	name := "unbound"
	if r.shader != nil {
		name = r.shader.Name
	}
	return fmt.Sprintf("registry/%s/%s", name, r.ID[:8])
}

// UseStateCache replaces the binding state cache, e.g. with one shared by the
// registries driving the same backend.
func (r *ResourceRegistry) UseStateCache(c *BindingStateCache) {
	if c != nil {
		r.stateCache = c
	}
}

func (r *ResourceRegistry) Initialize(shader *metadata.Shader, layout *BindingLayout) error {
	if r.initialized {
		core.LogWarn("%s: already initialized, ignoring", r)
		return core.ErrAlreadyInitialized
	}
	if shader == nil {
		return fmt.Errorf("%s: cannot initialize without a shader", r)
	}
	r.shader = shader

	for _, m := range shader.Modules {
		if _, err := r.discover(m); err != nil {
			core.LogError("%s: %s", r, err)
			return err
		}
	}
	if layout != nil {
		if err := r.installLayout(layout); err != nil {
			return err
		}
	}
	r.initialized = true
	shader.State = metadata.SHADER_STATE_INITIALIZED

	if r.config.EnableDefaultResources {
		if err := r.InitializeDefaultResources(); err != nil {
			core.LogWarn("%s: default resources: %s", r, err)
		}
	}
	if r.config.AutoAssignSets {
		r.AutoAssignResourceSets()
	}
	core.LogDebug("%s: initialized with %d bindings in %d sets", r, len(r.bindings), r.sets.Len())
	return nil
}

func (r *ResourceRegistry) installLayout(layout *BindingLayout) error {
	if len(layout.SetMapping) > 0 {
		if err := r.sets.SetMapping(layout.SetMapping); err != nil {
			return err
		}
	}
	for _, d := range layout.Declarations {
		if _, err := r.install(d, BindingSourceDeclared); err != nil {
			core.LogWarn("%s: dropping declaration %s: %s", r, d, err)
		}
	}
	for idx, name := range layout.SetNames {
		r.sets.Rename(idx, name)
	}
	for name, p := range layout.Priorities {
		r.namePriorities[name] = p
	}
	for dependent, list := range layout.Dependencies {
		for _, dependency := range list {
			if err := r.addDependency(dependent, dependency); err != nil {
				return err
			}
		}
	}
	for name, list := range layout.Required {
		r.required[name] = toSet(list)
	}
	for name, list := range layout.Forbidden {
		r.forbidden[name] = toSet(list)
	}
	r.defaults = append(r.defaults, layout.Defaults...)
	return nil
}

func toSet(list []string) nameSet {
	s := nameSet{}
	for _, n := range list {
		s[n] = struct{}{}
	}
	return s
}

func (r *ResourceRegistry) Initialized() bool {
	return r.initialized
}

func (r *ResourceRegistry) Shader() *metadata.Shader {
	return r.shader
}

func (r *ResourceRegistry) Config() *RegistryConfig {
	return r.config
}

// Capabilities are the backend capabilities the registry actually uses.
func (r *ResourceRegistry) Capabilities() metadata.Capabilities {
	return r.caps
}

// DiscoverResources reflects one stage module and merges its declarations.
// Returns the number of new bindings.
func (r *ResourceRegistry) DiscoverResources(module metadata.ShaderModule) (int, error) {
	if !r.initialized {
		return 0, core.ErrNotInitialized
	}
	n, err := r.discover(module)
	if err == nil && r.config.AutoAssignSets {
		r.AutoAssignResourceSets()
	}
	return n, err
}

func (r *ResourceRegistry) discover(module metadata.ShaderModule) (int, error) {
	res, err := r.reflect(module)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, d := range res.Declarations {
		ok, err := r.install(d, BindingSourceReflected)
		if err != nil {
			core.LogWarn("%s: %s: dropping %s: %s", r, module.Stage, d, err)
			continue
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// DeclareResource adds a declaration without reflection.
func (r *ResourceRegistry) DeclareResource(decl metadata.BindingDeclaration) error {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	if _, err := r.install(decl, BindingSourceDeclared); err != nil {
		return err
	}
	if decl.Set == metadata.UnassignedSet && r.config.AutoAssignSets {
		r.AutoAssignResourceSets()
	}
	return nil
}

func normalize(d metadata.BindingDeclaration) metadata.BindingDeclaration {
	if d.IsArray && !d.Kind.IsArray() {
		d.Kind = d.Kind.Array()
	}
	d.IsArray = d.Kind.IsArray()
	if d.ArraySize == 0 || !d.IsArray {
		d.ArraySize = 1
	}
	if d.Kind.IsTexture() || d.Kind == metadata.ResourceKindImage2D {
		d.ElementSize = 0
	}
	return d
}

// install adds a binding for d. It returns false without error when an
// identical declaration already exists, in which case the stages are merged.
func (r *ResourceRegistry) install(d metadata.BindingDeclaration, source BindingSource) (bool, error) {
	if d.Name == "" {
		return false, fmt.Errorf("declaration without a name")
	}
	if d.Kind == metadata.ResourceKindNone {
		return false, &core.TypeMismatchError{Name: d.Name, Expected: metadata.ResourceKindUniformBuffer, Got: d.Kind}
	}
	d = normalize(d)

	if b, ok := r.bindings[d.Name]; ok {
		if b.Declaration.SameLayout(d) || (d.Set == metadata.UnassignedSet && b.Declaration.Kind == d.Kind && b.Declaration.BindingPoint == d.BindingPoint) {
			b.Declaration.Stages |= d.Stages
			return false, nil
		}
		return false, fmt.Errorf("%w: '%s' is already declared as %s", core.ErrBindingPointConflict, d.Name, b.Declaration)
	}
	if d.Set != metadata.UnassignedSet {
		if owner, taken := r.slots[d.Slot()]; taken {
			return false, &core.BindingPointConflictError{Set: d.Set, Point: d.BindingPoint, Owner: owner, Other: d.Name}
		}
	}

	b := &ResourceBinding{
		Declaration: d,
		Source:      source,
		Lifecycle:   metadata.LifecycleDeclared,
	}
	b.BackendPoint = r.claimPoints(d)
	if b.BackendPoint != d.BindingPoint {
		core.LogDebug("%s: '%s' moved to %s:%d, point %d is held by another set", r, d.Name, d.Kind.Target(), b.BackendPoint, d.BindingPoint)
	}
	r.bindings[d.Name] = b
	if d.Set != metadata.UnassignedSet {
		r.slots[d.Slot()] = d.Name
		r.sets.AddMember(d.Set, d.Name)
	}
	return true, nil
}

// claimPoints reserves Capacity consecutive backend points of d's target.
// The declared point is used when the whole run is free, otherwise the first
// free run above it.
func (r *ResourceRegistry) claimPoints(d metadata.BindingDeclaration) uint32 {
	target := d.Kind.Target()
	n := d.Capacity()
	first := d.BindingPoint
	for !r.pointsFree(target, first, n) {
		first++
	}
	for i := uint32(0); i < n; i++ {
		r.points[metadata.TargetKey{Target: target, Point: first + i}] = d.Name
	}
	return first
}

func (r *ResourceRegistry) pointsFree(target metadata.BindTarget, first, n uint32) bool {
	for i := uint32(0); i < n; i++ {
		if _, taken := r.points[metadata.TargetKey{Target: target, Point: first + i}]; taken {
			return false
		}
	}
	return true
}

func (r *ResourceRegistry) releasePoints(b *ResourceBinding) {
	target := b.Declaration.Kind.Target()
	for i := uint32(0); i < b.Declaration.Capacity(); i++ {
		k := metadata.TargetKey{Target: target, Point: b.BackendPoint + i}
		if r.points[k] == b.Declaration.Name {
			delete(r.points, k)
		}
	}
}

// assignSet moves an unassigned binding into set index.
func (r *ResourceRegistry) assignSet(name string, index uint32) error {
	b := r.bindings[name]
	slot := metadata.SlotKey{Set: index, Point: b.Declaration.BindingPoint}
	if owner, taken := r.slots[slot]; taken && owner != name {
		return &core.BindingPointConflictError{Set: index, Point: slot.Point, Owner: owner, Other: name}
	}
	if b.Declaration.Set != metadata.UnassignedSet {
		delete(r.slots, b.Declaration.Slot())
	}
	b.Declaration.Set = index
	r.slots[slot] = name
	r.sets.AddMember(index, name)
	return nil
}

// RemoveResource drops a binding, its pending and batched updates and every
// dependency edge touching it.
func (r *ResourceRegistry) RemoveResource(name string) error {
	b, ok := r.bindings[name]
	if !ok {
		return &core.UnknownResourceError{Name: name}
	}
	r.cancelPending(name)
	if t, ok := r.transient[name]; ok {
		r.releaseTransient(name, t)
	}
	r.forgetSlots(b, true)
	r.releasePoints(b)
	r.deps.RemoveNode(name)
	delete(r.required, name)
	delete(r.forbidden, name)
	for _, s := range r.required {
		delete(s, name)
	}
	delete(r.namePriorities, name)
	r.sets.RemoveMember(name)
	if b.Declaration.Set != metadata.UnassignedSet {
		delete(r.slots, b.Declaration.Slot())
	}
	r.handleCache.Remove(name)
	if r.frames != nil {
		r.frames.Remove(name)
	}
	delete(r.invalidated, name)
	r.transition(b, metadata.LifecycleDestroyed)
	delete(r.bindings, name)
	return nil
}

func (r *ResourceRegistry) cancelPending(name string) {
	delete(r.pending, name)
	r.scheduler.Cancel(name)
}

// forgetSlots makes sure the state cache claims nothing about the slots of b.
func (r *ResourceRegistry) forgetSlots(b *ResourceBinding, invalidate bool) {
	for _, k := range r.targetKeys(b) {
		if invalidate {
			r.stateCache.InvalidateOne(k)
		} else {
			r.stateCache.Forget(k)
		}
	}
}

// targetKeys returns the backend slots b occupies with its current resource.
func (r *ResourceRegistry) targetKeys(b *ResourceBinding) []metadata.TargetKey {
	n := b.Resource.Len()
	if n == 0 {
		n = 1
	}
	target := b.Declaration.Kind.Target()
	keys := make([]metadata.TargetKey, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, metadata.TargetKey{Target: target, Point: b.BackendPoint + uint32(i)})
	}
	return keys
}

// checkResource type-checks h against d. A non-empty suggestion means h was
// accepted through an array/single conversion.
func checkResource(d metadata.BindingDeclaration, h metadata.ResourceHandle) (string, error) {
	if h.IsEmpty() {
		return "", &core.TypeMismatchError{Name: d.Name, Expected: d.Kind, Got: h.Kind}
	}
	if h.Len() == 0 {
		return "", fmt.Errorf("%w: '%s' was given an empty %s", core.ErrNullHandle, d.Name, h.Kind)
	}
	for i := 0; i < h.Len(); i++ {
		e, _ := h.Element(i)
		if e.RawID() == 0 {
			return "", fmt.Errorf("%w: element %d of '%s'", core.ErrNullHandle, i, d.Name)
		}
	}
	switch {
	case h.Kind == d.Kind:
		if uint32(h.Len()) > d.Capacity() {
			return "", &core.CapacityError{What: fmt.Sprintf("elements of '%s'", d.Name), Limit: uint64(d.Capacity()), Got: uint64(h.Len())}
		}
		return "", nil
	case d.Kind.IsArray() && h.Kind == d.Kind.Element():
		return fmt.Sprintf("'%s' is declared as %s[%d]: the single %s binds element 0, pass a %s to bind more", d.Name, d.Kind, d.Capacity(), h.Kind, d.Kind), nil
	case !d.Kind.IsArray() && h.Kind.IsArray() && h.Kind.Element() == d.Kind:
		if h.Len() > 1 {
			return "", &core.CapacityError{What: fmt.Sprintf("elements of '%s'", d.Name), Limit: 1, Got: uint64(h.Len())}
		}
		return fmt.Sprintf("'%s' is declared as a single %s: pass element 0 instead of a %s", d.Name, d.Kind, h.Kind), nil
	}
	return "", &core.TypeMismatchError{Name: d.Name, Expected: d.Kind, Got: h.Kind}
}

func (r *ResourceRegistry) suggest(name, message string) {
	core.LogInfo("%s: %s", r, message)
	r.stats.ConversionSuggestions++
	r.suggestions = append(r.suggestions, ConversionSuggestion{Name: name, Message: message, Frame: r.frame})
	if len(r.suggestions) > maxSuggestions {
		r.suggestions = r.suggestions[len(r.suggestions)-maxSuggestions:]
	}
}

// Suggestions returns the recorded conversion diagnostics, oldest first.
func (r *ResourceRegistry) Suggestions() []ConversionSuggestion {
	return append([]ConversionSuggestion(nil), r.suggestions...)
}

// Set queues resource for name. On error nothing changes.
func (r *ResourceRegistry) Set(name string, resource metadata.ResourceHandle) error {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	b, ok := r.bindings[name]
	if !ok {
		return &core.UnknownResourceError{Name: name}
	}
	suggestion, err := checkResource(b.Declaration, resource)
	if err != nil {
		return err
	}
	if suggestion != "" {
		r.suggest(name, suggestion)
	}
	b.IsDefault = false
	r.queue(b, resource)
	return nil
}

func (r *ResourceRegistry) priorityOf(b *ResourceBinding) metadata.UpdatePriority {
	if p, ok := r.namePriorities[b.Declaration.Name]; ok {
		return p
	}
	if p, ok := r.kindPriorities[b.Declaration.Kind.Element()]; ok {
		return p
	}
	return metadata.UpdatePriorityNormal
}

// SetResourcePriority overrides the update priority of one name.
func (r *ResourceRegistry) SetResourcePriority(name string, p metadata.UpdatePriority) error {
	if _, ok := r.bindings[name]; !ok {
		return &core.UnknownResourceError{Name: name}
	}
	r.namePriorities[name] = p
	return nil
}

func (r *ResourceRegistry) queue(b *ResourceBinding, resource metadata.ResourceHandle) {
	name := b.Declaration.Name
	priority := r.priorityOf(b)
	deferred := r.config.EnableBatching && priority != metadata.UpdatePriorityImmediate
	r.pending[name] = &PendingUpdate{
		Name:     name,
		Resource: resource,
		Priority: priority,
		Frame:    r.frame,
		Deferred: deferred,
	}
	if deferred {
		r.scheduler.Schedule(name, b.Declaration.Kind, priority, r.frame, uint64(resource.Len()))
	}
	b.IsDirty = true
	b.LastAccessed = r.now()
	delete(r.invalidated, name)
	r.handleCache.Invalidate(name)
}

func memorySize(h metadata.ResourceHandle) uint64 {
	var total uint64
	for i := 0; i < h.Len(); i++ {
		e, _ := h.Element(i)
		switch {
		case e.Kind.IsBuffer():
			total += e.Buffer.Size
		case e.Kind.IsTexture():
			total += uint64(e.Texture.Width) * uint64(e.Texture.Height) * 4
		}
	}
	return total
}

// resolveHandle returns the raw id of the first element of resource, through
// the handle cache when enabled.
func (r *ResourceRegistry) resolveHandle(name string, resource metadata.ResourceHandle) uint32 {
	if !r.config.EnableCaching {
		return resource.RawID()
	}
	if h, ok := r.handleCache.Lookup(name); ok && h == resource.RawID() {
		return h
	}
	r.handleCache.Cache(name, resource, memorySize(resource))
	if e, ok := r.handleCache.Entry(name); ok && e.RefCount == 0 {
		r.handleCache.Retain(name)
	}
	if _, pooled := r.transient[name]; pooled {
		r.handleCache.SetPooled(name, true)
	}
	return resource.RawID()
}

func (r *ResourceRegistry) commit(name string) bool {
	p, ok := r.pending[name]
	if !ok {
		return false
	}
	delete(r.pending, name)
	b, ok := r.bindings[name]
	if !ok {
		return false
	}
	if !b.Resource.IsEmpty() && !b.Resource.Equal(p.Resource) {
		r.forgetSlots(b, true)
	}
	b.Resource = p.Resource
	b.GpuHandle = r.resolveHandle(name, p.Resource)
	b.IsDirty = true
	switch b.Lifecycle {
	case metadata.LifecycleDeclared, metadata.LifecycleUnbound, metadata.LifecycleDeallocated:
		r.transition(b, metadata.LifecycleAllocated)
	}
	r.stats.Commits++
	return true
}

// CommitPendingUpdates moves every pending resource, batched or not, into the
// binding table without any backend call.
func (r *ResourceRegistry) CommitPendingUpdates() (int, error) {
	if !r.initialized {
		return 0, core.ErrNotInitialized
	}
	n := 0
	for _, batch := range r.scheduler.Take(r.frame, true) {
		r.scheduler.Complete(batch)
	}
	for _, name := range r.PendingNames() {
		if r.commit(name) {
			n++
		}
	}
	return n, nil
}

// ProcessUpdates commits pending updates without binding them. Immediate
// commits undeferred updates, Batched also commits eligible batches, Flush
// commits everything.
func (r *ResourceRegistry) ProcessUpdates(mode metadata.UpdateMode) (int, error) {
	if !r.initialized {
		return 0, core.ErrNotInitialized
	}
	if mode == metadata.UpdateModeFlush {
		return r.CommitPendingUpdates()
	}
	return len(r.commitReady(mode == metadata.UpdateModeBatched)), nil
}

// commitReady commits the undeferred pending updates and, with batches, the
// members of eligible batches. Returns the committed names.
func (r *ResourceRegistry) commitReady(batches bool) []string {
	committed := []string{}
	for _, name := range r.PendingNames() {
		if p := r.pending[name]; !p.Deferred && r.commit(name) {
			committed = append(committed, name)
		}
	}
	if !batches {
		return committed
	}
	for _, batch := range r.scheduler.Take(r.frame, false) {
		for _, name := range batch.Names {
			if r.commit(name) {
				committed = append(committed, name)
			}
		}
		r.scheduler.Complete(batch)
	}
	return committed
}

// Get returns the committed resource of name if it is exactly of kind.
func (r *ResourceRegistry) Get(name string, kind metadata.ResourceKind) (metadata.ResourceHandle, bool) {
	b, ok := r.bindings[name]
	if !r.initialized || !ok || b.Resource.IsEmpty() || b.Resource.Kind != kind {
		return metadata.ResourceHandle{}, false
	}
	b.LastAccessed = r.now()
	return b.Resource, true
}

// GetEnhanced is Get with conversions between the single and array forms.
func (r *ResourceRegistry) GetEnhanced(name string, kind metadata.ResourceKind) GetResult {
	if !r.initialized {
		return GetResult{Err: core.ErrNotInitialized}
	}
	b, ok := r.bindings[name]
	if !ok {
		return GetResult{Err: &core.UnknownResourceError{Name: name}}
	}
	if b.Resource.IsEmpty() {
		return GetResult{Err: fmt.Errorf("%w: '%s' has no committed resource", core.ErrNullHandle, name)}
	}
	b.LastAccessed = r.now()
	res := GetResult{}
	if r.config.EnableCaching {
		h, hit := r.handleCache.Lookup(name)
		res.Cached = hit && h == b.Resource.RawID()
	}
	have := b.Resource
	switch {
	case have.Kind == kind:
		res.Resource = have
	case kind.IsArray() && have.Kind.Array() == kind && !have.Kind.IsArray():
		res.Resource = have.AsArray()
		res.ConversionSuggestion = fmt.Sprintf("'%s' holds a single %s, returned as a one element %s", name, have.Kind, kind)
	case !kind.IsArray() && have.Kind.IsArray() && have.Kind.Element() == kind && have.Len() == 1:
		res.Resource, _ = have.Element(0)
		res.ConversionSuggestion = fmt.Sprintf("'%s' holds a %s of one element, returned as %s", name, have.Kind, kind)
	default:
		return GetResult{Err: &core.TypeMismatchError{Name: name, Expected: kind, Got: have.Kind}}
	}
	if res.ConversionSuggestion != "" {
		r.suggest(name, res.ConversionSuggestion)
	}
	return res
}

// Clear deactivates name and unbinds its slots on the backend.
func (r *ResourceRegistry) Clear(name string) error {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	b, ok := r.bindings[name]
	if !ok {
		return &core.UnknownResourceError{Name: name}
	}
	r.cancelPending(name)
	var errs []error
	if !b.Resource.IsEmpty() {
		for _, k := range r.targetKeys(b) {
			if err := r.backend.UnbindOne(k.Target, k.Point); err != nil {
				errs = append(errs, &core.BackendError{Op: "UnbindOne", Point: k.Point, Err: err})
			}
		}
	}
	r.forgetSlots(b, false)
	if t, ok := r.transient[name]; ok {
		r.releaseTransient(name, t)
	}
	if !b.Resource.IsEmpty() && r.config.EnableCaching {
		r.handleCache.Release(name)
	}
	r.handleCache.Invalidate(name)
	b.Resource = metadata.ResourceHandle{}
	b.GpuHandle = 0
	b.IsActive = false
	b.IsDirty = false
	if b.Lifecycle != metadata.LifecycleDeclared {
		r.transition(b, metadata.LifecycleUnbound)
	}
	return errors.Join(errs...)
}

// TransitionLifecycle moves name to state. Invalid edges are refused and
// reported by the lifecycle validator.
func (r *ResourceRegistry) TransitionLifecycle(name string, to metadata.LifecycleState) error {
	b, ok := r.bindings[name]
	if !ok {
		return &core.UnknownResourceError{Name: name}
	}
	if !r.transition(b, to) {
		return &core.LifecycleTransitionError{Name: name, From: b.Lifecycle, To: to}
	}
	return nil
}

func (r *ResourceRegistry) transition(b *ResourceBinding, to metadata.LifecycleState) bool {
	if !metadata.CanTransition(b.Lifecycle, to) {
		r.violations = append(r.violations, lifecycleViolation{name: b.Declaration.Name, from: b.Lifecycle, to: to, frame: r.frame})
		if n := len(r.violations) - maxViolations; n > 0 {
			r.violations = r.violations[n:]
			r.violationsSeen = max(r.violationsSeen-n, 0)
		}
		core.LogDebug("%s: refused lifecycle transition of '%s' from %s to %s", r, b.Declaration.Name, b.Lifecycle, to)
		return false
	}
	b.Lifecycle = to
	return true
}

// NextFrame advances the frame counter, rotates frame-in-flight instances and
// ages bindings and cache entries. Returns the new frame number.
func (r *ResourceRegistry) NextFrame() uint64 {
	r.frame++
	if r.frames != nil {
		r.frames.NextFrame()
		for _, name := range r.frames.Names() {
			b, ok := r.bindings[name]
			if !ok {
				continue
			}
			if h, ok := r.frames.Current(name); ok {
				r.queue(b, h)
			}
		}
	}
	for _, name := range r.Names() {
		b := r.bindings[name]
		if b.Lifecycle != metadata.LifecycleActive || r.frame-b.LastBoundFrame <= r.config.StaleThreshold {
			continue
		}
		r.transition(b, metadata.LifecycleStale)
		if r.stateCache.Config().Strategy == InvalidationStrategyFrameBased {
			r.markInvalidated(b, metadata.InvalidationFrameAged)
		}
	}
	r.stateCache.NextFrame(r.frame)
	r.handleCache.Cleanup()
	r.pools.CleanupOldResources(r.config.CacheMaxAge.Std())
	return r.frame
}

func (r *ResourceRegistry) Frame() uint64 {
	return r.frame
}

// OnShaderRebuilt handles a relinked program: every binding becomes dirty
// and inactive with its raw handle cleared, then the new modules are
// reflected and declarations reconciled.
func (r *ResourceRegistry) OnShaderRebuilt(shader *metadata.Shader) error {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	if shader != nil {
		r.shader = shader
	}
	for _, b := range r.bindings {
		b.IsDirty = true
		b.IsActive = false
		b.GpuHandle = 0
		if b.Lifecycle == metadata.LifecycleActive || b.Lifecycle == metadata.LifecycleStale {
			r.transition(b, metadata.LifecycleBound)
		}
	}
	r.stateCache.InvalidateAll()
	r.handleCache.InvalidateAll()
	core.LogInfo("%s: shader rebuilt, %d bindings marked dirty", r, len(r.bindings))

	if shader == nil || len(shader.Modules) == 0 {
		return nil
	}
	reflected := map[string]metadata.BindingDeclaration{}
	for _, m := range shader.Modules {
		res, err := r.reflect(m)
		if err != nil {
			core.LogError("%s: %s", r, err)
			return err
		}
		for _, d := range res.Declarations {
			d = normalize(d)
			if prev, ok := reflected[d.Name]; ok {
				d.Stages |= prev.Stages
			}
			reflected[d.Name] = d
		}
	}
	for _, name := range r.Names() {
		b := r.bindings[name]
		if b.Source != BindingSourceReflected {
			continue
		}
		d, ok := reflected[name]
		if !ok {
			core.LogInfo("%s: '%s' is gone from the rebuilt shader", r, name)
			_ = r.RemoveResource(name)
			continue
		}
		d.Stages = 0
		cur := b.Declaration
		cur.Stages = 0
		if !cur.SameLayout(d) {
			core.LogInfo("%s: '%s' changed layout to %s, replacing the binding", r, name, d)
			_ = r.RemoveResource(name)
		}
	}
	names := make([]string, 0, len(reflected))
	for n := range reflected {
		names = append(names, n)
	}
	// lower sets keep their declared points when points are contended
	sort.Slice(names, func(i, j int) bool {
		a, b := reflected[names[i]], reflected[names[j]]
		if a.Set != b.Set {
			return a.Set < b.Set
		}
		if a.BindingPoint != b.BindingPoint {
			return a.BindingPoint < b.BindingPoint
		}
		return a.Name < b.Name
	})
	for _, n := range names {
		if _, err := r.install(reflected[n], BindingSourceReflected); err != nil {
			core.LogWarn("%s: dropping %s: %s", r, reflected[n], err)
		}
	}
	if r.config.AutoAssignSets {
		r.AutoAssignResourceSets()
	}
	return nil
}

// Rebind marks every committed binding dirty without an invalidation record,
// so the next apply re-checks it against the state cache. Used when another
// registry drove the same backend in between.
func (r *ResourceRegistry) Rebind() {
	for _, b := range r.bindings {
		if !b.Resource.IsEmpty() {
			b.IsDirty = true
		}
	}
}

// Shutdown releases everything in a fixed order: batches, pending updates,
// handle cache, descriptor sets, bindings.
func (r *ResourceRegistry) Shutdown() {
	r.scheduler.Clear()
	r.pending = make(map[string]*PendingUpdate)
	r.handleCache.Clear()
	r.sets.Clear()
	for _, name := range r.Names() {
		b := r.bindings[name]
		r.forgetSlots(b, true)
		r.transition(b, metadata.LifecycleDestroyed)
	}
	r.bindings = make(map[string]*ResourceBinding)
	r.slots = make(map[metadata.SlotKey]string)
	r.points = make(map[metadata.TargetKey]string)
	r.invalidated = make(map[string]metadata.InvalidationRecord)
	r.deps.Clear()
	r.transient = make(map[string]metadata.ResourceHandle)
	r.pools.Destroy()
	if r.frames != nil {
		r.frames.Clear()
	}
	if r.factory != nil {
		for _, h := range r.owned {
			if err := r.factory.DestroyResource(h); err != nil {
				core.LogWarn("%s: destroying %s: %s", r, h, err)
			}
		}
	}
	r.owned = nil
	r.defaultTextures = make(map[string]metadata.ResourceHandle)
	r.initialized = false
	core.LogDebug("%s: shut down", r)
}

// Names returns every declared name in a stable order.
func (r *ResourceRegistry) Names() []string {
	names := make([]string, 0, len(r.bindings))
	for n := range r.bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Binding returns a copy of the record of name.
func (r *ResourceRegistry) Binding(name string) (ResourceBinding, bool) {
	b, ok := r.bindings[name]
	if !ok {
		return ResourceBinding{}, false
	}
	return *b, true
}

// Declarations returns every declaration ordered by set, binding point, name.
func (r *ResourceRegistry) Declarations() []metadata.BindingDeclaration {
	out := make([]metadata.BindingDeclaration, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b.Declaration)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Set != out[j].Set {
			return out[i].Set < out[j].Set
		}
		if out[i].BindingPoint != out[j].BindingPoint {
			return out[i].BindingPoint < out[j].BindingPoint
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *ResourceRegistry) DirtyNames() []string {
	names := []string{}
	for _, n := range r.Names() {
		if r.bindings[n].IsDirty {
			names = append(names, n)
		}
	}
	return names
}

func (r *ResourceRegistry) PendingNames() []string {
	names := make([]string, 0, len(r.pending))
	for n := range r.pending {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *ResourceRegistry) Pending(name string) (PendingUpdate, bool) {
	p, ok := r.pending[name]
	if !ok {
		return PendingUpdate{}, false
	}
	return *p, true
}

func (r *ResourceRegistry) StateCache() *BindingStateCache {
	return r.stateCache
}

func (r *ResourceRegistry) HandleCache() *HandleCache {
	return r.handleCache
}

func (r *ResourceRegistry) DescriptorSets() *DescriptorSetTable {
	return r.sets
}

func (r *ResourceRegistry) Scheduler() *BatchScheduler {
	return r.scheduler
}

func (r *ResourceRegistry) Dependencies() *DependencyGraph {
	return r.deps
}

// Frames is nil unless frame in flight is enabled.
func (r *ResourceRegistry) Frames() *FrameInFlightManager {
	return r.frames
}

func (r *ResourceRegistry) Pattern() ShaderPattern {
	return r.pattern
}

func (r *ResourceRegistry) Stats() RegistryStats {
	s := r.stats
	s.AverageBindTime = r.bindTime.Average()
	s.LastErrors = append([]string(nil), r.stats.LastErrors...)
	return s
}

func (r *ResourceRegistry) ResetStats() {
	r.stats = RegistryStats{}
	r.bindTime.Reset()
}

func (r *ResourceRegistry) recordError(err error) {
	r.stats.LastErrors = append(r.stats.LastErrors, err.Error())
	if len(r.stats.LastErrors) > maxLastErrors {
		r.stats.LastErrors = r.stats.LastErrors[len(r.stats.LastErrors)-maxLastErrors:]
	}
}
