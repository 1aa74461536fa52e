package systems

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/anima-srbc/engine/containers"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

type SystemManagerConfig struct {
	/** @brief The configuration every registry is created with. */
	Registry *RegistryConfig
	/** @brief Workers of the resolver job system. */
	Workers      int
	JobQueueSize int
	/** @brief Capacity of the queues filled by event listeners. */
	EventQueueSize int
	/** @brief Share one binding state cache between the registries of the backend. */
	ShareStateCache bool
}

func DefaultSystemManagerConfig() *SystemManagerConfig {
	return &SystemManagerConfig{
		Registry:        DefaultRegistryConfig(),
		Workers:         2,
		JobQueueSize:    64,
		EventQueueSize:  64,
		ShareStateCache: true,
	}
}

type shaderRebuild struct {
	name       string
	generation uint32
	/** @brief Replacement modules. nil keeps the current ones. */
	modules []metadata.ShaderModule
}

/**
 * @brief Owns the registries driving one backend, the resolver job system and
 * the event listeners. Event listeners may run on any goroutine and only queue
 * work; Update applies it on the GPU thread.
 */
type SystemManager struct {
	config     *SystemManagerConfig
	backend    renderer.BindingBackend
	bus        *core.EventBus
	jobSystem  *JobSystem
	stateCache *BindingStateCache

	registries map[string]*ResourceRegistry
	current    string
	frame      uint64

	mu           sync.Mutex
	rebuilds     *containers.RingQueue[shaderRebuild]
	updates      *containers.RingQueue[string]
	stateChanged bool
	dropped      uint64
}

func NewSystemManager(config *SystemManagerConfig, backend renderer.BindingBackend, bus *core.EventBus) (*SystemManager, error) {
	if config == nil {
		config = DefaultSystemManagerConfig()
	}
	if config.Registry == nil {
		config.Registry = DefaultRegistryConfig()
	}
	if backend == nil {
		return nil, fmt.Errorf("func NewSystemManager - a backend is required")
	}
	if config.EventQueueSize <= 0 {
		return nil, fmt.Errorf("func NewSystemManager - event queue size must be positive")
	}
	if err := config.Registry.Validate(); err != nil {
		return nil, err
	}
	if bus == nil {
		bus = core.DefaultEventBus()
	}
	js, err := NewJobSystem(config.Workers, config.JobQueueSize)
	if err != nil {
		return nil, err
	}

	sm := &SystemManager{
		config:     config,
		backend:    backend,
		bus:        bus,
		jobSystem:  js,
		registries: make(map[string]*ResourceRegistry),
		rebuilds:   containers.NewRingQueue[shaderRebuild](config.EventQueueSize),
		updates:    containers.NewRingQueue[string](config.EventQueueSize),
	}
	if config.ShareStateCache {
		sm.stateCache = NewBindingStateCache(config.Registry.stateCacheConfig())
	}

	bus.Register(core.EVENT_CODE_SHADER_REBUILT, sm, sm.onShaderRebuilt)
	bus.Register(core.EVENT_CODE_RESOURCE_UPDATED, sm, sm.onResourceUpdated)
	bus.Register(core.EVENT_CODE_BACKEND_STATE_CHANGED, sm, sm.onBackendStateChanged)

	core.LogInfo("system manager started on backend %s", backend.Name())
	return sm, nil
}

func (sm *SystemManager) onShaderRebuilt(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.rebuilds.Enqueue(shaderRebuild{name: data.Data.C[0], generation: data.Data.U32[0]}); err != nil {
		sm.dropped++
		core.LogWarn("shader rebuild of '%s' dropped: %s", data.Data.C[0], err)
	}
	return false
}

func (sm *SystemManager) onResourceUpdated(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.updates.Enqueue(data.Data.C[0]); err != nil {
		sm.dropped++
		core.LogWarn("resource update of '%s' dropped: %s", data.Data.C[0], err)
	}
	return false
}

func (sm *SystemManager) onBackendStateChanged(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	sm.mu.Lock()
	sm.stateChanged = true
	sm.mu.Unlock()
	return false
}

// CreateRegistry creates and initializes the registry of shader. Shader names
// are unique per manager.
func (sm *SystemManager) CreateRegistry(shader *metadata.Shader, layout *BindingLayout) (*ResourceRegistry, error) {
	if shader == nil {
		return nil, fmt.Errorf("create registry: %w", core.ErrNullHandle)
	}
	if _, ok := sm.registries[shader.Name]; ok {
		return nil, fmt.Errorf("registry for shader '%s': %w", shader.Name, core.ErrAlreadyInitialized)
	}
	r, err := NewResourceRegistry(sm.registryConfig(), sm.backend)
	if err != nil {
		return nil, err
	}
	if sm.stateCache != nil {
		r.UseStateCache(sm.stateCache)
	}
	if err := r.Initialize(shader, layout); err != nil {
		r.Shutdown()
		return nil, err
	}
	sm.registries[shader.Name] = r
	return r, nil
}

// Adopt hands a registry created elsewhere (a clone) to the manager.
func (sm *SystemManager) Adopt(r *ResourceRegistry) error {
	if r == nil || r.Shader() == nil {
		return fmt.Errorf("adopt: %w", core.ErrNotInitialized)
	}
	name := r.Shader().Name
	if existing, ok := sm.registries[name]; ok && existing != r {
		return fmt.Errorf("registry for shader '%s': %w", name, core.ErrAlreadyInitialized)
	}
	if sm.stateCache != nil {
		r.UseStateCache(sm.stateCache)
	}
	sm.registries[name] = r
	return nil
}

func (sm *SystemManager) registryConfig() *RegistryConfig {
	c := *sm.config.Registry
	c.KindPriorities = make(map[string]metadata.UpdatePriority, len(sm.config.Registry.KindPriorities))
	for k, p := range sm.config.Registry.KindPriorities {
		c.KindPriorities[k] = p
	}
	return &c
}

func (sm *SystemManager) Registry(shader string) (*ResourceRegistry, bool) {
	r, ok := sm.registries[shader]
	return r, ok
}

// Registries returns the shader names with a registry, sorted.
func (sm *SystemManager) Registries() []string {
	names := make([]string, 0, len(sm.registries))
	for n := range sm.registries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (sm *SystemManager) DestroyRegistry(shader string) error {
	r, ok := sm.registries[shader]
	if !ok {
		return &core.UnknownResourceError{Name: shader}
	}
	r.Shutdown()
	delete(sm.registries, shader)
	if sm.current == shader {
		sm.current = ""
	}
	return nil
}

// Apply makes the program of shader current and applies its registry. When a
// different registry drove the backend last, every committed binding is
// re-checked against the state cache.
func (sm *SystemManager) Apply(shader string, mode metadata.ApplyMode) (int, error) {
	r, ok := sm.registries[shader]
	if !ok {
		return 0, &core.UnknownResourceError{Name: shader}
	}
	if sm.current != shader {
		if id := r.Shader().ID; id != 0 {
			if err := sm.backend.UseProgram(id); err != nil {
				return 0, &core.BackendError{Op: "UseProgram", Point: id, Err: err}
			}
		}
		r.Rebind()
		sm.current = shader
	}
	return r.Apply(mode)
}

// Update handles the queued events and drains background resolutions. Must
// run on the GPU thread.
func (sm *SystemManager) Update() error {
	sm.mu.Lock()
	rebuilds := make([]shaderRebuild, 0, sm.rebuilds.Len())
	for !sm.rebuilds.IsEmpty() {
		rb, _ := sm.rebuilds.Dequeue()
		rebuilds = append(rebuilds, rb)
	}
	updates := make([]string, 0, sm.updates.Len())
	for !sm.updates.IsEmpty() {
		u, _ := sm.updates.Dequeue()
		updates = append(updates, u)
	}
	stateChanged := sm.stateChanged
	sm.stateChanged = false
	sm.mu.Unlock()

	var errs []error
	if stateChanged {
		sm.invalidateBackendState()
	}
	for _, rb := range rebuilds {
		if err := sm.rebuild(rb); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range updates {
		for _, n := range sm.Registries() {
			r := sm.registries[n]
			if _, ok := r.Binding(name); !ok {
				continue
			}
			if err := r.NotifyDependencyUpdated(name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, n := range sm.Registries() {
		if _, err := sm.registries[n].DrainResolved(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (sm *SystemManager) rebuild(rb shaderRebuild) error {
	r, ok := sm.registries[rb.name]
	if !ok {
		core.LogDebug("shader '%s' rebuilt without a registry", rb.name)
		return nil
	}
	shader := *r.Shader()
	if rb.modules != nil {
		shader.Modules = rb.modules
	}
	if rb.generation != 0 {
		shader.Generation = rb.generation
	} else {
		shader.Generation++
	}
	if sm.current == rb.name {
		sm.current = ""
	}
	return r.OnShaderRebuilt(&shader)
}

// QueueRebuild replaces the modules of shader and schedules its rebuild for
// the next Update. Safe to call from any goroutine.
func (sm *SystemManager) QueueRebuild(shader string, modules []metadata.ShaderModule) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.rebuilds.Enqueue(shaderRebuild{name: shader, modules: modules}); err != nil {
		sm.dropped++
		core.LogWarn("shader rebuild of '%s' dropped: %s", shader, err)
	}
}

func (sm *SystemManager) invalidateBackendState() {
	core.LogInfo("backend state changed outside the registries, invalidating binding state")
	if sm.stateCache != nil {
		sm.stateCache.InvalidateAll()
	}
	for _, n := range sm.Registries() {
		r := sm.registries[n]
		if r.StateCache() != sm.stateCache {
			r.StateCache().InvalidateAll()
		}
		r.Rebind()
	}
	sm.current = ""
}

// EndFrame advances every registry, flushes recording backends and fires
// EVENT_CODE_FRAME_END.
func (sm *SystemManager) EndFrame() error {
	var err error
	if f, ok := sm.backend.(renderer.Flusher); ok {
		if ferr := f.Flush(); ferr != nil {
			err = &core.BackendError{Op: "Flush", Err: ferr}
			core.LogError("%s", err)
		}
	}
	for _, n := range sm.Registries() {
		sm.registries[n].NextFrame()
	}
	sm.frame++
	ctx := core.EventContext{}
	ctx.Data.U64[0] = sm.frame
	sm.bus.Fire(core.EVENT_CODE_FRAME_END, sm, ctx)
	return err
}

func (sm *SystemManager) Frame() uint64 {
	return sm.frame
}

func (sm *SystemManager) JobSystem() *JobSystem {
	return sm.jobSystem
}

func (sm *SystemManager) Backend() renderer.BindingBackend {
	return sm.backend
}

// StateCache is the shared state cache, nil when registries keep their own.
func (sm *SystemManager) StateCache() *BindingStateCache {
	return sm.stateCache
}

// Dropped is the number of events lost to full queues.
func (sm *SystemManager) Dropped() uint64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.dropped
}

func (sm *SystemManager) Stats() map[string]RegistryStats {
	out := make(map[string]RegistryStats, len(sm.registries))
	for n, r := range sm.registries {
		out[n] = r.Stats()
	}
	return out
}

func (sm *SystemManager) Shutdown() error {
	sm.bus.UnregisterAll(sm)
	if err := sm.jobSystem.Shutdown(); err != nil {
		return err
	}
	// resolutions that finished during shutdown are dropped with the registries
	for _, n := range sm.Registries() {
		sm.registries[n].Shutdown()
	}
	sm.registries = map[string]*ResourceRegistry{}
	sm.current = ""
	return nil
}
