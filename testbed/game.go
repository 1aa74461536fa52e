package testbed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spaghettifunk/anima-srbc/engine"
	"github.com/spaghettifunk/anima-srbc/engine/assets/loaders"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
)

// The shader driven by the testbed. Its layout is <name>.toml and its
// optional registry configuration <name>.registry.toml in the assets root.
const ShaderName = "basic"

// Every invalidateEvery frames the camera is invalidated to force a rebind.
const invalidateEvery = 30

type TestGame struct {
	*engine.Game
	// Stats are written here at shutdown. nil disables the report.
	Output io.Writer
}

type gameState struct {
	registry *systems.ResourceRegistry
	camera   string
	owned    []metadata.ResourceHandle
	frame    uint64
	applied  int
	failures int
}

func NewTestGame(config *engine.ApplicationConfig) (*TestGame, error) {
	if config == nil {
		config = engine.DefaultApplicationConfig()
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State:             &gameState{},
		},
		Output: os.Stdout,
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	if g.AssetManager == nil {
		return fmt.Errorf("the testbed needs an assets directory")
	}
	dir := g.ApplicationConfig.AssetsDir

	shader, err := g.AssetManager.LoadShader(ShaderName)
	if err != nil {
		return err
	}
	res, err := g.AssetManager.LoadAsset(filepath.Join(dir, ShaderName+".toml"))
	if err != nil {
		return err
	}
	layout, ok := res.Data.(*systems.BindingLayout)
	if !ok {
		return fmt.Errorf("%s is not a binding layout", res.FullPath)
	}

	registry, err := g.createRegistry(shader, layout, filepath.Join(dir, ShaderName+".registry.toml"))
	if err != nil {
		return err
	}
	g.state().registry = registry

	if g.Factory == nil {
		core.LogWarn("backend has no resource factory, bindings stay empty")
		return nil
	}
	for _, decl := range registry.Declarations() {
		if err := g.fill(registry, decl); err != nil {
			core.LogWarn("binding '%s' left empty: %s", decl.Name, err)
		}
	}
	return nil
}

// createRegistry uses the registry config next to the layout when there is
// one, the application registry config otherwise.
func (g *TestGame) createRegistry(shader *metadata.Shader, layout *systems.BindingLayout, configPath string) (*systems.ResourceRegistry, error) {
	if _, err := os.Stat(configPath); err != nil {
		return g.SystemManager.CreateRegistry(shader, layout)
	}
	config, err := loaders.LoadRegistryConfig(configPath)
	if err != nil {
		return nil, err
	}
	registry, err := systems.NewResourceRegistry(config, g.SystemManager.Backend())
	if err != nil {
		return nil, err
	}
	if err := registry.Initialize(shader, layout); err != nil {
		registry.Shutdown()
		return nil, err
	}
	if err := g.SystemManager.Adopt(registry); err != nil {
		registry.Shutdown()
		return nil, err
	}
	return registry, nil
}

// fill creates a resource for an empty binding.
func (g *TestGame) fill(registry *systems.ResourceRegistry, decl metadata.BindingDeclaration) error {
	s := g.state()
	kind := decl.Kind.Element()
	if kind == metadata.ResourceKindUniformBuffer && s.camera == "" {
		s.camera = decl.Name
	}
	if b, ok := registry.Binding(decl.Name); ok && !b.Resource.IsEmpty() {
		return nil
	}
	count := int(decl.Capacity())

	switch {
	case kind.IsBuffer():
		if !decl.IsArray && registry.Config().EnableFrameInFlight {
			return registry.CreateFrameInstances(decl.Name)
		}
		size := decl.ElementSize
		if size == 0 {
			size = systems.DefaultBufferSize
		}
		handles := make([]metadata.ResourceHandle, 0, count)
		for i := 0; i < count; i++ {
			h, err := g.Factory.CreateBuffer(metadata.BufferConfig{Name: decl.Name, Kind: kind, Size: size})
			if err != nil {
				return err
			}
			s.owned = append(s.owned, h)
			handles = append(handles, h)
		}
		return registry.Set(decl.Name, combine(decl, handles))
	case kind.IsTexture():
		handles := make([]metadata.ResourceHandle, 0, count)
		for i := 0; i < count; i++ {
			h, err := g.Factory.CreateTexture(g.textureFor(decl.Name, kind))
			if err != nil {
				return err
			}
			s.owned = append(s.owned, h)
			handles = append(handles, h)
		}
		return registry.Set(decl.Name, combine(decl, handles))
	}
	return fmt.Errorf("%s: %w", kind, core.ErrUnsupported)
}

// textureFor prefers an image asset named after the binding.
func (g *TestGame) textureFor(name string, kind metadata.ResourceKind) metadata.TextureConfig {
	for _, a := range g.AssetManager.Assets() {
		if a.Type != loaders.ResourceTypeImage || loaders.ShaderName(a.Path) != name || kind != metadata.ResourceKindTexture2D {
			continue
		}
		res, err := g.AssetManager.LoadAsset(a.Path)
		if err != nil {
			core.LogWarn("image %s: %s", a.Path, err)
			break
		}
		return *res.Data.(*metadata.TextureConfig)
	}
	want := systems.DefaultTextureFor(name, kind)
	if kind == metadata.ResourceKindTextureCube {
		want = metadata.DEFAULT_CUBE_TEXTURE_NAME
	}
	textures := metadata.DefaultTextures()
	for _, t := range textures {
		if t.Name == want {
			return t
		}
	}
	return textures[0]
}

func combine(decl metadata.BindingDeclaration, handles []metadata.ResourceHandle) metadata.ResourceHandle {
	if !decl.IsArray {
		return handles[0]
	}
	out := metadata.ResourceHandle{Kind: decl.Kind}
	for _, h := range handles {
		out.Buffers = append(out.Buffers, h.Buffers...)
		out.Textures = append(out.Textures, h.Textures...)
	}
	return out
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.frame++
	if s.registry == nil || s.camera == "" || s.frame%invalidateEvery != 0 {
		return nil
	}
	// a camera upload happened, every frame set holding it must be rewritten
	return s.registry.Invalidate(s.camera)
}

func (g *TestGame) Render(deltaTime float64) error {
	s := g.state()
	if s.registry == nil {
		return nil
	}
	n, err := g.SystemManager.Apply(ShaderName, metadata.ApplyOptimal)
	s.applied += n
	if err != nil {
		// failed bindings stay dirty and are retried next frame
		s.failures++
		core.LogWarn("apply: %s", err)
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	if g.Output != nil {
		g.report(g.Output)
	}
	var errs []error
	if g.Factory != nil {
		for _, h := range s.owned {
			if err := g.Factory.DestroyResource(h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.owned = nil
	core.LogInfo("testbed shut down after %d frames", s.frame)
	return errors.Join(errs...)
}

func (g *TestGame) report(w io.Writer) {
	s := g.state()
	fmt.Fprintf(w, "frames: %d, binding operations: %d, failed applies: %d, dropped events: %d\n",
		s.frame, s.applied, s.failures, g.SystemManager.Dropped())

	stats := g.SystemManager.Stats()
	names := make([]string, 0, len(stats))
	for n := range stats {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		st := stats[n]
		fmt.Fprintf(w, "%s: applies=%d binds=%d multi=%d hits=%d misses=%d hit_rate=%.2f invalidations=%d avg_bind=%s\n",
			n, st.Applies, st.BindOps, st.MultiBinds, st.CacheHits, st.CacheMisses, st.HitRate(), st.Invalidations, st.AverageBindTime)
		for _, e := range st.LastErrors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
	}

	if s.registry == nil {
		return
	}
	issues, err := s.registry.Validate(metadata.ValidateAll)
	if errors.Is(err, core.ErrFeatureDisabled) {
		return
	}
	for _, i := range issues {
		fmt.Fprintf(w, "  %s\n", i)
	}
}
