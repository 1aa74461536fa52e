package engine

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func headlessGame(frames uint64) *Game {
	config := DefaultApplicationConfig()
	config.Frames = frames
	config.LogLevel = ""
	return &Game{ApplicationConfig: config}
}

func TestEngineRunsConfiguredFrames(t *testing.T) {
	g := headlessGame(3)
	var registry *systems.ResourceRegistry
	g.FnInitialize = func() error {
		r, err := g.SystemManager.CreateRegistry(&metadata.Shader{ID: 1, Name: "basic"}, &systems.BindingLayout{
			Declarations: []metadata.BindingDeclaration{{Name: "Camera", Kind: metadata.ResourceKindUniformBuffer, ElementSize: 64}},
		})
		if err != nil {
			return err
		}
		h, err := g.Factory.CreateBuffer(metadata.BufferConfig{Name: "camera", Kind: metadata.ResourceKindUniformBuffer, Size: 64})
		if err != nil {
			return err
		}
		registry = r
		return r.Set("Camera", h)
	}
	updates := 0
	g.FnUpdate = func(float64) error {
		updates++
		return nil
	}
	g.FnRender = func(float64) error {
		_, err := g.SystemManager.Apply("basic", metadata.ApplyOptimal)
		return err
	}

	e, err := New(g)
	require.NoError(t, err)
	require.NotNil(t, g.SystemManager)
	require.NotNil(t, g.Factory)
	assert.Nil(t, g.AssetManager)

	require.NoError(t, e.Initialize())
	assert.ErrorIs(t, e.Initialize(), core.ErrAlreadyInitialized)
	require.NoError(t, e.Run())

	assert.Equal(t, uint64(3), e.Frames())
	assert.Equal(t, 3, updates)
	assert.Equal(t, uint64(3), g.SystemManager.Frame())
	stats := registry.Stats()
	assert.Equal(t, uint64(3), stats.Applies)
	assert.GreaterOrEqual(t, stats.BindOps, uint64(1))

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShutdown, e.Stage())
	assert.NoError(t, e.Shutdown())
}

func TestEngineStop(t *testing.T) {
	g := headlessGame(0)
	var e *Engine
	g.FnUpdate = func(float64) error {
		if e.Frames() == 4 {
			e.Stop()
		}
		return nil
	}
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	assert.Equal(t, uint64(5), e.Frames())
	require.NoError(t, e.Shutdown())
}

func TestEngineGameErrors(t *testing.T) {
	boom := errors.New("boom")
	g := headlessGame(10)
	g.FnRender = func(float64) error { return boom }
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.ErrorIs(t, e.Run(), boom)
	assert.Equal(t, uint64(0), e.Frames())

	g.FnShutdown = func() error { return boom }
	assert.ErrorIs(t, e.Shutdown(), boom)
}

func TestEngineLifecycleErrors(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	g := headlessGame(1)
	g.ApplicationConfig.Name = ""
	_, err = New(g)
	assert.Error(t, err)

	g = headlessGame(1)
	g.ApplicationConfig.Renderer.Backend = "metal"
	_, err = New(g)
	assert.Error(t, err)

	e, err := New(headlessGame(1))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(), core.ErrNotInitialized)
	require.NoError(t, e.Shutdown())
}

func TestEngineLogsErrorsVerbatim(t *testing.T) {
	var out bytes.Buffer
	core.SetLogOutput(&out)
	defer core.SetLogOutput(io.Discard)

	g := headlessGame(1)
	g.ApplicationConfig.Renderer.Profile = "50%d"
	_, err := New(g)
	require.Error(t, err)
	assert.Contains(t, out.String(), "unknown headless profile '50%d'")
	assert.NotContains(t, out.String(), "%!")
}

func TestEngineWatchesAssets(t *testing.T) {
	dir := t.TempDir()
	g := headlessGame(1)
	g.ApplicationConfig.AssetsDir = dir
	e, err := New(g)
	require.NoError(t, err)
	require.NotNil(t, g.AssetManager)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())
}

func TestLoadApplicationConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "demo"
frames = 12
workers = 3

[renderer]
backend = "headless"
profile = "fallback"
`), 0o644))

	config, err := LoadApplicationConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", config.Name)
	assert.Equal(t, uint64(12), config.Frames)
	assert.Equal(t, "info", config.LogLevel, "unset keys keep their defaults")
	assert.Equal(t, "fallback", config.Renderer.Profile)
	assert.Equal(t, 3, config.managerConfig().Workers)

	require.NoError(t, os.WriteFile(path, []byte("colour = \"red\"\n"), 0o644))
	_, err = LoadApplicationConfig(path)
	assert.Error(t, err, "unknown keys are rejected")
}
