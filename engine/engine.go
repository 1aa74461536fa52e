package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-srbc/engine/assets"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine was shut down
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting_down"
	case EngineStageShutdown:
		return "shutdown"
	}
	return "uninitialized"
}

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	isRunning     atomic.Bool
	bus           *core.EventBus
	renderer      *renderer.Renderer
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	clock         *core.Clock
	frameTime     core.RollingAverage
	frames        uint64
	lastTime      time.Duration
}

// New creates the backend, the system manager and, when the application has
// an assets directory, the asset manager.
func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("func New - a game with an application config is required")
	}
	config := g.ApplicationConfig
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.LogLevel != "" {
		core.SetLogLevel(core.ParseLogLevel(config.LogLevel))
	}

	r, err := renderer.New(config.Name, config.Renderer)
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}

	bus := core.NewEventBus()
	sm, err := systems.NewSystemManager(config.managerConfig(), r.Backend(), bus)
	if err != nil {
		core.LogError("%s", err)
		_ = r.Shutdown()
		return nil, err
	}

	var am *assets.AssetManager
	if config.AssetsDir != "" {
		am, err = assets.NewAssetManager()
		if err != nil {
			core.LogError("%s", err)
			_ = sm.Shutdown()
			_ = r.Shutdown()
			return nil, err
		}
	}

	g.SystemManager = sm
	g.AssetManager = am
	if f, ok := r.Factory(); ok {
		g.Factory = f
	}

	return &Engine{
		currentStage:  EngineStageUninitialized,
		gameInstance:  g,
		bus:           bus,
		renderer:      r,
		assetManager:  am,
		systemManager: sm,
		clock:         core.NewClock(),
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return core.ErrAlreadyInitialized
	}
	e.currentStage = EngineStageInitializing

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)

	if e.assetManager != nil {
		// Shader edits become rebuilds applied by the next Update.
		e.assetManager.OnShaderChanged(e.systemManager.QueueRebuild)
		if err := e.assetManager.Initialize(e.gameInstance.ApplicationConfig.AssetsDir); err != nil {
			return err
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives frames until Stop, a closed window or the configured frame count.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is %s: %w", e.currentStage, core.ErrNotInitialized)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	limit := e.gameInstance.ApplicationConfig.Frames
	for e.isRunning.Load() {
		if limit > 0 && e.frames >= limit {
			break
		}
		if !e.renderer.PumpMessages() {
			break
		}
		if err := e.frame(); err != nil {
			e.isRunning.Store(false)
			return err
		}
	}
	e.isRunning.Store(false)
	core.LogInfo("ran %d frames, average frame time %s", e.frames, e.frameTime.Average())
	return nil
}

func (e *Engine) frame() error {
	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := (currentTime - e.lastTime).Seconds()
	frameStart := time.Now()

	// Errors of the queued work were already recorded by the registries.
	if err := e.systemManager.Update(); err != nil {
		core.LogWarn("system update: %s", err)
	}

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down.")
			return err
		}
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(delta); err != nil {
			core.LogError("Game render failed, shutting down.")
			return err
		}
	}

	if err := e.systemManager.EndFrame(); err != nil && !errors.Is(err, core.ErrUnsupported) {
		core.LogWarn("end of frame: %s", err)
	}

	e.frameTime.Add(time.Since(frameStart))
	e.frames++
	e.lastTime = currentTime
	return nil
}

// Stop asks Run to return after the current frame. Safe to call from any
// goroutine.
func (e *Engine) Stop() {
	e.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.assetManager != nil {
		if err := e.assetManager.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.systemManager.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := e.renderer.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	e.bus.UnregisterAll(e)
	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Frames is the number of frames run so far.
func (e *Engine) Frames() uint64 {
	return e.frames
}

func (e *Engine) AverageFrameTime() time.Duration {
	return e.frameTime.Average()
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT recieved, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}
