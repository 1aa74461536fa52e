package engine

import (
	"github.com/spaghettifunk/anima-srbc/engine/assets"
	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
)

/**
 * @brief The application driven by the engine. The engine fills the manager,
 * asset and factory fields before FnInitialize is called.
 */
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	AssetManager      *assets.AssetManager
	Factory           renderer.ResourceFactory
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error
type Render func(deltaTime float64) error
type Shutdown func() error
