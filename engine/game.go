package engine

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/anima-rt/engine/config"
	"github.com/spaghettifunk/anima-rt/engine/scene"
)

// Game is the application driven by the engine. Every callback receives the
// scene it may edit; edits are applied at the start of the next frame.
type Game struct {
	Config       *config.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
	FnOnKey      OnKey
	FnShutdown   Shutdown
}

type Initialize func(sc *scene.Scene) error
type Update func(sc *scene.Scene, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type OnKey func(sc *scene.Scene, key glfw.Key)
type Shutdown func() error
