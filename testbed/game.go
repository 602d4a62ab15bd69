package testbed

import (
	"fmt"
	"strings"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima-rt/engine"
	"github.com/spaghettifunk/anima-rt/engine/config"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/scene"
)

const (
	cameraSpeed = 4.0
	turnSpeed   = 0.05
	// Optional model loaded next to the primitives when present in the asset root.
	sampleModel   = "models/sample.obj"
	spawnedPrefix = "spawned-"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	// Cubes spawned with the N key, removed again with Backspace.
	spawned     int
	elapsed     float64
	moveForward float32
	moveRight   float32
}

func NewTestGame(cfg *config.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State:  &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnOnKey = tg.OnKey
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// Initialize builds the sample scene: a floor, a spinning emissive cube, a
// glossy cube and two lights.
func (g *TestGame) Initialize(sc *scene.Scene) error {
	core.LogInfo("initializing testbed...")

	floor := mgl32.Translate3D(0, -1, 0)
	if err := sc.Spawn(scene.KindPrimitive, scene.ObjectParams{
		Name:       "floor",
		Shape:      scene.PrimitivePlane,
		HalfExtent: 10,
		Transform:  &floor,
		Material: &scene.Material{
			Albedo:    mgl32.Vec4{0.8, 0.8, 0.8, 1},
			Roughness: 0.9,
		},
	}); err != nil {
		return err
	}

	spinning := mgl32.Translate3D(-1.5, 0, -4)
	if err := sc.Spawn(scene.KindPrimitive, scene.ObjectParams{
		Name:      "spinning-cube",
		Shape:     scene.PrimitiveCube,
		Transform: &spinning,
		Animation: &scene.Animation{Axis: mgl32.Vec3{0, 1, 0}, Speed: 0.5},
		Material: &scene.Material{
			Albedo:   mgl32.Vec4{1, 0.6, 0.2, 1},
			Emission: mgl32.Vec3{0.4, 0.2, 0.05},
		},
	}); err != nil {
		return err
	}

	glossy := mgl32.Translate3D(1.5, 0, -4)
	if err := sc.Spawn(scene.KindPBRObject, scene.ObjectParams{
		Name:      "glossy-cube",
		Mesh:      mustPrimitive(scene.PrimitiveCube, 0.75),
		Transform: &glossy,
		Material: &scene.Material{
			Albedo:    mgl32.Vec4{0.2, 0.4, 0.9, 1},
			Roughness: 0.1,
			Metallic:  1,
		},
	}); err != nil {
		return err
	}

	if err := sc.AddAsync(sampleModel); err != nil {
		core.LogWarn("sample model not queued", "path", sampleModel, "err", err)
	}

	for _, l := range []scene.Light{
		{Position: mgl32.Vec3{0, 4, -2}, Color: mgl32.Vec3{1, 1, 1}, Intensity: 20},
		{Position: mgl32.Vec3{-4, 2, 2}, Color: mgl32.Vec3{0.6, 0.7, 1}, Intensity: 8},
	} {
		if err := sc.Spawn(scene.KindLight, scene.ObjectParams{Light: l}); err != nil {
			return err
		}
	}

	sc.Camera().SetPosition(mgl32.Vec3{0, 1, 4})
	return nil
}

func mustPrimitive(shape scene.PrimitiveShape, halfExtent float32) *scene.MeshData {
	m, err := scene.Primitive(shape, halfExtent)
	if err != nil {
		panic(err)
	}
	return m
}

func (g *TestGame) Update(sc *scene.Scene, deltaTime float64) error {
	st := g.state()
	st.elapsed += deltaTime

	cam := sc.Camera()
	if st.moveForward != 0 {
		cam.MoveForward(st.moveForward * cameraSpeed * float32(deltaTime))
	}
	if st.moveRight != 0 {
		cam.MoveRight(st.moveRight * cameraSpeed * float32(deltaTime))
	}
	st.moveForward, st.moveRight = 0, 0
	return nil
}

func (g *TestGame) OnKey(sc *scene.Scene, key glfw.Key) {
	st := g.state()
	cam := sc.Camera()
	switch key {
	case glfw.KeyW:
		st.moveForward = 1
	case glfw.KeyS:
		st.moveForward = -1
	case glfw.KeyD:
		st.moveRight = 1
	case glfw.KeyA:
		st.moveRight = -1
	case glfw.KeyQ, glfw.KeyE:
		yaw, pitch := cam.Rotation()
		if key == glfw.KeyQ {
			yaw -= turnSpeed
		} else {
			yaw += turnSpeed
		}
		cam.SetRotation(yaw, pitch)
	case glfw.KeyN:
		g.spawnCube(sc)
	case glfw.KeyBackspace:
		g.removeLastSpawned(sc)
	case glfw.KeyR:
		cam.Reset()
	}
}

func (g *TestGame) spawnCube(sc *scene.Scene) {
	st := g.state()
	m := mgl32.Translate3D(float32(st.spawned%5)-2, 1.5+float32(st.spawned/5), -7)
	err := sc.Spawn(scene.KindPrimitive, scene.ObjectParams{
		Name:       fmt.Sprintf("%s%d", spawnedPrefix, st.spawned),
		Shape:      scene.PrimitiveCube,
		HalfExtent: 0.3,
		Transform:  &m,
		Animation:  &scene.Animation{Axis: mgl32.Vec3{1, 1, 0}, Speed: 1},
	})
	if err != nil {
		core.LogError("failed to spawn cube", "err", err)
		return
	}
	st.spawned++
	core.LogInfo("cube spawned", "count", st.spawned)
}

// removeLastSpawned removes the most recent spawned cube. Other objects, such
// as a model that finished loading later, are left alone.
func (g *TestGame) removeLastSpawned(sc *scene.Scene) {
	st := g.state()
	objects := sc.Objects()
	for i := len(objects) - 1; i >= 0; i-- {
		if !strings.HasPrefix(objects[i].Name, spawnedPrefix) {
			continue
		}
		if err := sc.Remove(i); err != nil {
			core.LogError("failed to remove cube", "err", err)
			return
		}
		st.spawned--
		return
	}
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	st := g.state()
	st.width, st.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed", "elapsed", fmt.Sprintf("%.1fs", g.state().elapsed))
	return nil
}
