package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/config"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/platform"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-rt/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/scene"
)

// Compiled shader stages, relative to the configured shader directory.
const (
	RaygenShader     = "raygen.rgen.spv"
	MissShader       = "miss.rmiss.spv"
	ClosestHitShader = "closesthit.rchit.spv"
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config
	platform     *platform.Platform
	assetManager *assets.AssetManager
	jobs         *assets.JobSystem
	backend      *vulkan.Backend
	swapchain    *vulkan.Swapchain
	renderer     *renderer.Renderer
	scene        *scene.Scene
	clock        *core.Clock
	metrics      *core.Metrics
	width        uint32
	height       uint32
	lastTime     float64
}

func New(g *Game) (*Engine, error) {
	if g == nil {
		return nil, errors.New("engine needs a game")
	}
	if g.Config == nil {
		g.Config = config.Default()
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(core.ParseLogLevel(g.Config.Application.LogLevel))

	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.Config,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		platform:     platform.New(),
		assetManager: am,
		width:        g.Config.Application.Width,
		height:       g.Config.Application.Height,
	}, nil
}

// Initialize opens the window, brings up the device and the renderer and
// hands the empty scene to the game. Failures are fatal.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	app := e.config.Application

	if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.Width, app.Height); err != nil {
		return core.Fatal("platform startup", err)
	}
	e.platform.OnKey = e.onKey

	if err := e.assetManager.Initialize(e.config.Assets.Root); err != nil {
		return core.Fatal("index assets", err)
	}
	shaders, err := e.loadShaders()
	if err != nil {
		return core.Fatal("load shaders", err)
	}

	e.backend, err = vulkan.New(e.platform, vulkan.ContextConfig{
		ApplicationName: app.Name,
		Validation:      e.config.Renderer.Validation,
	}, nil)
	if err != nil {
		return core.Fatal("create vulkan backend", err)
	}
	width, height := e.platform.FramebufferSize()
	e.swapchain, err = vulkan.NewSwapchain(e.backend, gpu.Extent2D{Width: width, Height: height})
	if err != nil {
		return core.Fatal("create swapchain", err)
	}

	e.jobs, err = assets.NewJobSystem(max(1, runtime.NumCPU()/2), 64)
	if err != nil {
		return core.Fatal("start job system", err)
	}
	e.scene = scene.New(scene.Loaders{Meshes: e.assetManager, Materials: e.assetManager, Background: e.jobs})
	if env := e.config.Renderer.EnvironmentMap; env != "" {
		e.scene.SetEnvironment(env)
	}

	rc := e.config.Renderer
	e.renderer, err = renderer.New(e.backend, e.swapchain, e.platform, e.scene, shaders, renderer.Options{
		FramesInFlight:   int(rc.FramesInFlight),
		SamplesPerFrame:  rc.SamplesPerFrame,
		MaxBounces:       rc.MaxBounces,
		PreferHostBuilds: rc.PreferHostBuilds,
		Images:           e.assetManager,
	})
	if err != nil {
		return core.Fatal("create renderer", err)
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.scene); err != nil {
			return core.Fatal("game initialize", err)
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) loadShaders() (renderer.Shaders, error) {
	dir := e.config.Renderer.ShaderDir
	var s renderer.Shaders
	for _, stage := range []struct {
		name string
		dst  *[]byte
	}{
		{RaygenShader, &s.Raygen},
		{MissShader, &s.Miss},
		{ClosestHitShader, &s.ClosestHit},
	} {
		code, err := e.assetManager.LoadShader(filepath.Join(dir, stage.name))
		if err != nil {
			return renderer.Shaders{}, fmt.Errorf("%s: %w", stage.name, err)
		}
		*stage.dst = code
	}
	return s, nil
}

// Run drives the frame loop until the window closes, ctx is cancelled or a
// frame fails. The returned error is fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for {
		select {
		case <-ctx.Done():
			core.LogInfo("run cancelled, leaving the frame loop")
			return nil
		default:
		}
		if !e.platform.PumpMessages() {
			core.LogInfo("window closed, leaving the frame loop")
			return nil
		}
		e.drainAssetChanges()
		e.jobs.Update()

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := platform.GetAbsoluteTime()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(e.scene, delta); err != nil {
				return core.Fatal("game update", err)
			}
		}
		e.scene.Animate(delta)

		if err := e.renderer.DrawFrame(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return core.Fatal("draw frame", err)
		}
		e.checkResize()

		frameElapsedTime := platform.GetAbsoluteTime() - frameStartTime
		if e.metrics.Update(frameElapsedTime) {
			fps, ms := e.metrics.Frame()
			core.LogDebug("frame metrics",
				"fps", fps,
				"ms", fmt.Sprintf("%.3f", ms),
				"samples", e.renderer.AccumulatedSamples(),
				"objects", len(e.scene.Objects()))
		}
		e.lastTime = currentTime
	}
}

// checkResize forwards swapchain extent changes to the game.
func (e *Engine) checkResize() {
	extent := e.swapchain.Extent()
	if extent.Width == e.width && extent.Height == e.height {
		return
	}
	e.width, e.height = extent.Width, extent.Height
	core.LogDebug("window resize", "width", e.width, "height", e.height)
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			core.LogError("game resize failed", "err", err)
		}
	}
}

func (e *Engine) drainAssetChanges() {
	for {
		select {
		case path := <-e.assetManager.Changes():
			core.LogInfo("asset changed on disk", "asset", path)
		default:
			return
		}
	}
}

func (e *Engine) onKey(key glfw.Key) {
	if e.gameInstance.FnOnKey != nil {
		e.gameInstance.FnOnKey(e.scene, key)
	}
}

// Shutdown releases everything in reverse creation order. It is safe to
// call after a failed Initialize.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.jobs != nil {
		errs = append(errs, e.jobs.Shutdown())
		e.jobs = nil
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
		e.renderer = nil
	}
	if e.swapchain != nil {
		e.swapchain.Destroy()
		e.swapchain = nil
	}
	if e.backend != nil {
		e.backend.Destroy()
		e.backend = nil
	}
	errs = append(errs, e.assetManager.Close())
	if e.platform.Window != nil {
		errs = append(errs, e.platform.Shutdown())
	}
	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order) of the
// presented image.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}
