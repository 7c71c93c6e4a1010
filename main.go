package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fluidviz/config"
	"fluidviz/core"
	"fluidviz/gpu"
	"fluidviz/input"
	"fluidviz/logging"
	"fluidviz/rendering"
	"fluidviz/rendering/opengl"
	"fluidviz/sensor"
	"fluidviz/simulation"
	"fluidviz/telemetry"
)

func main() {
	runtime.LockOSThread()

	var (
		configPath = flag.String("config", "", "YAML settings file, watched for changes")
		device     = flag.String("device", "", "Device backend (gl, soft)")
		width      = flag.Int("width", 0, "Window width")
		height     = flag.Int("height", 0, "Window height")
		simulate   = flag.Bool("simulate", false, "Feed synthetic sensor events")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		frames     = flag.Int("frames", 0, "Frames to render with the soft device before capturing and exiting (0 runs until interrupted)")
	)
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if *device != "" {
		settings.GPU.Device = *device
	}
	if *width > 0 {
		settings.Window.Width = *width
	}
	if *height > 0 {
		settings.Window.Height = *height
	}
	if *simulate {
		settings.Sensor.Simulate.Enabled = true
	}
	if *logLevel != "" {
		settings.Logging.Level = *logLevel
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	logger, err := logging.New(settings.Logging.Level, settings.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(settings, *configPath, *frames, logger); err != nil {
		if errors.Is(err, core.ErrNoContext) {
			logger.Fatal("No usable rendering context", zap.Error(err))
		}
		logger.Fatal("fluidviz stopped", zap.Error(err))
	}
	logger.Info("Shutting down")
}

func run(settings *config.Settings, configPath string, frames int, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	cfg := settings.Simulation
	pointers := input.NewPointerAdapter(rng)
	queue := &input.SplatQueue{}

	var comp *rendering.Compositor
	actions := opengl.Actions{
		RandomSplats: queue.Push,
		TogglePause:  func() { cfg.Paused = !cfg.Paused },
		Capture:      func() { capture(comp, logger) },
		Quit: func() {
			if comp != nil {
				comp.Stop()
			}
		},
	}

	backend, err := openBackend(settings, frames, pointers, actions, rng, logger)
	if err != nil {
		return err
	}
	defer backend.Terminate()

	dev := backend.Device()
	caps, err := gpu.Negotiate(dev, logger.Named("negotiate"))
	if err != nil {
		return err
	}
	gpu.ApplyCapabilities(&cfg, caps)
	background := clampBackColor(&cfg)

	simCtx, err := simulation.NewContext(dev, caps, &cfg, rng, logger.Named("stepper"))
	if err != nil {
		return err
	}
	defer simCtx.Close()
	forcing := input.NewForcingAdapter(&cfg, rng)

	metrics := telemetry.NewMetrics()
	router := sensor.NewRouter(settings.Sensor.VisualizerCode, settings.Sensor.Event, settings.Sensor.Ticket)
	hub := sensor.NewHub(router, settings.Sensor.QueueSize, logger.Named("sensor"), metrics)
	addSources(hub, settings, logger.Named("sensor"))

	recorder, err := telemetry.CreateRecorder(settings.Telemetry.CSVDir)
	if err != nil {
		return err
	}
	observers := []telemetry.FrameObserver{metrics, &fpsTitle{backend: backend, base: settings.Window.Title}}
	if recorder != nil {
		observers = append(observers, recorder)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if addr := settings.Telemetry.MetricsListen; addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, addr, logger.Named("metrics")) })
	}
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx, settings.Telemetry.FlushInterval, logger.Named("recorder")) })
	}

	var configs <-chan config.SimulationConfig
	if configPath != "" {
		watcher, err := config.NewWatcher(logger.Named("config"), configPath, 0)
		if err != nil {
			logger.Warn("Hot reload disabled", zap.Error(err))
		} else {
			configs = clampedConfigs(gctx, watcher.Changes())
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	var dither <-chan image.Image
	if path := settings.Dithering.Path; path != "" {
		dither = rendering.LoadDither(gctx, path, logger.Named("dither"))
	}

	comp, err = rendering.NewCompositor(simCtx, forcing, pointers, queue, logger.Named("compositor"), rendering.Options{
		Messages:          hub.Messages(),
		Configs:           configs,
		Dither:            dither,
		Observer:          telemetry.NewTee(observers...),
		CaptureDir:        settings.Capture.Dir,
		CaptureResolution: settings.CaptureResolution(),
		Session:           router.Session,
	})
	if err != nil {
		return err
	}
	defer comp.Close()

	logger.Info("Starting visualizer",
		zap.String("backend", backend.Name()),
		zap.String("context", caps.Context),
		zap.Strings("sources", hub.Sources()),
		zap.Int("sim_resolution", cfg.SimResolution),
		zap.Int("dye_resolution", cfg.DyeResolution),
		zap.String("background", hexColor(background)))
	logger.Info("Controls: Space random splats, P pause, C capture, Esc exit")

	runErr := comp.Run(gctx, backend.Surface())
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if _, headless := backend.(*SoftBackend); headless && runErr == nil {
		capture(comp, logger)
	}

	stop()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func addSources(hub *sensor.Hub, settings *config.Settings, logger *zap.Logger) {
	s := settings.Sensor
	if s.WebSocket.Listen != "" {
		hub.Add(sensor.NewServer(s.WebSocket.Listen, s.VisualizerCode, logger.Named("websocket")))
	}
	if s.MQTT.Broker != "" {
		hub.Add(sensor.NewMQTTSource(sensor.MQTTConfig{
			Broker:   s.MQTT.Broker,
			Topic:    s.MQTT.Topic,
			QoS:      s.MQTT.QoS,
			ClientID: s.MQTT.ClientID,
		}, logger.Named("mqtt")))
	}
	if s.Redis.Addr != "" {
		hub.Add(sensor.NewRedisSource(s.Redis.Addr, s.Redis.Channel, logger.Named("redis")))
	}
	if s.Simulate.Enabled {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		hub.Add(sensor.NewSimulator(s.VisualizerCode, s.Simulate.Interval, rng, logger.Named("simulator")))
	}
}

func capture(comp *rendering.Compositor, logger *zap.Logger) {
	if comp == nil {
		return
	}
	path, err := comp.Capture()
	if err != nil {
		logger.Error("Capture failed", zap.Error(err))
		return
	}
	logger.Info("Frame captured", zap.String("path", path))
}
