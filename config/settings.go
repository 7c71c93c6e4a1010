// Package config loads visualizer settings from YAML, layered over embedded
// defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Settings is the whole configuration file.
type Settings struct {
	Simulation SimulationConfig  `yaml:"simulation"`
	Window     WindowSettings    `yaml:"window"`
	GPU        GPUSettings       `yaml:"gpu"`
	Sensor     SensorSettings    `yaml:"sensor"`
	Logging    LoggingSettings   `yaml:"logging"`
	Telemetry  TelemetrySettings `yaml:"telemetry"`
	Capture    CaptureSettings   `yaml:"capture"`
	Dithering  DitheringSettings `yaml:"dithering_texture"`
}

// SimulationConfig holds every parameter the solver and compositor read each
// frame.
type SimulationConfig struct {
	SimResolution       int     `yaml:"sim_resolution"`
	DyeResolution       int     `yaml:"dye_resolution"`
	CaptureResolution   int     `yaml:"capture_resolution"`
	DensityDissipation  float32 `yaml:"density_dissipation"`
	VelocityDissipation float32 `yaml:"velocity_dissipation"`
	Pressure            float32 `yaml:"pressure"`
	PressureIterations  int     `yaml:"pressure_iterations"`
	Curl                float32 `yaml:"curl"`
	SplatRadius         float32 `yaml:"splat_radius"`
	SplatForce          float32 `yaml:"splat_force"`
	Shading             bool    `yaml:"shading"`
	Colorful            bool    `yaml:"colorful"`
	ColorUpdateSpeed    float32 `yaml:"color_update_speed"`
	Paused              bool    `yaml:"paused"`
	BackColor           Color   `yaml:"back_color"`
	Transparent         bool    `yaml:"transparent"`
	Bloom               bool    `yaml:"bloom"`
	BloomIterations     int     `yaml:"bloom_iterations"`
	BloomResolution     int     `yaml:"bloom_resolution"`
	BloomIntensity      float32 `yaml:"bloom_intensity"`
	BloomThreshold      float32 `yaml:"bloom_threshold"`
	BloomSoftKnee       float32 `yaml:"bloom_soft_knee"`
	Sunrays             bool    `yaml:"sunrays"`
	SunraysResolution   int     `yaml:"sunrays_resolution"`
	SunraysWeight       float32 `yaml:"sunrays_weight"`
}

// Color is an 8-bit RGB triple.
type Color struct {
	R int `yaml:"r"`
	G int `yaml:"g"`
	B int `yaml:"b"`
}

// Normalized maps the colour into [0,1].
func (c Color) Normalized() mgl32.Vec3 {
	return mgl32.Vec3{float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255}
}

type WindowSettings struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
	VSync  bool   `yaml:"vsync"`
}

// GPUSettings selects the device backend.
type GPUSettings struct {
	Device                 string   `yaml:"device"` // gl or soft
	ForceNoLinearFiltering bool     `yaml:"force_no_linear_filtering"`
	EmulateHalfFloat       bool     `yaml:"emulate_half_float"`
	ContextVersions        []string `yaml:"context_versions"`
}

type SensorSettings struct {
	VisualizerCode string            `yaml:"visualizer_code"`
	Event          string            `yaml:"event"`
	Ticket         string            `yaml:"ticket"`
	QueueSize      int               `yaml:"queue_size"`
	WebSocket      WebSocketSettings `yaml:"websocket"`
	MQTT           MQTTSettings      `yaml:"mqtt"`
	Redis          RedisSettings     `yaml:"redis"`
	Simulate       SimulateSettings  `yaml:"simulate"`
}

type WebSocketSettings struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

type MQTTSettings struct {
	Broker   string `yaml:"broker"` // empty disables the source
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	ClientID string `yaml:"client_id"`
}

type RedisSettings struct {
	Addr    string `yaml:"addr"` // empty disables the source
	Channel string `yaml:"channel"`
}

type SimulateSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type TelemetrySettings struct {
	MetricsListen string        `yaml:"metrics_listen"`
	CSVDir        string        `yaml:"csv_dir"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type CaptureSettings struct {
	Dir        string `yaml:"dir"`
	Resolution int    `yaml:"resolution"` // 0 uses simulation.capture_resolution
}

type DitheringSettings struct {
	Path string `yaml:"path"` // empty keeps the placeholder
}

// Defaults returns the embedded default settings.
func Defaults() *Settings {
	s := &Settings{}
	if err := yaml.Unmarshal(defaultsYAML, s); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return s
}

// Load reads a YAML file over the embedded defaults. Only fields present in
// the file are overwritten. An empty path, or a file that does not exist,
// yields the defaults.
func Load(path string) (*Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := Parse(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Parse overlays YAML data onto s and validates the result.
func Parse(data []byte, s *Settings) error {
	if err := yaml.Unmarshal(data, s); err != nil {
		return err
	}
	return s.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (s *Settings) Validate() error {
	sim := s.Simulation
	checks := []struct {
		name  string
		value int
	}{
		{"simulation.sim_resolution", sim.SimResolution},
		{"simulation.dye_resolution", sim.DyeResolution},
		{"simulation.capture_resolution", sim.CaptureResolution},
		{"simulation.pressure_iterations", sim.PressureIterations},
		{"simulation.bloom_iterations", sim.BloomIterations},
		{"simulation.bloom_resolution", sim.BloomResolution},
		{"simulation.sunrays_resolution", sim.SunraysResolution},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", c.name, c.value)
		}
	}
	if s.Sensor.VisualizerCode == "" {
		return errors.New("sensor.visualizer_code must be set")
	}
	switch s.GPU.Device {
	case "gl", "soft":
	default:
		return fmt.Errorf("gpu.device must be gl or soft, got %q", s.GPU.Device)
	}
	return nil
}

// CaptureResolution is the base resolution used for frame captures.
func (s *Settings) CaptureResolution() int {
	if s.Capture.Resolution > 0 {
		return s.Capture.Resolution
	}
	return s.Simulation.CaptureResolution
}
