// Package telemetry exposes frame and sensor statistics as Prometheus
// metrics and periodic CSV rows.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fluidviz/input"
	"fluidviz/sensor"
)

// Metrics holds the collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	frameSeconds   prometheus.Histogram
	splats         *prometheus.CounterVec
	sensorEvents   *prometheus.CounterVec
	resizes        prometheus.Counter
	pointersActive prometheus.Gauge
	splatRadius    prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		frameSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fluidviz_frame_seconds",
			Help:    "Wall time spent producing one frame",
			Buckets: []float64{0.002, 0.004, 0.008, 0.012, 0.016, 0.020, 0.033, 0.050, 0.100},
		}),
		splats: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluidviz_splats_total",
			Help: "Splats injected, by source",
		}, []string{"source"}),
		sensorEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fluidviz_sensor_events_total",
			Help: "Sensor payloads received, by outcome",
		}, []string{"outcome"}),
		resizes: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluidviz_resizes_total",
			Help: "Drawing-buffer size changes that reallocated framebuffers",
		}),
		pointersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluidviz_pointers_active",
			Help: "Pointers currently held down",
		}),
		splatRadius: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluidviz_splat_radius",
			Help: "Radius selected by the last sensor sample",
		}),
	}
}

// Registry is the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) FrameRendered(d time.Duration) { m.frameSeconds.Observe(d.Seconds()) }

func (m *Metrics) SplatsInjected(source string, n int) {
	if n > 0 {
		m.splats.WithLabelValues(source).Add(float64(n))
	}
}

func (m *Metrics) SampleApplied(f input.Forcing) { m.splatRadius.Set(float64(f.Radius)) }

func (m *Metrics) Resized(int, int) { m.resizes.Inc() }

func (m *Metrics) PointersActive(n int) { m.pointersActive.Set(float64(n)) }

func (m *Metrics) SensorEvent(_ string, outcome sensor.Outcome) {
	m.sensorEvents.WithLabelValues(string(outcome)).Inc()
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// FrameObserver is the set of compositor callbacks telemetry consumes.
type FrameObserver interface {
	FrameRendered(time.Duration)
	SplatsInjected(source string, n int)
	SampleApplied(input.Forcing)
	Resized(w, h int)
	PointersActive(n int)
}

// Tee forwards every callback to each observer in order. Nil entries are
// skipped.
type Tee []FrameObserver

func NewTee(observers ...FrameObserver) Tee {
	t := make(Tee, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			t = append(t, o)
		}
	}
	return t
}

func (t Tee) FrameRendered(d time.Duration) {
	for _, o := range t {
		o.FrameRendered(d)
	}
}

func (t Tee) SplatsInjected(source string, n int) {
	for _, o := range t {
		o.SplatsInjected(source, n)
	}
}

func (t Tee) SampleApplied(f input.Forcing) {
	for _, o := range t {
		o.SampleApplied(f)
	}
}

func (t Tee) Resized(w, h int) {
	for _, o := range t {
		o.Resized(w, h)
	}
}

func (t Tee) PointersActive(n int) {
	for _, o := range t {
		o.PointersActive(n)
	}
}
