package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"fluidviz/input"
)

// WindowStats is one CSV row summarising a flush interval.
type WindowStats struct {
	WindowEnd     string  `csv:"window_end"`
	Frames        int     `csv:"frames"`
	MeanFrameMS   float64 `csv:"mean_frame_ms"`
	MaxFrameMS    float64 `csv:"max_frame_ms"`
	Splats        int     `csv:"splats"`
	SensorSamples int     `csv:"sensor_samples"`
	Radius        float32 `csv:"radius"`
}

// Recorder accumulates frame statistics and writes one row per flush.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	header  bool
	frameMS []float64
	splats  int
	samples int
	radius  float32
	now     func() time.Time
}

// NewRecorder writes rows to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

// CreateRecorder opens frames.csv in dir. An empty dir disables recording
// and returns nil.
func CreateRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating csv directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "frames.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating frames.csv: %w", err)
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

func (r *Recorder) FrameRendered(d time.Duration) {
	r.mu.Lock()
	r.frameMS = append(r.frameMS, float64(d)/float64(time.Millisecond))
	r.mu.Unlock()
}

func (r *Recorder) SplatsInjected(_ string, n int) {
	r.mu.Lock()
	r.splats += n
	r.mu.Unlock()
}

func (r *Recorder) SampleApplied(f input.Forcing) {
	r.mu.Lock()
	r.samples++
	r.radius = f.Radius
	r.mu.Unlock()
}

func (r *Recorder) Resized(int, int)   {}
func (r *Recorder) PointersActive(int) {}

// Snapshot returns the current window's statistics and starts a new one.
// The radius carries over.
func (r *Recorder) Snapshot() WindowStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := WindowStats{
		WindowEnd:     r.now().UTC().Format(time.RFC3339Nano),
		Frames:        len(r.frameMS),
		Splats:        r.splats,
		SensorSamples: r.samples,
		Radius:        r.radius,
	}
	if len(r.frameMS) > 0 {
		st.MeanFrameMS = floats.Sum(r.frameMS) / float64(len(r.frameMS))
		st.MaxFrameMS = floats.Max(r.frameMS)
	}
	r.frameMS = r.frameMS[:0]
	r.splats = 0
	r.samples = 0
	return st
}

// Flush writes the current window as a row. The first row carries the
// header.
func (r *Recorder) Flush() error {
	records := []WindowStats{r.Snapshot()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.header {
		if err := gocsv.Marshal(records, r.w); err != nil {
			return fmt.Errorf("writing frame stats: %w", err)
		}
		r.header = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, r.w); err != nil {
		return fmt.Errorf("writing frame stats: %w", err)
	}
	return nil
}

// Run flushes every interval until ctx is cancelled, then flushes once
// more and closes the file.
func (r *Recorder) Run(ctx context.Context, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := r.Flush()
			if r.closer != nil {
				if cerr := r.closer.Close(); err == nil {
					err = cerr
				}
			}
			return err
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				logger.Warn("frame stats flush failed", zap.Error(err))
			}
		}
	}
}
