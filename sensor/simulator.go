package sensor

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// DefaultSimulateInterval is the pace of synthetic events.
const DefaultSimulateInterval = 1500 * time.Millisecond

// Simulator emits synthetic realtime events for the configured code, each
// channel uniform in [20, 30).
type Simulator struct {
	code     string
	interval time.Duration
	rng      *rand.Rand
	logger   *zap.Logger
}

func NewSimulator(code string, interval time.Duration, rng *rand.Rand, logger *zap.Logger) *Simulator {
	if interval <= 0 {
		interval = DefaultSimulateInterval
	}
	return &Simulator{code: code, interval: interval, rng: rng, logger: logger}
}

func (s *Simulator) Name() string { return "simulator" }

// Next builds one synthetic event.
func (s *Simulator) Next() Event {
	var ch [4]float64
	for i := range ch {
		ch[i] = 20 + s.rng.Float64()*10
	}
	return Event{Type: TypeRealtime, VisualizerCode: s.code, Params: NewParams(ch)}
}

// Run delivers one event per interval through the same decode path as the
// network sources.
func (s *Simulator) Run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, err := EncodeEvent(s.Next())
			if err != nil {
				s.logger.Error("encoding simulated event", zap.Error(err))
				continue
			}
			sink.Deliver(s.Name(), data)
		}
	}
}
