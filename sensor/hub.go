package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome classifies what happened to one delivered payload.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMalformed Outcome = "malformed"
	OutcomeDropped   Outcome = "dropped"
)

// DefaultQueueSize bounds the hand-off to the render thread.
const DefaultQueueSize = 64

// Sink receives raw wire payloads from a source.
type Sink interface {
	Deliver(source string, data []byte) Outcome
}

// Source produces payloads until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// EventObserver is told the outcome of every delivered payload.
type EventObserver interface {
	SensorEvent(source string, outcome Outcome)
}

type nopEventObserver struct{}

func (nopEventObserver) SensorEvent(string, Outcome) {}

// Hub fans in every source, routes payloads and queues the accepted ones
// for the render thread. When the queue is full the message is dropped.
type Hub struct {
	router   *Router
	logger   *zap.Logger
	observer EventObserver
	out      chan Message
	sources  []Source
	dropped  atomic.Uint64
}

func NewHub(router *Router, queueSize int, logger *zap.Logger, observer EventObserver) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if observer == nil {
		observer = nopEventObserver{}
	}
	return &Hub{
		router:   router,
		logger:   logger,
		observer: observer,
		out:      make(chan Message, queueSize),
	}
}

// Add registers a source. It must be called before Run.
func (h *Hub) Add(s Source) { h.sources = append(h.sources, s) }

// Sources returns the names of the registered sources.
func (h *Hub) Sources() []string {
	names := make([]string, len(h.sources))
	for i, s := range h.sources {
		names[i] = s.Name()
	}
	return names
}

// Messages is drained by the compositor at each frame boundary.
func (h *Hub) Messages() <-chan Message { return h.out }

// Dropped counts messages discarded because the queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Deliver decodes, routes and enqueues one payload. It never blocks.
func (h *Hub) Deliver(source string, data []byte) Outcome {
	outcome := h.deliver(source, data)
	h.observer.SensorEvent(source, outcome)
	return outcome
}

func (h *Hub) deliver(source string, data []byte) Outcome {
	ev, err := DecodeEvent(data)
	if err != nil {
		h.logger.Debug("ignoring payload", zap.String("source", source), zap.Error(err))
		return OutcomeMalformed
	}
	var queued bool
	_, ok := h.router.Route(ev, func(msg Message) bool {
		select {
		case h.out <- msg:
			queued = true
		default:
		}
		return queued
	})
	if !ok {
		return OutcomeIgnored
	}
	if !queued {
		n := h.dropped.Add(1)
		h.logger.Warn("sensor queue full, dropping", zap.String("source", source), zap.Uint64("dropped", n))
		return OutcomeDropped
	}
	return OutcomeAccepted
}

// Run starts every source and waits for them. Cancellation is a clean exit;
// the first real source failure cancels the others and is returned.
func (h *Hub) Run(ctx context.Context) error {
	if len(h.sources) == 0 {
		h.logger.Info("no sensor sources configured")
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range h.sources {
		s := s
		g.Go(func() error {
			h.logger.Info("sensor source starting", zap.String("source", s.Name()))
			err := s.Run(gctx, h)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("%s: %w", s.Name(), err)
		})
	}
	return g.Wait()
}
