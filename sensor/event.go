// Package sensor receives real-time sensor events from the network and
// routes the ones addressed to this visualizer.
package sensor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"fluidviz/colormap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedPayload is returned for events missing a required field.
var ErrMalformedPayload = errors.New("malformed sensor payload")

// Event types on the wire.
const (
	TypeRealtime = "rtdata"
	TypeRefresh  = "refresh"
)

// Event is one wire message.
type Event struct {
	Type           string  `json:"type"`
	VisualizerCode string  `json:"visualizer_code"`
	Params         *Params `json:"params,omitempty"`
	Event          string  `json:"event,omitempty"`
	Ticket         string  `json:"ticket,omitempty"`
}

// Params carries the four channel readings. Pointers distinguish a missing
// channel from a zero reading.
type Params struct {
	Ch1 *float64 `json:"ch1"`
	Ch2 *float64 `json:"ch2"`
	Ch3 *float64 `json:"ch3"`
	Ch4 *float64 `json:"ch4"`
}

// NewParams builds complete params from readings.
func NewParams(ch [4]float64) *Params {
	return &Params{Ch1: &ch[0], Ch2: &ch[1], Ch3: &ch[2], Ch4: &ch[3]}
}

// Channels returns the readings, or ErrMalformedPayload if any is missing.
func (p *Params) Channels() ([4]float64, error) {
	if p == nil {
		return [4]float64{}, fmt.Errorf("params missing: %w", ErrMalformedPayload)
	}
	vals := []*float64{p.Ch1, p.Ch2, p.Ch3, p.Ch4}
	var out [4]float64
	for i, v := range vals {
		if v == nil {
			return out, fmt.Errorf("ch%d missing: %w", i+1, ErrMalformedPayload)
		}
		out[i] = *v
	}
	return out, nil
}

// DecodeEvent parses and validates a wire message. A realtime event must
// carry all four channels.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.VisualizerCode == "" {
		return ev, fmt.Errorf("visualizer_code missing: %w", ErrMalformedPayload)
	}
	switch ev.Type {
	case TypeRealtime:
		if _, err := ev.Params.Channels(); err != nil {
			return ev, err
		}
	case TypeRefresh:
	default:
		return ev, fmt.Errorf("unknown type %q: %w", ev.Type, ErrMalformedPayload)
	}
	return ev, nil
}

// EncodeEvent serialises ev for the wire.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Sample is a routed four-channel reading.
type Sample struct {
	Channels [4]float64
	Tag      colormap.Tag
	Received time.Time
}

// Sum is the total of all channels.
func (s Sample) Sum() float64 {
	return s.Channels[0] + s.Channels[1] + s.Channels[2] + s.Channels[3]
}

// Kind separates samples from control messages.
type Kind int

const (
	KindSample Kind = iota
	KindRefresh
)

// Message is what the router hands to the render thread.
type Message struct {
	Kind   Kind
	Sample Sample
}

// Router decides which events address this visualizer. The session event
// and ticket latch on the first accepted event and are cleared by refresh.
type Router struct {
	code string

	mu     sync.Mutex
	event  string
	ticket string
}

// NewRouter routes for code. Non-empty event and ticket are latched up
// front.
func NewRouter(code, event, ticket string) *Router {
	return &Router{code: code, event: event, ticket: ticket}
}

// Code returns the visualizer code being routed for.
func (r *Router) Code() string { return r.code }

// Session returns the latched event and ticket.
func (r *Router) Session() (event, ticket string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.event, r.ticket
}

// Route builds the message for ev and passes it to send. It reports false
// if ev is not addressed here. The session latch, or the refresh reset, is
// applied only when send accepts the message, so a dropped message leaves
// the session as it was.
func (r *Router) Route(ev Event, send func(Message) bool) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case TypeRefresh:
		if ev.VisualizerCode != r.code {
			return Message{}, false
		}
		msg := Message{Kind: KindRefresh}
		if send(msg) {
			r.event, r.ticket = "", ""
		}
		return msg, true

	case TypeRealtime:
		tag, ok := r.match(ev)
		if !ok {
			return Message{}, false
		}
		ch, err := ev.Params.Channels()
		if err != nil {
			return Message{}, false
		}
		msg := Message{Kind: KindSample, Sample: Sample{Channels: ch, Tag: tag, Received: time.Now()}}
		if !send(msg) {
			return msg, true
		}
		if r.event == "" {
			r.event = ev.Event
		}
		if r.ticket == "" {
			r.ticket = ev.Ticket
		}
		return msg, true
	}
	return Message{}, false
}

func (r *Router) match(ev Event) (colormap.Tag, bool) {
	if ev.VisualizerCode == r.code {
		if r.event != "" && ev.Event != r.event {
			return colormap.TagNone, false
		}
		if r.ticket != "" && ev.Ticket != r.ticket {
			return colormap.TagNone, false
		}
		return colormap.TagNone, true
	}
	for _, suffix := range colormap.Suffixes() {
		if strings.TrimSuffix(ev.VisualizerCode, suffix) == r.code && strings.HasSuffix(ev.VisualizerCode, suffix) {
			tag, _ := colormap.TagForSuffix(suffix)
			return tag, true
		}
	}
	return colormap.TagNone, false
}
