package sensor

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"fluidviz/colormap"
)

const realtime = `{"type":"rtdata","visualizer_code":"viz","params":{"ch1":10,"ch2":20,"ch3":30,"ch4":40},"event":"expo","ticket":"42"}`

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"realtime", realtime, false},
		{"refresh", `{"type":"refresh","visualizer_code":"viz"}`, false},
		{"missing channel", `{"type":"rtdata","visualizer_code":"viz","params":{"ch1":1,"ch2":2,"ch3":3}}`, true},
		{"missing params", `{"type":"rtdata","visualizer_code":"viz"}`, true},
		{"missing code", `{"type":"refresh"}`, true},
		{"unknown type", `{"type":"ping","visualizer_code":"viz"}`, true},
		{"not json", `ch1=1`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedPayload)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestZeroChannelIsNotMissing(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"rtdata","visualizer_code":"viz","params":{"ch1":0,"ch2":0,"ch3":0,"ch4":0}}`))
	require.NoError(t, err)
	ch, err := ev.Params.Channels()
	require.NoError(t, err)
	assert.Equal(t, [4]float64{}, ch)
}

func rt(code, event, ticket string) Event {
	return Event{Type: TypeRealtime, VisualizerCode: code, Params: NewParams([4]float64{1, 2, 3, 4}), Event: event, Ticket: ticket}
}

func accept(Message) bool { return true }
func refuse(Message) bool { return false }

func TestRouterLatchesSession(t *testing.T) {
	r := NewRouter("viz", "", "")

	msg, ok := r.Route(rt("viz", "expo", "42"), accept)
	require.True(t, ok)
	assert.Equal(t, KindSample, msg.Kind)
	assert.Equal(t, 10.0, msg.Sample.Sum())

	event, ticket := r.Session()
	assert.Equal(t, "expo", event)
	assert.Equal(t, "42", ticket)

	_, ok = r.Route(rt("viz", "other", "42"), accept)
	assert.False(t, ok)
	_, ok = r.Route(rt("viz", "expo", "7"), accept)
	assert.False(t, ok)
	_, ok = r.Route(rt("elsewhere", "expo", "42"), accept)
	assert.False(t, ok)

	msg, ok = r.Route(Event{Type: TypeRefresh, VisualizerCode: "viz"}, accept)
	require.True(t, ok)
	assert.Equal(t, KindRefresh, msg.Kind)
	event, ticket = r.Session()
	assert.Empty(t, event)
	assert.Empty(t, ticket)

	_, ok = r.Route(rt("viz", "other", "9"), accept)
	assert.True(t, ok)
}

func TestRouterSuffixTags(t *testing.T) {
	r := NewRouter("viz", "expo", "42")
	tests := map[string]colormap.Tag{
		"viz_b": colormap.TagBlue,
		"viz_r": colormap.TagRed,
		"viz_g": colormap.TagGreen,
		"viz_y": colormap.TagYellow,
	}
	for code, want := range tests {
		t.Run(code, func(t *testing.T) {
			msg, ok := r.Route(rt(code, "", ""), accept)
			require.True(t, ok)
			assert.Equal(t, want, msg.Sample.Tag)
		})
	}

	_, ok := r.Route(rt("viz_x", "", ""), accept)
	assert.False(t, ok)
	_, ok = r.Route(Event{Type: TypeRefresh, VisualizerCode: "viz_b"}, accept)
	assert.False(t, ok)
}

func TestRefusedMessageLeavesSession(t *testing.T) {
	r := NewRouter("viz", "", "")

	_, ok := r.Route(rt("viz", "expo", "42"), refuse)
	require.True(t, ok)
	event, ticket := r.Session()
	assert.Empty(t, event)
	assert.Empty(t, ticket)

	_, ok = r.Route(rt("viz", "expo", "42"), accept)
	require.True(t, ok)

	_, ok = r.Route(Event{Type: TypeRefresh, VisualizerCode: "viz"}, refuse)
	require.True(t, ok)
	event, ticket = r.Session()
	assert.Equal(t, "expo", event)
	assert.Equal(t, "42", ticket)
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *outcomeRecorder) SensorEvent(_ string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestHubDeliverOutcomes(t *testing.T) {
	obs := &outcomeRecorder{}
	hub := NewHub(NewRouter("viz", "", ""), 1, zaptest.NewLogger(t), obs)

	assert.Equal(t, OutcomeAccepted, hub.Deliver("test", []byte(realtime)))
	assert.Equal(t, OutcomeDropped, hub.Deliver("test", []byte(realtime)))
	assert.Equal(t, OutcomeIgnored, hub.Deliver("test", []byte(strings.Replace(realtime, `"viz"`, `"other"`, 1))))
	assert.Equal(t, OutcomeMalformed, hub.Deliver("test", []byte(`{}`)))

	assert.Equal(t, uint64(1), hub.Dropped())
	assert.Equal(t, []Outcome{OutcomeAccepted, OutcomeDropped, OutcomeIgnored, OutcomeMalformed}, obs.outcomes)

	msg := <-hub.Messages()
	assert.Equal(t, [4]float64{10, 20, 30, 40}, msg.Sample.Channels)
}

func TestDroppedMessageLeavesSession(t *testing.T) {
	router := NewRouter("viz", "", "")
	hub := NewHub(router, 1, zaptest.NewLogger(t), nil)
	tagged := `{"type":"rtdata","visualizer_code":"viz_b","params":{"ch1":1,"ch2":1,"ch3":1,"ch4":1}}`

	require.Equal(t, OutcomeAccepted, hub.Deliver("test", []byte(tagged)))
	assert.Equal(t, OutcomeDropped, hub.Deliver("test", []byte(realtime)))
	event, ticket := router.Session()
	assert.Empty(t, event)
	assert.Empty(t, ticket)

	<-hub.Messages()
	require.Equal(t, OutcomeAccepted, hub.Deliver("test", []byte(realtime)))
	assert.Equal(t, OutcomeDropped, hub.Deliver("test", []byte(`{"type":"refresh","visualizer_code":"viz"}`)))
	event, ticket = router.Session()
	assert.Equal(t, "expo", event)
	assert.Equal(t, "42", ticket)
}

type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *recordingSink) Deliver(_ string, data []byte) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, data)
	return OutcomeAccepted
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func TestSimulatorChannelsInRange(t *testing.T) {
	sim := NewSimulator("viz", 0, rand.New(rand.NewSource(1)), zap.NewNop())
	for i := 0; i < 100; i++ {
		ev := sim.Next()
		ch, err := ev.Params.Channels()
		require.NoError(t, err)
		for _, v := range ch {
			assert.GreaterOrEqual(t, v, 20.0)
			assert.Less(t, v, 30.0)
		}
		assert.Equal(t, "viz", ev.VisualizerCode)
	}
}

func TestSimulatorRunDeliversDecodableEvents(t *testing.T) {
	sim := NewSimulator("viz", 5*time.Millisecond, rand.New(rand.NewSource(2)), zap.NewNop())
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx, sink) }()

	assert.Eventually(t, func() bool { return sink.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	_, err := DecodeEvent(sink.payloads[0])
	assert.NoError(t, err)
}

func TestHubRunStopsOnCancel(t *testing.T) {
	hub := NewHub(NewRouter("viz", "", ""), 8, zaptest.NewLogger(t), nil)
	hub.Add(NewSimulator("viz", time.Millisecond, rand.New(rand.NewSource(3)), zap.NewNop()))
	assert.Equal(t, []string{"simulator"}, hub.Sources())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	select {
	case msg := <-hub.Messages():
		assert.Equal(t, KindSample, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("no message from simulator")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestServerRoutesFramesAndAcks(t *testing.T) {
	hub := NewHub(NewRouter("viz", "", ""), 4, zaptest.NewLogger(t), nil)
	srv := NewServer("", "viz", zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Handler(hub))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st Status
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, "status", st.Type)
	assert.Equal(t, "viz", st.VisualizerCode)
	assert.Equal(t, 1, st.Clients)
	assert.NotEmpty(t, st.ClientID)
	assert.Equal(t, 1, srv.Clients())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(realtime)))
	var ack Ack
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, OutcomeAccepted, ack.Outcome)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"rtdata"}`)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, OutcomeMalformed, ack.Outcome)

	msg := <-hub.Messages()
	assert.Equal(t, 100.0, msg.Sample.Sum())
}

type fakeMessage struct{ payload []byte }

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "fluidviz/events" }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTHandlerDelivers(t *testing.T) {
	src := NewMQTTSource(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "fluidviz/events"}, zaptest.NewLogger(t))
	assert.True(t, strings.HasPrefix(src.cfg.ClientID, "fluidviz-"))

	sink := &recordingSink{}
	var msg mqtt.Message = fakeMessage{payload: []byte(realtime)}
	src.handler(sink)(nil, msg)
	assert.Equal(t, 1, sink.count())

	opts := src.options(sink)
	assert.Equal(t, src.cfg.ClientID, opts.ClientID)
	assert.True(t, opts.AutoReconnect)
}

func TestRedisSourceGivesUpOnCancel(t *testing.T) {
	src := NewRedisSource("127.0.0.1:1", "fluidviz", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := src.Run(ctx, &recordingSink{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
