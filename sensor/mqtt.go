package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mqttTimeout = 10 * time.Second

// MQTTConfig selects the broker and topic carrying JSON events.
type MQTTConfig struct {
	Broker   string
	Topic    string
	QoS      byte
	ClientID string
}

// MQTTSource subscribes to one topic. Paho reconnects on its own; the
// subscription is renewed in the connect handler.
type MQTTSource struct {
	cfg    MQTTConfig
	logger *zap.Logger
}

func NewMQTTSource(cfg MQTTConfig, logger *zap.Logger) *MQTTSource {
	if cfg.ClientID == "" {
		cfg.ClientID = "fluidviz-" + uuid.NewString()
	}
	return &MQTTSource{cfg: cfg, logger: logger}
}

func (m *MQTTSource) Name() string { return "mqtt" }

func (m *MQTTSource) handler(sink Sink) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		sink.Deliver(m.Name(), msg.Payload())
	}
}

func (m *MQTTSource) options(sink Sink) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", zap.String("broker", m.cfg.Broker), zap.Error(err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(m.cfg.Topic, m.cfg.QoS, m.handler(sink))
		if !token.WaitTimeout(mqttTimeout) {
			m.logger.Warn("mqtt subscribe timed out", zap.String("topic", m.cfg.Topic))
			return
		}
		if err := token.Error(); err != nil {
			m.logger.Error("mqtt subscribe failed", zap.String("topic", m.cfg.Topic), zap.Error(err))
			return
		}
		m.logger.Info("mqtt subscribed", zap.String("broker", m.cfg.Broker), zap.String("topic", m.cfg.Topic))
	})
	return opts
}

// Run connects with exponential backoff, then waits for ctx.
func (m *MQTTSource) Run(ctx context.Context, sink Sink) error {
	client := mqtt.NewClient(m.options(sink))

	connect := func() error {
		token := client.Connect()
		if !token.WaitTimeout(mqttTimeout) {
			return fmt.Errorf("mqtt connect to %s timed out", m.cfg.Broker)
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("mqtt connect failed, retrying", zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(backoff.NewExponentialBackOff(), ctx), notify); err != nil {
		return err
	}

	<-ctx.Done()
	client.Disconnect(250)
	m.logger.Info("mqtt disconnected", zap.String("broker", m.cfg.Broker))
	return nil
}
