package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mfreeman451/routeradar/pkg/config"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesceMillis  = 250
)

var (
	errMQTTConnect        = errors.New("failed to connect to MQTT broker")
	errMQTTPublishTimeout = errors.New("MQTT publish timed out")
)

// publisher is the slice of the broker connection the notifier needs.
type publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// MQTTNotifier publishes notification JSON to <prefix>/<device_id>/alerts.
type MQTTNotifier struct {
	pub    publisher
	prefix string
	logger *slog.Logger
}

// NewMQTTNotifier connects to the configured broker.
func NewMQTTNotifier(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("notifier", "mqtt", "broker", cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: timed out", errMQTTConnect)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", errMQTTConnect, err)
	}

	return newMQTTNotifier(&pahoPublisher{client: client}, cfg.TopicPrefix, logger), nil
}

func newMQTTNotifier(pub publisher, prefix string, logger *slog.Logger) *MQTTNotifier {
	return &MQTTNotifier{pub: pub, prefix: prefix, logger: logger}
}

func (*MQTTNotifier) Name() string {
	return "mqtt"
}

// Topic returns the topic alerts for deviceID are published on.
func (m *MQTTNotifier) Topic(deviceID int64) string {
	return fmt.Sprintf("%s/%d/alerts", m.prefix, deviceID)
}

func (m *MQTTNotifier) Notify(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := m.Topic(n.DeviceID)

	if err := m.pub.Publish(topic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	m.logger.Debug("published alert", "topic", topic, "alert_id", n.AlertID)

	return nil
}

// Close disconnects from the broker.
func (m *MQTTNotifier) Close() {
	m.pub.Close()
}

type pahoPublisher struct {
	client mqtt.Client
}

func (p *pahoPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errMQTTPublishTimeout
	}

	return token.Error()
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(mqttQuiesceMillis)
}
