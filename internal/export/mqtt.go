package export

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/linkybridge/linkybridge/internal/config"
)

// mqttClient is the slice of the paho client the adapter needs.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTT flattens aggregated windows into topic/value pairs under a topic
// prefix. Re-publication is always full; idempotence comes from retained
// topics, so there is no drift detection here.
type MQTT struct {
	client      mqttClient
	topicPrefix string
	retain      bool
	log         *slog.Logger
}

// NewMQTT connects to the broker and returns the adapter.
func NewMQTT(cfg config.MQTTConfig, log *slog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID("linkybridge-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return &MQTT{
		client:      client,
		topicPrefix: cfg.GetTopicPrefix(),
		retain:      cfg.Retain,
		log:         log,
	}, nil
}

// PublishMultiple publishes every key under topicPrefix/prefix/.
func (m *MQTT) PublishMultiple(prefix string, data map[string]string) error {
	for suffix, value := range data {
		topic := fmt.Sprintf("%s/%s/%s", m.topicPrefix, prefix, suffix)
		token := m.client.Publish(topic, 0, m.retain, value)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("publishing %s: %w", topic, token.Error())
		}
	}
	m.log.Debug("published window", "prefix", prefix, "topics", len(data))
	return nil
}

// Close disconnects from the MQTT broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
