package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"vitalwatch/internal/alerts"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds the broker settings for the notification sink.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// TopicPrefix defaults to "vitalwatch/alerts".
	TopicPrefix string
}

// MQTTNotifier publishes alert notifications to an MQTT broker so ward
// displays and pager bridges can subscribe. Implements alerts.Sink.
type MQTTNotifier struct {
	client      mqtt.Client
	qos         byte
	topicPrefix string
	logger      *zap.Logger
}

// NewMQTTNotifier connects to the broker.
func NewMQTTNotifier(cfg MQTTConfig, logger *zap.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "vitalwatch/alerts"
	}

	return &MQTTNotifier{
		client:      client,
		qos:         cfg.QoS,
		topicPrefix: prefix,
		logger:      logger,
	}, nil
}

// Notify publishes one notification as JSON to
// {prefix}/{patient_id}. The dispatcher already de-duplicates per
// transition, so every publish here is a fresh signal.
func (n *MQTTNotifier) Notify(ctx context.Context, notification alerts.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", n.topicPrefix, notification.PatientID)
	token := n.client.Publish(topic, n.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	n.logger.Debug("Alert notification published",
		zap.String("topic", topic),
		zap.String("alert_id", notification.AlertID),
	)
	return nil
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
