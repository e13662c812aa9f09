package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
)

// MQTT defaults.
const (
	DefaultMQTTTopic    = "ntpwatch/alerts"
	DefaultMQTTClientID = "ntpwatch"
)

// MQTTOptions configure the MQTT channel.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// Alert is the JSON payload published for each alert.
type Alert struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// MQTT publishes alerts to a broker. A connection is made per alert, the same
// as the mail channel, so a broker restart between alerts costs nothing.
type MQTT struct {
	opts      MQTTOptions
	log       logger.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
	now       func() time.Time
}

// NewMQTT creates the MQTT channel.
func NewMQTT(opts MQTTOptions, log logger.Logger) *MQTT {
	if opts.Topic == "" {
		opts.Topic = DefaultMQTTTopic
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultMQTTClientID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Noop()
	}
	return &MQTT{
		opts:      opts,
		log:       log,
		newClient: mqtt.NewClient,
		now:       time.Now,
	}
}

// Send implements Notifier. Messages go out at QoS 1, not retained.
func (m *MQTT) Send(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(Alert{Subject: subject, Body: body, SentAt: m.now().UTC()})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrNotify, "Failed to encode MQTT alert", "")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.opts.Broker).
		SetClientID(m.opts.ClientID).
		SetConnectTimeout(m.opts.Timeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	client := m.newClient(opts)
	if err := m.wait(ctx, client.Connect()); err != nil {
		// abandons a connect attempt still in flight
		client.Disconnect(0)
		m.log.Error("MQTT connect to %s failed: %v", m.opts.Broker, err)
		return errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Failed to connect to MQTT broker %s", m.opts.Broker),
			"Check MQTT_BROKER, e.g. tcp://localhost:1883")
	}
	defer client.Disconnect(250)

	if err := m.wait(ctx, client.Publish(m.opts.Topic, 1, false, payload)); err != nil {
		m.log.Error("MQTT publish to %s failed: %v", m.opts.Topic, err)
		return errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Failed to publish alert to MQTT topic %s", m.opts.Topic), "")
	}

	m.log.Info("Alert published to MQTT topic %s", m.opts.Topic)
	return nil
}

// wait blocks until tok completes, the timeout passes or ctx is done.
func (m *MQTT) wait(ctx context.Context, tok mqtt.Token) error {
	timer := time.NewTimer(m.opts.Timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("no response from broker after %s", m.opts.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
