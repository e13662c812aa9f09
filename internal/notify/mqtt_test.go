package notify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
)

// fakeToken is an already completed mqtt.Token, or one that never completes.
type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeClient implements the parts of mqtt.Client the notifier uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connect      mqtt.Token
	publish      mqtt.Token
	topic        string
	qos          byte
	retained     bool
	payload      []byte
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return c.connect }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic, c.qos, c.retained = topic, qos, retained
	c.payload, _ = payload.([]byte)
	return c.publish
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func newTestMQTT(client *fakeClient) *MQTT {
	m := NewMQTT(MQTTOptions{Broker: "tcp://broker:1883", Timeout: 50 * time.Millisecond}, nil)
	m.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}
	m.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestMQTT_Send(t *testing.T) {
	client := &fakeClient{connect: doneToken(nil), publish: doneToken(nil)}
	m := newTestMQTT(client)

	require.NoError(t, m.Send(context.Background(), "NTP health alert timeout", "SSH command timed out contacting myntp (10.0.0.5)"))

	assert.Equal(t, DefaultMQTTTopic, client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.False(t, client.retained)
	assert.True(t, client.disconnected)
	assert.Equal(t, DefaultMQTTClientID, client.opts.ClientID)
	require.Len(t, client.opts.Servers, 1)
	assert.Equal(t, "broker:1883", client.opts.Servers[0].Host)

	var alert Alert
	require.NoError(t, json.Unmarshal(client.payload, &alert))
	assert.Equal(t, "NTP health alert timeout", alert.Subject)
	assert.Equal(t, "SSH command timed out contacting myntp (10.0.0.5)", alert.Body)
	assert.True(t, alert.SentAt.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestMQTT_SendFailures(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeClient
		wantMsg string
	}{
		{
			name:    "connect refused",
			client:  &fakeClient{connect: doneToken(stderrors.New("connection refused"))},
			wantMsg: "Failed to connect to MQTT broker tcp://broker:1883",
		},
		{
			name:    "connect never answers",
			client:  &fakeClient{connect: pendingToken()},
			wantMsg: "no response from broker",
		},
		{
			name:    "publish rejected",
			client:  &fakeClient{connect: doneToken(nil), publish: doneToken(stderrors.New("not authorized"))},
			wantMsg: "Failed to publish alert to MQTT topic ntpwatch/alerts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMQTT(tt.client)
			err := m.Send(context.Background(), "subj", "body")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrNotify))
			assert.Contains(t, errors.Describe(err), tt.wantMsg)
			assert.True(t, tt.client.disconnected, "the client is always released")
		})
	}
}

func TestMQTT_SendCancelled(t *testing.T) {
	client := &fakeClient{connect: pendingToken()}
	m := newTestMQTT(client)
	m.opts.Timeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, "subj", "body")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, client.disconnected)
}
