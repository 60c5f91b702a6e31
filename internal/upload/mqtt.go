package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/replay-capture/replay-capture/internal/assembler"
)

// MQTTConfig configures an MQTT uploader.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Envelope is the msgpack payload published for each recording. Metadata
// and events stay JSON so consumers can forward them untouched.
type Envelope struct {
	ReplayID   string `msgpack:"replay_id"`
	SegmentID  int    `msgpack:"segment_id"`
	ReplayType string `msgpack:"replay_type"`
	Metadata   []byte `msgpack:"metadata"`
	Events     []byte `msgpack:"events"`
	Video      []byte `msgpack:"video"`
}

// publisher is the part of mqtt.Client the uploader needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes recordings to <topic>/<replayId>/<segment>.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	pub    publisher

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// NewMQTT returns an unconnected uploader.
func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "replay/recordings"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTT{cfg: cfg}
}

// Connect dials the broker.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.cfg.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnf("mqtt connection to %s lost: %v", m.cfg.Broker, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if err := wait(ctx, token, m.cfg.Timeout); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	m.client = client
	m.pub = client
	logger.Infof("connected to mqtt broker %s", m.cfg.Broker)
	return nil
}

// Upload publishes rec as a msgpack Envelope.
func (m *MQTT) Upload(ctx context.Context, rec *assembler.Recording) error {
	if m.pub == nil {
		return errors.New("mqtt not connected")
	}

	payload, err := EncodeEnvelope(rec)
	if err != nil {
		m.count(err)
		return err
	}

	topic := fmt.Sprintf("%s/%s/%d", m.cfg.Topic, rec.Metadata.ReplayID, rec.Metadata.SegmentID)
	err = wait(ctx, m.pub.Publish(topic, m.cfg.QoS, false, payload), m.cfg.Timeout)
	m.count(err)
	if err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	logger.Debugf("published %d bytes to %s", len(payload), topic)
	return nil
}

// Disconnect closes the connection.
func (m *MQTT) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

// Stats returns the number of successful and failed publishes.
func (m *MQTT) Stats() (published, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.errors
}

func (m *MQTT) count(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
		return
	}
	m.published++
}

// EncodeEnvelope builds and encodes the envelope of rec.
func EncodeEnvelope(rec *assembler.Recording) ([]byte, error) {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	events, err := assembler.MarshalEvents(rec.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}
	payload, err := msgpack.Marshal(&Envelope{
		ReplayID:   rec.Metadata.ReplayID,
		SegmentID:  rec.Metadata.SegmentID,
		ReplayType: string(rec.Metadata.ReplayType),
		Metadata:   metadata,
		Events:     events,
		Video:      rec.Video,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return payload, nil
}

// DecodeEnvelope decodes a payload built by EncodeEnvelope.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &env, nil
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
