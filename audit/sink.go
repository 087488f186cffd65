package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxpert/objectpack/cfg"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
)

// NewSink builds the sink selected by c. It returns a nil sink when
// auditing is disabled.
func NewSink(c cfg.AuditConfiguration) (Sink, error) {
	switch c.Sink {
	case cfg.SinkNone:
		return nil, nil
	case cfg.SinkNATS:
		return NewNATSSink(c.NATS)
	case cfg.SinkKafka:
		return NewKafkaSink(DefaultKafkaConfig(c.Kafka.Brokers))
	}
	return nil, fmt.Errorf("unknown audit sink %q", c.Sink)
}

// TopicFunc maps an action name to the topic its events go to
type TopicFunc func(action string) string

// Topics returns the topic mapping of the configured sink. NATS subjects
// carry the action name as tokens; Kafka uses one topic.
func Topics(c cfg.AuditConfiguration) TopicFunc {
	if c.Sink == cfg.SinkKafka {
		return func(string) string { return c.Kafka.Topic }
	}
	prefix := c.NATS.SubjectPrefix
	return func(action string) string {
		return Subject(prefix, action)
	}
}

// Subject converts an action name into a NATS subject under prefix
func Subject(prefix, action string) string {
	tokens := strings.FieldsFunc(action, func(r rune) bool {
		return r == '/' || r == '.' || r == ' ' || r == '*'
	})
	if prefix != "" {
		tokens = append([]string{strings.Trim(prefix, ".")}, tokens...)
	}
	return strings.Join(tokens, ".")
}

// NATSSink publishes to a JetStream stream, created on first use
type NATSSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.StreamConfig

	mu      sync.Mutex
	ensured bool
}

// NewNATSSink connects to the server in c. The connection retries in the
// background, so an unreachable server surfaces on Publish.
func NewNATSSink(c cfg.NATSConfiguration) (*NATSSink, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("nats sink requires a url")
	}
	nc, err := nats.Connect(c.URL,
		nats.Name("objectpack-audit"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSSink{
		nc: nc,
		js: js,
		stream: jetstream.StreamConfig{
			Name:      streamName(c.Stream),
			Subjects:  []string{Subject(c.SubjectPrefix, ">")},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
		},
	}, nil
}

func (n *NATSSink) ensureStream(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ensured {
		return nil
	}
	if _, err := n.js.CreateOrUpdateStream(ctx, n.stream); err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", n.stream.Name, err)
	}
	n.ensured = true
	return nil
}

// Publish implements Sink. The key travels as a header.
func (n *NATSSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.ensureStream(ctx); err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}
	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close implements Sink
func (n *NATSSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// streamName converts name to a valid JetStream stream name
func streamName(name string) string {
	if name == "" {
		name = "objectpack"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>', '/', '\\':
			return '_'
		}
		return r
	}, name)
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string
	BatchSize        int
	BatchBytes       int64
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

// DefaultKafkaConfig returns a KafkaConfig that waits for all replicas
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// KafkaSink writes events synchronously, partitioned by key
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a KafkaSink. No connection is made until the
// first Publish.
func NewKafkaSink(c KafkaConfig) (*KafkaSink, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultKafkaBatchSize
	}
	if c.BatchBytes == 0 {
		c.BatchBytes = DefaultKafkaBatchBytes
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              c.BatchSize,
		BatchBytes:             c.BatchBytes,
		RequiredAcks:           c.RequiredAcks,
		AllowAutoTopicCreation: c.AutoCreateTopics,
	}}, nil
}

// Publish implements Sink. Timeouts and retries are left to the publisher.
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	return k.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

// Close implements Sink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// MockSink records published messages in memory
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	mu         sync.Mutex
}

// MockMessage is one message recorded by MockSink
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// Publish implements Sink
func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

// Close implements Sink
func (m *MockSink) Close() error {
	return nil
}

// Snapshot returns a copy of the recorded messages
func (m *MockSink) Snapshot() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.Messages...)
}

// SetError makes later publishes fail with err
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishErr = err
}

var (
	_ Sink = (*NATSSink)(nil)
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*MockSink)(nil)
)
