// Package audit publishes a message for every observed action invocation
// to NATS JetStream or Kafka.
package audit

// Event describes one action invocation
type Event struct {
	ID          uint64         `msgpack:"id"`
	Action      string         `msgpack:"action"`
	Time        int64          `msgpack:"ts"` // unix ms
	Success     bool           `msgpack:"ok"`
	Message     string         `msgpack:"msg,omitempty"`
	Params      map[string]any `msgpack:"params,omitempty"`
	Fingerprint uint64         `msgpack:"fp"` // xxhash of the encoded params
	Instance    uint64         `msgpack:"node"`
}

// Sink is a destination for encoded events
type Sink interface {
	// Publish sends value to topic; key routes related messages together
	Publish(topic string, key string, value []byte) error
	Close() error
}
