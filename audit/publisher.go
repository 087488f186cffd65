package audit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/objectpack/encoding"
	"github.com/maxpert/objectpack/id"
	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/pack"
	"github.com/maxpert/objectpack/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultQueueSize is the number of events buffered before new ones are
	// dropped
	DefaultQueueSize = 1024
	// DefaultRetryInitial is the first delay after a failed publish
	DefaultRetryInitial = 100 * time.Millisecond
	// DefaultRetryMax caps the exponential backoff
	DefaultRetryMax = 30 * time.Second
	// DefaultRetryMultiplier grows the delay between attempts
	DefaultRetryMultiplier = 2.0
	// DefaultMaxRetries is the number of attempts per event
	DefaultMaxRetries = 10
)

// Config configures a Publisher
type Config struct {
	Sink Sink
	// SinkName labels metrics and logs
	SinkName string
	Topic    TopicFunc
	// IDs numbers events; an instance-prefixed generator is used when nil
	IDs      id.Generator
	Instance uint64

	QueueSize       int
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

type message struct {
	topic string
	key   string
	value []byte
}

// Publisher turns action invocations into events and publishes them from
// a background worker
type Publisher struct {
	config Config
	queue  chan message
	stopCh chan struct{}
	doneCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPublisher validates c and starts the worker
func NewPublisher(c Config) (*Publisher, error) {
	if c.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if c.Topic == nil {
		return nil, fmt.Errorf("topic mapping is required")
	}
	if c.SinkName == "" {
		c.SinkName = "default"
	}
	if c.IDs == nil {
		c.IDs = id.NewInstanceGenerator(c.Instance)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = DefaultRetryMultiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	p := &Publisher{
		config: c,
		queue:  make(chan message, c.QueueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go p.loop()

	log.Info().Str("sink", c.SinkName).Int("queue", c.QueueSize).Msg("Audit publisher started")
	return p, nil
}

// Subscription listens to the actions matching patterns, or to every
// action when there are none. It runs ahead of other after listeners so
// replaced results do not hide invocations, and records responses given
// by before listeners too.
func (p *Publisher) Subscription(patterns []string) observer.Subscription {
	return observer.Subscription{
		Name:       "audit",
		Priority:   math.MinInt,
		ListenGlob: patterns,
		Factory: func() any {
			return &listener{publisher: p}
		},
	}
}

type listener struct {
	publisher *Publisher
}

func resultEvent(call *observer.Call, result any) Event {
	ev := Event{Action: call.Name, Success: true}
	switch r := result.(type) {
	case pack.Result:
		ev.Success, ev.Message = r.Success, r.Message
	case *pack.Result:
		ev.Success, ev.Message = r.Success, r.Message
	}
	return ev
}

func (l *listener) After(call *observer.Call, result any) any {
	l.publisher.Record(call, resultEvent(call, result))
	return nil
}

// Replaced records invocations answered by a before listener
func (l *listener) Replaced(call *observer.Call, result any) {
	l.publisher.Record(call, resultEvent(call, result))
}

func (l *listener) Catch(call *observer.Call, err error) any {
	l.publisher.Record(call, Event{Action: call.Name, Message: err.Error()})
	return nil
}

// Record completes ev with the request data of call and queues it
func (p *Publisher) Record(call *observer.Call, ev Event) {
	ev.ID = p.config.IDs.NextID()
	ev.Time = time.Now().UnixMilli()
	ev.Instance = p.config.Instance
	if call != nil {
		ev.Params = params(call)
	}

	if ev.Params != nil {
		encoded, err := encoding.Marshal(ev.Params)
		if err != nil {
			log.Warn().Err(err).Str("action", ev.Action).Msg("Audit params not encodable")
			ev.Params = nil
		} else {
			ev.Fingerprint = xxhash.Sum64(encoded)
		}
	}

	value, err := encoding.Marshal(ev)
	if err != nil {
		telemetry.AuditEventsTotal.With(p.config.SinkName, "failed").Inc()
		log.Error().Err(err).Str("action", ev.Action).Msg("Failed to encode audit event")
		return
	}
	p.enqueue(message{topic: p.config.Topic(ev.Action), key: ev.Action, value: value})
}

// params returns the declared context values of the call, falling back
// to the raw request parameters
func params(call *observer.Call) map[string]any {
	if ctx, ok := call.ActionContext.(*pack.Context); ok {
		if v := ctx.Values(); len(v) > 0 {
			return v
		}
	}
	if len(call.Request.Params) == 0 {
		return nil
	}
	out := make(map[string]any, len(call.Request.Params))
	for k, v := range call.Request.Params {
		out[k] = v
	}
	return out
}

func (p *Publisher) enqueue(m message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		telemetry.AuditEventsTotal.With(p.config.SinkName, "dropped").Inc()
		return
	}
	select {
	case p.queue <- m:
	default:
		telemetry.AuditEventsTotal.With(p.config.SinkName, "dropped").Inc()
		log.Warn().Str("sink", p.config.SinkName).Str("topic", m.topic).Msg("Audit queue full, event dropped")
	}
}

func (p *Publisher) loop() {
	defer close(p.doneCh)
	for m := range p.queue {
		if err := p.publishWithRetry(m); err != nil {
			telemetry.AuditEventsTotal.With(p.config.SinkName, "failed").Inc()
			log.Error().Err(err).Str("sink", p.config.SinkName).Str("topic", m.topic).Msg("Audit event lost")
			continue
		}
		telemetry.AuditEventsTotal.With(p.config.SinkName, "success").Inc()
	}
}

// publishWithRetry publishes m with exponential backoff. Once the
// publisher is closing every event gets a single attempt.
func (p *Publisher) publishWithRetry(m message) error {
	delay := p.config.RetryInitial
	for attempt := 1; ; attempt++ {
		err := p.config.Sink.Publish(m.topic, m.key, m.value)
		if err == nil {
			return nil
		}
		if attempt >= p.config.MaxRetries {
			return fmt.Errorf("exhausted %d attempts: %w", attempt, err)
		}

		log.Warn().
			Err(err).
			Str("sink", p.config.SinkName).
			Str("topic", m.topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Failed to publish audit event, retrying")

		if !p.sleep(delay) {
			return fmt.Errorf("publisher closed: %w", err)
		}
		delay = min(time.Duration(float64(delay)*p.config.RetryMultiplier), p.config.RetryMax)
	}
}

func (p *Publisher) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Close publishes the queued events, then closes the sink. Events
// recorded afterwards are dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	close(p.queue)
	p.mu.Unlock()

	<-p.doneCh
	log.Info().Str("sink", p.config.SinkName).Msg("Audit publisher stopped")
	return p.config.Sink.Close()
}
