// Package notify publishes monitor events to Redis pub/sub so that other
// processes can react to reachability changes and sustained failures.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
)

const defaultPublishTimeout = 2 * time.Second

// EventType names a published event.
type EventType string

const (
	EventScanComplete        EventType = "scan_complete"
	EventReachabilityChanged EventType = "reachability_changed"
	EventSustainedFailure    EventType = "sustained_failure"
)

// Event is the JSON payload published for a monitor key.
type Event struct {
	Type                EventType        `json:"type"`
	Key                 string           `json:"key"`
	Target              string           `json:"target"`
	Port                int              `json:"port"`
	Protocol            string           `json:"protocol"`
	Reached             *bool            `json:"reached,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures,omitempty"`
	ResultID            string           `json:"result_id,omitempty"`
	Hops                int              `json:"hops,omitempty"`
	Failure             errors.ErrorCode `json:"failure,omitempty"`
	At                  time.Time        `json:"at"`
}

// publisher is the subset of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisPublisher sends events to one Redis channel.
type RedisPublisher struct {
	client       publisher
	channel      string
	timeout      time.Duration
	scanComplete bool
	logger       *logging.Logger
	now          func() time.Time
}

// Option configures a RedisPublisher.
type Option func(*RedisPublisher)

// WithScanComplete also publishes an event for every completed tick.
func WithScanComplete(enabled bool) Option {
	return func(p *RedisPublisher) {
		p.scanComplete = enabled
	}
}

// WithLogger replaces the package logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *RedisPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTimeout bounds each publish call.
func WithTimeout(d time.Duration) Option {
	return func(p *RedisPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewRedisPublisher connects lazily to the server in opts.
func NewRedisPublisher(opts *redis.Options, channel string, options ...Option) *RedisPublisher {
	return newPublisher(redis.NewClient(opts), channel, options...)
}

func newPublisher(client publisher, channel string, options ...Option) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: defaultPublishTimeout,
		logger:  logging.Default().WithComponent("notify"),
		now:     time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return errors.WrapScanError(errors.CodeServiceUnavailable, "redis is unreachable", err)
	}
	return nil
}

// Publish sends e as JSON.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.WrapScanError(errors.CodeServiceUnavailable, "failed to publish monitor event", err).
			WithContext("channel", p.channel).
			WithContext("event", string(e.Type))
	}
	p.logger.Debug("Published monitor event", "channel", p.channel, "type", e.Type, "key", e.Key)
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Hooks returns monitor hooks that publish events for key.
func (p *RedisPublisher) Hooks(key scanning.Key) monitor.Hooks {
	base := func(t EventType) Event {
		return Event{
			Type:     t,
			Key:      key.String(),
			Target:   key.Target,
			Port:     key.Port,
			Protocol: string(key.Protocol),
			At:       p.now(),
		}
	}

	hooks := monitor.Hooks{
		OnReachabilityChanged: func(reached bool) error {
			e := base(EventReachabilityChanged)
			e.Reached = &reached
			return p.Publish(context.Background(), e)
		},
		OnSustainedFailure: func(consecutive int) error {
			e := base(EventSustainedFailure)
			e.ConsecutiveFailures = consecutive
			return p.Publish(context.Background(), e)
		},
	}
	if p.scanComplete {
		hooks.OnScanComplete = func(r *scanning.ScanResult) error {
			e := base(EventScanComplete)
			reached := r.TargetReached
			e.Reached = &reached
			e.ResultID = r.ID
			e.Hops = len(r.Hops)
			e.Failure = r.Failure
			return p.Publish(context.Background(), e)
		}
	}
	return hooks
}
