package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
)

type published struct {
	channel string
	payload []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []published
	err      error
	closed   bool
}

func (f *fakeClient) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.messages = append(f.messages, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func (f *fakeClient) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.messages))
	for _, m := range f.messages {
		assert.Equal(t, "tracerama:events", m.channel)
		var e Event
		require.NoError(t, json.Unmarshal(m.payload, &e))
		out = append(out, e)
	}
	return out
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestPublisher(client *fakeClient, opts ...Option) *RedisPublisher {
	opts = append([]Option{WithLogger(logging.NewDiscard())}, opts...)
	p := newPublisher(client, "tracerama:events", opts...)
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestHooks_PublishTransitions(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(client)
	key := scanning.NewRequest("10.0.0.9").Key()

	hooks := p.Hooks(key)
	assert.Nil(t, hooks.OnScanComplete, "scan events are off by default")

	require.NoError(t, hooks.OnReachabilityChanged(false))
	require.NoError(t, hooks.OnSustainedFailure(3))

	events := client.events(t)
	require.Len(t, events, 2)

	assert.Equal(t, EventReachabilityChanged, events[0].Type)
	assert.Equal(t, "10.0.0.9:80/tcp", events[0].Key)
	assert.Equal(t, "10.0.0.9", events[0].Target)
	assert.Equal(t, 80, events[0].Port)
	assert.Equal(t, "tcp", events[0].Protocol)
	require.NotNil(t, events[0].Reached)
	assert.False(t, *events[0].Reached)
	assert.True(t, fixedNow.Equal(events[0].At))

	assert.Equal(t, EventSustainedFailure, events[1].Type)
	assert.Equal(t, 3, events[1].ConsecutiveFailures)
	assert.Nil(t, events[1].Reached)
}

func TestHooks_ScanComplete(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(client, WithScanComplete(true))
	key := scanning.NewRequest("10.0.0.9").Key()

	result := &scanning.ScanResult{
		ID:            "r-1",
		Target:        "10.0.0.9",
		Port:          80,
		Protocol:      scanning.ProtocolTCP,
		Hops:          []scanning.Hop{{Number: 1}, {Number: 2}},
		TargetReached: true,
	}
	require.NoError(t, p.Hooks(key).OnScanComplete(result))

	events := client.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventScanComplete, events[0].Type)
	assert.Equal(t, "r-1", events[0].ResultID)
	assert.Equal(t, 2, events[0].Hops)
	require.NotNil(t, events[0].Reached)
	assert.True(t, *events[0].Reached)
}

func TestPublish_Errors(t *testing.T) {
	client := &fakeClient{err: assert.AnError}
	p := newTestPublisher(client)

	err := p.Publish(context.Background(), Event{Type: EventSustainedFailure, Key: "k"})
	require.ErrorIs(t, err, assert.AnError)
	assert.True(t, errors.IsCode(err, errors.CodeServiceUnavailable))

	err = p.Ping(context.Background())
	require.ErrorIs(t, err, assert.AnError)

	require.NoError(t, p.Close())
	assert.True(t, client.closed)
}

func TestHooks_ComposeWithMonitorFactories(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(client)

	var local []bool
	factory := monitor.ChainFactories(p.Hooks, func(scanning.Key) monitor.Hooks {
		return monitor.Hooks{OnReachabilityChanged: func(reached bool) error {
			local = append(local, reached)
			return nil
		}}
	})

	hooks := factory(scanning.NewRequest("10.0.0.9").Key())
	require.NoError(t, hooks.OnReachabilityChanged(true))

	assert.Equal(t, []bool{true}, local)
	assert.Len(t, client.events(t), 1)
}
