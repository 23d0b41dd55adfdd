package preprocess

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/eventbus"
	"github.com/zentral/zentral/internal/storage/memory"
)

type countingLookup struct {
	mu       sync.Mutex
	sessions map[string]*domain.EnrollmentSession
	calls    int
	err      error
}

func (l *countingLookup) GetEnrollmentSessionBySecret(ctx context.Context, secret string) (*domain.EnrollmentSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	s, ok := l.sessions[secret]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func newLookup() *countingLookup {
	return &countingLookup{sessions: map[string]*domain.EnrollmentSession{
		"s3cr3t":   {Secret: "s3cr3t", SerialNumbers: []string{"C02ABC", "C02DEF"}},
		"noserial": {Secret: "noserial"},
	}}
}

func rawEvent(t *testing.T, subject string, payload map[string]any) []byte {
	t.Helper()
	peer, err := json.Marshal(map[string]any{"subject": subject})
	require.NoError(t, err)
	raw, err := json.Marshal(map[string]any{
		"tls_peer":            string(peer),
		"json":                payload,
		"agent":               map[string]any{"type": "filebeat", "version": "7.4.0"},
		"filebeat_ip_address": "10.0.0.12",
	})
	require.NoError(t, err)
	return raw
}

func xnumonPayload() map[string]any {
	return map[string]any{
		"eventcode": 2,
		"time":      "2019-10-08T09:06:23.456789000Z",
		"subject":   map[string]any{"exec": map[string]any{"path": "/bin/ls"}},
	}
}

func TestProcess(t *testing.T) {
	p := NewPreprocessor(NewSerialCache(newLookup(), 0, 0), zerolog.Nop())

	events := slices.Collect(p.Process(context.Background(), rawEvent(t, "CN=zentral$s3cr3t,O=Zentral", xnumonPayload())))
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, domain.EventTypeXnumonLog, event.Metadata.Type)
	assert.Equal(t, "C02ABC", event.Metadata.MachineSerialNumber)
	assert.Equal(t, time.Date(2019, 10, 8, 9, 6, 23, 456789000, time.UTC), event.Metadata.CreatedAt)
	assert.Equal(t, &domain.EventRequest{UserAgent: "filebeat/7.4.0", IP: "10.0.0.12"}, event.Metadata.Request)
	assert.NotEmpty(t, event.Metadata.ID)
	assert.NotContains(t, event.Payload, "time")
	assert.Equal(t, float64(2), event.Payload["eventcode"])
}

func TestProcessUserAgent(t *testing.T) {
	peer, err := json.Marshal(map[string]any{"subject": "CN=zentral$s3cr3t"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		agent map[string]any
		want  string
	}{
		{"type and version", map[string]any{"type": "filebeat", "version": "7.4.0"}, "filebeat/7.4.0"},
		{"version only", map[string]any{"version": "7.4.0"}, "/7.4.0"},
		{"empty agent", map[string]any{}, ""},
		{"missing agent", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := map[string]any{
				"tls_peer":            string(peer),
				"json":                xnumonPayload(),
				"filebeat_ip_address": "10.0.0.12",
			}
			if tt.agent != nil {
				record["agent"] = tt.agent
			}
			raw, err := json.Marshal(record)
			require.NoError(t, err)

			p := NewPreprocessor(NewSerialCache(newLookup(), 0, 0), zerolog.Nop())
			events := slices.Collect(p.Process(context.Background(), raw))
			require.Len(t, events, 1, "a record without agent is still emitted")
			assert.Equal(t, &domain.EventRequest{UserAgent: tt.want, IP: "10.0.0.12"}, events[0].Metadata.Request)
		})
	}
}

func TestProcessIsSingleUse(t *testing.T) {
	p := NewPreprocessor(NewSerialCache(newLookup(), 0, 0), zerolog.Nop())
	seq := p.Process(context.Background(), rawEvent(t, "CN=zentral$s3cr3t", xnumonPayload()))

	assert.Len(t, slices.Collect(seq), 1)
	assert.Empty(t, slices.Collect(seq))
}

func TestProcessDrops(t *testing.T) {
	noTime := xnumonPayload()
	delete(noTime, "time")

	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("{")},
		{"no tls peer", []byte(`{"json": {"time": "2019-10-08T09:06:23Z"}}`)},
		{"tls peer not json", []byte(`{"tls_peer": "CN=zentral$s3cr3t"}`)},
		{"bad subject", rawEvent(t, "zentral", xnumonPayload())},
		{"no dollar", rawEvent(t, "CN=zentral", xnumonPayload())},
		{"two dollars", rawEvent(t, "CN=a$b$c", xnumonPayload())},
		{"unknown secret", rawEvent(t, "CN=zentral$nope", xnumonPayload())},
		{"session without serial number", rawEvent(t, "CN=zentral$noserial", xnumonPayload())},
		{"no time", rawEvent(t, "CN=zentral$s3cr3t", noTime)},
		{"bad time", rawEvent(t, "CN=zentral$s3cr3t", map[string]any{"time": "yesterday-ish"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPreprocessor(NewSerialCache(newLookup(), 0, 0), zerolog.Nop())
			assert.Empty(t, slices.Collect(p.Process(context.Background(), tt.raw)))
		})
	}
}

func TestSerialCache(t *testing.T) {
	lookup := newLookup()
	cache := NewSerialCache(lookup, 2, time.Hour)
	ctx := context.Background()

	serial, ok, err := cache.SerialNumber(ctx, "s3cr3t")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "C02ABC", serial)

	_, _, err = cache.SerialNumber(ctx, "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls, "hit must not query the store")

	// Misses are not cached.
	_, ok, err = cache.SerialNumber(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, _ = cache.SerialNumber(ctx, "nope")
	assert.Equal(t, 3, lookup.calls)
	assert.Equal(t, 1, cache.Len())

	// Revocation.
	delete(lookup.sessions, "s3cr3t")
	cache.Invalidate("s3cr3t")
	_, ok, err = cache.SerialNumber(ctx, "s3cr3t")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSerialCacheIsBounded(t *testing.T) {
	lookup := &countingLookup{sessions: map[string]*domain.EnrollmentSession{}}
	for _, s := range []string{"a", "b", "c"} {
		lookup.sessions[s] = &domain.EnrollmentSession{Secret: s, SerialNumbers: []string{"SN-" + s}}
	}
	cache := NewSerialCache(lookup, 2, time.Hour)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		_, _, err := cache.SerialNumber(ctx, s)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.Len())

	// "a" was evicted.
	_, _, _ = cache.SerialNumber(ctx, "a")
	assert.Equal(t, 4, lookup.calls)
}

func TestSerialCacheExpires(t *testing.T) {
	lookup := newLookup()
	cache := NewSerialCache(lookup, 2, 10*time.Millisecond)
	ctx := context.Background()

	_, _, err := cache.SerialNumber(ctx, "s3cr3t")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cache.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, _, _ = cache.SerialNumber(ctx, "s3cr3t")
	assert.Equal(t, 2, lookup.calls)
}

func TestSerialCacheLookupError(t *testing.T) {
	lookup := newLookup()
	lookup.err = errors.New("db down")
	cache := NewSerialCache(lookup, 0, 0)

	_, _, err := cache.SerialNumber(context.Background(), "s3cr3t")
	assert.Error(t, err)
	assert.Zero(t, cache.Len())
}

func TestWorker(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateEnrollmentSession(ctx, &domain.EnrollmentSession{
		Secret:        "s3cr3t",
		SerialNumbers: []string{"C02ABC"},
		CreatedAt:     time.Now(),
	}))

	bus := eventbus.NewMemoryBus(0, zerolog.Nop())
	w := NewWorker(bus, NewPreprocessor(NewSerialCache(store, 0, 0), zerolog.Nop()), zerolog.Nop())

	require.NoError(t, bus.PublishRaw(ctx, eventbus.RoutingKeyXnumonLogs, []byte("garbage")))
	require.NoError(t, bus.PublishRaw(ctx, eventbus.RoutingKeyXnumonLogs, rawEvent(t, "CN=zentral$unknown", xnumonPayload())))
	require.NoError(t, bus.PublishRaw(ctx, eventbus.RoutingKeyXnumonLogs, rawEvent(t, "CN=zentral$s3cr3t", xnumonPayload())))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	consumeCtx, stop := context.WithTimeout(ctx, 5*time.Second)
	defer stop()
	var got []domain.Event
	err := bus.Consume(consumeCtx, eventbus.RoutingKeyEvents, func(ctx context.Context, body []byte) error {
		var event domain.Event
		if err := json.Unmarshal(body, &event); err != nil {
			return err
		}
		got = append(got, event)
		stop()
		return nil
	})
	require.NoError(t, err)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, got, 1)
	assert.Equal(t, "C02ABC", got[0].Metadata.MachineSerialNumber)
	assert.Equal(t, []string{"xnumon"}, got[0].Metadata.Tags)
}
