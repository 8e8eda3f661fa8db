package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/metrics"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
)

func newTestRegistry(ttl time.Duration) (*Registry, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(testBuilder(newFakeBackend(), profiles.NewMemoryStore()), ttl, logging.Nop{})
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)

	b, err := r.Create(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, b.ID)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConsoleSessions))

	got, ok := r.Get(b.ID)
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	r.Remove(b.ID)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ConsoleSessions))

	r.Remove(b.ID)
}

func TestRegistry_CreateBuilderError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(func(context.Context, string) (*Bundle, error) { return nil, boom }, time.Minute, logging.Nop{})

	_, err := r.Create(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	r, now := newTestRegistry(10 * time.Minute)

	idle, err := r.Create(context.Background())
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)
	active, err := r.Create(context.Background())
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)
	_, ok := r.Get(active.ID)
	require.True(t, ok)

	assert.Equal(t, 1, r.Sweep())
	_, ok = r.Get(idle.ID)
	assert.False(t, ok)
	_, ok = r.Get(active.ID)
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConsoleSessions))
}

func TestRegistry_RunClosesOnCancel(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	_, err := r.Create(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("registry loop did not stop")
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SweepSkipsHeldBundle(t *testing.T) {
	r, now := newTestRegistry(10 * time.Minute)

	b, err := r.Create(context.Background())
	require.NoError(t, err)

	got, ok := r.Acquire(b.ID)
	require.True(t, ok)
	assert.Same(t, b, got)

	*now = now.Add(time.Hour)
	assert.Equal(t, 0, r.Sweep())
	assert.Equal(t, 1, r.Len())

	r.Release(b)
	assert.Equal(t, 0, r.Sweep(), "release counts as use")

	*now = now.Add(time.Hour)
	assert.Equal(t, 1, r.Sweep())
	_, ok = r.Get(b.ID)
	assert.False(t, ok)
}

func TestRegistry_AcquireNewIsHeld(t *testing.T) {
	r, now := newTestRegistry(time.Minute)

	b, err := r.AcquireNew(context.Background())
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	assert.Equal(t, 0, r.Sweep())

	r.Release(b)
	*now = now.Add(time.Hour)
	assert.Equal(t, 1, r.Sweep())
}
