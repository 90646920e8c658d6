package posstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racketlab/sensorfleet/internal/position"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "positions.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	require.NoError(t, s.Put(ctx, "aa:bb:cc:01", position.LeftShoe, now))

	e, err := s.Get(ctx, "aa:bb:cc:01")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:01", e.DeviceID)
	assert.Equal(t, position.LeftShoe, e.Position)
	assert.InDelta(t, now.Unix(), e.LastSeen, 1)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no:such:device")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := time.Now().Add(-time.Hour)
	require.NoError(t, s.Put(ctx, "aa:bb:cc:02", position.Racket, first))

	// Second put with the same position only refreshes the timestamp
	later := time.Now()
	require.NoError(t, s.Put(ctx, "aa:bb:cc:02", position.Racket, later))

	e, err := s.Get(ctx, "aa:bb:cc:02")
	require.NoError(t, err)
	assert.Equal(t, position.Racket, e.Position)
	assert.InDelta(t, later.Unix(), e.LastSeen, 1)

	entries, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "positions.db")

	s := New(dbPath)
	require.NoError(t, s.Put(ctx, "aa:bb:cc:03", position.RightShoe, time.Now()))
	require.NoError(t, s.Close())

	// Simulated process restart
	s2 := New(dbPath)
	defer s2.Close()

	e, err := s2.Get(ctx, "aa:bb:cc:03")
	require.NoError(t, err)
	assert.Equal(t, position.RightShoe, e.Position)
}

func TestListAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	require.NoError(t, s.Put(ctx, "dev-b", position.RightShoe, now))
	require.NoError(t, s.Put(ctx, "dev-a", position.LeftShoe, now))

	entries, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dev-a", entries[0].DeviceID)
	assert.Equal(t, "dev-b", entries[1].DeviceID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "dev-x", position.Racket, time.Now()))
	require.NoError(t, s.Delete(ctx, "dev-x"))

	_, err := s.Get(ctx, "dev-x")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error
	assert.NoError(t, s.Delete(ctx, "dev-x"))
}

func TestPruneOlderThan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stale := time.Now().Add(-31 * 24 * time.Hour)
	fresh := time.Now().Add(-time.Hour)

	require.NoError(t, s.Put(ctx, "stale-device", position.LeftShoe, stale))
	require.NoError(t, s.Put(ctx, "fresh-device", position.RightShoe, fresh))

	removed, err := s.PruneOlderThan(ctx, 30*24*time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, "stale-device")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "fresh-device")
	assert.NoError(t, err)
}

func TestPruneKeepsConnectedDevices(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stale := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, s.Put(ctx, "connected-stale", position.LeftShoe, stale))
	require.NoError(t, s.Put(ctx, "idle-stale", position.RightShoe, stale))

	removed, err := s.PruneOlderThan(ctx, 30*24*time.Hour, map[string]bool{"connected-stale": true})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Connected device survives despite the stale timestamp
	e, err := s.Get(ctx, "connected-stale")
	require.NoError(t, err)
	assert.Equal(t, position.LeftShoe, e.Position)

	_, err = s.Get(ctx, "idle-stale")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(context.Background(), "d", position.LeftShoe, time.Now()))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
