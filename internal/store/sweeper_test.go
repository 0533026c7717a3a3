package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_RenewsKeysWithoutExpiry(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := mk()
			s := NewJobStore(b.kv, Options{TTL: time.Hour})
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))

			require.NoError(t, s.Set(ctx, testJob("healthy", "owner", time.Now(), "a.png")))

			// Written by something that forgot the TTL.
			raw, err := json.Marshal(testJob("legacy", "", time.Now(), "b.png"))
			require.NoError(t, err)
			require.NoError(t, b.kv.Set(ctx, s.jobKey("legacy"), raw, 0))

			// Index entry pointing at a job that no longer exists.
			require.NoError(t, b.kv.SAdd(ctx, s.userKey("owner"), "gone", time.Hour))

			res, err := NewSweeper(s, time.Minute, logger).Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, res.Scanned)
			assert.Equal(t, 1, res.Renewed)
			assert.Equal(t, 1, res.Orphans)

			ttl, err := b.kv.TTL(ctx, s.jobKey("legacy"))
			require.NoError(t, err)
			assert.Greater(t, ttl, time.Duration(0))

			// Nothing was deleted.
			got, err := s.Get(ctx, "legacy")
			require.NoError(t, err)
			assert.NotNil(t, got)
			members, err := b.kv.SMembers(ctx, s.userKey("owner"))
			require.NoError(t, err)
			assert.Contains(t, members, "gone")

			res, err = NewSweeper(s, time.Minute, logger).Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, res.Renewed)
		})
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	s := NewJobStore(NewMemoryKV(), Options{})
	sw := NewSweeper(s, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
