package store

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const DefaultSweepInterval = time.Hour

// SweepResult summarises one sweep pass.
type SweepResult struct {
	Scanned int
	Renewed int
	Lapsed  int
	Orphans int
}

// Sweeper periodically re-applies expiry to job and index keys that lack one
// and reports entries that have already lapsed. Reclamation itself is left to
// the backend's TTL; the sweeper never deletes anything.
type Sweeper struct {
	store    *JobStore
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the store's keys.
func NewSweeper(s *JobStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: s, interval: interval, logger: logger.With("component", "sweeper")}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		if _, err := sw.Sweep(ctx); err != nil && ctx.Err() == nil {
			sw.logger.Error("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs a single pass.
func (sw *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	kv := sw.store.kv

	for _, pattern := range []string{sw.store.JobPattern(), sw.store.IndexPattern()} {
		keys, err := kv.Scan(ctx, pattern)
		if err != nil {
			return res, err
		}
		for _, key := range keys {
			res.Scanned++
			ttl, err := kv.TTL(ctx, key)
			if errors.Is(err, ErrNotFound) {
				res.Lapsed++
				continue
			}
			if err != nil {
				return res, err
			}
			if ttl != NoExpiry {
				continue
			}
			ok, err := kv.Expire(ctx, key, sw.store.ttl)
			if err != nil {
				return res, err
			}
			if ok {
				res.Renewed++
				sw.logger.Warn("key had no expiry, renewed", "key", key, "ttl", sw.store.ttl)
			} else {
				res.Lapsed++
			}
		}
	}

	indexes, err := kv.Scan(ctx, sw.store.IndexPattern())
	if err != nil {
		return res, err
	}
	for _, idx := range indexes {
		members, err := kv.SMembers(ctx, idx)
		if err != nil {
			return res, err
		}
		for _, id := range members {
			if _, err := kv.TTL(ctx, sw.store.jobKey(id)); errors.Is(err, ErrNotFound) {
				res.Orphans++
			}
		}
	}

	sw.logger.Info("sweep complete",
		"scanned", res.Scanned,
		"renewed", res.Renewed,
		"lapsed", res.Lapsed,
		"orphans", res.Orphans)
	return res, nil
}
