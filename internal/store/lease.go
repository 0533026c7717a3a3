package store

import (
	"context"
	"fmt"
	"time"
)

// Lease marks a job as owned by one orchestrator. It expires on its own if
// the holder dies without releasing it.
type Lease struct {
	store  *JobStore
	key    string
	holder []byte
	ttl    time.Duration
}

// AcquireLease claims jobID for holder. It returns nil when another holder
// already owns the job.
func (s *JobStore) AcquireLease(ctx context.Context, jobID, holder string, ttl time.Duration) (*Lease, error) {
	key := s.leaseKey(jobID)
	ok, err := s.kv.SetNX(ctx, key, []byte(holder), ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", jobID, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{store: s, key: key, holder: []byte(holder), ttl: ttl}, nil
}

// Renew extends the lease. It returns false when the lease was lost.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	ok, err := l.store.kv.CompareAndExpire(ctx, l.key, l.holder, l.ttl)
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lease if it is still held.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.store.kv.CompareAndDelete(ctx, l.key, l.holder); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// TTL returns the lease lifetime.
func (l *Lease) TTL() time.Duration { return l.ttl }
