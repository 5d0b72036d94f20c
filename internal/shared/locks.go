package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CloseLockKey builds redis keys for period/fiscal-year close critical sections.
func CloseLockKey(orgID, periodID uuid.UUID) string {
	return fmt.Sprintf("ledger:%s:close:%s", orgID, periodID)
}

// ErrLockHeld indicates another close attempt is in flight.
var ErrLockHeld = errors.New("close already in progress")

// CloseMutex serialises close attempts across processes via redis.
type CloseMutex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCloseMutex constructs a CloseMutex with the supplied TTL.
func NewCloseMutex(client *redis.Client, ttl time.Duration) *CloseMutex {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CloseMutex{client: client, ttl: ttl}
}

// Acquire takes the lock or returns ErrLockHeld. The returned release func
// is safe to call regardless of the outcome of the guarded work.
func (m *CloseMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if m == nil || m.client == nil {
		return func() {}, nil
	}
	ok, err := m.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), m.ttl).Result()
	if err != nil {
		return nil, Transient(err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		_ = m.client.Del(context.WithoutCancel(ctx), key).Err()
	}, nil
}
