// internal/intake/guard.go
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionGuard serializes intake sessions per candidate and form: at most one
// session may hold the lease at a time. The TTL is a safety net for leases
// orphaned by a crash; normal sessions release explicitly.
type SessionGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionGuard(client *redis.Client, ttl time.Duration) *SessionGuard {
	return &SessionGuard{client: client, ttl: ttl}
}

func leaseKey(candidateID, formKey string) string {
	return fmt.Sprintf("intake:session:%s:%s", candidateID, formKey)
}

// Acquire takes the lease. It returns false when another session already
// holds it.
func (g *SessionGuard) Acquire(ctx context.Context, candidateID, formKey string) (bool, error) {
	ok, err := g.client.SetNX(ctx, leaseKey(candidateID, formKey), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire session lease: %w", err)
	}
	return ok, nil
}

// Release drops the lease. Safe to call when the lease already expired.
func (g *SessionGuard) Release(ctx context.Context, candidateID, formKey string) error {
	if err := g.client.Del(ctx, leaseKey(candidateID, formKey)).Err(); err != nil {
		return fmt.Errorf("release session lease: %w", err)
	}
	return nil
}
