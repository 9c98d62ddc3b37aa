package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThrottleRepository tracks per-account password-reset request counts in
// Redis so a mailbox cannot be flooded with codes.
type ThrottleRepository struct {
	client *redis.Client
	window time.Duration
}

// NewThrottleRepository constructs a throttle repository.
func NewThrottleRepository(client *redis.Client, window time.Duration) *ThrottleRepository {
	return &ThrottleRepository{client: client, window: window}
}

// IncrResetRequests bumps the reset-request counter for the email and
// returns the new count within the current window. The key holds a hash of
// the email rather than the address itself.
func (r *ThrottleRepository) IncrResetRequests(ctx context.Context, email string) (int64, error) {
	if r == nil || r.client == nil {
		return 0, nil
	}

	key := resetRequestKey(email)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return count, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return count, nil
}

func resetRequestKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "reset_requests:" + hex.EncodeToString(sum[:8])
}
