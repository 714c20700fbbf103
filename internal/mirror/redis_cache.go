package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCacheInvalidator drops cached patient views after a reservation change.
type RedisCacheInvalidator struct {
	client redis.UniversalClient
	prefix string
}

var _ CacheInvalidator = (*RedisCacheInvalidator)(nil)

func NewRedisCacheInvalidator(client redis.UniversalClient, prefix string) *RedisCacheInvalidator {
	if client == nil {
		panic("mirror: redis client required")
	}
	if prefix == "" {
		prefix = "patient:"
	}
	return &RedisCacheInvalidator{client: client, prefix: prefix}
}

// Keys returns the cache keys held for patientID.
func (c *RedisCacheInvalidator) Keys(patientID string) []string {
	base := c.prefix + patientID
	return []string{base, base + ":reservation", base + ":mypage"}
}

func (c *RedisCacheInvalidator) Invalidate(ctx context.Context, patientID string) error {
	if patientID == "" {
		return errors.New("mirror: patient id required")
	}
	if err := c.client.Del(ctx, c.Keys(patientID)...).Err(); err != nil {
		return fmt.Errorf("mirror: invalidate patient %s: %w", patientID, err)
	}
	return nil
}
