package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luminafin/campaigner/internal/domain"
)

// ErrMiss is returned when a staged page or readiness flag is absent,
// whether never written or already expired.
var ErrMiss = errors.New("staging cache miss")

// Cache stores serialized payload pages under stage:{bucket}:{page} and a
// per-bucket readiness flag under stage:{bucket}:ready, all with a common TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func pageKey(bucket string, page int) string {
	return fmt.Sprintf("stage:%s:%d", bucket, page)
}

func readyKey(bucket string) string {
	return fmt.Sprintf("stage:%s:ready", bucket)
}

// Put stages one constructed page, overwriting any previous blob for the
// same bucket and page.
func (c *Cache) Put(ctx context.Context, bucket string, page int, batch *domain.PayloadBatch) error {
	blob, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal staged page: %w", err)
	}
	if err := c.client.Set(ctx, pageKey(bucket, page), blob, c.ttl).Err(); err != nil {
		return fmt.Errorf("stage page %s/%d: %w", bucket, page, err)
	}
	return nil
}

// Get fetches a staged page. Returns ErrMiss when the key is gone.
func (c *Cache) Get(ctx context.Context, bucket string, page int) (*domain.PayloadBatch, error) {
	blob, err := c.client.Get(ctx, pageKey(bucket, page)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s page %d", ErrMiss, bucket, page)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch staged page %s/%d: %w", bucket, page, err)
	}
	var batch domain.PayloadBatch
	if err := json.Unmarshal(blob, &batch); err != nil {
		return nil, fmt.Errorf("decode staged page %s/%d: %w", bucket, page, err)
	}
	return &batch, nil
}

// MarkReady flags the bucket as fully staged for dispatch.
func (c *Cache) MarkReady(ctx context.Context, bucket string) error {
	if err := c.client.Set(ctx, readyKey(bucket), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("mark %s ready: %w", bucket, err)
	}
	return nil
}

// IsReady reports whether the bucket's readiness flag is still live.
func (c *Cache) IsReady(ctx context.Context, bucket string) (bool, error) {
	_, err := c.client.Get(ctx, readyKey(bucket)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s readiness: %w", bucket, err)
	}
	return true, nil
}

// Drop removes a staged page after successful dispatch so an expired-but-
// partially-sent bucket cannot be replayed from stale blobs.
func (c *Cache) Drop(ctx context.Context, bucket string, page int) error {
	if err := c.client.Del(ctx, pageKey(bucket, page)).Err(); err != nil {
		return fmt.Errorf("drop staged page %s/%d: %w", bucket, page, err)
	}
	return nil
}
