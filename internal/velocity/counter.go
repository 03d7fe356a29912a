// Package velocity implements sliding-window counters over Redis sorted
// sets. One ZSET per (entity_type, entity_id, metric), scored by the event
// timestamp in milliseconds, serves both event velocity and distinct
// cardinality: event counters use a unique event id as the member, distinct
// counters use the distinct value itself so a re-add refreshes its
// last-seen timestamp.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/store"
)

// Window sizes shared across metrics.
const (
	Window10m = 10 * time.Minute
	Window1h  = time.Hour
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
	Window30d = 30 * 24 * time.Hour
)

// Metric names.
const (
	MetricAttempts         = "attempts"
	MetricAmounts          = "amounts"
	MetricDeclines         = "declines"
	MetricTransactions     = "transactions"
	MetricDistinctCards    = "distinct_cards"
	MetricDistinctDevices  = "distinct_devices"
	MetricDistinctIPs      = "distinct_ips"
	MetricDistinctUsers    = "distinct_users"
	MetricDistinctServices = "distinct_services"
)

// Store provides sliding-window counting over the KV client.
type Store struct {
	kv *store.KV
}

// NewStore creates a velocity store.
func NewStore(kv *store.KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) key(entityType models.EntityType, entityID, metric string) string {
	return s.kv.Key(string(entityType), entityID, metric)
}

// Increment adds (eventID, tsMs) to the counter and refreshes its TTL.
// Re-adding the same eventID is a no-op; the return value is 1 for a new
// member and 0 for a duplicate.
func (s *Store) Increment(ctx context.Context, entityType models.EntityType, entityID, metric, eventID string, tsMs int64, ttl time.Duration) (int64, error) {
	key := s.key(entityType, entityID, metric)
	added, err := s.kv.Client().ZAddNX(ctx, key, redis.Z{
		Score:  float64(tsMs),
		Member: eventID,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("velocity increment: %w", err)
	}
	if err := s.kv.Client().PExpire(ctx, key, ttl).Err(); err != nil {
		return added, fmt.Errorf("velocity ttl refresh: %w", err)
	}
	return added, nil
}

// Count returns the number of pairs with timestamp in [now-window, now].
func (s *Store) Count(ctx context.Context, entityType models.EntityType, entityID, metric string, window time.Duration) (int64, error) {
	key := s.key(entityType, entityID, metric)
	cutoff := time.Now().UnixMilli() - window.Milliseconds()
	n, err := s.kv.Client().ZCount(ctx, key, fmt.Sprintf("%d", cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("velocity count: %w", err)
	}
	return n, nil
}

// AddDistinct adds (value, tsMs) so that a later add of the same value
// moves its timestamp forward. Distinct counts therefore reflect
// last-seen-within-window semantics.
func (s *Store) AddDistinct(ctx context.Context, entityType models.EntityType, entityID, metric, value string, tsMs int64, ttl time.Duration) error {
	key := s.key(entityType, entityID, metric)
	if err := s.kv.Client().ZAdd(ctx, key, redis.Z{
		Score:  float64(tsMs),
		Member: value,
	}).Err(); err != nil {
		return fmt.Errorf("velocity add distinct: %w", err)
	}
	if err := s.kv.Client().PExpire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("velocity ttl refresh: %w", err)
	}
	return nil
}

// CountDistinct returns the number of distinct values last seen within the
// window.
func (s *Store) CountDistinct(ctx context.Context, entityType models.EntityType, entityID, metric string, window time.Duration) (int64, error) {
	return s.Count(ctx, entityType, entityID, metric, window)
}

// HasDistinct reports whether value's latest timestamp falls within the
// window.
func (s *Store) HasDistinct(ctx context.Context, entityType models.EntityType, entityID, metric, value string, window time.Duration) (bool, error) {
	key := s.key(entityType, entityID, metric)
	score, err := s.kv.Client().ZScore(ctx, key, value).Result()
	if err != nil {
		if store.IsMiss(err) {
			return false, nil
		}
		return false, fmt.Errorf("velocity has distinct: %w", err)
	}
	cutoff := time.Now().UnixMilli() - window.Milliseconds()
	return int64(score) >= cutoff, nil
}

// AddAmount records an event's amount by encoding it into the member as
// "{eventID}:{amountCents}". Windowed sums parse it back out, keeping
// amounts inside the same TTL-bounded dataset as every other metric.
func (s *Store) AddAmount(ctx context.Context, entityType models.EntityType, entityID, metric, eventID string, amountCents, tsMs int64, ttl time.Duration) error {
	member := fmt.Sprintf("%s:%d", eventID, amountCents)
	key := s.key(entityType, entityID, metric)
	if err := s.kv.Client().ZAddNX(ctx, key, redis.Z{
		Score:  float64(tsMs),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("velocity add amount: %w", err)
	}
	if err := s.kv.Client().PExpire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("velocity ttl refresh: %w", err)
	}
	return nil
}

// SumAmounts totals the amounts recorded by AddAmount within the window.
func (s *Store) SumAmounts(ctx context.Context, entityType models.EntityType, entityID, metric string, window time.Duration) (int64, error) {
	key := s.key(entityType, entityID, metric)
	cutoff := time.Now().UnixMilli() - window.Milliseconds()
	members, err := s.kv.Client().ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("velocity sum amounts: %w", err)
	}
	var total int64
	for _, m := range members {
		idx := strings.LastIndexByte(m, ':')
		if idx < 0 {
			continue
		}
		cents, err := strconv.ParseInt(m[idx+1:], 10, 64)
		if err != nil {
			continue
		}
		total += cents
	}
	return total, nil
}

// CleanupExpired removes pairs older than maxAge and returns the number
// deleted.
func (s *Store) CleanupExpired(ctx context.Context, entityType models.EntityType, entityID, metric string, maxAge time.Duration) (int64, error) {
	key := s.key(entityType, entityID, metric)
	cutoff := time.Now().UnixMilli() - maxAge.Milliseconds()
	removed, err := s.kv.Client().ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff)).Result()
	if err != nil {
		return 0, fmt.Errorf("velocity cleanup: %w", err)
	}
	return removed, nil
}
