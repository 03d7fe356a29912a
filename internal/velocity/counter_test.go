package velocity_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/store"
	"github.com/telcoguard/fraud-decision/internal/velocity"
)

func newStore(t *testing.T) *velocity.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return velocity.NewStore(store.NewKVWithClient(client, "test"))
}

func TestIncrement_DeduplicatesEventID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	added, err := s.Increment(ctx, models.EntityCard, "C1", velocity.MetricAttempts, "evt-1", now, velocity.Window30d)
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	added, err = s.Increment(ctx, models.EntityCard, "C1", velocity.MetricAttempts, "evt-1", now+5000, velocity.Window30d)
	require.NoError(t, err)
	assert.Equal(t, int64(0), added, "same event id must count once")

	count, err := s.Count(ctx, models.EntityCard, "C1", velocity.MetricAttempts, velocity.Window1h)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCount_RespectsWindow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	// Three recent events, two outside the 10 minute window.
	for i, age := range []time.Duration{time.Minute, 5 * time.Minute, 9 * time.Minute, 20 * time.Minute, 2 * time.Hour} {
		_, err := s.Increment(ctx, models.EntityCard, "C2", velocity.MetricAttempts,
			fmt.Sprintf("evt-%d", i), now-age.Milliseconds(), velocity.Window30d)
		require.NoError(t, err)
	}

	count, err := s.Count(ctx, models.EntityCard, "C2", velocity.MetricAttempts, velocity.Window10m)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = s.Count(ctx, models.EntityCard, "C2", velocity.MetricAttempts, velocity.Window24h)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestAddDistinct_RefreshesTimestamp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	old := now - (2 * velocity.Window24h).Milliseconds()

	require.NoError(t, s.AddDistinct(ctx, models.EntityDevice, "D1", velocity.MetricDistinctCards, "card-a", old, velocity.Window30d))

	n, err := s.CountDistinct(ctx, models.EntityDevice, "D1", velocity.MetricDistinctCards, velocity.Window24h)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Seeing the same card again moves it into the window.
	require.NoError(t, s.AddDistinct(ctx, models.EntityDevice, "D1", velocity.MetricDistinctCards, "card-a", now, velocity.Window30d))

	n, err = s.CountDistinct(ctx, models.EntityDevice, "D1", velocity.MetricDistinctCards, velocity.Window24h)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHasDistinct(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	ok, err := s.HasDistinct(ctx, models.EntityUser, "U1", velocity.MetricDistinctCards, "card-a", velocity.Window30d)
	require.NoError(t, err)
	assert.False(t, ok, "unseen value")

	require.NoError(t, s.AddDistinct(ctx, models.EntityUser, "U1", velocity.MetricDistinctCards, "card-a", now, velocity.Window30d))

	ok, err = s.HasDistinct(ctx, models.EntityUser, "U1", velocity.MetricDistinctCards, "card-a", velocity.Window30d)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasDistinct(ctx, models.EntityUser, "U1", velocity.MetricDistinctCards, "card-a", time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "outside window")
}

func TestCleanupExpired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for i := 0; i < 4; i++ {
		_, err := s.Increment(ctx, models.EntityIP, "1.2.3.4", velocity.MetricAttempts,
			fmt.Sprintf("evt-%d", i), now-int64(i)*velocity.Window7d.Milliseconds(), velocity.Window30d)
		require.NoError(t, err)
	}

	removed, err := s.CleanupExpired(ctx, models.EntityIP, "1.2.3.4", velocity.MetricAttempts, velocity.Window7d)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	count, err := s.Count(ctx, models.EntityIP, "1.2.3.4", velocity.MetricAttempts, velocity.Window30d)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDistinctCountNeverExceedsEventCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	// Five events from two distinct cards on the same device.
	for i := 0; i < 5; i++ {
		card := "card-a"
		if i%2 == 0 {
			card = "card-b"
		}
		_, err := s.Increment(ctx, models.EntityDevice, "D2", velocity.MetricAttempts,
			fmt.Sprintf("evt-%d", i), now, velocity.Window30d)
		require.NoError(t, err)
		require.NoError(t, s.AddDistinct(ctx, models.EntityDevice, "D2", velocity.MetricDistinctCards, card, now, velocity.Window30d))
	}

	events, err := s.Count(ctx, models.EntityDevice, "D2", velocity.MetricAttempts, velocity.Window1h)
	require.NoError(t, err)
	distinct, err := s.CountDistinct(ctx, models.EntityDevice, "D2", velocity.MetricDistinctCards, velocity.Window1h)
	require.NoError(t, err)
	assert.LessOrEqual(t, distinct, events)
	assert.Equal(t, int64(2), distinct)
}
