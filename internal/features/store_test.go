package features_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcoguard/fraud-decision/internal/features"
	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/store"
	"github.com/telcoguard/fraud-decision/internal/velocity"
)

func newStore(t *testing.T) *features.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := store.NewKVWithClient(client, "test")
	return features.NewStore(velocity.NewStore(kv), kv)
}

func testEvent(txnID string) *models.PaymentEvent {
	e := &models.PaymentEvent{
		TransactionID:  txnID,
		IdempotencyKey: "idem-" + txnID,
		AmountCents:    4999,
		Currency:       "USD",
		Timestamp:      time.Now().UTC(),
		Card:           models.CardInfo{Token: "tok_abc"},
		Service:        models.ServiceInfo{ID: "svc-1", Type: models.ServiceMobile, Subtype: models.SubtypeTopup},
		Subscriber:     models.SubscriberInfo{UserID: "user-1"},
		Device:         models.DeviceInfo{DeviceID: "dev-1"},
		Geo:            models.GeoInfo{IPAddress: "10.0.0.1", Country: "US"},
	}
	e.Normalize()
	return e
}

func TestComputeFeatures_ColdStart(t *testing.T) {
	s := newStore(t)
	event := testEvent("txn-1")

	fs := s.ComputeFeatures(context.Background(), event)

	assert.Zero(t, fs.CardAttempts10m)
	assert.Zero(t, fs.UserTransactions24h)
	assert.False(t, fs.CardUserMatch)
	assert.True(t, fs.IsNewCardForUser)
	assert.True(t, fs.IsNewDeviceForUser)
	assert.Equal(t, models.TierNormal, fs.UserRiskTier)
	assert.Equal(t, 49.99, fs.AmountUSD)
	assert.Zero(t, fs.AmountZScore, "no history means no z-score")
	assert.True(t, fs.HasDevice)
	assert.True(t, fs.HasGeo)
	assert.False(t, fs.HasVerification)
}

func TestUpdateThenCompute_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := testEvent(fmt.Sprintf("txn-%d", i))
		s.UpdateEntityProfiles(ctx, e, false)
	}

	fs := s.ComputeFeatures(ctx, testEvent("txn-next"))

	assert.Equal(t, int64(3), fs.CardAttempts10m)
	assert.Equal(t, int64(3), fs.UserTransactions24h)
	assert.Equal(t, int64(3*4999), fs.UserAmount24hCents)
	assert.Equal(t, int64(3), fs.CardTxnCount)
	assert.Equal(t, int64(3), fs.UserTxnCount)
	assert.Equal(t, int64(1), fs.CardDistinctDevices24h)
	assert.Equal(t, int64(1), fs.DeviceDistinctCards24h)
	assert.True(t, fs.CardUserMatch, "user has used this card")
	assert.True(t, fs.DeviceUserMatch, "user has used this device")
	assert.False(t, fs.IsNewCardForUser)
}

func TestUpdateEntityProfiles_DeclineCountsSeparately(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.UpdateEntityProfiles(ctx, testEvent("txn-ok"), false)
	declined := testEvent("txn-bad")
	s.UpdateEntityProfiles(ctx, declined, true)

	fs := s.ComputeFeatures(ctx, testEvent("txn-next"))
	assert.Equal(t, int64(2), fs.CardAttempts10m, "declines still count as attempts")
	assert.Equal(t, int64(1), fs.CardDeclines10m)
	assert.Equal(t, int64(1), fs.UserTransactions24h, "declines are not user transactions")
}

func TestComputeFeatures_EmulatorFlagIsSticky(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	flagged := testEvent("txn-1")
	flagged.Device.IsEmulator = true
	s.UpdateEntityProfiles(ctx, flagged, false)

	// Later event from the same device without the flag set.
	clean := testEvent("txn-2")
	fs := s.ComputeFeatures(ctx, clean)
	assert.True(t, fs.DeviceIsEmulator, "profile flag persists across events")
}

func TestComputeFeatures_AmountZScoreFromWelford(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Establish a stable spend pattern near $50.
	for i, cents := range []int64{4800, 5000, 5200, 4900, 5100} {
		e := testEvent(fmt.Sprintf("txn-%d", i))
		e.AmountCents = cents
		s.UpdateEntityProfiles(ctx, e, false)
	}

	spike := testEvent("txn-spike")
	spike.AmountCents = 50000
	fs := s.ComputeFeatures(ctx, spike)
	assert.Greater(t, fs.AmountZScore, 3.0, "a 10x spend spike must stand out")

	typical := testEvent("txn-typical")
	typical.AmountCents = 5000
	fs = s.ComputeFeatures(ctx, typical)
	assert.InDelta(t, 0, fs.AmountZScore, 1.0)
}

func TestApplyChargebackLabel_EscalatesRiskTier(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.UpdateEntityProfiles(ctx, testEvent("txn-1"), false)

	require.NoError(t, s.ApplyChargebackLabel(ctx, "tok_abc", "user-1"))
	fs := s.ComputeFeatures(ctx, testEvent("txn-2"))
	assert.Equal(t, int64(1), fs.UserChargebackCount90)
	assert.Equal(t, models.TierNormal, fs.UserRiskTier)
	assert.Equal(t, int64(1), fs.CardChargebackCount)

	require.NoError(t, s.ApplyChargebackLabel(ctx, "tok_abc", "user-1"))
	fs = s.ComputeFeatures(ctx, testEvent("txn-3"))
	assert.Equal(t, models.TierElevated, fs.UserRiskTier)

	require.NoError(t, s.ApplyChargebackLabel(ctx, "tok_abc", "user-1"))
	fs = s.ComputeFeatures(ctx, testEvent("txn-4"))
	assert.Equal(t, models.TierHigh, fs.UserRiskTier)
}

func TestApplyRefundLabel(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyRefundLabel(ctx, "user-1"))
	require.NoError(t, s.ApplyRefundLabel(ctx, "user-1"))

	fs := s.ComputeFeatures(context.Background(), testEvent("txn-1"))
	assert.Equal(t, int64(2), fs.UserRefundCount90)
}

func TestComputeFeatures_VerificationMatches(t *testing.T) {
	s := newStore(t)

	e := testEvent("txn-1")
	e.Verification = models.VerificationInfo{AVSResult: "N", CVVResult: "N"}
	fs := s.ComputeFeatures(context.Background(), e)
	assert.False(t, fs.AVSMatch)
	assert.False(t, fs.CVVMatch)
	assert.True(t, fs.HasVerification)

	e.Verification = models.VerificationInfo{AVSResult: "Y", CVVResult: "M"}
	fs = s.ComputeFeatures(context.Background(), e)
	assert.True(t, fs.AVSMatch)
	assert.True(t, fs.CVVMatch)

	// Absent results are treated as matches rather than mismatches.
	e.Verification = models.VerificationInfo{}
	fs = s.ComputeFeatures(context.Background(), e)
	assert.True(t, fs.AVSMatch)
	assert.True(t, fs.CVVMatch)
	assert.False(t, fs.HasVerification)
}
