// Package features composes velocity counters, entity profiles, and event
// fields into the feature snapshot consumed by scoring, and applies the
// post-decision profile updates.
package features

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/store"
	"github.com/telcoguard/fraud-decision/internal/velocity"
)

// Retention horizons. Velocity keys expire with the widest window they
// serve; profile keys follow the per-entity retention.
const (
	velocityTTL          = velocity.Window30d
	profileRetention     = 30 * 24 * time.Hour
	cardProfileRetention = 90 * 24 * time.Hour
)

var avsMatchCodes = map[string]bool{"Y": true, "M": true, "X": true, "D": true, "F": true}

// Store composes and maintains per-entity state.
type Store struct {
	vel *velocity.Store
	kv  *store.KV
}

// NewStore creates a feature store.
func NewStore(vel *velocity.Store, kv *store.KV) *Store {
	return &Store{vel: vel, kv: kv}
}

func (s *Store) profileKey(t models.EntityType, id string) string {
	return s.kv.Key("profile", string(t), id)
}

// ComputeFeatures builds the feature snapshot for an event. Individual
// lookup failures degrade the affected fields to zero values; the call
// itself never fails.
func (s *Store) ComputeFeatures(ctx context.Context, event *models.PaymentEvent) *models.FeatureSet {
	fs := &models.FeatureSet{}

	card := event.Card.Token
	device := event.Device.DeviceID
	ip := event.Geo.IPAddress
	user := event.Subscriber.UserID

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// Each goroutine owns a disjoint set of snapshot fields.
	run(func() { s.loadCardVelocity(ctx, card, fs) })
	run(func() { s.loadCardProfile(ctx, card, fs) })
	if device != "" {
		run(func() { s.loadDeviceVelocity(ctx, device, fs) })
		run(func() { s.loadDeviceProfile(ctx, device, fs) })
	}
	if ip != "" {
		run(func() { s.loadIPVelocity(ctx, ip, fs) })
		run(func() { s.loadIPProfile(ctx, ip, fs) })
	}
	var userProfile models.UserProfile
	if user != "" {
		run(func() { s.loadUserVelocity(ctx, user, fs) })
		run(func() { userProfile = s.loadUserProfile(ctx, user, fs) })
		run(func() { s.loadRelationships(ctx, user, card, device, fs) })
	}
	wg.Wait()

	// Event-level network flags fold into the profile-backed ones.
	fs.DeviceIsEmulator = fs.DeviceIsEmulator || event.Device.IsEmulator
	fs.DeviceIsRooted = fs.DeviceIsRooted || event.Device.IsRooted
	fs.IPIsVPN = fs.IPIsVPN || event.Geo.IsVPN
	fs.IPIsProxy = fs.IPIsProxy || event.Geo.IsProxy
	fs.IPIsDatacenter = fs.IPIsDatacenter || event.Geo.IsDatacenter
	fs.IPIsTor = fs.IPIsTor || event.Geo.IsTor

	s.deriveTransactionFeatures(event, fs, userProfile)
	return fs
}

func (s *Store) loadCardVelocity(ctx context.Context, card string, fs *models.FeatureSet) {
	fs.CardAttempts10m = s.count(ctx, models.EntityCard, card, velocity.MetricAttempts, velocity.Window10m)
	fs.CardAttempts1h = s.count(ctx, models.EntityCard, card, velocity.MetricAttempts, velocity.Window1h)
	fs.CardDeclines10m = s.count(ctx, models.EntityCard, card, velocity.MetricDeclines, velocity.Window10m)
	fs.CardDistinctDevices24h = s.count(ctx, models.EntityCard, card, velocity.MetricDistinctDevices, velocity.Window24h)
	fs.CardDistinctIPs24h = s.count(ctx, models.EntityCard, card, velocity.MetricDistinctIPs, velocity.Window24h)
	fs.CardDistinctMerchants24h = s.count(ctx, models.EntityCard, card, velocity.MetricDistinctServices, velocity.Window24h)
}

func (s *Store) loadDeviceVelocity(ctx context.Context, device string, fs *models.FeatureSet) {
	fs.DeviceDistinctCards1h = s.count(ctx, models.EntityDevice, device, velocity.MetricDistinctCards, velocity.Window1h)
	fs.DeviceDistinctCards24h = s.count(ctx, models.EntityDevice, device, velocity.MetricDistinctCards, velocity.Window24h)
}

func (s *Store) loadIPVelocity(ctx context.Context, ip string, fs *models.FeatureSet) {
	fs.IPDistinctCards1h = s.count(ctx, models.EntityIP, ip, velocity.MetricDistinctCards, velocity.Window1h)
}

func (s *Store) loadUserVelocity(ctx context.Context, user string, fs *models.FeatureSet) {
	fs.UserTransactions24h = s.count(ctx, models.EntityUser, user, velocity.MetricTransactions, velocity.Window24h)
	sum, err := s.vel.SumAmounts(ctx, models.EntityUser, user, velocity.MetricAmounts, velocity.Window24h)
	if err != nil {
		log.Debug().Err(err).Str("user_id", user).Msg("user amount sum degraded to zero")
		return
	}
	fs.UserAmount24hCents = sum
}

func (s *Store) count(ctx context.Context, t models.EntityType, id, metric string, w time.Duration) int64 {
	n, err := s.vel.Count(ctx, t, id, metric, w)
	if err != nil {
		log.Debug().Err(err).Str("entity", string(t)).Str("metric", metric).Msg("velocity lookup degraded to zero")
		return 0
	}
	return n
}

func (s *Store) loadCardProfile(ctx context.Context, card string, fs *models.FeatureSet) {
	m, err := s.kv.HGetAll(ctx, s.profileKey(models.EntityCard, card))
	if err != nil || len(m) == 0 {
		return
	}
	p := decodeCardProfile(m)
	fs.CardTxnCount = p.TotalTransactions
	fs.CardChargebackCount = p.ChargebackCount
	fs.CardLastGeoLat = p.LastGeoLat
	fs.CardLastGeoLon = p.LastGeoLon
	fs.CardLastGeoSeenMs = p.LastGeoSeenMs
}

func (s *Store) loadDeviceProfile(ctx context.Context, device string, fs *models.FeatureSet) {
	m, err := s.kv.HGetAll(ctx, s.profileKey(models.EntityDevice, device))
	if err != nil || len(m) == 0 {
		return
	}
	p := decodeDeviceProfile(m)
	fs.DeviceTxnCount = p.TotalTransactions
	fs.DeviceChargebackCount = p.ChargebackCount
	fs.DeviceIsEmulator = p.IsEmulator
	fs.DeviceIsRooted = p.IsRooted
}

func (s *Store) loadIPProfile(ctx context.Context, ip string, fs *models.FeatureSet) {
	m, err := s.kv.HGetAll(ctx, s.profileKey(models.EntityIP, ip))
	if err != nil || len(m) == 0 {
		return
	}
	p := decodeIPProfile(m)
	fs.IPIsVPN = p.IsVPN
	fs.IPIsProxy = p.IsProxy
	fs.IPIsDatacenter = p.IsDatacenter
	fs.IPIsTor = p.IsTor
}

func (s *Store) loadUserProfile(ctx context.Context, user string, fs *models.FeatureSet) models.UserProfile {
	m, err := s.kv.HGetAll(ctx, s.profileKey(models.EntityUser, user))
	if err != nil || len(m) == 0 {
		return models.UserProfile{RiskTier: models.TierNormal}
	}
	p := decodeUserProfile(m)
	fs.UserTxnCount = p.TotalTransactions
	fs.UserChargebackCount90 = p.ChargebackCount90d
	fs.UserRefundCount90 = p.RefundCount90d
	fs.UserRiskTier = p.RiskTier
	fs.UserAccountAgeDays = p.AccountAgeDays
	return p
}

func (s *Store) loadRelationships(ctx context.Context, user, card, device string, fs *models.FeatureSet) {
	if card != "" {
		ok, err := s.vel.HasDistinct(ctx, models.EntityUser, user, velocity.MetricDistinctCards, card, velocity.Window30d)
		if err == nil {
			fs.CardUserMatch = ok
		}
	}
	if device != "" {
		ok, err := s.vel.HasDistinct(ctx, models.EntityUser, user, velocity.MetricDistinctDevices, device, velocity.Window30d)
		if err == nil {
			fs.DeviceUserMatch = ok
		}
	}
}

func (s *Store) deriveTransactionFeatures(event *models.PaymentEvent, fs *models.FeatureSet, user models.UserProfile) {
	fs.AmountUSD = float64(event.AmountCents) / 100

	ts := event.Timestamp
	if event.Device.Timezone != "" {
		if loc, err := time.LoadLocation(event.Device.Timezone); err == nil {
			ts = ts.In(loc)
		}
	}
	fs.HourOfDay = ts.Hour()
	wd := ts.Weekday()
	fs.IsWeekend = wd == time.Saturday || wd == time.Sunday

	fs.AmountZScore = amountZScore(float64(event.AmountCents), user, fs)

	fs.IsNewCardForUser = !fs.CardUserMatch
	fs.IsNewDeviceForUser = !fs.DeviceUserMatch

	fs.AVSMatch = event.Verification.AVSResult == "" || avsMatchCodes[event.Verification.AVSResult]
	fs.CVVMatch = event.Verification.CVVResult == "" || event.Verification.CVVResult == "M"

	fs.HasDevice = event.Device.DeviceID != ""
	fs.HasGeo = event.Geo.IPAddress != "" || event.Geo.HasCoordinates()
	fs.HasVerification = event.Verification.AVSResult != "" ||
		event.Verification.CVVResult != "" || event.Verification.ThreeDS != ""

	if fs.UserRiskTier == "" {
		fs.UserRiskTier = models.TierNormal
	}
}

// amountZScore uses the user's Welford statistics when at least two samples
// exist, else falls back to the 24-hour average with std = max(mean, 1).
func amountZScore(amountCents float64, user models.UserProfile, fs *models.FeatureSet) float64 {
	var mean, std float64
	if user.AmountCount >= 2 {
		mean = user.AmountMeanCents
		std = math.Sqrt(user.AmountM2Cents / float64(user.AmountCount-1))
		if std <= 0 {
			std = 1
		}
	} else if fs.UserTransactions24h > 0 {
		mean = float64(fs.UserAmount24hCents) / float64(fs.UserTransactions24h)
		std = math.Max(mean, 1)
	} else {
		return 0
	}
	return round4((amountCents - mean) / std)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// UpdateEntityProfiles applies the post-decision state updates: velocity
// increments, profile hash refreshes, and TTL renewal. It runs after the
// response has been emitted and must never panic on partial failure.
func (s *Store) UpdateEntityProfiles(ctx context.Context, event *models.PaymentEvent, isDecline bool) {
	tsMs := event.Timestamp.UnixMilli()
	eventID := event.TransactionID

	card := event.Card.Token
	device := event.Device.DeviceID
	ip := event.Geo.IPAddress
	user := event.Subscriber.UserID
	service := event.Service.ID

	// Card counters and profile.
	s.incr(ctx, models.EntityCard, card, velocity.MetricAttempts, eventID, tsMs)
	if isDecline {
		s.incr(ctx, models.EntityCard, card, velocity.MetricDeclines, eventID, tsMs)
	} else {
		s.incr(ctx, models.EntityCard, card, velocity.MetricTransactions, eventID, tsMs)
	}
	if device != "" {
		s.distinct(ctx, models.EntityCard, card, velocity.MetricDistinctDevices, device, tsMs)
	}
	if ip != "" {
		s.distinct(ctx, models.EntityCard, card, velocity.MetricDistinctIPs, ip, tsMs)
	}
	if service != "" {
		s.distinct(ctx, models.EntityCard, card, velocity.MetricDistinctServices, service, tsMs)
	}
	s.updateCardProfile(ctx, event, tsMs)

	// Device counters and profile.
	if device != "" {
		s.distinct(ctx, models.EntityDevice, device, velocity.MetricDistinctCards, card, tsMs)
		s.updateDeviceProfile(ctx, event, tsMs)
	}

	// IP counters and profile.
	if ip != "" {
		s.distinct(ctx, models.EntityIP, ip, velocity.MetricDistinctCards, card, tsMs)
		s.updateIPProfile(ctx, event, tsMs)
	}

	// User counters and profile. Declined attempts do not feed the user's
	// transaction or spend history.
	if user != "" {
		if !isDecline {
			s.incr(ctx, models.EntityUser, user, velocity.MetricTransactions, eventID, tsMs)
			if err := s.vel.AddAmount(ctx, models.EntityUser, user, velocity.MetricAmounts, eventID, event.AmountCents, tsMs, velocityTTL); err != nil {
				log.Warn().Err(err).Str("user_id", user).Msg("amount tracking update failed")
			}
		}
		s.distinct(ctx, models.EntityUser, user, velocity.MetricDistinctCards, card, tsMs)
		if device != "" {
			s.distinct(ctx, models.EntityUser, user, velocity.MetricDistinctDevices, device, tsMs)
		}
		s.updateUserProfile(ctx, event, tsMs, isDecline)
	}

	// Service profile.
	if service != "" {
		s.updateServiceProfile(ctx, event, tsMs)
	}
}

func (s *Store) incr(ctx context.Context, t models.EntityType, id, metric, eventID string, tsMs int64) {
	if id == "" {
		return
	}
	if _, err := s.vel.Increment(ctx, t, id, metric, eventID, tsMs, velocityTTL); err != nil {
		log.Warn().Err(err).Str("entity", string(t)).Str("metric", metric).Msg("velocity update failed")
	}
}

func (s *Store) distinct(ctx context.Context, t models.EntityType, id, metric, value string, tsMs int64) {
	if id == "" || value == "" {
		return
	}
	if err := s.vel.AddDistinct(ctx, t, id, metric, value, tsMs, velocityTTL); err != nil {
		log.Warn().Err(err).Str("entity", string(t)).Str("metric", metric).Msg("distinct update failed")
	}
}

func (s *Store) touchProfile(ctx context.Context, key string, tsMs int64, retention time.Duration) {
	_ = s.kv.HSetNX(ctx, key, "first_seen_ms", tsMs)
	_ = s.kv.HSet(ctx, key, map[string]interface{}{"last_seen_ms": tsMs})
	if _, err := s.kv.HIncrBy(ctx, key, "total_transactions", 1); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("profile update failed")
	}
	_ = s.kv.Expire(ctx, key, retention)
}

func (s *Store) updateCardProfile(ctx context.Context, event *models.PaymentEvent, tsMs int64) {
	key := s.profileKey(models.EntityCard, event.Card.Token)
	s.touchProfile(ctx, key, tsMs, cardProfileRetention)
	if event.Geo.HasCoordinates() {
		_ = s.kv.HSet(ctx, key, map[string]interface{}{
			"last_geo_seen_ms": tsMs,
			"last_geo_lat":     event.Geo.Latitude,
			"last_geo_lon":     event.Geo.Longitude,
		})
	}
}

func (s *Store) updateDeviceProfile(ctx context.Context, event *models.PaymentEvent, tsMs int64) {
	key := s.profileKey(models.EntityDevice, event.Device.DeviceID)
	s.touchProfile(ctx, key, tsMs, profileRetention)
	fields := map[string]interface{}{}
	// Risk flags are sticky: once a device reports as an emulator it stays
	// flagged until the profile expires.
	if event.Device.IsEmulator {
		fields["is_emulator"] = "1"
	}
	if event.Device.IsRooted {
		fields["is_rooted"] = "1"
	}
	if event.Geo.Country != "" {
		fields["last_country"] = event.Geo.Country
	}
	if event.Geo.City != "" {
		fields["last_city"] = event.Geo.City
	}
	if len(fields) > 0 {
		_ = s.kv.HSet(ctx, key, fields)
	}
}

func (s *Store) updateIPProfile(ctx context.Context, event *models.PaymentEvent, tsMs int64) {
	key := s.profileKey(models.EntityIP, event.Geo.IPAddress)
	s.touchProfile(ctx, key, tsMs, profileRetention)
	fields := map[string]interface{}{}
	if event.Geo.IsDatacenter {
		fields["is_datacenter"] = "1"
	}
	if event.Geo.IsVPN {
		fields["is_vpn"] = "1"
	}
	if event.Geo.IsProxy {
		fields["is_proxy"] = "1"
	}
	if event.Geo.IsTor {
		fields["is_tor"] = "1"
	}
	if event.Geo.Country != "" {
		fields["country"] = event.Geo.Country
	}
	if event.Geo.Region != "" {
		fields["region"] = event.Geo.Region
	}
	if event.Geo.City != "" {
		fields["city"] = event.Geo.City
	}
	if len(fields) > 0 {
		_ = s.kv.HSet(ctx, key, fields)
	}
}

func (s *Store) updateUserProfile(ctx context.Context, event *models.PaymentEvent, tsMs int64, isDecline bool) {
	key := s.profileKey(models.EntityUser, event.Subscriber.UserID)
	s.touchProfile(ctx, key, tsMs, profileRetention)

	fields := map[string]interface{}{}
	if event.Subscriber.AccountAgeDays > 0 {
		fields["account_age_days"] = event.Subscriber.AccountAgeDays
	}

	if !isDecline {
		// Welford update is read-compute-write; concurrent writers for
		// the same user may race and produce approximate statistics.
		// Accepted.
		m, err := s.kv.HGetAll(ctx, key)
		if err == nil {
			p := decodeUserProfile(m)
			count, mean, m2 := WelfordUpdate(p.AmountCount, p.AmountMeanCents, p.AmountM2Cents, float64(event.AmountCents))
			fields["amount_count"] = count
			fields["amount_mean_cents"] = mean
			fields["amount_m2_cents"] = m2
		}
		if _, err := s.kv.HIncrBy(ctx, key, "total_amount_cents", event.AmountCents); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("profile amount update failed")
		}
	}

	if n, err := s.vel.Count(ctx, models.EntityUser, event.Subscriber.UserID, velocity.MetricTransactions, velocity.Window30d); err == nil {
		fields["transactions_30d"] = n
	}

	_ = s.kv.HSet(ctx, key, fields)
}

func (s *Store) updateServiceProfile(ctx context.Context, event *models.PaymentEvent, tsMs int64) {
	key := s.profileKey(models.EntityService, event.Service.ID)
	s.touchProfile(ctx, key, tsMs, profileRetention)
	if event.Service.Name != "" {
		_ = s.kv.HSet(ctx, key, map[string]interface{}{"service_name": event.Service.Name})
	}
}

// ApplyChargebackLabel increments the dispute counters on the card and user
// profiles and re-derives the user's risk tier.
func (s *Store) ApplyChargebackLabel(ctx context.Context, cardToken, userID string) error {
	if cardToken != "" {
		key := s.profileKey(models.EntityCard, cardToken)
		if _, err := s.kv.HIncrBy(ctx, key, "chargeback_count", 1); err != nil {
			return err
		}
		_ = s.kv.Expire(ctx, key, cardProfileRetention)
	}
	if userID != "" {
		key := s.profileKey(models.EntityUser, userID)
		if _, err := s.kv.HIncrBy(ctx, key, "chargeback_count", 1); err != nil {
			return err
		}
		cb90, err := s.kv.HIncrBy(ctx, key, "chargeback_count_90d", 1)
		if err != nil {
			return err
		}
		_ = s.kv.HSet(ctx, key, map[string]interface{}{"risk_tier": string(riskTierFor(cb90))})
		_ = s.kv.Expire(ctx, key, profileRetention)
	}
	return nil
}

// ApplyRefundLabel increments the user's 90-day refund counter.
func (s *Store) ApplyRefundLabel(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	key := s.profileKey(models.EntityUser, userID)
	if _, err := s.kv.HIncrBy(ctx, key, "refund_count_90d", 1); err != nil {
		return err
	}
	_ = s.kv.Expire(ctx, key, profileRetention)
	return nil
}
