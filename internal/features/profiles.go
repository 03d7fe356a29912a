package features

import (
	"strconv"

	"github.com/telcoguard/fraud-decision/internal/models"
)

// Profiles live in Redis as flat hashes keyed
// {prefix}:profile:{entity_type}:{entity_id}. The decoders below tolerate
// missing fields so a partially written profile degrades to zeros.

func parseInt(m map[string]string, field string) int64 {
	if v, ok := m[field]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func parseFloat(m map[string]string, field string) float64 {
	if v, ok := m[field]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

func parseBool(m map[string]string, field string) bool {
	return m[field] == "1" || m[field] == "true"
}

func decodeCardProfile(m map[string]string) models.CardProfile {
	return models.CardProfile{
		FirstSeenMs:       parseInt(m, "first_seen_ms"),
		LastSeenMs:        parseInt(m, "last_seen_ms"),
		TotalTransactions: parseInt(m, "total_transactions"),
		ChargebackCount:   parseInt(m, "chargeback_count"),
		LastGeoSeenMs:     parseInt(m, "last_geo_seen_ms"),
		LastGeoLat:        parseFloat(m, "last_geo_lat"),
		LastGeoLon:        parseFloat(m, "last_geo_lon"),
	}
}

func decodeDeviceProfile(m map[string]string) models.DeviceProfile {
	return models.DeviceProfile{
		FirstSeenMs:       parseInt(m, "first_seen_ms"),
		LastSeenMs:        parseInt(m, "last_seen_ms"),
		TotalTransactions: parseInt(m, "total_transactions"),
		ChargebackCount:   parseInt(m, "chargeback_count"),
		IsEmulator:        parseBool(m, "is_emulator"),
		IsRooted:          parseBool(m, "is_rooted"),
		LastCountry:       m["last_country"],
		LastCity:          m["last_city"],
	}
}

func decodeIPProfile(m map[string]string) models.IPProfile {
	return models.IPProfile{
		FirstSeenMs:       parseInt(m, "first_seen_ms"),
		LastSeenMs:        parseInt(m, "last_seen_ms"),
		TotalTransactions: parseInt(m, "total_transactions"),
		ChargebackCount:   parseInt(m, "chargeback_count"),
		IsDatacenter:      parseBool(m, "is_datacenter"),
		IsVPN:             parseBool(m, "is_vpn"),
		IsProxy:           parseBool(m, "is_proxy"),
		IsTor:             parseBool(m, "is_tor"),
		Country:           m["country"],
		Region:            m["region"],
		City:              m["city"],
	}
}

func decodeUserProfile(m map[string]string) models.UserProfile {
	tier := models.UserRiskTier(m["risk_tier"])
	if tier == "" {
		tier = models.TierNormal
	}
	return models.UserProfile{
		FirstSeenMs:        parseInt(m, "first_seen_ms"),
		LastSeenMs:         parseInt(m, "last_seen_ms"),
		TotalTransactions:  parseInt(m, "total_transactions"),
		ChargebackCount:    parseInt(m, "chargeback_count"),
		AccountAgeDays:     int(parseInt(m, "account_age_days")),
		RiskTier:           tier,
		Transactions30d:    parseInt(m, "transactions_30d"),
		TotalAmountCents:   parseInt(m, "total_amount_cents"),
		ChargebackCount90d: parseInt(m, "chargeback_count_90d"),
		RefundCount90d:     parseInt(m, "refund_count_90d"),
		AmountCount:        parseInt(m, "amount_count"),
		AmountMeanCents:    parseFloat(m, "amount_mean_cents"),
		AmountM2Cents:      parseFloat(m, "amount_m2_cents"),
	}
}

// WelfordUpdate advances running mean/variance statistics by one sample.
// count' = count+1; delta = x-mean; mean' = mean+delta/count';
// delta2 = x-mean'; m2' = m2 + delta*delta2.
func WelfordUpdate(count int64, mean, m2, x float64) (int64, float64, float64) {
	count++
	delta := x - mean
	mean += delta / float64(count)
	delta2 := x - mean
	m2 += delta * delta2
	return count, mean, m2
}

// riskTierFor derives a user's risk tier from recent dispute history.
// Tiers only escalate as chargebacks accumulate; decay happens when the
// 90-day counters expire with the profile.
func riskTierFor(chargebacks90d int64) models.UserRiskTier {
	switch {
	case chargebacks90d >= 3:
		return models.TierHigh
	case chargebacks90d == 2:
		return models.TierElevated
	default:
		return models.TierNormal
	}
}
