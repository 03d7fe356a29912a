// Package ml routes requests across model variants and scores them with
// trained artifacts loaded from a file-backed registry.
package ml

import (
	"encoding/json"
	"fmt"

	"github.com/telcoguard/fraud-decision/internal/models"
)

// FeatureColumns is the canonical feature vector layout. Training, live
// scoring, and offline extraction from evidence snapshots all depend on
// this exact order; append-only.
var FeatureColumns = []string{
	"card_attempts_10m",
	"card_attempts_1h",
	"card_declines_10m",
	"card_distinct_devices_24h",
	"card_distinct_ips_24h",
	"card_distinct_merchants_24h",
	"device_distinct_cards_1h",
	"device_distinct_cards_24h",
	"ip_distinct_cards_1h",
	"user_transactions_24h",
	"user_amount_24h_cents",
	"card_txn_count",
	"card_chargeback_count",
	"device_txn_count",
	"device_chargeback_count",
	"user_txn_count",
	"user_chargeback_count_90d",
	"user_refund_count_90d",
	"user_account_age_days",
	"device_is_emulator",
	"device_is_rooted",
	"ip_is_vpn",
	"ip_is_proxy",
	"ip_is_datacenter",
	"ip_is_tor",
	"card_user_match",
	"device_user_match",
	"is_new_card_for_user",
	"is_new_device_for_user",
	"amount_usd",
	"amount_zscore",
	"hour_of_day",
	"is_weekend",
	"avs_match",
	"cvv_match",
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// VectorFromFeatures coerces a feature snapshot into the fixed-order
// numeric vector. Booleans map to {0,1}; absent values are zero.
func VectorFromFeatures(fs *models.FeatureSet) []float64 {
	return []float64{
		float64(fs.CardAttempts10m),
		float64(fs.CardAttempts1h),
		float64(fs.CardDeclines10m),
		float64(fs.CardDistinctDevices24h),
		float64(fs.CardDistinctIPs24h),
		float64(fs.CardDistinctMerchants24h),
		float64(fs.DeviceDistinctCards1h),
		float64(fs.DeviceDistinctCards24h),
		float64(fs.IPDistinctCards1h),
		float64(fs.UserTransactions24h),
		float64(fs.UserAmount24hCents),
		float64(fs.CardTxnCount),
		float64(fs.CardChargebackCount),
		float64(fs.DeviceTxnCount),
		float64(fs.DeviceChargebackCount),
		float64(fs.UserTxnCount),
		float64(fs.UserChargebackCount90),
		float64(fs.UserRefundCount90),
		float64(fs.UserAccountAgeDays),
		b2f(fs.DeviceIsEmulator),
		b2f(fs.DeviceIsRooted),
		b2f(fs.IPIsVPN),
		b2f(fs.IPIsProxy),
		b2f(fs.IPIsDatacenter),
		b2f(fs.IPIsTor),
		b2f(fs.CardUserMatch),
		b2f(fs.DeviceUserMatch),
		b2f(fs.IsNewCardForUser),
		b2f(fs.IsNewDeviceForUser),
		fs.AmountUSD,
		fs.AmountZScore,
		float64(fs.HourOfDay),
		b2f(fs.IsWeekend),
		b2f(fs.AVSMatch),
		b2f(fs.CVVMatch),
	}
}

// VectorFromSnapshot rebuilds the vector from a persisted evidence
// snapshot. Given the same inputs it produces exactly the same vector as
// VectorFromFeatures.
func VectorFromSnapshot(snapshot []byte) ([]float64, error) {
	var fs models.FeatureSet
	if err := json.Unmarshal(snapshot, &fs); err != nil {
		return nil, fmt.Errorf("decode feature snapshot: %w", err)
	}
	return VectorFromFeatures(&fs), nil
}
