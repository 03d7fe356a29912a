package detectors

import (
	"context"
	"fmt"
	"math"

	"github.com/telcoguard/fraud-decision/internal/models"
)

const (
	velocityBoost   = 0.05
	velocityTrigger = 0.4

	userTxn24hThreshold      = 20
	userAmount24hThreshold   = 500000
	cardMerchants24hLimit    = 10
	cardDevices24hLimit      = 3
	cardIPs24hLimit          = 5
)

// scaled maps an observation to a signal that reaches 1 at twice the
// threshold; severity escalates to CRITICAL there too.
func scaled(observed, threshold float64) (float64, models.ReasonSeverity) {
	value := math.Min(1, observed/(2*threshold))
	if observed >= 2*threshold {
		return value, models.SeverityCritical
	}
	return value, models.SeverityHigh
}

// VelocityAttack flags sustained high-rate abuse: burst attempts on a card,
// card spraying from a device or IP, and abnormal per-user volume.
func (e *Engine) VelocityAttack(_ context.Context, _ *models.PaymentEvent, fs *models.FeatureSet) Result {
	c := newCollector(NameVelocityAttack)

	if t := int64(e.cfg.CardAttempts1h); fs.CardAttempts1h >= t {
		v, sev := scaled(float64(fs.CardAttempts1h), float64(t))
		c.add(v, "VELOCITY_CARD_ATTEMPTS_1H",
			fmt.Sprintf("%d attempts on card in 1 hour", fs.CardAttempts1h),
			sev, float64(fs.CardAttempts1h), float64(t))
	}

	if t := int64(e.cfg.DeviceCards24h); fs.DeviceDistinctCards24h >= t {
		v, sev := scaled(float64(fs.DeviceDistinctCards24h), float64(t))
		c.add(v, "VELOCITY_DEVICE_CARDS_24H",
			fmt.Sprintf("%d distinct cards on device in 24 hours", fs.DeviceDistinctCards24h),
			sev, float64(fs.DeviceDistinctCards24h), float64(t))
	}

	if t := int64(e.cfg.IPCards1h); fs.IPDistinctCards1h >= t {
		v, sev := scaled(float64(fs.IPDistinctCards1h), float64(t))
		c.add(v, "VELOCITY_IP_CARDS_1H",
			fmt.Sprintf("%d distinct cards from IP in 1 hour", fs.IPDistinctCards1h),
			sev, float64(fs.IPDistinctCards1h), float64(t))
	}

	if fs.UserTransactions24h >= userTxn24hThreshold {
		v, _ := scaled(float64(fs.UserTransactions24h), userTxn24hThreshold)
		c.add(v*0.5, "VELOCITY_USER_TXN_24H",
			fmt.Sprintf("%d user transactions in 24 hours", fs.UserTransactions24h),
			models.SeverityMedium, float64(fs.UserTransactions24h), userTxn24hThreshold)
	}

	if fs.UserAmount24hCents >= userAmount24hThreshold {
		v, _ := scaled(float64(fs.UserAmount24hCents), userAmount24hThreshold)
		c.add(v*0.5, "VELOCITY_USER_AMOUNT_24H",
			fmt.Sprintf("$%.2f user spend in 24 hours", float64(fs.UserAmount24hCents)/100),
			models.SeverityMedium, float64(fs.UserAmount24hCents), userAmount24hThreshold)
	}

	if fs.CardDistinctMerchants24h >= cardMerchants24hLimit {
		v, _ := scaled(float64(fs.CardDistinctMerchants24h), cardMerchants24hLimit)
		c.add(v*0.5, "VELOCITY_CARD_MERCHANTS_24H",
			fmt.Sprintf("card used at %d distinct services in 24 hours", fs.CardDistinctMerchants24h),
			models.SeverityMedium, float64(fs.CardDistinctMerchants24h), cardMerchants24hLimit)
	}

	if fs.CardDistinctDevices24h >= cardDevices24hLimit || fs.CardDistinctIPs24h >= cardIPs24hLimit {
		observed := math.Max(
			float64(fs.CardDistinctDevices24h)/cardDevices24hLimit,
			float64(fs.CardDistinctIPs24h)/cardIPs24hLimit)
		v := math.Min(1, observed/2) * (2.0 / 3.0)
		c.add(v, "VELOCITY_CARD_SPREAD",
			fmt.Sprintf("card seen on %d devices and %d IPs in 24 hours",
				fs.CardDistinctDevices24h, fs.CardDistinctIPs24h),
			models.SeverityMedium, observed, 1)
	}

	return c.result(velocityBoost, velocityTrigger)
}
