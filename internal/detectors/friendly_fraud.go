package detectors

import (
	"context"
	"fmt"

	"github.com/telcoguard/fraud-decision/internal/models"
)

const (
	friendlyBoost   = 0.03
	friendlyTrigger = 0.4

	chargebackRateLimit = 0.03
	guestHighValueCents = 50000
)

// FriendlyFraud estimates first-party abuse risk from dispute history and,
// for recurring payments, subscription-abuse signals. The final score is
// the stronger of the two sub-scores.
func (e *Engine) FriendlyFraud(_ context.Context, event *models.PaymentEvent, fs *models.FeatureSet) Result {
	history := newCollector(NameFriendlyFraud)

	// The true 90-day transaction count is not tracked; 30x the daily rate
	// serves as the denominator proxy.
	denom := float64(30 * fs.UserTransactions24h)
	if denom < 1 {
		denom = 1
	}
	rate := float64(fs.UserChargebackCount90) / denom
	if rate >= chargebackRateLimit {
		history.add(0.7, "FRIENDLY_CHARGEBACK_RATE",
			fmt.Sprintf("estimated 90-day chargeback rate %.1f%%", rate*100),
			models.SeverityHigh, rate, chargebackRateLimit)
	}
	if fs.UserChargebackCount90 >= 2 {
		history.add(0.6, "FRIENDLY_CHARGEBACK_HISTORY",
			fmt.Sprintf("%d chargebacks in 90 days", fs.UserChargebackCount90),
			models.SeverityMedium, float64(fs.UserChargebackCount90), 2)
	}
	if fs.UserRefundCount90 >= 5 {
		history.add(0.4, "FRIENDLY_REFUND_ABUSE",
			fmt.Sprintf("%d refunds in 90 days", fs.UserRefundCount90),
			models.SeverityMedium, float64(fs.UserRefundCount90), 5)
	}
	if fs.CardChargebackCount >= 1 {
		history.add(0.5, "FRIENDLY_CARD_CHARGEBACKS",
			fmt.Sprintf("card has %d prior chargebacks", fs.CardChargebackCount),
			models.SeverityMedium, float64(fs.CardChargebackCount), 1)
	}
	if fs.DeviceChargebackCount >= 2 {
		history.add(0.5, "FRIENDLY_DEVICE_CHARGEBACKS",
			fmt.Sprintf("device has %d prior chargebacks", fs.DeviceChargebackCount),
			models.SeverityMedium, float64(fs.DeviceChargebackCount), 2)
	}
	switch fs.UserRiskTier {
	case models.TierHigh:
		history.add(0.6, "FRIENDLY_RISK_TIER", "user risk tier is HIGH",
			models.SeverityMedium, 1, 0)
	case models.TierElevated:
		history.add(0.4, "FRIENDLY_RISK_TIER", "user risk tier is ELEVATED",
			models.SeverityLow, 1, 0)
	}
	if event.Subscriber.IsGuest && event.AmountCents >= guestHighValueCents {
		history.add(0.4, "FRIENDLY_GUEST_HIGH_VALUE",
			"high-value purchase on guest checkout",
			models.SeverityLow, float64(event.AmountCents), guestHighValueCents)
	}

	result := history.result(friendlyBoost, friendlyTrigger)

	if event.Context.IsRecurring {
		sub := newCollector(NameFriendlyFraud)
		if fs.UserTxnCount == 0 && fs.IsNewCardForUser {
			sub.add(0.4, "SUBSCRIPTION_NEW_IDENTITY",
				"recurring charge from brand-new user and card",
				models.SeverityLow, 1, 0)
		}
		if fs.UserTransactions24h >= 3 {
			sub.add(0.3, "SUBSCRIPTION_RAPID_SIGNUP",
				fmt.Sprintf("%d subscription events in 24 hours", fs.UserTransactions24h),
				models.SeverityLow, float64(fs.UserTransactions24h), 3)
		}
		if fs.IPIsVPN || fs.IPIsProxy {
			sub.add(0.2, "SUBSCRIPTION_ANON_NETWORK",
				"recurring charge via VPN or proxy",
				models.SeverityLow, 1, 0)
		}
		subResult := sub.result(friendlyBoost, friendlyTrigger)
		if subResult.Score > result.Score {
			result.Score = subResult.Score
			result.Triggered = subResult.Triggered
		}
		result.Reasons = append(result.Reasons, subResult.Reasons...)
	}

	return result
}
