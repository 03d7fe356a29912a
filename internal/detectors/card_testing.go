package detectors

import (
	"context"
	"fmt"

	"github.com/telcoguard/fraud-decision/internal/models"
)

const (
	cardTestingBoost   = 0.05
	cardTestingTrigger = 0.4

	microAmountCents = 500
)

// CardTesting flags BIN-probing patterns: rapid attempts on one card,
// decline storms, micro-amount probes, and many cards funneled through one
// device or IP.
func (e *Engine) CardTesting(_ context.Context, event *models.PaymentEvent, fs *models.FeatureSet) Result {
	c := newCollector(NameCardTesting)

	attemptsThreshold := int64(e.cfg.CardTestingAttempts10m)
	if fs.CardAttempts10m >= attemptsThreshold {
		c.add(0.8, "CARD_TESTING_VELOCITY",
			fmt.Sprintf("%d authorization attempts on card in 10 minutes", fs.CardAttempts10m),
			models.SeverityHigh, float64(fs.CardAttempts10m), float64(attemptsThreshold))
	}

	if fs.CardAttempts10m >= 3 {
		declineRate := float64(fs.CardDeclines10m) / float64(fs.CardAttempts10m)
		if declineRate >= e.cfg.DeclineRatio10m {
			c.add(0.9, "CARD_TESTING_DECLINES",
				fmt.Sprintf("%.0f%% of recent attempts declined", declineRate*100),
				models.SeverityHigh, declineRate, e.cfg.DeclineRatio10m)
		}
	}

	if event.AmountCents <= microAmountCents && fs.CardAttempts10m >= 2 {
		c.add(0.6, "CARD_TESTING_MICRO_AMOUNT",
			"repeated micro-amount authorization attempts",
			models.SeverityMedium, float64(event.AmountCents), float64(microAmountCents))
	}

	if fs.DeviceDistinctCards1h >= 5 {
		c.add(0.85, "CARD_TESTING_DEVICE_CARDS",
			fmt.Sprintf("%d distinct cards on device in 1 hour", fs.DeviceDistinctCards1h),
			models.SeverityHigh, float64(fs.DeviceDistinctCards1h), 5)
	}

	if fs.IPDistinctCards1h >= 10 {
		c.add(0.8, "CARD_TESTING_IP_CARDS",
			fmt.Sprintf("%d distinct cards from IP in 1 hour", fs.IPDistinctCards1h),
			models.SeverityHigh, float64(fs.IPDistinctCards1h), 10)
	}

	return c.result(cardTestingBoost, cardTestingTrigger)
}
