package detectors

import (
	"context"
	"strings"

	"github.com/telcoguard/fraud-decision/internal/models"
)

const (
	botBoost   = 0.08
	botTrigger = 0.5
)

// BotAutomation flags non-human clients: emulators, rooted devices,
// anonymizing or datacenter networks, implausible user agents, and thin
// fingerprints.
func (e *Engine) BotAutomation(_ context.Context, event *models.PaymentEvent, fs *models.FeatureSet) Result {
	c := newCollector(NameBotAutomation)

	if fs.DeviceIsEmulator {
		c.add(0.9, "BOT_EMULATOR", "device is an emulator",
			models.SeverityCritical, 1, 0)
	}
	if fs.DeviceIsRooted {
		c.add(0.6, "BOT_ROOTED_DEVICE", "device is rooted or jailbroken",
			models.SeverityMedium, 1, 0)
	}
	if fs.IPIsDatacenter {
		c.add(0.8, "BOT_DATACENTER_IP", "request from datacenter IP range",
			models.SeverityHigh, 1, 0)
	}
	if fs.IPIsTor {
		c.add(0.85, "BOT_TOR_EXIT", "request from Tor exit node",
			models.SeverityHigh, 1, 0)
	}
	if fs.IPIsVPN || fs.IPIsProxy {
		c.add(0.3, "BOT_VPN_PROXY", "request via VPN or proxy",
			models.SeverityLow, 1, 0)
	}

	if suspiciousUserAgent(event.Device) {
		c.add(0.5, "BOT_SUSPICIOUS_UA",
			"browser and platform combination is implausible",
			models.SeverityMedium, 1, 0)
	}

	if missing := missingFingerprintFields(event.Device); missing >= 3 || event.Device.DeviceID == "" {
		c.add(0.4, "BOT_THIN_FINGERPRINT",
			"device fingerprint is incomplete",
			models.SeverityLow, float64(missing), 3)
	}

	return c.result(botBoost, botTrigger)
}

func suspiciousUserAgent(d models.DeviceInfo) bool {
	os := strings.ToLower(d.OS)
	browser := strings.ToLower(d.Browser)
	deviceType := strings.ToLower(d.DeviceType)

	if browser == "safari" && strings.Contains(os, "linux") {
		return true
	}
	if deviceType == "mobile" && strings.Contains(os, "windows") {
		return true
	}
	return false
}

func missingFingerprintFields(d models.DeviceInfo) int {
	missing := 0
	for _, f := range []string{d.OS, d.Browser, d.ScreenRes, d.Timezone, d.Language} {
		if f == "" {
			missing++
		}
	}
	return missing
}
