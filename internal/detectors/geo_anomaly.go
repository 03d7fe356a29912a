package detectors

import (
	"context"
	"fmt"
	"math"

	"github.com/telcoguard/fraud-decision/internal/models"
)

const (
	geoBoost   = 0.05
	geoTrigger = 0.4

	earthRadiusKm      = 6371.0
	impossibleSpeedKmh = 1000.0
)

// Haversine returns the great-circle distance in kilometers between two
// lat/lon pairs in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// GeoAnomaly flags location inconsistencies: country mismatches, high-risk
// origins, anonymizing networks, and physically impossible travel between
// consecutive card uses.
func (e *Engine) GeoAnomaly(_ context.Context, event *models.PaymentEvent, fs *models.FeatureSet) Result {
	c := newCollector(NameGeoAnomaly)

	ipCountry := event.Geo.Country
	cardCountry := event.Card.Country

	if ipCountry != "" && cardCountry != "" && ipCountry != cardCountry {
		c.add(0.6, "GEO_COUNTRY_MISMATCH",
			fmt.Sprintf("IP country %s does not match card country %s", ipCountry, cardCountry),
			models.SeverityMedium, 1, 0)
	}

	if e.highRisk[ipCountry] {
		c.add(0.5, "GEO_HIGH_RISK_COUNTRY",
			fmt.Sprintf("IP located in high-risk country %s", ipCountry),
			models.SeverityMedium, 1, 0)
	}

	if fs.IPIsTor {
		c.add(0.8, "GEO_TOR_EXIT", "request from Tor exit node",
			models.SeverityHigh, 1, 0)
	}
	if fs.IPIsVPN || fs.IPIsProxy {
		c.add(0.4, "GEO_VPN_PROXY", "request via VPN or proxy",
			models.SeverityLow, 1, 0)
	}
	if fs.IPIsDatacenter {
		c.add(0.7, "GEO_DATACENTER_IP", "request from datacenter IP range",
			models.SeverityHigh, 1, 0)
	}

	if speed, ok := travelSpeed(event, fs); ok && speed > impossibleSpeedKmh {
		c.add(0.8, "GEO_IMPOSSIBLE_TRAVEL",
			fmt.Sprintf("card moved at %.0f km/h since last use", speed),
			models.SeverityHigh, speed, impossibleSpeedKmh)
	}

	return c.result(geoBoost, geoTrigger)
}

// travelSpeed computes the implied speed between the card's last observed
// location and the current one. A non-positive elapsed time yields no
// observation.
func travelSpeed(event *models.PaymentEvent, fs *models.FeatureSet) (float64, bool) {
	if !event.Geo.HasCoordinates() || fs.CardLastGeoSeenMs == 0 {
		return 0, false
	}
	elapsedMs := event.Timestamp.UnixMilli() - fs.CardLastGeoSeenMs
	if elapsedMs <= 0 {
		return 0, false
	}
	distKm := Haversine(fs.CardLastGeoLat, fs.CardLastGeoLon, event.Geo.Latitude, event.Geo.Longitude)
	hours := float64(elapsedMs) / (1000 * 3600)
	return distKm / hours, true
}
