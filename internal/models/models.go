package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the payment lifecycle stage of an incoming event.
type EventType string

const (
	EventAuthorization EventType = "authorization"
	EventCapture       EventType = "capture"
	EventRefund        EventType = "refund"
	EventChargeback    EventType = "chargeback"
)

// ServiceType is the telco product family.
type ServiceType string

const (
	ServiceMobile    ServiceType = "mobile"
	ServiceBroadband ServiceType = "broadband"
)

// EventSubtype is the telco operation being paid for.
type EventSubtype string

const (
	SubtypeSIMActivation       EventSubtype = "sim_activation"
	SubtypeSIMSwap             EventSubtype = "sim_swap"
	SubtypeDeviceUpgrade       EventSubtype = "device_upgrade"
	SubtypeTopup               EventSubtype = "topup"
	SubtypeInternationalEnable EventSubtype = "international_enable"
	SubtypeServiceActivation   EventSubtype = "service_activation"
	SubtypeEquipmentSwap       EventSubtype = "equipment_swap"
	SubtypeSpeedUpgrade        EventSubtype = "speed_upgrade"
	SubtypeEquipmentPurchase   EventSubtype = "equipment_purchase"
)

var mobileSubtypes = map[EventSubtype]bool{
	SubtypeSIMActivation:       true,
	SubtypeSIMSwap:             true,
	SubtypeDeviceUpgrade:       true,
	SubtypeTopup:               true,
	SubtypeInternationalEnable: true,
	SubtypeEquipmentPurchase:   true,
}

var broadbandSubtypes = map[EventSubtype]bool{
	SubtypeServiceActivation: true,
	SubtypeEquipmentSwap:     true,
	SubtypeSpeedUpgrade:      true,
	SubtypeEquipmentPurchase: true,
}

var highRiskSubtypes = map[EventSubtype]bool{
	SubtypeDeviceUpgrade:       true,
	SubtypeSIMSwap:             true,
	SubtypeInternationalEnable: true,
	SubtypeEquipmentPurchase:   true,
}

// Decision is the terminal outcome of the pipeline, ordered by severity.
type Decision string

const (
	DecisionAllow    Decision = "ALLOW"
	DecisionFriction Decision = "FRICTION"
	DecisionReview   Decision = "REVIEW"
	DecisionBlock    Decision = "BLOCK"
)

// Severity orders decisions so the policy engine can keep the worst seen.
func (d Decision) Severity() int {
	switch d {
	case DecisionBlock:
		return 3
	case DecisionReview:
		return 2
	case DecisionFriction:
		return 1
	default:
		return 0
	}
}

// ReasonSeverity grades an individual decision reason.
type ReasonSeverity string

const (
	SeverityLow      ReasonSeverity = "LOW"
	SeverityMedium   ReasonSeverity = "MEDIUM"
	SeverityHigh     ReasonSeverity = "HIGH"
	SeverityCritical ReasonSeverity = "CRITICAL"
)

// Rank orders reason severities.
func (s ReasonSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// FrictionType is the step-up challenge attached to a FRICTION decision.
type FrictionType string

const (
	Friction3DS     FrictionType = "3DS"
	FrictionOTP     FrictionType = "OTP"
	FrictionStepUp  FrictionType = "STEP_UP"
	FrictionCaptcha FrictionType = "CAPTCHA"
)

// ReviewPriority is the queue priority attached to a REVIEW decision.
type ReviewPriority string

const (
	ReviewLow    ReviewPriority = "LOW"
	ReviewMedium ReviewPriority = "MEDIUM"
	ReviewHigh   ReviewPriority = "HIGH"
	ReviewUrgent ReviewPriority = "URGENT"
)

// EntityType names the entities tracked by the velocity and profile stores.
type EntityType string

const (
	EntityCard    EntityType = "card"
	EntityDevice  EntityType = "device"
	EntityIP      EntityType = "ip"
	EntityUser    EntityType = "user"
	EntityService EntityType = "service"
)

// CardInfo carries tokenized card fields. Raw PANs are never accepted.
type CardInfo struct {
	Token    string `json:"card_token"`
	BIN      string `json:"card_bin,omitempty"`
	LastFour string `json:"card_last_four,omitempty"`
	Brand    string `json:"card_brand,omitempty"`
	Type     string `json:"card_type,omitempty"`
	Country  string `json:"card_country,omitempty"`
}

// ServiceInfo identifies the telco service the payment applies to.
type ServiceInfo struct {
	ID      string       `json:"service_id"`
	Name    string       `json:"service_name,omitempty"`
	Type    ServiceType  `json:"service_type"`
	Subtype EventSubtype `json:"event_subtype"`
	Region  string       `json:"service_region,omitempty"`
}

// SubscriberInfo carries the paying subscriber plus optional telco identifiers.
type SubscriberInfo struct {
	SubscriberID       string `json:"subscriber_id,omitempty"`
	UserID             string `json:"user_id,omitempty"`
	AccountAgeDays     int    `json:"account_age_days,omitempty"`
	IsGuest            bool   `json:"is_guest,omitempty"`
	PhoneNumber        string `json:"phone_number,omitempty"`
	IMEI               string `json:"imei,omitempty"`
	SIMICCID           string `json:"sim_iccid,omitempty"`
	ModemMAC           string `json:"modem_mac,omitempty"`
	CPESerial          string `json:"cpe_serial,omitempty"`
	ServiceAddressHash string `json:"service_address_hash,omitempty"`
}

// DeviceInfo is the client device fingerprint.
type DeviceInfo struct {
	DeviceID       string `json:"device_id,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	IsEmulator     bool   `json:"is_emulator,omitempty"`
	IsRooted       bool   `json:"is_rooted,omitempty"`
	ScreenRes      string `json:"screen_resolution,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	Language       string `json:"language,omitempty"`
}

// GeoInfo is IP-derived geolocation.
type GeoInfo struct {
	IPAddress    string  `json:"ip_address,omitempty"`
	Country      string  `json:"country,omitempty"`
	Region       string  `json:"region,omitempty"`
	City         string  `json:"city,omitempty"`
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
	IsVPN        bool    `json:"is_vpn,omitempty"`
	IsProxy      bool    `json:"is_proxy,omitempty"`
	IsDatacenter bool    `json:"is_datacenter,omitempty"`
	IsTor        bool    `json:"is_tor,omitempty"`
}

// HasCoordinates reports whether a usable lat/lon pair is present.
func (g GeoInfo) HasCoordinates() bool {
	return g.Latitude != 0 || g.Longitude != 0
}

// VerificationInfo carries processor-side verification signals.
type VerificationInfo struct {
	AVSResult  string `json:"avs_result,omitempty"`
	CVVResult  string `json:"cvv_result,omitempty"`
	ThreeDS    string `json:"three_ds_result,omitempty"`
	ThreeDSVer string `json:"three_ds_version,omitempty"`
	ECI        string `json:"eci,omitempty"`
}

// ContextInfo carries request context.
type ContextInfo struct {
	Channel     string `json:"channel,omitempty"`
	IsRecurring bool   `json:"is_recurring,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// PaymentEvent is the immutable input to the decision pipeline.
type PaymentEvent struct {
	TransactionID  string           `json:"transaction_id"`
	IdempotencyKey string           `json:"idempotency_key"`
	EventType      EventType        `json:"event_type"`
	Timestamp      time.Time        `json:"timestamp"`
	AmountCents    int64            `json:"amount_cents"`
	Currency       string           `json:"currency"`
	Card           CardInfo         `json:"card"`
	Service        ServiceInfo      `json:"service"`
	Subscriber     SubscriberInfo   `json:"subscriber"`
	Device         DeviceInfo       `json:"device"`
	Geo            GeoInfo          `json:"geo"`
	Verification   VerificationInfo `json:"verification"`
	Context        ContextInfo      `json:"context"`
}

var (
	ErrMissingTransactionID  = errors.New("transaction_id is required")
	ErrMissingIdempotencyKey = errors.New("idempotency_key is required")
	ErrMissingCardToken      = errors.New("card_token is required")
	ErrNegativeAmount        = errors.New("amount_cents must be non-negative")
	ErrInvalidCurrency       = errors.New("currency must be exactly three letters")
	ErrInvalidBIN            = errors.New("card_bin must contain digits only")
	ErrInvalidCoordinates    = errors.New("coordinates out of range")
	ErrInvalidEventType      = errors.New("unknown event_type")
	ErrInvalidServiceType    = errors.New("unknown service_type")
	ErrInvalidSubtype        = errors.New("event_subtype inconsistent with service_type")
)

// Normalize fills defaults and canonicalizes fields before validation.
func (e *PaymentEvent) Normalize() {
	if e.EventType == "" {
		e.EventType = EventAuthorization
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	} else {
		e.Timestamp = e.Timestamp.UTC()
	}
	if e.Currency == "" {
		e.Currency = "USD"
	}
	e.Currency = strings.ToUpper(e.Currency)
	e.Card.Country = strings.ToUpper(e.Card.Country)
	e.Geo.Country = strings.ToUpper(e.Geo.Country)
}

// Validate enforces the event invariants. Events failing validation are
// rejected before any state is touched.
func (e *PaymentEvent) Validate() error {
	if e.TransactionID == "" {
		return ErrMissingTransactionID
	}
	if e.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	if e.Card.Token == "" {
		return ErrMissingCardToken
	}
	if e.AmountCents < 0 {
		return ErrNegativeAmount
	}
	if len(e.Currency) != 3 || !isAlpha(e.Currency) {
		return ErrInvalidCurrency
	}
	if e.Card.BIN != "" && !isDigits(e.Card.BIN) {
		return ErrInvalidBIN
	}
	if e.Geo.Latitude < -90 || e.Geo.Latitude > 90 ||
		e.Geo.Longitude < -180 || e.Geo.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	switch e.EventType {
	case EventAuthorization, EventCapture, EventRefund, EventChargeback:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.EventType)
	}
	if e.Service.Type != "" {
		switch e.Service.Type {
		case ServiceMobile:
			if e.Service.Subtype != "" && !mobileSubtypes[e.Service.Subtype] {
				return fmt.Errorf("%w: %q with mobile", ErrInvalidSubtype, e.Service.Subtype)
			}
		case ServiceBroadband:
			if e.Service.Subtype != "" && !broadbandSubtypes[e.Service.Subtype] {
				return fmt.Errorf("%w: %q with broadband", ErrInvalidSubtype, e.Service.Subtype)
			}
		default:
			return fmt.Errorf("%w: %q", ErrInvalidServiceType, e.Service.Type)
		}
	}
	return nil
}

// IsHighValue reports whether the amount is at or above $1000.
func (e *PaymentEvent) IsHighValue() bool { return e.AmountCents >= 100000 }

// Has3DS reports whether a 3DS result was supplied.
func (e *PaymentEvent) Has3DS() bool { return e.Verification.ThreeDS != "" }

// IsHighRiskSubtype reports whether the subtype is in the elevated-risk set.
func (e *PaymentEvent) IsHighRiskSubtype() bool { return highRiskSubtypes[e.Service.Subtype] }

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return len(s) > 0
}

// UserRiskTier buckets users by accumulated dispute history.
type UserRiskTier string

const (
	TierLow      UserRiskTier = "LOW"
	TierNormal   UserRiskTier = "NORMAL"
	TierElevated UserRiskTier = "ELEVATED"
	TierHigh     UserRiskTier = "HIGH"
)

// CardProfile is the long-lived per-card record.
type CardProfile struct {
	FirstSeenMs       int64   `json:"first_seen_ms" redis:"first_seen_ms"`
	LastSeenMs        int64   `json:"last_seen_ms" redis:"last_seen_ms"`
	TotalTransactions int64   `json:"total_transactions" redis:"total_transactions"`
	ChargebackCount   int64   `json:"chargeback_count" redis:"chargeback_count"`
	LastGeoSeenMs     int64   `json:"last_geo_seen_ms" redis:"last_geo_seen_ms"`
	LastGeoLat        float64 `json:"last_geo_lat" redis:"last_geo_lat"`
	LastGeoLon        float64 `json:"last_geo_lon" redis:"last_geo_lon"`
}

// DeviceProfile is the long-lived per-device record.
type DeviceProfile struct {
	FirstSeenMs       int64  `json:"first_seen_ms" redis:"first_seen_ms"`
	LastSeenMs        int64  `json:"last_seen_ms" redis:"last_seen_ms"`
	TotalTransactions int64  `json:"total_transactions" redis:"total_transactions"`
	ChargebackCount   int64  `json:"chargeback_count" redis:"chargeback_count"`
	IsEmulator        bool   `json:"is_emulator" redis:"is_emulator"`
	IsRooted          bool   `json:"is_rooted" redis:"is_rooted"`
	LastCountry       string `json:"last_country" redis:"last_country"`
	LastCity          string `json:"last_city" redis:"last_city"`
}

// IPProfile is the long-lived per-IP record.
type IPProfile struct {
	FirstSeenMs       int64  `json:"first_seen_ms" redis:"first_seen_ms"`
	LastSeenMs        int64  `json:"last_seen_ms" redis:"last_seen_ms"`
	TotalTransactions int64  `json:"total_transactions" redis:"total_transactions"`
	ChargebackCount   int64  `json:"chargeback_count" redis:"chargeback_count"`
	IsDatacenter      bool   `json:"is_datacenter" redis:"is_datacenter"`
	IsVPN             bool   `json:"is_vpn" redis:"is_vpn"`
	IsProxy           bool   `json:"is_proxy" redis:"is_proxy"`
	IsTor             bool   `json:"is_tor" redis:"is_tor"`
	Country           string `json:"country" redis:"country"`
	Region            string `json:"region" redis:"region"`
	City              string `json:"city" redis:"city"`
}

// UserProfile is the long-lived per-user record, including Welford running
// statistics over transaction amounts.
type UserProfile struct {
	FirstSeenMs        int64        `json:"first_seen_ms" redis:"first_seen_ms"`
	LastSeenMs         int64        `json:"last_seen_ms" redis:"last_seen_ms"`
	TotalTransactions  int64        `json:"total_transactions" redis:"total_transactions"`
	ChargebackCount    int64        `json:"chargeback_count" redis:"chargeback_count"`
	AccountAgeDays     int          `json:"account_age_days" redis:"account_age_days"`
	RiskTier           UserRiskTier `json:"risk_tier" redis:"risk_tier"`
	Transactions30d    int64        `json:"transactions_30d" redis:"transactions_30d"`
	TotalAmountCents   int64        `json:"total_amount_cents" redis:"total_amount_cents"`
	ChargebackCount90d int64        `json:"chargeback_count_90d" redis:"chargeback_count_90d"`
	RefundCount90d     int64        `json:"refund_count_90d" redis:"refund_count_90d"`
	AmountCount        int64        `json:"amount_count" redis:"amount_count"`
	AmountMeanCents    float64      `json:"amount_mean_cents" redis:"amount_mean_cents"`
	AmountM2Cents      float64      `json:"amount_m2_cents" redis:"amount_m2_cents"`
}

// ServiceProfile is the long-lived per-service record.
type ServiceProfile struct {
	FirstSeenMs       int64  `json:"first_seen_ms" redis:"first_seen_ms"`
	LastSeenMs        int64  `json:"last_seen_ms" redis:"last_seen_ms"`
	TotalTransactions int64  `json:"total_transactions" redis:"total_transactions"`
	ChargebackCount   int64  `json:"chargeback_count" redis:"chargeback_count"`
	ServiceName       string `json:"service_name" redis:"service_name"`
}

// FeatureSet is the single snapshot consumed by scoring and persisted in
// evidence. Lookup failures leave the affected fields at their zero values.
type FeatureSet struct {
	// Card velocity.
	CardAttempts10m          int64 `json:"card_attempts_10m"`
	CardAttempts1h           int64 `json:"card_attempts_1h"`
	CardDeclines10m          int64 `json:"card_declines_10m"`
	CardDistinctDevices24h   int64 `json:"card_distinct_devices_24h"`
	CardDistinctIPs24h       int64 `json:"card_distinct_ips_24h"`
	CardDistinctMerchants24h int64 `json:"card_distinct_merchants_24h"`

	// Device velocity.
	DeviceDistinctCards1h  int64 `json:"device_distinct_cards_1h"`
	DeviceDistinctCards24h int64 `json:"device_distinct_cards_24h"`

	// IP velocity.
	IPDistinctCards1h int64 `json:"ip_distinct_cards_1h"`

	// User velocity.
	UserTransactions24h int64 `json:"user_transactions_24h"`
	UserAmount24hCents  int64 `json:"user_amount_24h_cents"`

	// Profile aggregates.
	CardTxnCount          int64        `json:"card_txn_count"`
	CardChargebackCount   int64        `json:"card_chargeback_count"`
	CardLastGeoLat        float64      `json:"card_last_geo_lat"`
	CardLastGeoLon        float64      `json:"card_last_geo_lon"`
	CardLastGeoSeenMs     int64        `json:"card_last_geo_seen_ms"`
	DeviceTxnCount        int64        `json:"device_txn_count"`
	DeviceChargebackCount int64        `json:"device_chargeback_count"`
	DeviceIsEmulator      bool         `json:"device_is_emulator"`
	DeviceIsRooted        bool         `json:"device_is_rooted"`
	IPIsVPN               bool         `json:"ip_is_vpn"`
	IPIsProxy             bool         `json:"ip_is_proxy"`
	IPIsDatacenter        bool         `json:"ip_is_datacenter"`
	IPIsTor               bool         `json:"ip_is_tor"`
	UserTxnCount          int64        `json:"user_txn_count"`
	UserChargebackCount90 int64        `json:"user_chargeback_count_90d"`
	UserRefundCount90     int64        `json:"user_refund_count_90d"`
	UserRiskTier          UserRiskTier `json:"user_risk_tier"`
	UserAccountAgeDays    int          `json:"user_account_age_days"`

	// Cross-entity relationships.
	CardUserMatch      bool `json:"card_user_match"`
	DeviceUserMatch    bool `json:"device_user_match"`
	IsNewCardForUser   bool `json:"is_new_card_for_user"`
	IsNewDeviceForUser bool `json:"is_new_device_for_user"`

	// Transaction features.
	AmountUSD    float64 `json:"amount_usd"`
	AmountZScore float64 `json:"amount_zscore"`
	HourOfDay    int     `json:"hour_of_day"`
	IsWeekend    bool    `json:"is_weekend"`
	AVSMatch     bool    `json:"avs_match"`
	CVVMatch     bool    `json:"cvv_match"`

	// Presence flags for confidence scoring.
	HasDevice       bool `json:"has_device"`
	HasGeo          bool `json:"has_geo"`
	HasVerification bool `json:"has_verification"`
}

// RiskScores is the scoring output. All score fields lie in [0, 1].
type RiskScores struct {
	Risk          float64 `json:"risk"`
	Criminal      float64 `json:"criminal"`
	FriendlyFraud float64 `json:"friendly_fraud"`
	Confidence    float64 `json:"confidence"`

	CardTestingScore float64 `json:"card_testing_score"`
	VelocityScore    float64 `json:"velocity_score"`
	GeoScore         float64 `json:"geo_score"`
	BotScore         float64 `json:"bot_score"`
	FriendlyScore    float64 `json:"friendly_score"`

	MLScore      *float64 `json:"ml_score,omitempty"`
	ModelVersion string   `json:"model_version,omitempty"`
	ModelVariant string   `json:"model_variant,omitempty"`
}

// DecisionReason is one auditable contributor to a decision.
type DecisionReason struct {
	Code        string         `json:"code"`
	Description string         `json:"description"`
	Severity    ReasonSeverity `json:"severity"`
	TriggeredBy string         `json:"triggered_by"`
	Value       float64        `json:"value"`
	Threshold   float64        `json:"threshold"`
}

// DecisionResponse is the synchronous pipeline output.
type DecisionResponse struct {
	TransactionID   string           `json:"transaction_id"`
	IdempotencyKey  string           `json:"idempotency_key"`
	Decision        Decision         `json:"decision"`
	Reasons         []DecisionReason `json:"reasons"`
	Scores          RiskScores       `json:"scores"`
	FrictionType    FrictionType     `json:"friction_type,omitempty"`
	FrictionMessage string           `json:"friction_message,omitempty"`
	ReviewPriority  ReviewPriority   `json:"review_priority,omitempty"`
	ReviewNotes     string           `json:"review_notes,omitempty"`
	ProcessingMs    float64          `json:"processing_time_ms"`
	FeatureMs       float64          `json:"feature_time_ms"`
	ScoringMs       float64          `json:"scoring_time_ms"`
	PolicyMs        float64          `json:"policy_time_ms"`
	PolicyVersion   string           `json:"policy_version"`
	IsCached        bool             `json:"is_cached"`
}

// EvidenceRecord is the immutable, redacted decision record. PII appears
// only as HMAC hashes; the raw identifiers live in the vault row.
type EvidenceRecord struct {
	ID               uuid.UUID        `json:"id"`
	TransactionID    string           `json:"transaction_id"`
	IdempotencyKey   string           `json:"idempotency_key"`
	EventType        EventType        `json:"event_type"`
	EventTimestamp   time.Time        `json:"event_timestamp"`
	AmountCents      int64            `json:"amount_cents"`
	Currency         string           `json:"currency"`
	ServiceID        string           `json:"service_id"`
	ServiceType      ServiceType      `json:"service_type"`
	EventSubtype     EventSubtype     `json:"event_subtype"`
	CardToken        string           `json:"card_token"`
	CardBIN          string           `json:"card_bin,omitempty"`
	CardLastFour     string           `json:"card_last_four,omitempty"`
	DeviceIDHash     string           `json:"device_id_hash,omitempty"`
	IPHash           string           `json:"ip_hash,omitempty"`
	FingerprintHash  string           `json:"fingerprint_hash,omitempty"`
	UserID           string           `json:"user_id,omitempty"`
	Scores           RiskScores       `json:"scores"`
	Decision         Decision         `json:"decision"`
	Reasons          []DecisionReason `json:"reasons"`
	Features         FeatureSet       `json:"features"`
	AVSResult        string           `json:"avs_result,omitempty"`
	CVVResult        string           `json:"cvv_result,omitempty"`
	ThreeDSResult    string           `json:"three_ds_result,omitempty"`
	GeoCountry       string           `json:"geo_country,omitempty"`
	GeoRegion        string           `json:"geo_region,omitempty"`
	GeoCity          string           `json:"geo_city,omitempty"`
	PolicyVersion    string           `json:"policy_version"`
	PolicyVersionID  uuid.UUID        `json:"policy_version_id"`
	ProcessingTimeMs float64          `json:"processing_time_ms"`
	CapturedAt       time.Time        `json:"captured_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

// VaultPayload is the plaintext encrypted into a vault row.
type VaultPayload struct {
	DeviceID          string `json:"device_id,omitempty"`
	IPAddress         string `json:"ip_address,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	UserID            string `json:"user_id,omitempty"`
}

// ChargebackRecord is one ingested chargeback label.
type ChargebackRecord struct {
	ID                uuid.UUID `json:"id"`
	TransactionID     string    `json:"transaction_id"`
	ChargebackID      string    `json:"chargeback_id"`
	AmountCents       int64     `json:"amount_cents"`
	ReasonCode        string    `json:"reason_code"`
	ReasonDescription string    `json:"reason_description,omitempty"`
	FraudType         string    `json:"fraud_type,omitempty"`
	Status            string    `json:"status"`
	ReceivedAt        time.Time `json:"received_at"`
}

// RefundRecord is one ingested refund label.
type RefundRecord struct {
	ID                uuid.UUID `json:"id"`
	TransactionID     string    `json:"transaction_id"`
	RefundID          string    `json:"refund_id"`
	AmountCents       int64     `json:"amount_cents"`
	ReasonCode        string    `json:"reason_code"`
	ReasonDescription string    `json:"reason_description,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// ChargebackStatus enum values.
const (
	ChargebackStatusReceived = "RECEIVED"
)

// JSONB is a helper type for PostgreSQL JSONB columns.
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
