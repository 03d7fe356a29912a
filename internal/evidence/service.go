package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/metrics"
	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/store"
)

// Repository is the persistence surface the service writes through.
type Repository interface {
	Insert(ctx context.Context, rec *models.EvidenceRecord, vaultCiphertext []byte) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.EvidenceRecord, error)
	InsertChargeback(ctx context.Context, cb *models.ChargebackRecord) error
	InsertRefund(ctx context.Context, rf *models.RefundRecord) error
}

// Service captures decision evidence and serves the idempotency cache.
type Service struct {
	repo      Repository
	kv        *store.KV
	hasher    *Hasher
	cipher    *VaultCipher
	retention time.Duration
	idemTTL   time.Duration
}

// NewService wires the evidence service.
func NewService(repo Repository, kv *store.KV, cfg configs.EvidenceConfig) (*Service, error) {
	cipher, err := NewVaultCipher(cfg.VaultKey)
	if err != nil {
		return nil, err
	}
	hasher, err := NewHasher(cfg.HashKey)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:      repo,
		kv:        kv,
		hasher:    hasher,
		cipher:    cipher,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		idemTTL:   time.Duration(cfg.IdempotencyTTLHrs) * time.Hour,
	}, nil
}

// CaptureEvidence writes the redacted evidence row plus the encrypted
// vault row. Failures are counted, never propagated; the decision has
// already been made.
func (s *Service) CaptureEvidence(
	ctx context.Context,
	event *models.PaymentEvent,
	fs *models.FeatureSet,
	scores models.RiskScores,
	resp *models.DecisionResponse,
	policyVersionID uuid.UUID,
) *uuid.UUID {
	now := time.Now().UTC()
	rec := &models.EvidenceRecord{
		ID:               uuid.New(),
		TransactionID:    event.TransactionID,
		IdempotencyKey:   event.IdempotencyKey,
		EventType:        event.EventType,
		EventTimestamp:   event.Timestamp,
		AmountCents:      event.AmountCents,
		Currency:         event.Currency,
		ServiceID:        event.Service.ID,
		ServiceType:      event.Service.Type,
		EventSubtype:     event.Service.Subtype,
		CardToken:        event.Card.Token,
		CardBIN:          event.Card.BIN,
		CardLastFour:     event.Card.LastFour,
		DeviceIDHash:     s.hasher.Hash(event.Device.DeviceID),
		IPHash:           s.hasher.Hash(event.Geo.IPAddress),
		FingerprintHash:  s.hasher.Hash(fingerprint(event.Device)),
		UserID:           event.Subscriber.UserID,
		Scores:           scores,
		Decision:         resp.Decision,
		Reasons:          resp.Reasons,
		Features:         *fs,
		AVSResult:        event.Verification.AVSResult,
		CVVResult:        event.Verification.CVVResult,
		ThreeDSResult:    event.Verification.ThreeDS,
		GeoCountry:       event.Geo.Country,
		GeoRegion:        event.Geo.Region,
		GeoCity:          event.Geo.City,
		PolicyVersion:    resp.PolicyVersion,
		PolicyVersionID:  policyVersionID,
		ProcessingTimeMs: resp.ProcessingMs,
		CapturedAt:       now,
		ExpiresAt:        now.Add(s.retention),
	}

	ciphertext, err := s.cipher.Seal(models.VaultPayload{
		DeviceID:          event.Device.DeviceID,
		IPAddress:         event.Geo.IPAddress,
		DeviceFingerprint: fingerprint(event.Device),
		UserID:            event.Subscriber.UserID,
	})
	if err != nil {
		metrics.EvidenceCaptureFailures.Inc()
		log.Error().Err(err).Str("transaction_id", event.TransactionID).Msg("vault encryption failed")
		return nil
	}

	if err := s.repo.Insert(ctx, rec, ciphertext); err != nil {
		metrics.EvidenceCaptureFailures.Inc()
		log.Error().Err(err).Str("transaction_id", event.TransactionID).Msg("evidence capture failed")
		return nil
	}
	return &rec.ID
}

// fingerprint derives a stable device fingerprint string from the client
// attributes.
func fingerprint(d models.DeviceInfo) string {
	if d.DeviceID == "" && d.OS == "" && d.Browser == "" {
		return ""
	}
	return d.OS + "|" + d.OSVersion + "|" + d.Browser + "|" + d.BrowserVersion + "|" + d.ScreenRes + "|" + d.Timezone + "|" + d.Language
}

// GetEvidence fetches the evidence record for a transaction.
func (s *Service) GetEvidence(ctx context.Context, transactionID string) (*models.EvidenceRecord, error) {
	return s.repo.GetByTransactionID(ctx, transactionID)
}

// DecryptVault opens a vault ciphertext. Used by dispute tooling, never by
// the decision path.
func (s *Service) DecryptVault(ciphertext []byte) (models.VaultPayload, error) {
	return s.cipher.Open(ciphertext)
}

func (s *Service) idempotencyKey(key string) string {
	return s.kv.Key("idempotency", key)
}

// GetIdempotencyResponse returns the cached decision for a key, if any.
// A miss is expected and non-fatal.
func (s *Service) GetIdempotencyResponse(ctx context.Context, key string) (*models.DecisionResponse, bool) {
	var resp models.DecisionResponse
	err := s.kv.GetJSON(ctx, s.idempotencyKey(key), &resp)
	if err != nil {
		if !store.IsMiss(err) {
			log.Warn().Err(err).Msg("idempotency lookup failed")
		}
		return nil, false
	}
	return &resp, true
}

// StoreIdempotencyResponse caches a decision under its idempotency key.
// First writer wins; replays always observe the original decision.
func (s *Service) StoreIdempotencyResponse(ctx context.Context, key string, resp *models.DecisionResponse) {
	if _, err := s.kv.SetJSONNX(ctx, s.idempotencyKey(key), resp, s.idemTTL); err != nil {
		log.Warn().Err(err).Msg("idempotency store failed")
	}
}

// RecordChargeback appends a chargeback label. Returns nil on failure.
func (s *Service) RecordChargeback(ctx context.Context, cb *models.ChargebackRecord) *uuid.UUID {
	if err := s.repo.InsertChargeback(ctx, cb); err != nil {
		log.Error().Err(err).Str("transaction_id", cb.TransactionID).Msg("chargeback record failed")
		return nil
	}
	return &cb.ID
}

// RecordRefund appends a refund label. Returns nil on failure.
func (s *Service) RecordRefund(ctx context.Context, rf *models.RefundRecord) *uuid.UUID {
	if err := s.repo.InsertRefund(ctx, rf); err != nil {
		log.Error().Err(err).Str("transaction_id", rf.TransactionID).Msg("refund record failed")
		return nil
	}
	return &rf.ID
}

// HealthCheck pings the idempotency store.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.kv.HealthCheck(ctx)
}
