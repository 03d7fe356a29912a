package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/internal/models"
)

var ErrEvidenceNotFound = errors.New("evidence record not found")

// EvidenceRepository persists decision evidence, vault rows, and
// chargeback/refund labels.
type EvidenceRepository struct {
	db *Database
}

// NewEvidenceRepository creates a new evidence repository.
func NewEvidenceRepository(db *Database) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// Insert writes one evidence row and its encrypted vault row in a single
// transaction. Evidence rows are write-only.
func (r *EvidenceRepository) Insert(ctx context.Context, rec *models.EvidenceRecord, vaultCiphertext []byte) error {
	scoresBytes, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	reasonsBytes, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}
	featuresBytes, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	err = r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO evidence (
				id, transaction_id, idempotency_key, event_type, event_timestamp,
				amount_cents, currency, service_id, service_type, event_subtype,
				card_token, card_bin, card_last_four,
				device_id_hash, ip_hash, fingerprint_hash, user_id,
				scores, decision, reasons, features,
				avs_result, cvv_result, three_ds_result,
				geo_country, geo_region, geo_city,
				policy_version, policy_version_id, processing_time_ms,
				captured_at, expires_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
				$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
				$31, $32
			)
		`,
			rec.ID, rec.TransactionID, rec.IdempotencyKey, rec.EventType, rec.EventTimestamp,
			rec.AmountCents, rec.Currency, rec.ServiceID, rec.ServiceType, rec.EventSubtype,
			rec.CardToken, rec.CardBIN, rec.CardLastFour,
			rec.DeviceIDHash, rec.IPHash, rec.FingerprintHash, rec.UserID,
			scoresBytes, rec.Decision, reasonsBytes, featuresBytes,
			rec.AVSResult, rec.CVVResult, rec.ThreeDSResult,
			rec.GeoCountry, rec.GeoRegion, rec.GeoCity,
			rec.PolicyVersion, rec.PolicyVersionID, rec.ProcessingTimeMs,
			rec.CapturedAt, rec.ExpiresAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO evidence_vault (id, evidence_id, ciphertext, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New(), rec.ID, vaultCiphertext, rec.CapturedAt, rec.ExpiresAt)
		return err
	})
	// A replay that slipped past the idempotency cache already has its
	// evidence row; nothing left to capture.
	if isDuplicateKeyError(err) {
		log.Debug().Str("transaction_id", rec.TransactionID).Msg("evidence row already captured")
		return nil
	}
	return err
}

// GetByTransactionID returns the most recent evidence row for a
// transaction.
func (r *EvidenceRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.EvidenceRecord, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT
			id, transaction_id, idempotency_key, event_type, event_timestamp,
			amount_cents, currency, service_id, service_type, event_subtype,
			card_token, card_bin, card_last_four,
			device_id_hash, ip_hash, fingerprint_hash, user_id,
			scores, decision, reasons, features,
			avs_result, cvv_result, three_ds_result,
			geo_country, geo_region, geo_city,
			policy_version, policy_version_id, processing_time_ms,
			captured_at, expires_at
		FROM evidence
		WHERE transaction_id = $1
		ORDER BY captured_at DESC
		LIMIT 1
	`, transactionID)

	var (
		rec           models.EvidenceRecord
		scoresBytes   []byte
		reasonsBytes  []byte
		featuresBytes []byte
	)
	err := row.Scan(
		&rec.ID, &rec.TransactionID, &rec.IdempotencyKey, &rec.EventType, &rec.EventTimestamp,
		&rec.AmountCents, &rec.Currency, &rec.ServiceID, &rec.ServiceType, &rec.EventSubtype,
		&rec.CardToken, &rec.CardBIN, &rec.CardLastFour,
		&rec.DeviceIDHash, &rec.IPHash, &rec.FingerprintHash, &rec.UserID,
		&scoresBytes, &rec.Decision, &reasonsBytes, &featuresBytes,
		&rec.AVSResult, &rec.CVVResult, &rec.ThreeDSResult,
		&rec.GeoCountry, &rec.GeoRegion, &rec.GeoCity,
		&rec.PolicyVersion, &rec.PolicyVersionID, &rec.ProcessingTimeMs,
		&rec.CapturedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEvidenceNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(scoresBytes, &rec.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal(reasonsBytes, &rec.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	if err := json.Unmarshal(featuresBytes, &rec.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	return &rec, nil
}

// InsertChargeback appends one chargeback label row.
func (r *EvidenceRepository) InsertChargeback(ctx context.Context, cb *models.ChargebackRecord) error {
	cb.ID = uuid.New()
	cb.Status = models.ChargebackStatusReceived
	cb.ReceivedAt = time.Now().UTC()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO chargebacks (
			id, transaction_id, chargeback_id, amount_cents,
			reason_code, reason_description, fraud_type, status, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		cb.ID, cb.TransactionID, cb.ChargebackID, cb.AmountCents,
		cb.ReasonCode, cb.ReasonDescription, cb.FraudType, cb.Status, cb.ReceivedAt,
	)
	return err
}

// InsertRefund appends one refund label row.
func (r *EvidenceRepository) InsertRefund(ctx context.Context, rf *models.RefundRecord) error {
	rf.ID = uuid.New()
	rf.ReceivedAt = time.Now().UTC()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO refunds (
			id, transaction_id, refund_id, amount_cents,
			reason_code, reason_description, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		rf.ID, rf.TransactionID, rf.RefundID, rf.AmountCents,
		rf.ReasonCode, rf.ReasonDescription, rf.ReceivedAt,
	)
	return err
}

// DeleteExpiredVaultRows removes vault ciphertexts past their retention.
// Evidence rows themselves are kept until their own expiry.
func (r *EvidenceRepository) DeleteExpiredVaultRows(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM evidence_vault WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
