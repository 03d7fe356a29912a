package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/models"
)

// Label types accepted on the label topic.
const (
	LabelChargeback = "chargeback"
	LabelRefund     = "refund"
)

// LabelMessage is one chargeback or refund notification from the payment
// processor.
type LabelMessage struct {
	LabelType         string `json:"label_type"`
	TransactionID     string `json:"transaction_id"`
	ChargebackID      string `json:"chargeback_id,omitempty"`
	RefundID          string `json:"refund_id,omitempty"`
	AmountCents       int64  `json:"amount_cents"`
	ReasonCode        string `json:"reason_code"`
	ReasonDescription string `json:"reason_description,omitempty"`
	FraudType         string `json:"fraud_type,omitempty"`
}

// EvidenceStore resolves transactions to entities and records labels.
type EvidenceStore interface {
	GetEvidence(ctx context.Context, transactionID string) (*models.EvidenceRecord, error)
	RecordChargeback(ctx context.Context, cb *models.ChargebackRecord) *uuid.UUID
	RecordRefund(ctx context.Context, rf *models.RefundRecord) *uuid.UUID
}

// ProfileLabeler feeds dispute outcomes back into entity profiles.
type ProfileLabeler interface {
	ApplyChargebackLabel(ctx context.Context, cardToken, userID string) error
	ApplyRefundLabel(ctx context.Context, userID string) error
}

// LabelHandler consumes the label topic and applies each label to the
// evidence store and entity profiles. Implements
// sarama.ConsumerGroupHandler.
type LabelHandler struct {
	evidence EvidenceStore
	profiles ProfileLabeler
}

// NewLabelHandler wires a label consumer handler.
func NewLabelHandler(evidence EvidenceStore, profiles ProfileLabeler) *LabelHandler {
	return &LabelHandler{evidence: evidence, profiles: profiles}
}

func (h *LabelHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("label consumer session started")
	return nil
}

func (h *LabelHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("label consumer session ended")
	return nil
}

func (h *LabelHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.Handle(session.Context(), message.Value)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// Handle applies one label payload. Malformed or unmatchable labels are
// logged and skipped; the stream keeps moving.
func (h *LabelHandler) Handle(ctx context.Context, payload []byte) {
	var msg LabelMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Error().Err(err).Msg("malformed label message")
		return
	}
	if msg.TransactionID == "" {
		log.Warn().Msg("label message without transaction_id")
		return
	}

	rec, err := h.evidence.GetEvidence(ctx, msg.TransactionID)
	if err != nil || rec == nil {
		log.Warn().Err(err).
			Str("transaction_id", msg.TransactionID).
			Str("label_type", msg.LabelType).
			Msg("no evidence for labeled transaction, applying label without profile updates")
	}

	switch msg.LabelType {
	case LabelChargeback:
		h.handleChargeback(ctx, &msg, rec)
	case LabelRefund:
		h.handleRefund(ctx, &msg, rec)
	default:
		log.Warn().Str("label_type", msg.LabelType).Msg("unknown label type")
	}
}

func (h *LabelHandler) handleChargeback(ctx context.Context, msg *LabelMessage, rec *models.EvidenceRecord) {
	id := h.evidence.RecordChargeback(ctx, &models.ChargebackRecord{
		TransactionID:     msg.TransactionID,
		ChargebackID:      msg.ChargebackID,
		AmountCents:       msg.AmountCents,
		ReasonCode:        msg.ReasonCode,
		ReasonDescription: msg.ReasonDescription,
		FraudType:         msg.FraudType,
	})
	if id == nil {
		return
	}
	if rec != nil {
		if err := h.profiles.ApplyChargebackLabel(ctx, rec.CardToken, rec.UserID); err != nil {
			log.Error().Err(err).Str("transaction_id", msg.TransactionID).Msg("chargeback profile update failed")
			return
		}
	}
	log.Info().
		Str("transaction_id", msg.TransactionID).
		Str("chargeback_id", msg.ChargebackID).
		Str("reason_code", msg.ReasonCode).
		Msg("chargeback label applied")
}

func (h *LabelHandler) handleRefund(ctx context.Context, msg *LabelMessage, rec *models.EvidenceRecord) {
	id := h.evidence.RecordRefund(ctx, &models.RefundRecord{
		TransactionID:     msg.TransactionID,
		RefundID:          msg.RefundID,
		AmountCents:       msg.AmountCents,
		ReasonCode:        msg.ReasonCode,
		ReasonDescription: msg.ReasonDescription,
	})
	if id == nil {
		return
	}
	if rec != nil && rec.UserID != "" {
		if err := h.profiles.ApplyRefundLabel(ctx, rec.UserID); err != nil {
			log.Error().Err(err).Str("transaction_id", msg.TransactionID).Msg("refund profile update failed")
			return
		}
	}
	log.Info().
		Str("transaction_id", msg.TransactionID).
		Str("refund_id", msg.RefundID).
		Msg("refund label applied")
}

// ConsumeLabels runs the consumer group loop until the context is
// canceled.
func ConsumeLabels(ctx context.Context, cfg configs.KafkaConfig, handler *LabelHandler) error {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	var group sarama.ConsumerGroup
	var err error
	for i := 0; i < 30; i++ {
		group, err = sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("kafka not reachable, retrying")
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("create kafka consumer group: %w", err)
	}
	defer group.Close()

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.LabelTopic).
		Str("group", cfg.ConsumerGroup).
		Msg("label consumer started")

	for {
		if err := group.Consume(ctx, []string{cfg.LabelTopic}, handler); err != nil {
			log.Error().Err(err).Msg("label consumer error")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
