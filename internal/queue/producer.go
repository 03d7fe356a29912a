// Package queue publishes decision events to Kafka and consumes the
// chargeback/refund label stream.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/metrics"
	"github.com/telcoguard/fraud-decision/internal/models"
)

// DecisionEvent is the message published for every decision. Identifiers
// follow the evidence rules: tokens yes, raw device/IP no.
type DecisionEvent struct {
	TransactionID  string                  `json:"transaction_id"`
	IdempotencyKey string                  `json:"idempotency_key"`
	EventType      models.EventType        `json:"event_type"`
	Decision       models.Decision         `json:"decision"`
	Scores         models.RiskScores       `json:"scores"`
	Reasons        []models.DecisionReason `json:"reasons"`
	CardToken      string                  `json:"card_token"`
	UserID         string                  `json:"user_id,omitempty"`
	ServiceID      string                  `json:"service_id,omitempty"`
	ServiceType    models.ServiceType      `json:"service_type,omitempty"`
	AmountCents    int64                   `json:"amount_cents"`
	Currency       string                  `json:"currency"`
	PolicyVersion  string                  `json:"policy_version"`
	ProcessingMs   float64                 `json:"processing_time_ms"`
	DecidedAt      time.Time               `json:"decided_at"`
}

// DecisionPublisher writes decision events through an async producer so
// the decision path never blocks on the broker.
type DecisionPublisher struct {
	producer sarama.AsyncProducer
	topic    string
}

// NewDecisionPublisher connects the async producer.
func NewDecisionPublisher(cfg configs.KafkaConfig) (*DecisionPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &DecisionPublisher{producer: producer, topic: cfg.DecisionTopic}
	go p.drainErrors()
	return p, nil
}

func (p *DecisionPublisher) drainErrors() {
	for err := range p.producer.Errors() {
		metrics.KafkaPublishErrors.Inc()
		log.Error().Err(err.Err).Str("topic", err.Msg.Topic).Msg("decision publish failed")
	}
}

// PublishDecision enqueues one decision event, keyed by card token so a
// card's decisions stay ordered within a partition.
func (p *DecisionPublisher) PublishDecision(event *models.PaymentEvent, resp *models.DecisionResponse) {
	payload := DecisionEvent{
		TransactionID:  resp.TransactionID,
		IdempotencyKey: resp.IdempotencyKey,
		EventType:      event.EventType,
		Decision:       resp.Decision,
		Scores:         resp.Scores,
		Reasons:        resp.Reasons,
		CardToken:      event.Card.Token,
		UserID:         event.Subscriber.UserID,
		ServiceID:      event.Service.ID,
		ServiceType:    event.Service.Type,
		AmountCents:    event.AmountCents,
		Currency:       event.Currency,
		PolicyVersion:  resp.PolicyVersion,
		ProcessingMs:   resp.ProcessingMs,
		DecidedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.KafkaPublishErrors.Inc()
		log.Error().Err(err).Str("transaction_id", resp.TransactionID).Msg("decision encode failed")
		return
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Card.Token),
		Value: sarama.ByteEncoder(data),
	}
}

// Close flushes pending messages and shuts the producer down.
func (p *DecisionPublisher) Close() error {
	return p.producer.Close()
}
