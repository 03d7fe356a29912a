package queue_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcoguard/fraud-decision/internal/models"
	"github.com/telcoguard/fraud-decision/internal/queue"
)

type fakeEvidence struct {
	records     map[string]*models.EvidenceRecord
	chargebacks []*models.ChargebackRecord
	refunds     []*models.RefundRecord
	failInserts bool
}

func (f *fakeEvidence) GetEvidence(_ context.Context, txnID string) (*models.EvidenceRecord, error) {
	return f.records[txnID], nil
}

func (f *fakeEvidence) RecordChargeback(_ context.Context, cb *models.ChargebackRecord) *uuid.UUID {
	if f.failInserts {
		return nil
	}
	cb.ID = uuid.New()
	f.chargebacks = append(f.chargebacks, cb)
	return &cb.ID
}

func (f *fakeEvidence) RecordRefund(_ context.Context, rf *models.RefundRecord) *uuid.UUID {
	if f.failInserts {
		return nil
	}
	rf.ID = uuid.New()
	f.refunds = append(f.refunds, rf)
	return &rf.ID
}

type fakeProfiles struct {
	chargebacks [][2]string
	refunds     []string
}

func (f *fakeProfiles) ApplyChargebackLabel(_ context.Context, cardToken, userID string) error {
	f.chargebacks = append(f.chargebacks, [2]string{cardToken, userID})
	return nil
}

func (f *fakeProfiles) ApplyRefundLabel(_ context.Context, userID string) error {
	f.refunds = append(f.refunds, userID)
	return nil
}

func TestHandle_ChargebackUpdatesProfiles(t *testing.T) {
	evd := &fakeEvidence{records: map[string]*models.EvidenceRecord{
		"txn-1": {TransactionID: "txn-1", CardToken: "tok-1", UserID: "user-1"},
	}}
	profiles := &fakeProfiles{}
	handler := queue.NewLabelHandler(evd, profiles)

	handler.Handle(context.Background(), []byte(`{
		"label_type": "chargeback",
		"transaction_id": "txn-1",
		"chargeback_id": "cb-1",
		"amount_cents": 4999,
		"reason_code": "10.4"
	}`))

	require.Len(t, evd.chargebacks, 1)
	assert.Equal(t, "cb-1", evd.chargebacks[0].ChargebackID)
	require.Len(t, profiles.chargebacks, 1)
	assert.Equal(t, [2]string{"tok-1", "user-1"}, profiles.chargebacks[0])
}

func TestHandle_RefundUpdatesUserProfile(t *testing.T) {
	evd := &fakeEvidence{records: map[string]*models.EvidenceRecord{
		"txn-2": {TransactionID: "txn-2", CardToken: "tok-2", UserID: "user-2"},
	}}
	profiles := &fakeProfiles{}
	handler := queue.NewLabelHandler(evd, profiles)

	handler.Handle(context.Background(), []byte(`{
		"label_type": "refund",
		"transaction_id": "txn-2",
		"refund_id": "rf-1",
		"amount_cents": 4999,
		"reason_code": "requested_by_customer"
	}`))

	require.Len(t, evd.refunds, 1)
	assert.Equal(t, []string{"user-2"}, profiles.refunds)
}

func TestHandle_UnknownTransactionStillRecordsLabel(t *testing.T) {
	evd := &fakeEvidence{records: map[string]*models.EvidenceRecord{}}
	profiles := &fakeProfiles{}
	handler := queue.NewLabelHandler(evd, profiles)

	handler.Handle(context.Background(), []byte(`{
		"label_type": "chargeback",
		"transaction_id": "txn-missing",
		"chargeback_id": "cb-9",
		"amount_cents": 100,
		"reason_code": "10.4"
	}`))

	assert.Len(t, evd.chargebacks, 1, "label kept even without evidence")
	assert.Empty(t, profiles.chargebacks, "no entities to update")
}

func TestHandle_MalformedAndUnknownTypesSkipped(t *testing.T) {
	evd := &fakeEvidence{records: map[string]*models.EvidenceRecord{}}
	profiles := &fakeProfiles{}
	handler := queue.NewLabelHandler(evd, profiles)

	handler.Handle(context.Background(), []byte(`{not json`))
	handler.Handle(context.Background(), []byte(`{"label_type":"dispute","transaction_id":"txn-3"}`))
	handler.Handle(context.Background(), []byte(`{"label_type":"chargeback"}`))

	assert.Empty(t, evd.chargebacks)
	assert.Empty(t, evd.refunds)
}

func TestHandle_InsertFailureSkipsProfileUpdate(t *testing.T) {
	evd := &fakeEvidence{
		records: map[string]*models.EvidenceRecord{
			"txn-4": {TransactionID: "txn-4", CardToken: "tok-4", UserID: "user-4"},
		},
		failInserts: true,
	}
	profiles := &fakeProfiles{}
	handler := queue.NewLabelHandler(evd, profiles)

	handler.Handle(context.Background(), []byte(`{
		"label_type": "chargeback",
		"transaction_id": "txn-4",
		"chargeback_id": "cb-4",
		"amount_cents": 100,
		"reason_code": "10.4"
	}`))

	assert.Empty(t, profiles.chargebacks, "profiles untouched when the label row fails")
}
