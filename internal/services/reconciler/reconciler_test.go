package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/babysteps-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage/memory"
)

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

type GranterMock struct{ mock.Mock }

func (m *GranterMock) GrantFromPaymentTx(ctx context.Context, tx storage.Tx, paymentTransactionID, userID string, n int) (credits.GrantResult, error) {
	args := m.Called(ctx, tx, paymentTransactionID, userID, n)
	return args.Get(0).(credits.GrantResult), args.Error(1)
}

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *memory.Store
	credits *credits.Service
	pub     *PublisherMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	creditSvc := credits.New(store, log, nil)
	pub := &PublisherMock{}
	svc := New(store, creditSvc, pub, log, nil)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, credits: creditSvc, pub: pub}
}

func (f *fixture) addPayment(t *testing.T, typ models.PaymentType, status models.PaymentStatus, metadata any) *models.PaymentTransaction {
	t.Helper()
	var raw []byte
	if metadata != nil {
		var err error
		raw, err = json.Marshal(metadata)
		require.NoError(t, err)
	}
	p := &models.PaymentTransaction{
		ID:              uuid.NewString(),
		UserID:          "u1",
		AmountInCents:   1999,
		Currency:        "USD",
		PaymentMethod:   "manual",
		TransactionType: typ,
		Status:          status,
		Metadata:        raw,
	}
	require.NoError(t, f.store.CreatePaymentTransaction(context.Background(), p))
	return p
}

func (f *fixture) balance(t *testing.T) int {
	t.Helper()
	b, err := f.credits.Balance(context.Background(), "u1")
	require.NoError(t, err)
	return b
}

func TestOnStatusTransition_CreditsGrantedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPayment(t, models.PaymentTypeCredits, models.PaymentPending, map[string]int{"credits": 50})

	f.pub.On("Publish", mock.Anything, rabbitmq.RoutingPaymentCompleted, mock.MatchedBy(func(e PaymentCompletedEvent) bool {
		return e.CreditsGranted == 50 && e.UserID == "u1"
	})).Return(nil).Once()

	updated, err := f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted, VerifiedBy: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, updated.Status)
	require.NotNil(t, updated.VerifiedAt)
	assert.Equal(t, fixedNow, *updated.VerifiedAt)
	require.NotNil(t, updated.VerifiedBy)
	assert.Equal(t, "admin-1", *updated.VerifiedBy)
	assert.Equal(t, 50, f.balance(t))

	again, err := f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted, VerifiedBy: "admin-2"})
	require.NoError(t, err)
	assert.Equal(t, 50, f.balance(t), "repeated completion must not grant again")
	require.NotNil(t, again.VerifiedBy)
	assert.Equal(t, "admin-1", *again.VerifiedBy)

	list, err := f.credits.Transactions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	f.pub.AssertExpectations(t)
}

func TestOnStatusTransition_FailedToCompleted(t *testing.T) {
	f := newFixture(t)
	p := f.addPayment(t, models.PaymentTypeCredits, models.PaymentFailed, map[string]int{"credits": 10})
	f.pub.On("Publish", mock.Anything, rabbitmq.RoutingPaymentCompleted, mock.Anything).Return(nil)

	_, err := f.svc.OnStatusTransition(context.Background(), StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted})
	require.NoError(t, err)
	assert.Equal(t, 10, f.balance(t))
}

func TestOnStatusTransition_NoSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		from  models.PaymentStatus
		to    models.PaymentStatus
		typ   models.PaymentType
		notes string
		extID string
	}{
		{name: "pending to failed", from: models.PaymentPending, to: models.PaymentFailed, typ: models.PaymentTypeCredits, notes: "declined"},
		{name: "pending to refunded", from: models.PaymentPending, to: models.PaymentRefunded, typ: models.PaymentTypeLifetime},
		{name: "completed to refunded", from: models.PaymentCompleted, to: models.PaymentRefunded, typ: models.PaymentTypeCredits, extID: "ext-1"},
		{name: "pending stays pending", from: models.PaymentPending, to: models.PaymentPending, typ: models.PaymentTypeSubscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p := f.addPayment(t, tt.typ, tt.from, map[string]any{"credits": 20, "tier": "family"})

			upd := StatusUpdate{TransactionID: p.ID, Status: tt.to}
			if tt.notes != "" {
				upd.AdminNotes = &tt.notes
			}
			if tt.extID != "" {
				upd.ExternalPaymentID = &tt.extID
			}

			updated, err := f.svc.OnStatusTransition(ctx, upd)
			require.NoError(t, err)
			assert.Equal(t, tt.to, updated.Status)
			assert.Nil(t, updated.VerifiedAt)
			if tt.notes != "" {
				require.NotNil(t, updated.AdminNotes)
				assert.Equal(t, tt.notes, *updated.AdminNotes)
			}
			if tt.extID != "" {
				require.NotNil(t, updated.ExternalPaymentID)
				assert.Equal(t, tt.extID, *updated.ExternalPaymentID)
			}

			assert.Zero(t, f.balance(t))
			_, err = f.store.GetSubscription(ctx, "u1")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOnStatusTransition_Subscriptions(t *testing.T) {
	tests := []struct {
		name     string
		typ      models.PaymentType
		metadata any
		wantTier string
		wantEnd  *time.Time
	}{
		{
			name:     "lifetime has no end date",
			typ:      models.PaymentTypeLifetime,
			metadata: map[string]string{"tier": "lifetime"},
			wantTier: "lifetime",
		},
		{
			name:     "monthly family",
			typ:      models.PaymentTypeSubscription,
			metadata: map[string]string{"tier": "family", "billingType": "monthly"},
			wantTier: "family",
			wantEnd:  ptr(fixedNow.AddDate(0, 1, 0)),
		},
		{
			name:     "yearly family",
			typ:      models.PaymentTypeSubscription,
			metadata: map[string]string{"tier": "family", "billingType": "yearly"},
			wantTier: "family",
			wantEnd:  ptr(fixedNow.AddDate(1, 0, 0)),
		},
		{
			name:     "lifetime payment without metadata",
			typ:      models.PaymentTypeLifetime,
			wantTier: "lifetime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p := f.addPayment(t, tt.typ, models.PaymentPending, tt.metadata)
			f.pub.On("Publish", mock.Anything, rabbitmq.RoutingPaymentCompleted, mock.Anything).Return(nil).Once()

			_, err := f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted})
			require.NoError(t, err)

			sub, err := f.store.GetSubscription(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, sub.Tier)
			assert.Equal(t, models.SubscriptionActive, sub.Status)
			assert.Equal(t, fixedNow, sub.StartDate)
			assert.Equal(t, p.ID, sub.PaymentTransactionID)
			assert.Equal(t, tt.wantEnd, sub.EndDate)
			assert.Zero(t, f.balance(t))
		})
	}
}

func TestOnStatusTransition_SubscriptionNotDuplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPayment(t, models.PaymentTypeSubscription, models.PaymentPending, map[string]string{"tier": "family"})
	f.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted})
	require.NoError(t, err)
	first, err := f.store.GetSubscription(ctx, "u1")
	require.NoError(t, err)

	// платёж откатили в failed и снова подтвердили
	_, err = f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: p.ID, Status: models.PaymentFailed})
	require.NoError(t, err)
	f.svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	_, err = f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted})
	require.NoError(t, err)

	second, err := f.store.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOnStatusTransition_CreditsWithoutMetadataSkipped(t *testing.T) {
	f := newFixture(t)
	p := f.addPayment(t, models.PaymentTypeCredits, models.PaymentPending, nil)
	f.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.OnStatusTransition(context.Background(), StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, updated.Status)
	assert.Zero(t, f.balance(t))
}

func TestOnStatusTransition_RollbackOnSideEffectFailure(t *testing.T) {
	store := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	granter := &GranterMock{}
	svc := New(store, granter, nil, log, nil)

	p := &models.PaymentTransaction{
		ID:              "pay-1",
		UserID:          "u1",
		Currency:        "USD",
		TransactionType: models.PaymentTypeCredits,
		Status:          models.PaymentPending,
		Metadata:        []byte(`{"credits": 5}`),
	}
	require.NoError(t, store.CreatePaymentTransaction(context.Background(), p))

	boom := errors.New("ledger unavailable")
	granter.On("GrantFromPaymentTx", mock.Anything, mock.Anything, "pay-1", "u1", 5).Return(credits.GrantResult{}, boom).Once()

	_, err := svc.OnStatusTransition(context.Background(), StatusUpdate{TransactionID: "pay-1", Status: models.PaymentCompleted})
	require.ErrorIs(t, err, boom)

	got, err := store.GetPaymentTransaction(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status, "status must roll back with the failed grant")
	assert.Nil(t, got.VerifiedAt)
	granter.AssertExpectations(t)
}

func TestOnStatusTransition_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: "missing", Status: models.PaymentCompleted})
	assert.ErrorIs(t, err, ErrNotFound)

	p := f.addPayment(t, models.PaymentTypeCredits, models.PaymentPending, map[string]int{"credits": 1})
	_, err = f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: p.ID, Status: "approved"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	bad := f.addPayment(t, models.PaymentTypeSubscription, models.PaymentPending, map[string]string{"tier": "free"})
	_, err = f.svc.OnStatusTransition(ctx, StatusUpdate{TransactionID: bad.ID, Status: models.PaymentCompleted})
	assert.ErrorIs(t, err, ErrMalformedMetadata)
	got, err := f.store.GetPaymentTransaction(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)
}

func TestOnStatusTransition_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	p := f.addPayment(t, models.PaymentTypeCredits, models.PaymentPending, map[string]int{"credits": 3})
	f.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := f.svc.OnStatusTransition(context.Background(), StatusUpdate{TransactionID: p.ID, Status: models.PaymentCompleted})
	require.NoError(t, err)
	assert.Equal(t, 3, f.balance(t))
}

func TestListPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPayment(t, models.PaymentTypeCredits, models.PaymentPending, nil)
	f.addPayment(t, models.PaymentTypeCredits, models.PaymentCompleted, nil)

	all, err := f.svc.ListPayments(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending := models.PaymentPending
	filtered, err := f.svc.ListPayments(ctx, &pending)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, models.PaymentPending, filtered[0].Status)

	bad := models.PaymentStatus("lost")
	_, err = f.svc.ListPayments(ctx, &bad)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func ptr[T any](v T) *T { return &v }

func TestGetPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.addPayment(t, models.PaymentTypeCredits, models.PaymentPending, map[string]int{"credits": 5})
	got, err := f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, models.PaymentPending, got.Status)

	_, err = f.svc.GetPayment(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
