package payment

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/paymentprovider"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/ledger"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/reconciler"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// txStore выполняет функцию транзакции на одном и том же mockTx.
type txStore struct {
	tx *mockTx
}

func (s txStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return fn(ctx, s.tx)
}

type mockTx struct {
	mock.Mock
}

func (m *mockTx) LockIdentity(ctx context.Context, id int64) (models.Identity, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Identity), args.Error(1)
}

func (m *mockTx) LockIdentityByUUID(ctx context.Context, uuid string) (models.Identity, error) {
	args := m.Called(ctx, uuid)
	return args.Get(0).(models.Identity), args.Error(1)
}

func (m *mockTx) ActiveSubscription(ctx context.Context, identityID int64) (models.Subscription, error) {
	args := m.Called(ctx, identityID)
	return args.Get(0).(models.Subscription), args.Error(1)
}

func (m *mockTx) LockSubscription(ctx context.Context, id int64) (models.Subscription, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Subscription), args.Error(1)
}

func (m *mockTx) InsertSubscription(ctx context.Context, identityID int64, plan string, expiresAt time.Time) (models.Subscription, error) {
	args := m.Called(ctx, identityID, plan, expiresAt)
	return args.Get(0).(models.Subscription), args.Error(1)
}

func (m *mockTx) ExtendSubscription(ctx context.Context, id int64, plan string, expiresAt time.Time) (models.Subscription, error) {
	args := m.Called(ctx, id, plan, expiresAt)
	return args.Get(0).(models.Subscription), args.Error(1)
}

func (m *mockTx) CloseSubscription(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTx) DeactivateSubscriptions(ctx context.Context, identityID int64) (int64, error) {
	args := m.Called(ctx, identityID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTx) SetTrialUsed(ctx context.Context, id int64, used bool) error {
	return m.Called(ctx, id, used).Error(0)
}

func (m *mockTx) LockPayment(ctx context.Context, paymentID string) (models.PaymentRecord, error) {
	args := m.Called(ctx, paymentID)
	return args.Get(0).(models.PaymentRecord), args.Error(1)
}

func (m *mockTx) SavePayment(ctx context.Context, p models.PaymentRecord) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockTx) SetPaymentStatus(ctx context.Context, paymentID, status string) error {
	return m.Called(ctx, paymentID, status).Error(0)
}

func (m *mockTx) MarkPaymentProcessed(ctx context.Context, paymentID string, processedAt time.Time) error {
	return m.Called(ctx, paymentID, processedAt).Error(0)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetIdentityByUUID(ctx context.Context, uuid string) (models.Identity, error) {
	args := m.Called(ctx, uuid)
	return args.Get(0).(models.Identity), args.Error(1)
}

func (m *mockRepo) SavePayment(ctx context.Context, p models.PaymentRecord) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockRepo) ListActiveNodes(ctx context.Context) ([]models.Node, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Node), args.Error(1)
}

type mockRenewer struct {
	mock.Mock
}

func (m *mockRenewer) RenewIn(ctx context.Context, tx ledger.Tx, identity models.Identity, plan string, d time.Duration) (models.Subscription, error) {
	args := m.Called(ctx, tx, identity, plan, d)
	return args.Get(0).(models.Subscription), args.Error(1)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, identity models.Identity, expiry time.Time, nodes []models.Node) reconciler.Result {
	args := m.Called(ctx, identity, expiry, nodes)
	return args.Get(0).(reconciler.Result)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest, key string) (*paymentprovider.Payment, error) {
	args := m.Called(ctx, req, key)
	p, _ := args.Get(0).(*paymentprovider.Payment)
	return p, args.Error(1)
}
