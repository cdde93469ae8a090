// Package payment применяет события платежей к подписке и создаёт платежи у провайдера.
// Событие может прийти несколько раз: продление выполняется ровно один раз,
// признак этого хранится в processed_at записи платежа.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/metrics"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/paymentprovider"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/ledger"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/reconciler"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

var (
	// ErrUnknownPayment платёж не найден, а в событии нет абонента и тарифа.
	ErrUnknownPayment = errors.New("unknown payment")
	// ErrUnknownPlan тариф отсутствует в конфигурации.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrInvalidEvent событие без id платежа или статуса.
	ErrInvalidEvent = errors.New("invalid payment event")
)

// Tx операции транзакции, нужные при применении платежа.
type Tx interface {
	ledger.Tx
	LockPayment(ctx context.Context, paymentID string) (models.PaymentRecord, error)
	SavePayment(ctx context.Context, p models.PaymentRecord) error
	SetPaymentStatus(ctx context.Context, paymentID, status string) error
	MarkPaymentProcessed(ctx context.Context, paymentID string, processedAt time.Time) error
}

// Store открывает транзакции.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository операции вне транзакции.
type Repository interface {
	GetIdentityByUUID(ctx context.Context, uuid string) (models.Identity, error)
	SavePayment(ctx context.Context, p models.PaymentRecord) error
	ListActiveNodes(ctx context.Context) ([]models.Node, error)
}

// Renewer продлевает подписку внутри транзакции.
type Renewer interface {
	RenewIn(ctx context.Context, tx ledger.Tx, identity models.Identity, plan string, d time.Duration) (models.Subscription, error)
}

// Reconciler распространяет новый срок на узлы.
type Reconciler interface {
	Reconcile(ctx context.Context, identity models.Identity, expiry time.Time, nodes []models.Node) reconciler.Result
}

// Provider платёжный провайдер.
type Provider interface {
	CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest, idempotenceKey string) (*paymentprovider.Payment, error)
}

// Result итог применения события.
type Result struct {
	Applied      bool
	Subscription models.Subscription
	Nodes        reconciler.Result
}

// Service обработка платежей.
type Service struct {
	store      Store
	repo       Repository
	renewer    Renewer
	reconciler Reconciler
	provider   Provider
	plans      config.Subscription
	checkout   config.YooKassa
	log        *slog.Logger
	now        func() time.Time
	newKey     func() string
}

// New создаёт сервис платежей.
func New(
	store Store,
	repo Repository,
	renewer Renewer,
	rec Reconciler,
	provider Provider,
	plans config.Subscription,
	checkout config.YooKassa,
	log *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		repo:       repo,
		renewer:    renewer,
		reconciler: rec,
		provider:   provider,
		plans:      plans,
		checkout:   checkout,
		log:        log,
		now:        time.Now,
		newKey:     newIdempotenceKey,
	}
}

// Apply применяет событие платежа. Повторное событие об успешной оплате
// не продлевает подписку второй раз и не считается ошибкой.
func (s *Service) Apply(ctx context.Context, ev models.PaymentEvent) (Result, error) {
	const op = "payment.Apply"
	log := s.log.With(
		slog.String("op", op),
		slog.String("payment_id", ev.PaymentID),
		slog.String("status", ev.Status))

	if ev.PaymentID == "" || ev.Status == "" {
		metrics.PaymentEvent(ev.Status, "rejected")
		return Result{}, fmt.Errorf("%s: %w", op, ErrInvalidEvent)
	}

	if ev.Status != models.PaymentSucceeded {
		if err := s.recordStatus(ctx, ev); err != nil {
			metrics.PaymentEvent(ev.Status, "rejected")
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
		metrics.PaymentEvent(ev.Status, "recorded")
		log.Info("payment status recorded")
		return Result{}, nil
	}

	var (
		res      Result
		identity models.Identity
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := s.lockOrCreate(ctx, tx, ev)
		if err != nil {
			return err
		}
		if rec.ProcessedAt != nil {
			return nil
		}

		d, ok := s.plans.PlanDuration(rec.Plan)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlan, rec.Plan)
		}
		identity, err = tx.LockIdentity(ctx, rec.IdentityID)
		if err != nil {
			return err
		}
		if err := tx.SetPaymentStatus(ctx, rec.PaymentID, models.PaymentSucceeded); err != nil {
			return err
		}
		if err := tx.MarkPaymentProcessed(ctx, rec.PaymentID, s.now()); err != nil {
			return err
		}
		res.Subscription, err = s.renewer.RenewIn(ctx, tx, identity, rec.Plan, d)
		if err != nil {
			return err
		}
		res.Applied = true
		return nil
	})
	if err != nil {
		metrics.PaymentEvent(ev.Status, "rejected")
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if !res.Applied {
		metrics.PaymentEvent(ev.Status, "duplicate")
		log.Info("payment already processed")
		return res, nil
	}
	metrics.PaymentEvent(ev.Status, "applied")
	log.Info("subscription renewed", slog.Time("expires_at", res.Subscription.ExpiresAt))

	nodes, err := s.repo.ListActiveNodes(ctx)
	if err != nil {
		// подписка уже продлена; неуспешные узлы досинхронизирует планировщик
		log.Error("failed to list nodes", sl.Err(err))
		return res, nil
	}
	res.Nodes = s.reconciler.Reconcile(ctx, identity, res.Subscription.ExpiresAt, nodes)
	if failed := res.Nodes.Failed(); failed > 0 {
		log.Warn("credentials not synced on some nodes", slog.Int("failed", failed))
	}
	return res, nil
}

// lockOrCreate блокирует запись платежа. Если её нет, создаёт по данным события.
func (s *Service) lockOrCreate(ctx context.Context, tx Tx, ev models.PaymentEvent) (models.PaymentRecord, error) {
	rec, err := tx.LockPayment(ctx, ev.PaymentID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return models.PaymentRecord{}, err
	}
	if ev.IdentityUUID == "" || ev.Plan == "" {
		return models.PaymentRecord{}, fmt.Errorf("%w: %s", ErrUnknownPayment, ev.PaymentID)
	}

	identity, err := tx.LockIdentityByUUID(ctx, ev.IdentityUUID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.PaymentRecord{}, fmt.Errorf("%w: identity %s", ErrUnknownPayment, ev.IdentityUUID)
	}
	if err != nil {
		return models.PaymentRecord{}, err
	}
	if err := tx.SavePayment(ctx, models.PaymentRecord{
		PaymentID:  ev.PaymentID,
		IdentityID: identity.ID,
		Plan:       ev.Plan,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		Status:     models.PaymentPending,
	}); err != nil {
		return models.PaymentRecord{}, err
	}
	return tx.LockPayment(ctx, ev.PaymentID)
}

// recordStatus сохраняет статус без изменения подписки. Отмена и возврат
// записываются всегда, прочие статусы только пока платёж не завершён.
func (s *Service) recordStatus(ctx context.Context, ev models.PaymentEvent) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.LockPayment(ctx, ev.PaymentID)
		if errors.Is(err, repository.ErrNotFound) {
			if ev.Status == models.PaymentCanceled || ev.Status == models.PaymentRefunded {
				return fmt.Errorf("%w: %s", ErrUnknownPayment, ev.PaymentID)
			}
			// ожидающий платёж, созданный в обход сервиса
			_, err = s.lockOrCreate(ctx, tx, ev)
			if err != nil {
				return err
			}
			return tx.SetPaymentStatus(ctx, ev.PaymentID, ev.Status)
		}
		if err != nil {
			return err
		}

		switch {
		case rec.Status == ev.Status:
			return nil
		case ev.Status == models.PaymentCanceled, ev.Status == models.PaymentRefunded:
			return tx.SetPaymentStatus(ctx, rec.PaymentID, ev.Status)
		case rec.Terminal():
			return nil
		default:
			return tx.SetPaymentStatus(ctx, rec.PaymentID, ev.Status)
		}
	})
}
