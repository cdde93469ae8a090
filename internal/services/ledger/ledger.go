// Package ledger управляет состоянием подписки абонента: пробный период,
// оплата и продление, истечение. Каждое изменение выполняется в транзакции,
// которая начинается с блокировки строки абонента.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

var (
	ErrTrialAlreadyUsed   = errors.New("trial already used")
	ErrSubscriptionActive = errors.New("subscription is already active")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrInvalidDuration    = errors.New("duration must be positive")
)

// PlanRenewal тариф продления без явного тарифа, если действующей подписки нет.
const PlanRenewal = "renewal"

// Tx операции хранилища внутри транзакции.
type Tx interface {
	LockIdentity(ctx context.Context, id int64) (models.Identity, error)
	LockIdentityByUUID(ctx context.Context, uuid string) (models.Identity, error)
	ActiveSubscription(ctx context.Context, identityID int64) (models.Subscription, error)
	LockSubscription(ctx context.Context, id int64) (models.Subscription, error)
	InsertSubscription(ctx context.Context, identityID int64, plan string, expiresAt time.Time) (models.Subscription, error)
	ExtendSubscription(ctx context.Context, id int64, plan string, expiresAt time.Time) (models.Subscription, error)
	CloseSubscription(ctx context.Context, id int64) error
	DeactivateSubscriptions(ctx context.Context, identityID int64) (int64, error)
	SetTrialUsed(ctx context.Context, id int64, used bool) error
}

// Store открывает транзакции.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Ledger сервис жизненного цикла подписки.
type Ledger struct {
	store Store
	trial time.Duration
	now   func() time.Time
	log   *slog.Logger
}

// New создаёт Ledger с длительностью пробного периода trial.
func New(store Store, trial time.Duration, log *slog.Logger) *Ledger {
	return &Ledger{
		store: store,
		trial: trial,
		now:   time.Now,
		log:   log,
	}
}

// ActivateTrial открывает пробный период. Флаг пробного периода выставляется навсегда
// и сбрасывается только ResetTrial.
func (l *Ledger) ActivateTrial(ctx context.Context, identityUUID string) (models.Subscription, error) {
	const op = "ledger.ActivateTrial"
	log := l.log.With(slog.String("op", op), slog.String("identity", identityUUID))

	var out models.Subscription
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		identity, err := lockByUUID(ctx, tx, identityUUID)
		if err != nil {
			return err
		}
		if identity.TrialUsed {
			return ErrTrialAlreadyUsed
		}

		now := l.now()
		current, found, err := activeSubscription(ctx, tx, identity.ID)
		if err != nil {
			return err
		}
		if found {
			if current.ExpiresAt.After(now) {
				return ErrSubscriptionActive
			}
			if err := tx.CloseSubscription(ctx, current.ID); err != nil {
				return err
			}
		}

		out, err = tx.InsertSubscription(ctx, identity.ID, models.PlanTrial, now.Add(l.trial))
		if err != nil {
			return err
		}
		return tx.SetTrialUsed(ctx, identity.ID, true)
	})
	if err != nil {
		return models.Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("trial activated", slog.Time("expires_at", out.ExpiresAt))
	return out, nil
}

// ActivatePaid начисляет оплаченный период d по тарифу plan.
func (l *Ledger) ActivatePaid(ctx context.Context, identityUUID, plan string, d time.Duration) (models.Subscription, error) {
	const op = "ledger.ActivatePaid"

	var out models.Subscription
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		identity, err := lockByUUID(ctx, tx, identityUUID)
		if err != nil {
			return err
		}
		out, err = l.RenewIn(ctx, tx, identity, plan, d)
		return err
	})
	if err != nil {
		return models.Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Renew продлевает подписку на d, сохраняя текущий тариф.
func (l *Ledger) Renew(ctx context.Context, identityUUID string, d time.Duration) (models.Subscription, error) {
	return l.ActivatePaid(ctx, identityUUID, "", d)
}

// RenewIn продление внутри уже открытой транзакции. Строка абонента должна
// быть заблокирована вызывающим. Действующая подписка продлевается от своего
// срока, истёкшая закрывается и заменяется новой от текущего момента.
// Пустой plan сохраняет тариф действующей подписки.
func (l *Ledger) RenewIn(ctx context.Context, tx Tx, identity models.Identity, plan string, d time.Duration) (models.Subscription, error) {
	if d <= 0 {
		return models.Subscription{}, ErrInvalidDuration
	}
	log := l.log.With(slog.String("op", "ledger.RenewIn"), slog.String("identity", identity.UUID))

	now := l.now()
	current, found, err := activeSubscription(ctx, tx, identity.ID)
	if err != nil {
		return models.Subscription{}, err
	}

	if found && current.ExpiresAt.After(now) {
		if plan == "" {
			plan = current.Plan
		}
		sub, err := tx.ExtendSubscription(ctx, current.ID, plan, current.ExpiresAt.Add(d))
		if err != nil {
			return models.Subscription{}, err
		}
		log.Info("subscription extended",
			slog.Time("from", current.ExpiresAt),
			slog.Time("expires_at", sub.ExpiresAt))
		return sub, nil
	}

	if found {
		if err := tx.CloseSubscription(ctx, current.ID); err != nil {
			return models.Subscription{}, err
		}
	}
	if plan == "" {
		plan = PlanRenewal
	}
	sub, err := tx.InsertSubscription(ctx, identity.ID, plan, now.Add(d))
	if err != nil {
		return models.Subscription{}, err
	}
	log.Info("subscription started", slog.String("plan", plan), slog.Time("expires_at", sub.ExpiresAt))
	return sub, nil
}

// Expire переводит подписку в истёкшее состояние, если она активна, срок вышел
// и истечение ещё не обработано. Возвращает true, если переход выполнен.
func (l *Ledger) Expire(ctx context.Context, identityID, subscriptionID int64) (bool, error) {
	const op = "ledger.Expire"

	transitioned := false
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockIdentity(ctx, identityID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrIdentityNotFound
			}
			return err
		}
		sub, err := tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.IdentityID != identityID {
			return fmt.Errorf("subscription %d does not belong to identity %d", subscriptionID, identityID)
		}
		if !sub.IsActive || sub.ExpiredHandled || sub.ExpiresAt.After(l.now()) {
			return nil
		}
		if err := tx.CloseSubscription(ctx, sub.ID); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return transitioned, nil
}

// ResetTrial административный сброс флага пробного периода.
func (l *Ledger) ResetTrial(ctx context.Context, identityUUID string) error {
	const op = "ledger.ResetTrial"
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		identity, err := lockByUUID(ctx, tx, identityUUID)
		if err != nil {
			return err
		}
		return tx.SetTrialUsed(ctx, identity.ID, false)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Reset полный сброс абонента: флаг пробного периода и все активные подписки.
func (l *Ledger) Reset(ctx context.Context, identityUUID string) (models.Identity, error) {
	const op = "ledger.Reset"
	var identity models.Identity
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		identity, err = lockByUUID(ctx, tx, identityUUID)
		if err != nil {
			return err
		}
		if err := tx.SetTrialUsed(ctx, identity.ID, false); err != nil {
			return err
		}
		_, err = tx.DeactivateSubscriptions(ctx, identity.ID)
		return err
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	identity.TrialUsed = false
	return identity, nil
}

func lockByUUID(ctx context.Context, tx Tx, uuid string) (models.Identity, error) {
	identity, err := tx.LockIdentityByUUID(ctx, uuid)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Identity{}, ErrIdentityNotFound
	}
	return identity, err
}

func activeSubscription(ctx context.Context, tx Tx, identityID int64) (models.Subscription, bool, error) {
	sub, err := tx.ActiveSubscription(ctx, identityID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Subscription{}, false, nil
	}
	if err != nil {
		return models.Subscription{}, false, err
	}
	return sub, true, nil
}
