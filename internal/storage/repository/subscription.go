package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

const subscriptionColumns = `id, identity_id, plan, expires_at, is_active,
	notified_24h, notified_0h, expired_handled, created_at, updated_at`

func scanSubscription(row rowScanner) (models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(&sub.ID, &sub.IdentityID, &sub.Plan, &sub.ExpiresAt, &sub.IsActive,
		&sub.Notified24h, &sub.Notified0h, &sub.ExpiredHandled, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

// ActiveSubscription возвращает активную подписку абонента и блокирует её строку.
func (s *Storage) ActiveSubscription(ctx context.Context, identityID int64) (models.Subscription, error) {
	const op = "storage.ActiveSubscription"
	sub, err := scanSubscription(s.q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE identity_id = $1 AND is_active FOR UPDATE`, identityID))
	if err != nil {
		return models.Subscription{}, notFound(op, err)
	}
	return sub, nil
}

// LockSubscription возвращает подписку по id и блокирует её строку.
func (s *Storage) LockSubscription(ctx context.Context, id int64) (models.Subscription, error) {
	const op = "storage.LockSubscription"
	sub, err := scanSubscription(s.q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.Subscription{}, notFound(op, err)
	}
	return sub, nil
}

// InsertSubscription создаёт активную подписку со сброшенными флагами.
func (s *Storage) InsertSubscription(ctx context.Context, identityID int64, plan string, expiresAt time.Time) (models.Subscription, error) {
	const op = "storage.InsertSubscription"
	sub, err := scanSubscription(s.q.QueryRowContext(ctx,
		`INSERT INTO subscriptions (identity_id, plan, expires_at, is_active)
		 VALUES ($1, $2, $3, TRUE)
		 RETURNING `+subscriptionColumns, identityID, plan, expiresAt))
	if err != nil {
		return models.Subscription{}, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ExtendSubscription переносит срок активной подписки и начинает новый цикл напоминаний.
func (s *Storage) ExtendSubscription(ctx context.Context, id int64, plan string, expiresAt time.Time) (models.Subscription, error) {
	const op = "storage.ExtendSubscription"
	sub, err := scanSubscription(s.q.QueryRowContext(ctx,
		`UPDATE subscriptions
		 SET plan = $2, expires_at = $3, notified_24h = FALSE, notified_0h = FALSE,
		     expired_handled = FALSE, updated_at = NOW()
		 WHERE id = $1 AND is_active
		 RETURNING `+subscriptionColumns, id, plan, expiresAt))
	if err != nil {
		return models.Subscription{}, notFound(op, err)
	}
	return sub, nil
}

// CloseSubscription снимает активность с подписки и помечает истечение обработанным.
func (s *Storage) CloseSubscription(ctx context.Context, id int64) error {
	const op = "storage.CloseSubscription"
	res, err := s.q.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = FALSE, expired_handled = TRUE, updated_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOne(op, res)
}

// DeactivateSubscriptions снимает активность со всех подписок абонента.
func (s *Storage) DeactivateSubscriptions(ctx context.Context, identityID int64) (int64, error) {
	const op = "storage.DeactivateSubscriptions"
	res, err := s.q.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = FALSE, expired_handled = TRUE, updated_at = NOW()
		 WHERE identity_id = $1 AND is_active`, identityID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

const dueColumns = `s.id, s.identity_id, s.plan, s.expires_at, s.is_active,
	s.notified_24h, s.notified_0h, s.expired_handled, s.created_at, s.updated_at,
	i.uuid, i.external_id, i.email`

func (s *Storage) queryDue(ctx context.Context, op, query string, args ...any) ([]models.DueSubscription, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.DueSubscription
	for rows.Next() {
		var d models.DueSubscription
		err := rows.Scan(&d.ID, &d.IdentityID, &d.Plan, &d.ExpiresAt, &d.IsActive,
			&d.Notified24h, &d.Notified0h, &d.ExpiredHandled, &d.CreatedAt, &d.UpdatedAt,
			&d.IdentityUUID, &d.ExternalID, &d.Email)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func reminderColumn(kind models.ReminderKind) (string, error) {
	switch kind {
	case models.Reminder24h:
		return "notified_24h", nil
	case models.Reminder0h:
		return "notified_0h", nil
	}
	return "", fmt.Errorf("unknown reminder kind %q", kind)
}

// DueReminders активные подписки с истечением в (after, until], по которым
// напоминание kind ещё не отправлено.
func (s *Storage) DueReminders(ctx context.Context, kind models.ReminderKind, after, until time.Time) ([]models.DueSubscription, error) {
	const op = "storage.DueReminders"
	col, err := reminderColumn(kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	query := `SELECT ` + dueColumns + `
			  FROM subscriptions s JOIN identities i ON i.id = s.identity_id
			  WHERE s.is_active AND s.expires_at > $1 AND s.expires_at <= $2 AND NOT s.` + col + `
			  ORDER BY s.expires_at`
	return s.queryDue(ctx, op, query, after, until)
}

// DueExpirations активные подписки с истёкшим сроком, истечение которых ещё не обработано.
func (s *Storage) DueExpirations(ctx context.Context, now time.Time) ([]models.DueSubscription, error) {
	const op = "storage.DueExpirations"
	query := `SELECT ` + dueColumns + `
			  FROM subscriptions s JOIN identities i ON i.id = s.identity_id
			  WHERE s.is_active AND s.expires_at <= $1 AND NOT s.expired_handled
			  ORDER BY s.expires_at`
	return s.queryDue(ctx, op, query, now)
}

// FailedSyncs действующие подписки абонентов, у которых есть неуспешная синхронизация с узлом.
func (s *Storage) FailedSyncs(ctx context.Context, now time.Time, limit int) ([]models.DueSubscription, error) {
	const op = "storage.FailedSyncs"
	query := `SELECT ` + dueColumns + `
			  FROM subscriptions s JOIN identities i ON i.id = s.identity_id
			  WHERE s.is_active AND s.expires_at > $1
			    AND EXISTS (SELECT 1 FROM credentials c WHERE c.identity_id = s.identity_id AND NOT c.synced)
			  ORDER BY s.id
			  LIMIT $2`
	return s.queryDue(ctx, op, query, now, limit)
}

// MarkReminderSent выставляет флаг напоминания, только если срок подписки
// не изменился с момента выборки. Возвращает false, если подписку продлили.
func (s *Storage) MarkReminderSent(ctx context.Context, id int64, kind models.ReminderKind, expiresAt time.Time) (bool, error) {
	const op = "storage.MarkReminderSent"
	col, err := reminderColumn(kind)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE subscriptions SET `+col+` = TRUE, updated_at = NOW()
		 WHERE id = $1 AND expires_at = $2 AND is_active`, id, expiresAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
