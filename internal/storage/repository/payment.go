package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

const paymentColumns = `id, payment_id, identity_id, plan, amount, currency, status, processed_at, created_at, updated_at`

// SavePayment сохраняет платёж. Если платёж с таким payment_id уже есть, ничего не меняет.
func (s *Storage) SavePayment(ctx context.Context, p models.PaymentRecord) error {
	const op = "storage.SavePayment"

	query := `INSERT INTO payments (payment_id, identity_id, plan, amount, currency, status)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (payment_id) DO NOTHING`
	_, err := s.q.ExecContext(ctx, query, p.PaymentID, p.IdentityID, p.Plan, p.Amount, p.Currency, p.Status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LockPayment возвращает платёж и блокирует его строку до конца транзакции.
func (s *Storage) LockPayment(ctx context.Context, paymentID string) (models.PaymentRecord, error) {
	const op = "storage.LockPayment"

	var p models.PaymentRecord
	err := s.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1 FOR UPDATE`, paymentID).
		Scan(&p.ID, &p.PaymentID, &p.IdentityID, &p.Plan, &p.Amount, &p.Currency, &p.Status,
			&p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.PaymentRecord{}, notFound(op, err)
	}
	return p, nil
}

// SetPaymentStatus обновляет статус платежа.
func (s *Storage) SetPaymentStatus(ctx context.Context, paymentID, status string) error {
	const op = "storage.SetPaymentStatus"
	res, err := s.q.ExecContext(ctx,
		`UPDATE payments SET status = $2, updated_at = NOW() WHERE payment_id = $1`, paymentID, status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOne(op, res)
}

// MarkPaymentProcessed фиксирует успешный платёж. processed_at выставляется один раз.
func (s *Storage) MarkPaymentProcessed(ctx context.Context, paymentID string, processedAt time.Time) error {
	const op = "storage.MarkPaymentProcessed"
	res, err := s.q.ExecContext(ctx,
		`UPDATE payments SET status = $2, processed_at = $3, updated_at = NOW()
		 WHERE payment_id = $1 AND processed_at IS NULL`,
		paymentID, models.PaymentSucceeded, processedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOne(op, res)
}
