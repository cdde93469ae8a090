package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

const identityColumns = `id, uuid, external_id, email, trial_used, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (models.Identity, error) {
	var i models.Identity
	err := row.Scan(&i.ID, &i.UUID, &i.ExternalID, &i.Email, &i.TrialUsed, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

// CreateIdentity создаёт абонента. Повторный вызов с тем же external_id
// возвращает существующую запись, обновив email, если он передан.
func (s *Storage) CreateIdentity(ctx context.Context, uuid, externalID, email string) (models.Identity, error) {
	const op = "storage.CreateIdentity"

	query := `INSERT INTO identities (uuid, external_id, email)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (external_id) DO UPDATE
			  SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE identities.email END,
			      updated_at = NOW()
			  RETURNING ` + identityColumns
	i, err := scanIdentity(s.q.QueryRowContext(ctx, query, uuid, externalID, email))
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return i, nil
}

// GetIdentityByUUID возвращает абонента по UUID.
func (s *Storage) GetIdentityByUUID(ctx context.Context, uuid string) (models.Identity, error) {
	const op = "storage.GetIdentityByUUID"
	i, err := scanIdentity(s.q.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE uuid = $1`, uuid))
	if err != nil {
		return models.Identity{}, notFound(op, err)
	}
	return i, nil
}

// GetIdentity возвращает абонента по id.
func (s *Storage) GetIdentity(ctx context.Context, id int64) (models.Identity, error) {
	const op = "storage.GetIdentity"
	i, err := scanIdentity(s.q.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
	if err != nil {
		return models.Identity{}, notFound(op, err)
	}
	return i, nil
}

// LockIdentity блокирует строку абонента до конца транзакции.
// Все изменения подписок абонента начинаются с этой блокировки.
func (s *Storage) LockIdentity(ctx context.Context, id int64) (models.Identity, error) {
	const op = "storage.LockIdentity"
	i, err := scanIdentity(s.q.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.Identity{}, notFound(op, err)
	}
	return i, nil
}

// LockIdentityByUUID то же, что LockIdentity, но по UUID.
func (s *Storage) LockIdentityByUUID(ctx context.Context, uuid string) (models.Identity, error) {
	const op = "storage.LockIdentityByUUID"
	i, err := scanIdentity(s.q.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE uuid = $1 FOR UPDATE`, uuid))
	if err != nil {
		return models.Identity{}, notFound(op, err)
	}
	return i, nil
}

// SetTrialUsed выставляет или сбрасывает флаг использованного пробного периода.
func (s *Storage) SetTrialUsed(ctx context.Context, id int64, used bool) error {
	const op = "storage.SetTrialUsed"
	res, err := s.q.ExecContext(ctx,
		`UPDATE identities SET trial_used = $2, updated_at = NOW() WHERE id = $1`, id, used)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affectedOne(op, res)
}
