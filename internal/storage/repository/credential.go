package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

// UpsertCredential записывает исход последней синхронизации пары (identity, node).
// Строка на пару одна; неуспешный исход тоже сохраняется.
func (s *Storage) UpsertCredential(ctx context.Context, c models.Credential) error {
	const op = "storage.UpsertCredential"

	query := `INSERT INTO credentials (identity_id, node_id, remote_id, synced, last_attempt_at, last_error, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (identity_id, node_id) DO UPDATE
			  SET remote_id = EXCLUDED.remote_id,
			      synced = EXCLUDED.synced,
			      last_attempt_at = EXCLUDED.last_attempt_at,
			      last_error = EXCLUDED.last_error,
			      expires_at = CASE WHEN EXCLUDED.synced THEN EXCLUDED.expires_at ELSE credentials.expires_at END,
			      updated_at = NOW()`
	_, err := s.q.ExecContext(ctx, query,
		c.IdentityID, c.NodeID, c.RemoteID, c.Synced, c.LastAttemptAt, c.LastError, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListCredentials возвращает записи синхронизации абонента по всем узлам.
func (s *Storage) ListCredentials(ctx context.Context, identityID int64) ([]models.Credential, error) {
	const op = "storage.ListCredentials"

	rows, err := s.q.QueryContext(ctx,
		`SELECT id, identity_id, node_id, remote_id, synced, last_attempt_at, last_error,
		        expires_at, created_at, updated_at
		 FROM credentials WHERE identity_id = $1 ORDER BY node_id`, identityID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.NodeID, &c.RemoteID, &c.Synced, &c.LastAttemptAt,
			&c.LastError, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// DeleteCredentials удаляет записи синхронизации абонента. Используется только при сбросе абонента.
func (s *Storage) DeleteCredentials(ctx context.Context, identityID int64) (int64, error) {
	const op = "storage.DeleteCredentials"
	res, err := s.q.ExecContext(ctx, `DELETE FROM credentials WHERE identity_id = $1`, identityID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
