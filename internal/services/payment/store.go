package payment

import (
	"context"

	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

type repoStore struct {
	s *repository.Storage
}

// FromStorage адаптирует PostgreSQL-хранилище к Store.
func FromStorage(s *repository.Storage) Store {
	return repoStore{s: s}
}

func (r repoStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.s.InTx(ctx, func(ctx context.Context, tx *repository.Storage) error {
		return fn(ctx, tx)
	})
}
