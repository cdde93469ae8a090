// Package dbx содержит общие для репозиториев абстракции над database/sql:
// интерфейс DBTX, которому удовлетворяют *sql.DB и *sql.Tx, и запуск
// функции внутри транзакции.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX подмножество database/sql, которым пользуются репозитории.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx открывает транзакцию и выполняет fn. Коммит при успехе,
// откат при ошибке или панике; паника пробрасывается дальше.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
