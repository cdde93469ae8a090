// Package repository реализует хранилище на PostgreSQL: абоненты, узлы,
// подписки, учётные записи на узлах и платежи. Все методы работают
// через dbx.DBTX, поэтому одинаково выполняются вне и внутри транзакции.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/gateway-keeper/internal/storage/dbx"
)

// ErrNotFound запись не найдена.
var ErrNotFound = errors.New("storage: not found")

// Sealer запечатывает пароли узлов перед записью в БД.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Storage инкапсулирует соединение с PostgreSQL. Внутри InTx методы
// выполняются на транзакции.
type Storage struct {
	DB     *sql.DB
	q      dbx.DBTX
	sealer Sealer
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string, sealer Sealer) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithDB(db, sealer), nil
}

// NewWithDB оборачивает готовое соединение.
func NewWithDB(db *sql.DB, sealer Sealer) *Storage {
	return &Storage{DB: db, q: db, sealer: sealer}
}

// InTx выполняет fn в транзакции; tx-хранилище видит только эту транзакцию.
func (s *Storage) InTx(ctx context.Context, fn func(ctx context.Context, tx *Storage) error) error {
	const op = "storage.InTx"
	err := dbx.WithTx(ctx, s.DB, nil, func(ctx context.Context, q dbx.DBTX) error {
		return fn(ctx, &Storage{DB: s.DB, q: q, sealer: s.sealer})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает соединение с БД.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// CheckDatabaseReady проверяет, что миграции применены.
func CheckDatabaseReady(ctx context.Context, storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRowContext(ctx, `SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'subscriptions'
    )`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check tables: %w", err)
	}
	if !exists {
		return errors.New("required table subscriptions missing")
	}
	return nil
}

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affectedOne(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
