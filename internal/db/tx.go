package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Querier — общий интерфейс сессии для запросов: ему удовлетворяют
// и *pgxpool.Pool, и pgx.Tx. Репозитории принимают его явно, чтобы один и
// тот же запрос работал как внутри транзакции, так и вне её.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager выдаёт сессии и выполняет функции в одной транзакции.
type TxManager interface {
	Session() Querier
	WithinTx(ctx context.Context, fn func(s Querier) error) error
}

type pgxTxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) TxManager {
	return &pgxTxManager{pool: pool}
}

func (m *pgxTxManager) Session() Querier {
	return m.pool
}

func (m *pgxTxManager) WithinTx(ctx context.Context, fn func(s Querier) error) (err error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("db: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("db: failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("db: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}
