package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("user with this email already exists")
)

type Repository interface {
	Create(ctx context.Context, s db.Querier, u *User) (*User, error)
	GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*User, error)
	// GetPointForUpdate читает баланс баллов под блокировкой строки —
	// вызывается только внутри транзакции заказа.
	GetPointForUpdate(ctx context.Context, s db.Querier, id uuid.UUID) (int, error)
	UpdatePoint(ctx context.Context, s db.Querier, id uuid.UUID, point int) error
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) Create(ctx context.Context, s db.Querier, u *User) (*User, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate user ID: %w", err)
	}

	query := `
		INSERT INTO users (id, email, nickname, password_hash, type, point)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, nickname, password_hash, type, point, created_at, updated_at
	`

	var created User
	err = s.QueryRow(ctx, query, id, u.Email, u.Nickname, u.PasswordHash, u.Type, u.Point).Scan(
		&created.ID,
		&created.Email,
		&created.Nickname,
		&created.PasswordHash,
		&created.Type,
		&created.Point,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("repository: failed to insert user: %w", err)
	}

	return &created, nil
}

func (r *repository) GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, nickname, password_hash, type, point, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var u User
	err := s.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.Nickname,
		&u.PasswordHash,
		&u.Type,
		&u.Point,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select user by id %s: %w", id, err)
	}

	return &u, nil
}

func (r *repository) GetPointForUpdate(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) {
	query := `
		SELECT point
		FROM users
		WHERE id = $1
		FOR UPDATE
	`

	var point int
	err := s.QueryRow(ctx, query, id).Scan(&point)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("repository: failed to select point for user %s: %w", id, err)
	}

	return point, nil
}

func (r *repository) UpdatePoint(ctx context.Context, s db.Querier, id uuid.UUID, point int) error {
	query := `
		UPDATE users
		SET point = $1, updated_at = now()
		WHERE id = $2
	`

	cmdTag, err := s.Exec(ctx, query, point, id)
	if err != nil {
		return fmt.Errorf("repository: failed to update point for user %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
