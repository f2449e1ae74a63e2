package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

var ErrStockNotFound = errors.New("stock not found")

type Repository interface {
	// GetForUpdate читает строку остатка под блокировкой строки — вызывается
	// только внутри транзакции заказа.
	GetForUpdate(ctx context.Context, s db.Querier, productID, sizeID uuid.UUID) (*Stock, error)
	SetQuantity(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error
	ListByProduct(ctx context.Context, s db.Querier, productID uuid.UUID) ([]Stock, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) GetForUpdate(ctx context.Context, s db.Querier, productID, sizeID uuid.UUID) (*Stock, error) {
	query := `
		SELECT id, product_id, size_id, quantity, created_at, updated_at
		FROM stocks
		WHERE product_id = $1 AND size_id = $2
		FOR UPDATE
	`

	var st Stock
	err := s.QueryRow(ctx, query, productID, sizeID).Scan(
		&st.ID,
		&st.ProductID,
		&st.SizeID,
		&st.Quantity,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStockNotFound
		}
		return nil, fmt.Errorf("repository: failed to select stock for product %s size %s: %w", productID, sizeID, err)
	}

	return &st, nil
}

func (r *repository) SetQuantity(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error {
	query := `
		UPDATE stocks
		SET quantity = $1, updated_at = now()
		WHERE id = $2
	`

	cmdTag, err := s.Exec(ctx, query, quantity, id)
	if err != nil {
		return fmt.Errorf("repository: failed to update stock %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrStockNotFound
	}

	return nil
}

func (r *repository) ListByProduct(ctx context.Context, s db.Querier, productID uuid.UUID) ([]Stock, error) {
	query := `
		SELECT id, product_id, size_id, quantity, created_at, updated_at
		FROM stocks
		WHERE product_id = $1
	`

	rows, err := s.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query stocks for product %s: %w", productID, err)
	}
	defer rows.Close()

	stocks := make([]Stock, 0)
	for rows.Next() {
		var st Stock
		err := rows.Scan(&st.ID, &st.ProductID, &st.SizeID, &st.Quantity, &st.CreatedAt, &st.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan stock for product %s: %w", productID, err)
		}
		stocks = append(stocks, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating stocks for product %s: %w", productID, err)
	}

	return stocks, nil
}
