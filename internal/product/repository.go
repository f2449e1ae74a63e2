package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

var ErrProductNotFound = errors.New("product not found")

type Repository interface {
	GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*Product, error)
	ClearDiscount(ctx context.Context, s db.Querier, id uuid.UUID) (*Product, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

const productColumns = `id, store_id, name, content, image, price,
		discount_rate, discount_price, discount_start_time, discount_end_time,
		reviews_count, reviews_rating, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.StoreID,
		&p.Name,
		&p.Content,
		&p.Image,
		&p.Price,
		&p.DiscountRate,
		&p.DiscountPrice,
		&p.DiscountStartTime,
		&p.DiscountEndTime,
		&p.ReviewsCount,
		&p.ReviewsRating,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1
	`

	p, err := scanProduct(s.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product by id %s: %w", id, err)
	}

	return p, nil
}

// ClearDiscount сбрасывает истёкшие скидочные поля. Повторный вызов на уже
// очищенном продукте безопасен: обновление идемпотентно.
func (r *repository) ClearDiscount(ctx context.Context, s db.Querier, id uuid.UUID) (*Product, error) {
	query := `
		UPDATE products
		SET discount_rate = NULL,
			discount_price = NULL,
			discount_start_time = NULL,
			discount_end_time = NULL,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + productColumns + `
	`

	p, err := scanProduct(s.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to clear discount for product %s: %w", id, err)
	}

	return p, nil
}
