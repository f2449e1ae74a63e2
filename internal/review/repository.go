package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/product"
)

var (
	ErrReviewNotFound = errors.New("review not found")
	ErrReviewExists   = errors.New("review for this order item already exists")
)

// OrderItemInfo — позиция заказа вместе с владельцем и статусом заказа,
// ровно то, что нужно для проверки права на отзыв.
type OrderItemInfo struct {
	ID          uuid.UUID
	ProductID   uuid.UUID
	OrderUserID uuid.UUID
	OrderStatus order.OrderStatus
}

type Repository interface {
	GetOrderItem(ctx context.Context, s db.Querier, orderItemID uuid.UUID) (*OrderItemInfo, error)
	GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*Review, error)
	GetByOrderItemID(ctx context.Context, s db.Querier, orderItemID uuid.UUID) (*Review, error)
	Create(ctx context.Context, s db.Querier, rv *Review) error
	UpdateRating(ctx context.Context, s db.Querier, id uuid.UUID, rating int) (*Review, error)
	Delete(ctx context.Context, s db.Querier, id uuid.UUID) error
	ListByProduct(ctx context.Context, s db.Querier, productID uuid.UUID, page, limit int) ([]Review, error)
	ListRatingsByProduct(ctx context.Context, s db.Querier, productID uuid.UUID) ([]int, error)
	GetProductUpdatedAt(ctx context.Context, s db.Querier, productID uuid.UUID) (time.Time, error)
	// UpdateProductAggregate — compare-and-swap по версии строки продукта:
	// обновление проходит, только если updated_at не сдвинулся с момента
	// захвата токена. Возвращает число затронутых строк.
	UpdateProductAggregate(ctx context.Context, s db.Querier, productID uuid.UUID, count int, rating decimal.Decimal, token time.Time) (int64, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) GetOrderItem(ctx context.Context, s db.Querier, orderItemID uuid.UUID) (*OrderItemInfo, error) {
	query := `
		SELECT oi.id, oi.product_id, o.user_id, o.status
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.id = $1
	`

	var info OrderItemInfo
	err := s.QueryRow(ctx, query, orderItemID).Scan(
		&info.ID,
		&info.ProductID,
		&info.OrderUserID,
		&info.OrderStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order item %s: %w", orderItemID, err)
	}

	return &info, nil
}

const reviewColumns = `id, user_id, product_id, order_item_id, rating, content, created_at, updated_at`

func scanReview(row pgx.Row) (*Review, error) {
	var rv Review
	err := row.Scan(
		&rv.ID,
		&rv.UserID,
		&rv.ProductID,
		&rv.OrderItemID,
		&rv.Rating,
		&rv.Content,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (r *repository) GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	rv, err := scanReview(s.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("repository: failed to select review by id %s: %w", id, err)
	}

	return rv, nil
}

func (r *repository) GetByOrderItemID(ctx context.Context, s db.Querier, orderItemID uuid.UUID) (*Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE order_item_id = $1`

	rv, err := scanReview(s.QueryRow(ctx, query, orderItemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("repository: failed to select review by order item %s: %w", orderItemID, err)
	}

	return rv, nil
}

func (r *repository) Create(ctx context.Context, s db.Querier, rv *Review) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate review ID: %w", err)
	}
	rv.ID = id

	query := `
		INSERT INTO reviews (id, user_id, product_id, order_item_id, rating, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err = s.QueryRow(ctx, query,
		rv.ID,
		rv.UserID,
		rv.ProductID,
		rv.OrderItemID,
		rv.Rating,
		rv.Content,
	).Scan(&rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrReviewExists
		}
		return fmt.Errorf("repository: failed to insert review: %w", err)
	}

	return nil
}

func (r *repository) UpdateRating(ctx context.Context, s db.Querier, id uuid.UUID, rating int) (*Review, error) {
	query := `
		UPDATE reviews
		SET rating = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + reviewColumns + `
	`

	rv, err := scanReview(s.QueryRow(ctx, query, rating, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("repository: failed to update review %s: %w", id, err)
	}

	return rv, nil
}

func (r *repository) Delete(ctx context.Context, s db.Querier, id uuid.UUID) error {
	cmdTag, err := s.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete review %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrReviewNotFound
	}

	return nil
}

func (r *repository) ListByProduct(ctx context.Context, s db.Querier, productID uuid.UUID, page, limit int) ([]Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE product_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`

	offset := 0
	if page > 1 {
		offset = (page - 1) * limit
	}

	rows, err := s.Query(ctx, query, productID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query reviews for product %s: %w", productID, err)
	}
	defer rows.Close()

	reviews := make([]Review, 0)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan review for product %s: %w", productID, err)
		}
		reviews = append(reviews, *rv)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating reviews for product %s: %w", productID, err)
	}

	return reviews, nil
}

func (r *repository) ListRatingsByProduct(ctx context.Context, s db.Querier, productID uuid.UUID) ([]int, error) {
	rows, err := s.Query(ctx, `SELECT rating FROM reviews WHERE product_id = $1`, productID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query ratings for product %s: %w", productID, err)
	}
	defer rows.Close()

	ratings := make([]int, 0)
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return nil, fmt.Errorf("repository: failed to scan rating for product %s: %w", productID, err)
		}
		ratings = append(ratings, rating)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating ratings for product %s: %w", productID, err)
	}

	return ratings, nil
}

func (r *repository) GetProductUpdatedAt(ctx context.Context, s db.Querier, productID uuid.UUID) (time.Time, error) {
	var updatedAt time.Time
	err := s.QueryRow(ctx, `SELECT updated_at FROM products WHERE id = $1`, productID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, product.ErrProductNotFound
		}
		return time.Time{}, fmt.Errorf("repository: failed to select updated_at for product %s: %w", productID, err)
	}

	return updatedAt, nil
}

func (r *repository) UpdateProductAggregate(ctx context.Context, s db.Querier, productID uuid.UUID, count int, rating decimal.Decimal, token time.Time) (int64, error) {
	query := `
		UPDATE products
		SET reviews_count = $1, reviews_rating = $2, updated_at = now()
		WHERE id = $3 AND updated_at = $4
	`

	cmdTag, err := s.Exec(ctx, query, count, rating, productID, token)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to update review aggregate for product %s: %w", productID, err)
	}

	return cmdTag.RowsAffected(), nil
}
