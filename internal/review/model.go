package review

import (
	"time"

	"github.com/gofrs/uuid"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Review struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	// OrderItemID уникален: на одну позицию заказа — максимум один отзыв.
	OrderItemID uuid.UUID `json:"order_item_id" db:"order_item_id"`
	Rating      int       `json:"rating" db:"rating"`
	Content     string    `json:"content" db:"content"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
