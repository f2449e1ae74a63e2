package product

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	StoreID           uuid.UUID        `json:"store_id" db:"store_id"`
	Name              string           `json:"name" db:"name"`
	Content           string           `json:"content" db:"content"`
	Image             string           `json:"image,omitempty" db:"image"`
	Price             decimal.Decimal  `json:"price" db:"price"`
	DiscountRate      *int             `json:"discount_rate,omitempty" db:"discount_rate"`
	DiscountPrice     *decimal.Decimal `json:"discount_price,omitempty" db:"discount_price"`
	DiscountStartTime *time.Time       `json:"discount_start_time,omitempty" db:"discount_start_time"`
	DiscountEndTime   *time.Time       `json:"discount_end_time,omitempty" db:"discount_end_time"`
	ReviewsCount      int              `json:"reviews_count" db:"reviews_count"`
	ReviewsRating     decimal.Decimal  `json:"reviews_rating" db:"reviews_rating"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	// UpdatedAt одновременно служит токеном оптимистичной блокировки для
	// агрегатов отзывов.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EffectiveUnitPrice возвращает цену за единицу на момент now: цену со
// скидкой, если скидочное окно покрывает now, иначе обычную цену.
func (p *Product) EffectiveUnitPrice(now time.Time) decimal.Decimal {
	if p.DiscountPrice == nil {
		return p.Price
	}
	if p.DiscountStartTime != nil && now.Before(*p.DiscountStartTime) {
		return p.Price
	}
	if p.DiscountEndTime != nil && now.After(*p.DiscountEndTime) {
		return p.Price
	}
	return *p.DiscountPrice
}

// DiscountExpired сообщает, закончилось ли скидочное окно к моменту now.
func (p *Product) DiscountExpired(now time.Time) bool {
	return p.DiscountEndTime != nil && p.DiscountEndTime.Before(now)
}
