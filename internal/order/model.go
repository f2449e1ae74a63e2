package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPaid      OrderStatus = "PAID"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRefunded  OrderStatus = "REFUNDED"
)

func (os OrderStatus) String() string {
	return string(os)
}

// Статусы, в которых ещё можно править данные доставки. После отгрузки или
// отмены заказ закрыт для изменений.
var shippingEditableStatuses = map[OrderStatus]bool{
	StatusPending:  true,
	StatusPaid:     true,
	StatusRefunded: true,
}

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type OrderItem struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	SizeID    uuid.UUID `json:"size_id" db:"size_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	// Price — снимок цены за единицу на момент создания заказа; дальнейшие
	// изменения цены продукта его не трогают.
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type Payment struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	OrderID    uuid.UUID       `json:"order_id" db:"order_id"`
	Status     PaymentStatus   `json:"status" db:"status"`
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

type Order struct {
	ID       uuid.UUID   `json:"id" db:"id"`
	UserID   uuid.UUID   `json:"user_id" db:"user_id"`
	Name     string      `json:"name" db:"name"`
	Phone    string      `json:"phone" db:"phone"`
	Address  string      `json:"address" db:"address"`
	Status   OrderStatus `json:"status" db:"status"`
	UsePoint int         `json:"use_point" db:"use_point"`
	// Subtotal — сумма price*quantity по позициям, зафиксированная при
	// создании заказа.
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
	TotalQuantity int             `json:"total_quantity" db:"-"`
	OrderItems    []OrderItem     `json:"order_items" db:"-"`
	Payment       *Payment        `json:"payment" db:"-"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

func (o *Order) computeTotalQuantity() int {
	total := 0
	for _, item := range o.OrderItems {
		total += item.Quantity
	}
	return total
}
