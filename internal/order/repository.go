package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/marketplace/internal/db"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidState — заказ существует, но его статус запрещает операцию.
	ErrInvalidState = errors.New("order status does not permit this operation")
)

type Repository interface {
	// Create пишет заказ, его позиции и платёж одной пачкой вставок.
	// Транзакцией управляет вызывающий: сессия s обязана быть pgx.Tx.
	Create(ctx context.Context, s db.Querier, o *Order) error
	GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, s db.Querier, userID uuid.UUID, status *OrderStatus, page, limit int) ([]Order, error)
	UpdateShipping(ctx context.Context, s db.Querier, id uuid.UUID, name, phone, address string) error
	// Delete удаляет заказ жёстко и только в статусе PENDING — статус
	// зашит в условие, чтобы гонка с оплатой не снесла оплаченный заказ.
	Delete(ctx context.Context, s db.Querier, id, userID uuid.UUID) error
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) Create(ctx context.Context, s db.Querier, o *Order) error {
	orderID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate order ID: %w", err)
	}
	o.ID = orderID

	queryOrder := `
		INSERT INTO orders (id, user_id, name, phone, address, status, use_point, subtotal, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err = s.QueryRow(ctx, queryOrder,
		o.ID,
		o.UserID,
		o.Name,
		o.Phone,
		o.Address,
		string(o.Status),
		o.UsePoint,
		o.Subtotal,
		o.PaidAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, size_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	for i := range o.OrderItems {
		item := &o.OrderItems[i]

		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		item.ID = itemID
		item.OrderID = o.ID

		err = s.QueryRow(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.SizeID,
			item.Quantity,
			item.Price,
		).Scan(&item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}

	if o.Payment == nil {
		return fmt.Errorf("repository: order %s has no payment", o.ID)
	}

	paymentID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate payment ID: %w", err)
	}
	o.Payment.ID = paymentID
	o.Payment.OrderID = o.ID

	queryPayment := `
		INSERT INTO payments (id, order_id, status, total_price)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err = s.QueryRow(ctx, queryPayment,
		o.Payment.ID,
		o.Payment.OrderID,
		string(o.Payment.Status),
		o.Payment.TotalPrice,
	).Scan(&o.Payment.CreatedAt, &o.Payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert payment for order %s: %w", o.ID, err)
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*Order, error) {
	queryOrder := `
		SELECT id, user_id, name, phone, address, status, use_point, subtotal, created_at, updated_at, paid_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := s.QueryRow(ctx, queryOrder, id).Scan(
		&o.ID,
		&o.UserID,
		&o.Name,
		&o.Phone,
		&o.Address,
		&o.Status,
		&o.UsePoint,
		&o.Subtotal,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.listItems(ctx, s, []uuid.UUID{o.ID})
	if err != nil {
		return nil, err
	}
	o.OrderItems = items
	o.TotalQuantity = o.computeTotalQuantity()

	payment, err := r.getPayment(ctx, s, o.ID)
	if err != nil {
		return nil, err
	}
	o.Payment = payment

	return &o, nil
}

func (r *repository) ListByUser(ctx context.Context, s db.Querier, userID uuid.UUID, status *OrderStatus, page, limit int) ([]Order, error) {
	query := `
		SELECT id, user_id, name, phone, address, status, use_point, subtotal, created_at, updated_at, paid_at
		FROM orders
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4
	`

	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}

	offset := 0
	if page > 1 {
		offset = (page - 1) * limit
	}

	rows, err := s.Query(ctx, query, userID, statusArg, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user %s: %w", userID, err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.Name,
			&o.Phone,
			&o.Address,
			&o.Status,
			&o.UsePoint,
			&o.Subtotal,
			&o.CreatedAt,
			&o.UpdatedAt,
			&o.PaidAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user %s: %w", userID, err)
		}
		o.OrderItems = make([]OrderItem, 0)
		ordersMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user %s: %w", userID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	items, err := r.listItems(ctx, s, orderIDs)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if o, ok := ordersMap[item.OrderID]; ok {
			o.OrderItems = append(o.OrderItems, item)
		}
	}

	payments, err := r.listPayments(ctx, s, orderIDs)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		if o, ok := ordersMap[payments[i].OrderID]; ok {
			o.Payment = &payments[i]
		}
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		o := ordersMap[id]
		o.TotalQuantity = o.computeTotalQuantity()
		result = append(result, *o)
	}

	return result, nil
}

func (r *repository) UpdateShipping(ctx context.Context, s db.Querier, id uuid.UUID, name, phone, address string) error {
	query := `
		UPDATE orders
		SET name = $1, phone = $2, address = $3, updated_at = now()
		WHERE id = $4
	`

	cmdTag, err := s.Exec(ctx, query, name, phone, address, id)
	if err != nil {
		return fmt.Errorf("repository: failed to update shipping for order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *repository) Delete(ctx context.Context, s db.Querier, id, userID uuid.UUID) error {
	query := `
		DELETE FROM orders
		WHERE id = $1 AND user_id = $2 AND status = 'PENDING'
	`

	cmdTag, err := s.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrInvalidState
	}

	return nil
}

func (r *repository) listItems(ctx context.Context, s db.Querier, orderIDs []uuid.UUID) ([]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, size_id, quantity, price, created_at, updated_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at
	`

	rows, err := s.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.SizeID,
			&item.Quantity,
			&item.Price,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}

	return items, nil
}

func (r *repository) getPayment(ctx context.Context, s db.Querier, orderID uuid.UUID) (*Payment, error) {
	query := `
		SELECT id, order_id, status, total_price, created_at, updated_at
		FROM payments
		WHERE order_id = $1
	`

	var p Payment
	err := s.QueryRow(ctx, query, orderID).Scan(
		&p.ID,
		&p.OrderID,
		&p.Status,
		&p.TotalPrice,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: failed to select payment for order %s: %w", orderID, err)
	}

	return &p, nil
}

func (r *repository) listPayments(ctx context.Context, s db.Querier, orderIDs []uuid.UUID) ([]Payment, error) {
	query := `
		SELECT id, order_id, status, total_price, created_at, updated_at
		FROM payments
		WHERE order_id = ANY($1)
	`

	rows, err := s.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := make([]Payment, 0)
	for rows.Next() {
		var p Payment
		err := rows.Scan(&p.ID, &p.OrderID, &p.Status, &p.TotalPrice, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating payments: %w", err)
	}

	return payments, nil
}
