package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/marketplace/internal/clock"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/notification"
	"github.com/vasiliy-maslov/marketplace/internal/product"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

var (
	ErrEmptyOrder         = errors.New("order must contain at least one item")
	ErrInvalidInput       = errors.New("invalid order input")
	ErrInsufficientPoints = errors.New("not enough points")
	ErrInsufficientStock  = errors.New("not enough stock")
	ErrForbidden          = errors.New("order belongs to another user")
)

type PlaceOrderItemInput struct {
	ProductID uuid.UUID `json:"product_id"`
	SizeID    uuid.UUID `json:"size_id"`
	Quantity  int       `json:"quantity"`
}

type PlaceOrderInput struct {
	Name     string                `json:"name"`
	Phone    string                `json:"phone"`
	Address  string                `json:"address"`
	UsePoint int                   `json:"use_point"`
	Items    []PlaceOrderItemInput `json:"order_items"`
}

type UpdateShippingInput struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type Service interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, input PlaceOrderInput) (*Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, status *OrderStatus, page, limit int) ([]Order, error)
	UpdateOrderShipping(ctx context.Context, userID, orderID uuid.UUID, input UpdateShippingInput) (*Order, error)
	DeleteOrder(ctx context.Context, userID, orderID uuid.UUID) error
}

type service struct {
	orderRepo Repository
	stockRepo stock.Repository
	userRepo  user.Repository
	products  product.Service
	txm       db.TxManager
	clk       clock.Clock
	notifier  notification.Notifier
}

func NewService(
	orderRepo Repository,
	stockRepo stock.Repository,
	userRepo user.Repository,
	products product.Service,
	txm db.TxManager,
	clk clock.Clock,
	notifier notification.Notifier,
) Service {
	return &service{
		orderRepo: orderRepo,
		stockRepo: stockRepo,
		userRepo:  userRepo,
		products:  products,
		txm:       txm,
		clk:       clk,
		notifier:  notifier,
	}
}

type pricedLine struct {
	productID uuid.UUID
	sizeID    uuid.UUID
	quantity  int
	unitPrice decimal.Decimal
}

// priceOrderItems считает цену каждой позиции по живому состоянию скидок и
// собирает subtotal. Выполняется до транзакции: сброс истёкшей скидки — это
// ленивый побочный эффект, ему не место внутри заказа.
func (s *service) priceOrderItems(ctx context.Context, items []PlaceOrderItemInput) ([]pricedLine, decimal.Decimal, error) {
	lines := make([]pricedLine, 0, len(items))
	subtotal := decimal.Zero

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("service: quantity for product %s must be positive: %w", item.ProductID, ErrInvalidInput)
		}

		p, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}

		unitPrice := p.EffectiveUnitPrice(s.clk.Now())
		subtotal = subtotal.Add(unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))

		lines = append(lines, pricedLine{
			productID: p.ID,
			sizeID:    item.SizeID,
			quantity:  item.Quantity,
			unitPrice: unitPrice,
		})
	}

	return lines, subtotal, nil
}

func (s *service) PlaceOrder(ctx context.Context, userID uuid.UUID, input PlaceOrderInput) (*Order, error) {
	if len(input.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if input.UsePoint < 0 {
		return nil, fmt.Errorf("service: use_point cannot be negative: %w", ErrInvalidInput)
	}

	lines, subtotal, err := s.priceOrderItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	var created *Order
	var depleted []pricedLine

	err = s.txm.WithinTx(ctx, func(tx db.Querier) error {
		// Баланс и остатки перечитываются под блокировкой строк внутри
		// транзакции: снимки, взятые до Begin, могли устареть.
		point, err := s.userRepo.GetPointForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		newPoint := point - input.UsePoint
		if newPoint < 0 {
			return ErrInsufficientPoints
		}

		depleted = depleted[:0]
		for _, line := range lines {
			st, err := s.stockRepo.GetForUpdate(ctx, tx, line.productID, line.sizeID)
			if err != nil {
				return err
			}
			if st.Quantity < line.quantity {
				return ErrInsufficientStock
			}

			newQuantity := st.Quantity - line.quantity
			if err := s.stockRepo.SetQuantity(ctx, tx, st.ID, newQuantity); err != nil {
				return err
			}
			if newQuantity == 0 {
				depleted = append(depleted, line)
			}
		}

		if err := s.userRepo.UpdatePoint(ctx, tx, userID, newPoint); err != nil {
			return err
		}

		paidAt := s.clk.Now()
		o := &Order{
			UserID:   userID,
			Name:     input.Name,
			Phone:    input.Phone,
			Address:  input.Address,
			Status:   StatusPaid,
			UsePoint: input.UsePoint,
			Subtotal: subtotal,
			PaidAt:   &paidAt,
			Payment: &Payment{
				Status:     PaymentCompleted,
				TotalPrice: subtotal.Sub(decimal.NewFromInt(int64(input.UsePoint))),
			},
		}
		for _, line := range lines {
			o.OrderItems = append(o.OrderItems, OrderItem{
				ProductID: line.productID,
				SizeID:    line.sizeID,
				Quantity:  line.quantity,
				Price:     line.unitPrice,
			})
		}

		if err := s.orderRepo.Create(ctx, tx, o); err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientPoints),
			errors.Is(err, ErrInsufficientStock),
			errors.Is(err, stock.ErrStockNotFound),
			errors.Is(err, user.ErrNotFound):
			log.Warn().Err(err).Stringer("user_id", userID).Msg("service: order rejected")
			return nil, err
		}
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to place order")
		return nil, fmt.Errorf("service: failed to place order: %w", err)
	}

	created.TotalQuantity = created.computeTotalQuantity()

	// События об исчерпанном остатке уходят уже после коммита; их судьба на
	// исход заказа не влияет.
	for _, line := range depleted {
		go s.notifier.StockDepleted(context.WithoutCancel(ctx), line.productID, line.sizeID)
	}

	log.Info().
		Stringer("order_id", created.ID).
		Stringer("user_id", userID).
		Int("total_quantity", created.TotalQuantity).
		Msg("service: order placed")

	return created, nil
}

func (s *service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	o, err := s.orderRepo.GetByID(ctx, s.txm.Session(), orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order")
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}

	if o.UserID != userID {
		return nil, ErrForbidden
	}

	return o, nil
}

func (s *service) ListOrders(ctx context.Context, userID uuid.UUID, status *OrderStatus, page, limit int) ([]Order, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	orders, err := s.orderRepo.ListByUser(ctx, s.txm.Session(), userID, status, page, limit)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

func (s *service) UpdateOrderShipping(ctx context.Context, userID, orderID uuid.UUID, input UpdateShippingInput) (*Order, error) {
	o, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if !shippingEditableStatuses[o.Status] {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("status", o.Status).
			Msg("service: shipping update rejected by order status")
		return nil, ErrInvalidState
	}

	err = s.orderRepo.UpdateShipping(ctx, s.txm.Session(), orderID, input.Name, input.Phone, input.Address)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to update shipping")
		return nil, fmt.Errorf("service: failed to update shipping: %w", err)
	}

	return s.GetOrder(ctx, userID, orderID)
}

func (s *service) DeleteOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	o, err := s.orderRepo.GetByID(ctx, s.txm.Session(), orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order for delete")
		return fmt.Errorf("service: failed to fetch order for delete: %w", err)
	}

	if o.UserID != userID {
		return ErrForbidden
	}
	if o.Status != StatusPending {
		return ErrInvalidState
	}

	if err := s.orderRepo.Delete(ctx, s.txm.Session(), orderID, userID); err != nil {
		if errors.Is(err, ErrInvalidState) {
			// Статус успел поменяться между чтением и удалением.
			return ErrInvalidState
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to delete order")
		return fmt.Errorf("service: failed to delete order: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Msg("service: pending order deleted")
	return nil
}
