package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/product"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

type fakeTxManager struct{}

func (fakeTxManager) Session() db.Querier { return nil }

func (fakeTxManager) WithinTx(ctx context.Context, fn func(s db.Querier) error) error {
	return fn(nil)
}

type fakeClock struct {
	now    time.Time
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return nil
}

type fakeNotifier struct {
	depletedCh chan uuid.UUID
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{depletedCh: make(chan uuid.UUID, 8)}
}

func (n *fakeNotifier) StockDepleted(ctx context.Context, productID, sizeID uuid.UUID) {
	n.depletedCh <- productID
}

func (n *fakeNotifier) ReviewPosted(ctx context.Context, productID, reviewID uuid.UUID) {}

type mockOrderRepository struct {
	createFunc         func(ctx context.Context, s db.Querier, o *order.Order) error
	getByIDFunc        func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error)
	listByUserFunc     func(ctx context.Context, s db.Querier, userID uuid.UUID, status *order.OrderStatus, page, limit int) ([]order.Order, error)
	updateShippingFunc func(ctx context.Context, s db.Querier, id uuid.UUID, name, phone, address string) error
	deleteFunc         func(ctx context.Context, s db.Querier, id, userID uuid.UUID) error
}

func (m *mockOrderRepository) Create(ctx context.Context, s db.Querier, o *order.Order) error {
	return m.createFunc(ctx, s, o)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, s, id)
}

func (m *mockOrderRepository) ListByUser(ctx context.Context, s db.Querier, userID uuid.UUID, status *order.OrderStatus, page, limit int) ([]order.Order, error) {
	return m.listByUserFunc(ctx, s, userID, status, page, limit)
}

func (m *mockOrderRepository) UpdateShipping(ctx context.Context, s db.Querier, id uuid.UUID, name, phone, address string) error {
	return m.updateShippingFunc(ctx, s, id, name, phone, address)
}

func (m *mockOrderRepository) Delete(ctx context.Context, s db.Querier, id, userID uuid.UUID) error {
	return m.deleteFunc(ctx, s, id, userID)
}

type mockStockRepository struct {
	getForUpdateFunc func(ctx context.Context, s db.Querier, productID, sizeID uuid.UUID) (*stock.Stock, error)
	setQuantityFunc  func(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error
}

func (m *mockStockRepository) GetForUpdate(ctx context.Context, s db.Querier, productID, sizeID uuid.UUID) (*stock.Stock, error) {
	return m.getForUpdateFunc(ctx, s, productID, sizeID)
}

func (m *mockStockRepository) SetQuantity(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error {
	return m.setQuantityFunc(ctx, s, id, quantity)
}

func (m *mockStockRepository) ListByProduct(ctx context.Context, s db.Querier, productID uuid.UUID) ([]stock.Stock, error) {
	return nil, nil
}

type mockUserRepository struct {
	getPointForUpdateFunc func(ctx context.Context, s db.Querier, id uuid.UUID) (int, error)
	updatePointFunc       func(ctx context.Context, s db.Querier, id uuid.UUID, point int) error
}

func (m *mockUserRepository) Create(ctx context.Context, s db.Querier, u *user.User) (*user.User, error) {
	return u, nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, s db.Querier, id uuid.UUID) (*user.User, error) {
	return nil, user.ErrNotFound
}

func (m *mockUserRepository) GetPointForUpdate(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) {
	return m.getPointForUpdateFunc(ctx, s, id)
}

func (m *mockUserRepository) UpdatePoint(ctx context.Context, s db.Querier, id uuid.UUID, point int) error {
	return m.updatePointFunc(ctx, s, id, point)
}

type mockProductService struct {
	getProductFunc func(ctx context.Context, id uuid.UUID) (*product.Product, error)
}

func (m *mockProductService) GetProduct(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	return m.getProductFunc(ctx, id)
}

func (m *mockProductService) RefreshDiscountState(ctx context.Context, p *product.Product) (*product.Product, error) {
	return p, nil
}

func (m *mockProductService) ListProductStocks(ctx context.Context, productID uuid.UUID) ([]stock.Stock, error) {
	return nil, nil
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return id
}

func TestOrderService_PlaceOrder(t *testing.T) {
	buyerID := uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))
	productID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440000"))
	sizeID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440001"))
	stockID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440002"))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	plainProduct := func() *product.Product {
		return &product.Product{
			ID:    productID,
			Name:  "Sneakers",
			Price: decimal.NewFromInt(10000),
		}
	}

	input := func(quantity, usePoint int) order.PlaceOrderInput {
		return order.PlaceOrderInput{
			Name:     "Ivan",
			Phone:    "010-1234-5678",
			Address:  "Somewhere 1",
			UsePoint: usePoint,
			Items: []order.PlaceOrderItemInput{
				{ProductID: productID, SizeID: sizeID, Quantity: quantity},
			},
		}
	}

	t.Run("success", func(t *testing.T) {
		var savedOrder *order.Order
		var newPoint *int
		var newStockQuantity *int

		orderRepo := &mockOrderRepository{
			createFunc: func(ctx context.Context, s db.Querier, o *order.Order) error {
				o.ID = mustUUID(t)
				savedOrder = o
				return nil
			},
		}
		stockRepo := &mockStockRepository{
			getForUpdateFunc: func(ctx context.Context, s db.Querier, pID, sID uuid.UUID) (*stock.Stock, error) {
				return &stock.Stock{ID: stockID, ProductID: pID, SizeID: sID, Quantity: 10}, nil
			},
			setQuantityFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error {
				newStockQuantity = &quantity
				return nil
			},
		}
		userRepo := &mockUserRepository{
			getPointForUpdateFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) {
				return 3000, nil
			},
			updatePointFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, point int) error {
				newPoint = &point
				return nil
			},
		}
		products := &mockProductService{
			getProductFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return plainProduct(), nil
			},
		}

		svc := order.NewService(orderRepo, stockRepo, userRepo, products, fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier())

		o, err := svc.PlaceOrder(context.Background(), buyerID, input(1, 1000))
		require.NoError(t, err)
		require.NotNil(t, savedOrder)

		assert.Equal(t, order.StatusPaid, o.Status)
		assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(10000)), "subtotal should be 10000, got %s", o.Subtotal)
		require.NotNil(t, o.Payment)
		assert.Equal(t, order.PaymentCompleted, o.Payment.Status)
		assert.True(t, o.Payment.TotalPrice.Equal(decimal.NewFromInt(9000)), "total price should be 9000, got %s", o.Payment.TotalPrice)
		assert.Equal(t, 1, o.TotalQuantity)
		require.NotNil(t, o.PaidAt)
		assert.Equal(t, now, *o.PaidAt)

		require.NotNil(t, newPoint)
		assert.Equal(t, 2000, *newPoint)
		require.NotNil(t, newStockQuantity)
		assert.Equal(t, 9, *newStockQuantity)

		require.Len(t, o.OrderItems, 1)
		assert.True(t, o.OrderItems[0].Price.Equal(decimal.NewFromInt(10000)))
	})

	t.Run("discounted_price_snapshot", func(t *testing.T) {
		discountPrice := decimal.NewFromInt(8000)
		start := now.Add(-time.Hour)
		end := now.Add(time.Hour)

		var savedOrder *order.Order
		orderRepo := &mockOrderRepository{
			createFunc: func(ctx context.Context, s db.Querier, o *order.Order) error {
				savedOrder = o
				return nil
			},
		}
		stockRepo := &mockStockRepository{
			getForUpdateFunc: func(ctx context.Context, s db.Querier, pID, sID uuid.UUID) (*stock.Stock, error) {
				return &stock.Stock{ID: stockID, Quantity: 5}, nil
			},
			setQuantityFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error {
				return nil
			},
		}
		userRepo := &mockUserRepository{
			getPointForUpdateFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) { return 0, nil },
			updatePointFunc:       func(ctx context.Context, s db.Querier, id uuid.UUID, point int) error { return nil },
		}
		products := &mockProductService{
			getProductFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				p := plainProduct()
				p.DiscountPrice = &discountPrice
				p.DiscountStartTime = &start
				p.DiscountEndTime = &end
				return p, nil
			},
		}

		svc := order.NewService(orderRepo, stockRepo, userRepo, products, fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier())

		o, err := svc.PlaceOrder(context.Background(), buyerID, input(2, 0))
		require.NoError(t, err)
		require.NotNil(t, savedOrder)

		assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(16000)), "subtotal should be 16000, got %s", o.Subtotal)
		assert.True(t, o.OrderItems[0].Price.Equal(discountPrice))
	})

	t.Run("insufficient_points", func(t *testing.T) {
		var pointUpdated, stockTouched, orderCreated bool

		orderRepo := &mockOrderRepository{
			createFunc: func(ctx context.Context, s db.Querier, o *order.Order) error {
				orderCreated = true
				return nil
			},
		}
		stockRepo := &mockStockRepository{
			getForUpdateFunc: func(ctx context.Context, s db.Querier, pID, sID uuid.UUID) (*stock.Stock, error) {
				stockTouched = true
				return &stock.Stock{ID: stockID, Quantity: 10}, nil
			},
			setQuantityFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error {
				stockTouched = true
				return nil
			},
		}
		userRepo := &mockUserRepository{
			getPointForUpdateFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) {
				return 3000, nil
			},
			updatePointFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, point int) error {
				pointUpdated = true
				return nil
			},
		}
		products := &mockProductService{
			getProductFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return plainProduct(), nil
			},
		}

		svc := order.NewService(orderRepo, stockRepo, userRepo, products, fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier())

		_, err := svc.PlaceOrder(context.Background(), buyerID, input(1, 5000))
		assert.ErrorIs(t, err, order.ErrInsufficientPoints)
		assert.False(t, pointUpdated, "point balance must not be written on failure")
		assert.False(t, stockTouched, "stock must not be touched on failure")
		assert.False(t, orderCreated, "order must not be created on failure")
	})

	t.Run("insufficient_stock", func(t *testing.T) {
		var pointUpdated, orderCreated bool

		orderRepo := &mockOrderRepository{
			createFunc: func(ctx context.Context, s db.Querier, o *order.Order) error {
				orderCreated = true
				return nil
			},
		}
		stockRepo := &mockStockRepository{
			getForUpdateFunc: func(ctx context.Context, s db.Querier, pID, sID uuid.UUID) (*stock.Stock, error) {
				return &stock.Stock{ID: stockID, Quantity: 1}, nil
			},
			setQuantityFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error {
				t.Fatal("SetQuantity must not be called when stock is insufficient")
				return nil
			},
		}
		userRepo := &mockUserRepository{
			getPointForUpdateFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) {
				return 3000, nil
			},
			updatePointFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, point int) error {
				pointUpdated = true
				return nil
			},
		}
		products := &mockProductService{
			getProductFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return plainProduct(), nil
			},
		}

		svc := order.NewService(orderRepo, stockRepo, userRepo, products, fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier())

		_, err := svc.PlaceOrder(context.Background(), buyerID, input(2, 0))
		assert.ErrorIs(t, err, order.ErrInsufficientStock)
		assert.False(t, pointUpdated)
		assert.False(t, orderCreated)
	})

	t.Run("stock_not_found", func(t *testing.T) {
		orderRepo := &mockOrderRepository{}
		stockRepo := &mockStockRepository{
			getForUpdateFunc: func(ctx context.Context, s db.Querier, pID, sID uuid.UUID) (*stock.Stock, error) {
				return nil, stock.ErrStockNotFound
			},
		}
		userRepo := &mockUserRepository{
			getPointForUpdateFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) {
				return 0, nil
			},
		}
		products := &mockProductService{
			getProductFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return plainProduct(), nil
			},
		}

		svc := order.NewService(orderRepo, stockRepo, userRepo, products, fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier())

		_, err := svc.PlaceOrder(context.Background(), buyerID, input(1, 0))
		assert.ErrorIs(t, err, stock.ErrStockNotFound)
	})

	t.Run("product_not_found", func(t *testing.T) {
		svc := order.NewService(
			&mockOrderRepository{},
			&mockStockRepository{},
			&mockUserRepository{},
			&mockProductService{
				getProductFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
					return nil, product.ErrProductNotFound
				},
			},
			fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier(),
		)

		_, err := svc.PlaceOrder(context.Background(), buyerID, input(1, 0))
		assert.ErrorIs(t, err, product.ErrProductNotFound)
	})

	t.Run("empty_order", func(t *testing.T) {
		svc := order.NewService(
			&mockOrderRepository{}, &mockStockRepository{}, &mockUserRepository{}, &mockProductService{},
			fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier(),
		)

		_, err := svc.PlaceOrder(context.Background(), buyerID, order.PlaceOrderInput{})
		assert.ErrorIs(t, err, order.ErrEmptyOrder)
	})

	t.Run("non_positive_quantity", func(t *testing.T) {
		svc := order.NewService(
			&mockOrderRepository{}, &mockStockRepository{}, &mockUserRepository{}, &mockProductService{},
			fakeTxManager{}, &fakeClock{now: now}, newFakeNotifier(),
		)

		_, err := svc.PlaceOrder(context.Background(), buyerID, input(0, 0))
		assert.ErrorIs(t, err, order.ErrInvalidInput)
	})

	t.Run("stock_depleted_notification", func(t *testing.T) {
		notifier := newFakeNotifier()

		orderRepo := &mockOrderRepository{
			createFunc: func(ctx context.Context, s db.Querier, o *order.Order) error { return nil },
		}
		stockRepo := &mockStockRepository{
			getForUpdateFunc: func(ctx context.Context, s db.Querier, pID, sID uuid.UUID) (*stock.Stock, error) {
				return &stock.Stock{ID: stockID, Quantity: 1}, nil
			},
			setQuantityFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, quantity int) error {
				return nil
			},
		}
		userRepo := &mockUserRepository{
			getPointForUpdateFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (int, error) { return 0, nil },
			updatePointFunc:       func(ctx context.Context, s db.Querier, id uuid.UUID, point int) error { return nil },
		}
		products := &mockProductService{
			getProductFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return plainProduct(), nil
			},
		}

		svc := order.NewService(orderRepo, stockRepo, userRepo, products, fakeTxManager{}, &fakeClock{now: now}, notifier)

		_, err := svc.PlaceOrder(context.Background(), buyerID, input(1, 0))
		require.NoError(t, err)

		select {
		case pID := <-notifier.depletedCh:
			assert.Equal(t, productID, pID)
		case <-time.After(time.Second):
			t.Fatal("expected stock depleted notification")
		}
	})
}

func TestOrderService_DeleteOrder(t *testing.T) {
	buyerID := uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))
	otherID := uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174999"))
	orderID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440010"))

	tests := []struct {
		name        string
		getByIDFunc func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error)
		deleteFunc  func(ctx context.Context, s db.Querier, id, userID uuid.UUID) error
		wantErrIs   error
	}{
		{
			name: "pending_order_deleted",
			getByIDFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error) {
				return &order.Order{ID: orderID, UserID: buyerID, Status: order.StatusPending}, nil
			},
			deleteFunc: func(ctx context.Context, s db.Querier, id, userID uuid.UUID) error { return nil },
		},
		{
			name: "paid_order_rejected",
			getByIDFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error) {
				return &order.Order{ID: orderID, UserID: buyerID, Status: order.StatusPaid}, nil
			},
			wantErrIs: order.ErrInvalidState,
		},
		{
			name: "foreign_order_rejected",
			getByIDFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error) {
				return &order.Order{ID: orderID, UserID: otherID, Status: order.StatusPending}, nil
			},
			wantErrIs: order.ErrForbidden,
		},
		{
			name: "not_found",
			getByIDFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error) {
				return nil, order.ErrOrderNotFound
			},
			wantErrIs: order.ErrOrderNotFound,
		},
		{
			name: "status_changed_between_read_and_delete",
			getByIDFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error) {
				return &order.Order{ID: orderID, UserID: buyerID, Status: order.StatusPending}, nil
			},
			deleteFunc: func(ctx context.Context, s db.Querier, id, userID uuid.UUID) error {
				return order.ErrInvalidState
			},
			wantErrIs: order.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockOrderRepository{
				getByIDFunc: tt.getByIDFunc,
				deleteFunc:  tt.deleteFunc,
			}
			svc := order.NewService(repo, &mockStockRepository{}, &mockUserRepository{}, &mockProductService{},
				fakeTxManager{}, &fakeClock{now: time.Now()}, newFakeNotifier())

			err := svc.DeleteOrder(context.Background(), buyerID, orderID)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderService_UpdateOrderShipping(t *testing.T) {
	buyerID := uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))
	orderID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440010"))

	input := order.UpdateShippingInput{Name: "Petr", Phone: "010-0000-0000", Address: "New address"}

	tests := []struct {
		name      string
		status    order.OrderStatus
		wantErrIs error
	}{
		{name: "paid_allowed", status: order.StatusPaid},
		{name: "pending_allowed", status: order.StatusPending},
		{name: "refunded_allowed", status: order.StatusRefunded},
		{name: "shipped_rejected", status: order.StatusShipped, wantErrIs: order.ErrInvalidState},
		{name: "delivered_rejected", status: order.StatusDelivered, wantErrIs: order.ErrInvalidState},
		{name: "cancelled_rejected", status: order.StatusCancelled, wantErrIs: order.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var updated bool
			repo := &mockOrderRepository{
				getByIDFunc: func(ctx context.Context, s db.Querier, id uuid.UUID) (*order.Order, error) {
					return &order.Order{ID: orderID, UserID: buyerID, Status: tt.status}, nil
				},
				updateShippingFunc: func(ctx context.Context, s db.Querier, id uuid.UUID, name, phone, address string) error {
					updated = true
					return nil
				},
			}
			svc := order.NewService(repo, &mockStockRepository{}, &mockUserRepository{}, &mockProductService{},
				fakeTxManager{}, &fakeClock{now: time.Now()}, newFakeNotifier())

			_, err := svc.UpdateOrderShipping(context.Background(), buyerID, orderID, input)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
				assert.False(t, updated, "shipping must not be written for status %s", tt.status)
			} else {
				assert.NoError(t, err)
				assert.True(t, updated)
			}
		})
	}
}
