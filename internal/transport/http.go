package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/marketplace/internal/clock"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/handler"
	"github.com/vasiliy-maslov/marketplace/internal/notification"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/product"
	"github.com/vasiliy-maslov/marketplace/internal/review"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

// identityMiddleware кладёт идентификатор пользователя из заголовка в
// контекст. Проверка учётных данных живёт во внешнем auth-сервисе; сюда
// запрос приходит уже с проверенным X-User-ID.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-User-ID"); raw != "" {
			if id, err := uuid.FromString(raw); err == nil {
				ctx := context.WithValue(r.Context(), handler.UserIDKey, id)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func NewRouter(pool *pgxpool.Pool) *chi.Mux {
	r := chi.NewRouter()
	r.Use(identityMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	txm := db.NewTxManager(pool)
	clk := clock.New()
	notifier := notification.NewLogNotifier()

	stockRepo := stock.NewRepository()

	productSvc := product.NewService(product.NewRepository(), stockRepo, txm, clk)
	userSvc := user.NewService(user.NewRepository(), txm)
	orderSvc := order.NewService(
		order.NewRepository(),
		stockRepo,
		user.NewRepository(),
		productSvc,
		txm,
		clk,
		notifier,
	)
	reviewSvc := review.NewService(review.NewRepository(), txm, clk, notifier)

	orderHandler := handler.NewOrderHandler(orderSvc)
	reviewHandler := handler.NewReviewHandler(reviewSvc)
	productHandler := handler.NewProductHandler(productSvc)
	userHandler := handler.NewUserHandler(userSvc)

	r.Post("/users", userHandler.CreateUser)
	r.Get("/users/{id}", userHandler.GetUser)

	r.Get("/products/{id}", productHandler.GetProduct)
	r.Get("/products/{productID}/stocks", productHandler.ListProductStocks)
	r.Post("/products/{productID}/reviews", reviewHandler.CreateReview)
	r.Get("/products/{productID}/reviews", reviewHandler.ListReviews)

	r.Get("/reviews/{id}", reviewHandler.GetReview)
	r.Patch("/reviews/{id}", reviewHandler.UpdateReview)
	r.Delete("/reviews/{id}", reviewHandler.DeleteReview)

	r.Post("/orders", orderHandler.PlaceOrder)
	r.Get("/orders", orderHandler.ListOrders)
	r.Get("/orders/{id}", orderHandler.GetOrder)
	r.Patch("/orders/{id}", orderHandler.UpdateOrderShipping)
	r.Delete("/orders/{id}", orderHandler.DeleteOrder)

	return r
}
