package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/marketplace/internal/clock"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/notification"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/product"
)

const (
	maxAggregateRetries = 5
	initialBackoff      = 100 * time.Millisecond
)

var (
	ErrInvalidRating = fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)
	// ErrNotAllowed — позиция заказа не принадлежит покупателю, не относится
	// к продукту или заказ ещё не оплачен.
	ErrNotAllowed = errors.New("review is not allowed for this order item")
	// ErrOptimisticLockFailed — CAS по версии продукта не прошёл за отведённые
	// попытки. Это не сбой хранилища: мутация отзыва откатывается целиком,
	// вызывающий может повторить позже.
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
)

// Отзыв разрешён только по оплаченному (и дальше по жизненному циклу) заказу.
var reviewableStatuses = map[order.OrderStatus]bool{
	order.StatusPaid:      true,
	order.StatusShipped:   true,
	order.StatusDelivered: true,
}

type CreateReviewInput struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Rating      int       `json:"rating"`
	Content     string    `json:"content"`
}

type Service interface {
	CreateReview(ctx context.Context, userID, productID uuid.UUID, input CreateReviewInput) (*Review, error)
	UpdateReview(ctx context.Context, userID, reviewID uuid.UUID, rating int) (*Review, error)
	DeleteReview(ctx context.Context, userID, reviewID uuid.UUID) error
	GetReview(ctx context.Context, reviewID uuid.UUID) (*Review, error)
	ListReviews(ctx context.Context, productID uuid.UUID, page, limit int) ([]Review, error)
}

type service struct {
	repo     Repository
	txm      db.TxManager
	clk      clock.Clock
	notifier notification.Notifier
}

func NewService(repo Repository, txm db.TxManager, clk clock.Clock, notifier notification.Notifier) Service {
	return &service{repo: repo, txm: txm, clk: clk, notifier: notifier}
}

func (s *service) CreateReview(ctx context.Context, userID, productID uuid.UUID, input CreateReviewInput) (*Review, error) {
	if input.Rating < MinRating || input.Rating > MaxRating {
		return nil, ErrInvalidRating
	}

	var created *Review

	err := s.txm.WithinTx(ctx, func(tx db.Querier) error {
		item, err := s.repo.GetOrderItem(ctx, tx, input.OrderItemID)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				return ErrNotAllowed
			}
			return err
		}
		if item.ProductID != productID || item.OrderUserID != userID || !reviewableStatuses[item.OrderStatus] {
			return ErrNotAllowed
		}

		// Токен версии продукта снимается до мутации, в той же транзакции.
		token, err := s.repo.GetProductUpdatedAt(ctx, tx, productID)
		if err != nil {
			return err
		}

		_, err = s.repo.GetByOrderItemID(ctx, tx, input.OrderItemID)
		if err == nil {
			return ErrReviewExists
		}
		if !errors.Is(err, ErrReviewNotFound) {
			return err
		}

		rv := &Review{
			UserID:      userID,
			ProductID:   productID,
			OrderItemID: input.OrderItemID,
			Rating:      input.Rating,
			Content:     input.Content,
		}
		if err := s.repo.Create(ctx, tx, rv); err != nil {
			return err
		}

		if err := s.recomputeAggregate(ctx, tx, productID, token); err != nil {
			return err
		}

		created = rv
		return nil
	})
	if err != nil {
		return nil, s.wrapReviewError(err, "create", userID)
	}

	go s.notifier.ReviewPosted(context.WithoutCancel(ctx), productID, created.ID)

	log.Info().
		Stringer("review_id", created.ID).
		Stringer("product_id", productID).
		Msg("service: review created")

	return created, nil
}

func (s *service) UpdateReview(ctx context.Context, userID, reviewID uuid.UUID, rating int) (*Review, error) {
	if rating < MinRating || rating > MaxRating {
		return nil, ErrInvalidRating
	}

	var updated *Review

	err := s.txm.WithinTx(ctx, func(tx db.Querier) error {
		rv, err := s.repo.GetByID(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if rv.UserID != userID {
			return ErrNotAllowed
		}

		// Та же оценка — полный no-op: ни записи, ни сдвига версии продукта.
		if rv.Rating == rating {
			updated = rv
			return nil
		}

		token, err := s.repo.GetProductUpdatedAt(ctx, tx, rv.ProductID)
		if err != nil {
			return err
		}

		updated, err = s.repo.UpdateRating(ctx, tx, reviewID, rating)
		if err != nil {
			return err
		}

		return s.recomputeAggregate(ctx, tx, rv.ProductID, token)
	})
	if err != nil {
		return nil, s.wrapReviewError(err, "update", userID)
	}

	return updated, nil
}

func (s *service) DeleteReview(ctx context.Context, userID, reviewID uuid.UUID) error {
	err := s.txm.WithinTx(ctx, func(tx db.Querier) error {
		rv, err := s.repo.GetByID(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if rv.UserID != userID {
			return ErrNotAllowed
		}

		token, err := s.repo.GetProductUpdatedAt(ctx, tx, rv.ProductID)
		if err != nil {
			return err
		}

		if err := s.repo.Delete(ctx, tx, reviewID); err != nil {
			return err
		}

		return s.recomputeAggregate(ctx, tx, rv.ProductID, token)
	})
	if err != nil {
		return s.wrapReviewError(err, "delete", userID)
	}

	log.Info().Stringer("review_id", reviewID).Msg("service: review deleted")
	return nil
}

func (s *service) GetReview(ctx context.Context, reviewID uuid.UUID) (*Review, error) {
	rv, err := s.repo.GetByID(ctx, s.txm.Session(), reviewID)
	if err != nil {
		if errors.Is(err, ErrReviewNotFound) {
			return nil, ErrReviewNotFound
		}
		log.Error().Err(err).Stringer("review_id", reviewID).Msg("service: failed to fetch review")
		return nil, fmt.Errorf("service: failed to fetch review: %w", err)
	}

	return rv, nil
}

func (s *service) ListReviews(ctx context.Context, productID uuid.UUID, page, limit int) ([]Review, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	if _, err := s.repo.GetProductUpdatedAt(ctx, s.txm.Session(), productID); err != nil {
		return nil, err
	}

	reviews, err := s.repo.ListByProduct(ctx, s.txm.Session(), productID, page, limit)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to fetch reviews")
		return nil, fmt.Errorf("service: failed to fetch reviews: %w", err)
	}

	return reviews, nil
}

// recomputeAggregate пересчитывает reviews_count/reviews_rating продукта и
// пишет их через compare-and-swap по updated_at. При конфликте — повтор с
// экспоненциальным backoff и перезахватом токена; лимит попыток жёсткий.
func (s *service) recomputeAggregate(ctx context.Context, tx db.Querier, productID uuid.UUID, token time.Time) error {
	for attempt := 0; ; attempt++ {
		ratings, err := s.repo.ListRatingsByProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		count := len(ratings)
		rating := decimal.Zero
		if count > 0 {
			sum := 0
			for _, r := range ratings {
				sum += r
			}
			rating = decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(count)))
		}

		affected, err := s.repo.UpdateProductAggregate(ctx, tx, productID, count, rating, token)
		if err != nil {
			// Ошибка хранилища — не конфликт версий, её не ретраим.
			return err
		}
		if affected > 0 {
			return nil
		}

		if attempt+1 >= maxAggregateRetries {
			log.Warn().
				Stringer("product_id", productID).
				Int("attempts", maxAggregateRetries).
				Msg("service: review aggregate retries exhausted")
			return ErrOptimisticLockFailed
		}

		delay := initialBackoff << attempt
		log.Warn().
			Stringer("product_id", productID).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("service: review aggregate version conflict, retrying")

		if err := s.clk.Sleep(ctx, delay); err != nil {
			return err
		}

		token, err = s.repo.GetProductUpdatedAt(ctx, tx, productID)
		if err != nil {
			return err
		}
	}
}

func (s *service) wrapReviewError(err error, op string, userID uuid.UUID) error {
	switch {
	case errors.Is(err, ErrNotAllowed),
		errors.Is(err, ErrReviewExists),
		errors.Is(err, ErrReviewNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, ErrOptimisticLockFailed):
		log.Warn().Err(err).Str("op", op).Stringer("user_id", userID).Msg("service: review operation rejected")
		return err
	}
	log.Error().Err(err).Str("op", op).Stringer("user_id", userID).Msg("service: review operation failed")
	return fmt.Errorf("service: failed to %s review: %w", op, err)
}
