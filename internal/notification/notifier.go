package notification

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// Notifier — исходящие события для внешнего сервиса уведомлений.
// Вызывается fire-and-forget после коммита: сбой доставки не должен влиять
// на исход транзакции заказа или отзыва.
type Notifier interface {
	StockDepleted(ctx context.Context, productID, sizeID uuid.UUID)
	ReviewPosted(ctx context.Context, productID, reviewID uuid.UUID)
}

type logNotifier struct{}

// NewLogNotifier возвращает notifier, который только логирует события.
// Реальная доставка живёт в отдельном сервисе уведомлений.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) StockDepleted(ctx context.Context, productID, sizeID uuid.UUID) {
	log.Info().
		Stringer("product_id", productID).
		Stringer("size_id", sizeID).
		Msg("notification: stock fully depleted")
}

func (logNotifier) ReviewPosted(ctx context.Context, productID, reviewID uuid.UUID) {
	log.Info().
		Stringer("product_id", productID).
		Stringer("review_id", reviewID).
		Msg("notification: review posted")
}
