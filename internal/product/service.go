package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/clock"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

type Service interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	// RefreshDiscountState лениво гасит истёкшую скидку. Возвращает продукт
	// с актуальными полями: обновлённый, если сброс произошёл, иначе исходный.
	RefreshDiscountState(ctx context.Context, p *Product) (*Product, error)
	ListProductStocks(ctx context.Context, productID uuid.UUID) ([]stock.Stock, error)
}

type service struct {
	repo      Repository
	stockRepo stock.Repository
	txm       db.TxManager
	clk       clock.Clock
}

func NewService(repo Repository, stockRepo stock.Repository, txm db.TxManager, clk clock.Clock) Service {
	return &service{repo: repo, stockRepo: stockRepo, txm: txm, clk: clk}
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := s.repo.GetByID(ctx, s.txm.Session(), id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", id).Msg("service: failed to fetch product")
		return nil, fmt.Errorf("service: failed to fetch product: %w", err)
	}

	return s.RefreshDiscountState(ctx, p)
}

func (s *service) RefreshDiscountState(ctx context.Context, p *Product) (*Product, error) {
	if !p.DiscountExpired(s.clk.Now()) {
		return p, nil
	}

	// Сброс выполняется вне заказа-транзакции: гонка двух сбросов даёт одно и
	// то же очищенное состояние, поэтому last-writer-wins здесь безопасен.
	refreshed, err := s.repo.ClearDiscount(ctx, s.txm.Session(), p.ID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", p.ID).Msg("service: failed to clear expired discount")
		return nil, fmt.Errorf("service: failed to clear expired discount: %w", err)
	}

	log.Info().Stringer("product_id", p.ID).Msg("service: expired discount cleared")
	return refreshed, nil
}

func (s *service) ListProductStocks(ctx context.Context, productID uuid.UUID) ([]stock.Stock, error) {
	// Продукт проверяется первым: пустой список остатков и несуществующий
	// продукт — разные ответы.
	if _, err := s.repo.GetByID(ctx, s.txm.Session(), productID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to fetch product for stocks")
		return nil, fmt.Errorf("service: failed to fetch product for stocks: %w", err)
	}

	stocks, err := s.stockRepo.ListByProduct(ctx, s.txm.Session(), productID)
	if err != nil {
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to fetch stocks")
		return nil, fmt.Errorf("service: failed to fetch stocks: %w", err)
	}

	return stocks, nil
}
