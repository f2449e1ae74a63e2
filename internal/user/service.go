package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/db"
	"golang.org/x/crypto/bcrypt"
)

type Service interface {
	CreateUser(ctx context.Context, u *User, password string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type service struct {
	repo Repository
	txm  db.TxManager
}

func NewService(repo Repository, txm db.TxManager) Service {
	return &service{repo: repo, txm: txm}
}

func (s *service) CreateUser(ctx context.Context, u *User, password string) (*User, error) {
	if password == "" {
		return nil, errors.New("service: password cannot be empty")
	}
	if u.Type == "" {
		u.Type = TypeBuyer
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to hash password")
		return nil, fmt.Errorf("service: failed to hash password: %w", err)
	}
	u.PasswordHash = string(hashBytes)

	created, err := s.repo.Create(ctx, s.txm.Session(), u)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		log.Error().Err(err).Msg("service: failed to create user in repository")
		return nil, fmt.Errorf("service: failed to create user: %w", err)
	}

	log.Info().Stringer("user_id", created.ID).Msg("service: user created")
	return created, nil
}

func (s *service) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, s.txm.Session(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to fetch user")
		return nil, fmt.Errorf("service: failed to fetch user by id: %w", err)
	}

	return u, nil
}
