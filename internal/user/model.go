package user

import (
	"time"

	"github.com/gofrs/uuid"
)

type UserType string

const (
	TypeBuyer  UserType = "BUYER"
	TypeSeller UserType = "SELLER"
)

type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Nickname     string    `json:"nickname" db:"nickname"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Type         UserType  `json:"type" db:"type"`
	// Point — баланс баллов лояльности; после любого списания должен
	// оставаться неотрицательным.
	Point     int       `json:"point" db:"point"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
