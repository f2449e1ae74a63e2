package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

// UserHandler handles HTTP requests for users.
type UserHandler struct {
	svc user.Service
}

func NewUserHandler(svc user.Service) *UserHandler {
	return &UserHandler{svc: svc}
}

type createUserRequest struct {
	Email    string        `json:"email"`
	Nickname string        `json:"nickname"`
	Password string        `json:"password"`
	Type     user.UserType `json:"type"`
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u := &user.User{
		Email:    req.Email,
		Nickname: req.Nickname,
		Type:     req.Type,
	}

	created, err := h.svc.CreateUser(r.Context(), u, req.Password)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	u, err := h.svc.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, u)
}
