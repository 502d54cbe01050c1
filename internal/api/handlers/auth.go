// auth.go — HTTP handler аутентификации.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/arturkryukov/cipherdrive/internal/api/errors"
	"github.com/arturkryukov/cipherdrive/internal/service"
)

// AuthHandler — обработчик endpoint'ов аутентификации.
type AuthHandler struct {
	identity *service.IdentityService
	tokenTTL time.Duration
}

// NewAuthHandler создаёт обработчик аутентификации.
func NewAuthHandler(identity *service.IdentityService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{identity: identity, tokenTTL: tokenTTL}
}

// loginRequest — тело запроса POST /api/v1/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse — тело ответа успешного входа.
type loginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

// Login обрабатывает POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Username == "" || req.Password == "" {
		errors.ValidationError(w, "Поля username и password обязательны")
		return
	}

	token, u, err := h.identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		errors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(h.tokenTTL.Seconds()),
		Username:  u.Username,
		Role:      string(u.Role),
	})
}

// writeJSON сериализует ответ с указанным статус-кодом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
