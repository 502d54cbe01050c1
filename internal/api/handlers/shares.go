// shares.go — HTTP handlers публичных ссылок: создание, листинг,
// статистика, отзыв и анонимные endpoints скачивания.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/cipherdrive/internal/api/errors"
	"github.com/arturkryukov/cipherdrive/internal/api/middleware"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/domain/share"
	"github.com/arturkryukov/cipherdrive/internal/service"
)

// SharesHandler — обработчик endpoints публичных ссылок.
type SharesHandler struct {
	shares *service.ShareService
}

// NewSharesHandler создаёт обработчик публичных ссылок.
func NewSharesHandler(shares *service.ShareService) *SharesHandler {
	return &SharesHandler{shares: shares}
}

// createShareRequest — тело запроса POST /api/v1/shares.
type createShareRequest struct {
	Path         string     `json:"path"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxDownloads *int       `json:"max_downloads,omitempty"`
	Password     string     `json:"password,omitempty"`
}

// shareResponse — представление ссылки в ответах API.
// Токен отдаётся только владельцу.
type shareResponse struct {
	ID            string     `json:"id"`
	Token         string     `json:"token"`
	URL           string     `json:"url"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	MaxDownloads  *int       `json:"max_downloads,omitempty"`
	DownloadCount int        `json:"download_count"`
	HasPassword   bool       `json:"has_password"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toShareResponse(s *model.ShareLink) shareResponse {
	return shareResponse{
		ID:            s.ID,
		Token:         s.Token,
		URL:           fmt.Sprintf("/api/v1/shares/public/%s/download", s.Token),
		ExpiresAt:     s.ExpiresAt,
		MaxDownloads:  s.MaxDownloads,
		DownloadCount: s.DownloadCount,
		HasPassword:   s.PasswordProtected(),
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
	}
}

// Create обрабатывает POST /api/v1/shares.
func (h *SharesHandler) Create(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Path == "" {
		errors.ValidationError(w, "Поле path обязательно")
		return
	}

	link, err := h.shares.Create(r.Context(), u, service.CreateShareParams{
		Path:         req.Path,
		ExpiresAt:    req.ExpiresAt,
		MaxDownloads: req.MaxDownloads,
		Password:     req.Password,
	})
	if err != nil {
		errors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShareResponse(link))
}

// List обрабатывает GET /api/v1/shares.
// Параметр status фильтрует по статусу (active/expired/disabled).
func (h *SharesHandler) List(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	limit, offset := paginationParams(r, 100)

	var status *model.ShareStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, err := share.ParseStatus(raw)
		if err != nil {
			errors.ValidationError(w, "Недопустимый статус: "+raw)
			return
		}
		status = &s
	}

	links, err := h.shares.List(r.Context(), u, status, limit, offset)
	if err != nil {
		errors.FromService(w, err)
		return
	}

	resp := make([]shareResponse, 0, len(links))
	for _, l := range links {
		resp = append(resp, toShareResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": resp})
}

// Stats обрабатывает GET /api/v1/shares/stats.
func (h *SharesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	stats, err := h.shares.Stats(r.Context(), u)
	if err != nil {
		errors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"total":           stats.Total(),
		"active":          stats.Active,
		"expired":         stats.Expired,
		"disabled":        stats.Disabled,
		"total_downloads": stats.TotalDownloads,
	})
}

// Disable обрабатывает DELETE /api/v1/shares/{share_id}.
func (h *SharesHandler) Disable(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	shareID := chi.URLParam(r, "share_id")

	if err := h.shares.Disable(r.Context(), u, shareID); err != nil {
		errors.FromService(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublicInfo обрабатывает GET /api/v1/shares/public/{token} (без аутентификации).
// Возвращает сведения о файле без расходования счётчика скачиваний.
func (h *SharesHandler) PublicInfo(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	info, err := h.shares.Info(r.Context(), token)
	if err != nil {
		errors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":           info.FileName,
		"size":                info.Size,
		"password_required":   info.PasswordRequired,
		"expires_at":          info.ExpiresAt,
		"remaining_downloads": info.RemainingDownloads,
	})
}

// PublicDownload обрабатывает GET /api/v1/shares/public/{token}/download?password=
// (без аутентификации).
func (h *SharesHandler) PublicDownload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	password := r.URL.Query().Get("password")

	f, info, err := h.shares.Download(r.Context(), token, password)
	if err != nil {
		errors.FromService(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
