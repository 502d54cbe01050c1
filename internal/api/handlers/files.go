// files.go — HTTP handlers файловых операций: browse, upload,
// download, delete, createFolder, quota.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/arturkryukov/cipherdrive/internal/api/errors"
	"github.com/arturkryukov/cipherdrive/internal/api/middleware"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/service"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	storage *service.StorageService
	ledger  *service.LedgerService
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(storage *service.StorageService, ledger *service.LedgerService) *FilesHandler {
	return &FilesHandler{storage: storage, ledger: ledger}
}

// browseEntry — элемент листинга директории.
type browseEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
}

// browseResponse — тело ответа GET /api/v1/files/browse.
type browseResponse struct {
	Path    string        `json:"path"`
	Entries []browseEntry `json:"entries"`
	Total   int           `json:"total"`
}

// Browse обрабатывает GET /api/v1/files/browse?path=&limit=&offset=.
// Директории перечисляются раньше файлов, имена — без учёта регистра.
func (h *FilesHandler) Browse(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	entries, err := h.storage.ListFolder(r.Context(), u, path)
	if err != nil {
		errors.FromService(w, err)
		return
	}

	total := len(entries)
	limit, offset := paginationParams(r, 1000)
	if offset > len(entries) {
		offset = len(entries)
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}

	resp := browseResponse{Path: path, Entries: make([]browseEntry, 0, len(entries)), Total: total}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, browseEntry{
			Name:     e.Name,
			Size:     e.Size,
			IsDir:    e.IsDir,
			Modified: e.ModTime,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// uploadResponse — тело ответа успешной загрузки.
type uploadResponse struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Upload обрабатывает POST /api/v1/files/upload.
// Multipart form: file (обязательно), path (директория назначения, по умолчанию "/").
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	// Буфер формы 32 MB, остальное стримится через временные файлы
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	dir := r.FormValue("path")
	if dir == "" {
		dir = "/"
	}

	entry, err := h.storage.Upload(r.Context(), u, service.UploadParams{
		Reader:      file,
		Dir:         dir,
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	})
	if err != nil {
		errors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Path:        entry.Path,
		Name:        entry.Name,
		Size:        entry.Size,
		ContentType: entry.ContentType,
	})
}

// Download обрабатывает GET /api/v1/files/download?path=.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	path := r.URL.Query().Get("path")
	if path == "" {
		errors.ValidationError(w, "Параметр path обязателен")
		return
	}

	f, info, err := h.storage.OpenDownload(r.Context(), u, path)
	if err != nil {
		errors.FromService(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	w.Header().Set("Content-Type", "application/octet-stream")
	// http.ServeContent отдаёт Range-запросы и условные заголовки
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Delete обрабатывает DELETE /api/v1/files?path=.
// Директории удаляются рекурсивно.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	path := r.URL.Query().Get("path")
	if path == "" {
		errors.ValidationError(w, "Параметр path обязателен")
		return
	}

	if err := h.storage.Delete(r.Context(), u, path); err != nil {
		errors.FromService(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createFolderRequest — тело запроса POST /api/v1/files/folders.
type createFolderRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// CreateFolder обрабатывает POST /api/v1/files/folders.
func (h *FilesHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Name == "" {
		errors.ValidationError(w, "Поле name обязательно")
		return
	}
	if req.Path == "" {
		req.Path = "/"
	}

	entry, err := h.storage.CreateFolder(r.Context(), u, req.Path+"/"+req.Name)
	if err != nil {
		errors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"path": entry.Path,
		"name": entry.Name,
	})
}

// quotaResponse — тело ответа GET /api/v1/files/quota.
type quotaResponse struct {
	QuotaBytes     int64   `json:"quota_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	Unlimited      bool    `json:"unlimited"`
}

// Quota обрабатывает GET /api/v1/files/quota.
func (h *FilesHandler) Quota(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())

	q, err := h.ledger.Quota(r.Context(), u.ID)
	if err != nil {
		errors.FromService(w, err)
		return
	}

	resp := quotaResponse{
		QuotaBytes:     q.QuotaBytes,
		UsedBytes:      q.UsedBytes,
		AvailableBytes: q.AvailableBytes(),
		Unlimited:      q.Unlimited() || u.Role == model.RoleAdmin,
	}
	if !resp.Unlimited && q.QuotaBytes > 0 {
		resp.UsedPercent = float64(q.UsedBytes) / float64(q.QuotaBytes) * 100
	}
	writeJSON(w, http.StatusOK, resp)
}

// paginationParams извлекает limit/offset из query string.
func paginationParams(r *http.Request, maxLimit int) (limit, offset int) {
	limit = maxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < maxLimit {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
