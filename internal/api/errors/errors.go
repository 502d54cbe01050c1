// Пакет errors — конструкторы стандартных ошибок HTTP API CipherDrive.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arturkryukov/cipherdrive/internal/service"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeSandboxViolation    = "SANDBOX_VIOLATION"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeShareGone           = "SHARE_GONE"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromService транслирует ошибку сервисного слоя в HTTP-ответ.
// Неопознанные ошибки сворачиваются в 500 без деталей.
func FromService(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSandboxViolation):
		WriteError(w, http.StatusForbidden, CodeSandboxViolation, "Доступ за границы песочницы запрещён")
	case errors.Is(err, service.ErrForbidden):
		Forbidden(w, "Операция запрещена для данной роли")
	case errors.Is(err, service.ErrNotFound):
		NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrNotADirectory), errors.Is(err, service.ErrInvalidName):
		ValidationError(w, err.Error())
	case errors.Is(err, service.ErrAlreadyExists):
		WriteError(w, http.StatusConflict, CodeAlreadyExists, "Путь уже существует")
	case errors.Is(err, service.ErrQuotaExceeded):
		WriteError(w, http.StatusRequestEntityTooLarge, CodeQuotaExceeded, "Квота превышена")
	case errors.Is(err, service.ErrFileTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, "Файл превышает максимальный размер")
	case errors.Is(err, service.ErrUnauthorized):
		Unauthorized(w, "Требуется аутентификация")
	case errors.Is(err, service.ErrGone):
		WriteError(w, http.StatusGone, CodeShareGone, "Ссылка недействительна")
	case errors.Is(err, service.ErrReconcileInProgress):
		WriteError(w, http.StatusConflict, CodeReconcileInProgress, "Сверка уже выполняется")
	default:
		InternalError(w, "Внутренняя ошибка сервера")
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// InternalError — 500 внутренняя ошибка сервера.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
