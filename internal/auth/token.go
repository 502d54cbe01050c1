package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// shareTokenBytes — длина токена публичной ссылки в байтах до кодирования.
const shareTokenBytes = 32

// NewShareToken генерирует криптографически стойкий токен публичной ссылки.
// 32 случайных байта в URL-safe base64 без паддинга (43 символа).
func NewShareToken() (string, error) {
	buf := make([]byte, shareTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ошибка генерации токена: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
