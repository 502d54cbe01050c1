// ledger.go — учёт квот пользователей.
//
// Авторизация места — двухфазная:
//  1. Advisory-проверка до записи на диск (Authorize) — быстрый отказ
//     без захвата блокировок;
//  2. Окончательная проверка внутри транзакции с SELECT ... FOR UPDATE
//     строки квоты — операции одного пользователя сериализуются,
//     разные пользователи друг друга не блокируют.
//
// used_bytes никогда не уходит ниже нуля; quota_bytes = -1 — безлимит.
// Администратор не ограничен квотой, но его used_bytes ведётся.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
)

// LedgerService — сервис учёта квот.
type LedgerService struct {
	quotas       repository.QuotaRepository
	defaultQuota int64
	logger       *slog.Logger
}

// NewLedgerService создаёт сервис учёта квот.
func NewLedgerService(quotas repository.QuotaRepository, defaultQuota int64, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		quotas:       quotas,
		defaultQuota: defaultQuota,
		logger:       logger.With(slog.String("component", "ledger")),
	}
}

// Quota возвращает квоту пользователя, создавая её с лимитом
// по умолчанию при первом обращении.
func (s *LedgerService) Quota(ctx context.Context, userID string) (*model.Quota, error) {
	q, err := s.quotas.Get(ctx, userID)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("ошибка чтения квоты: %w", err)
	}

	q = &model.Quota{UserID: userID, QuotaBytes: s.defaultQuota}
	if err := s.quotas.Create(ctx, q); err != nil {
		// Гонка двух первых обращений: квоту создал конкурент
		if errors.Is(err, repository.ErrConflict) {
			return s.quotas.Get(ctx, userID)
		}
		return nil, fmt.Errorf("ошибка создания квоты: %w", err)
	}

	s.logger.Info("квота создана",
		slog.String("user_id", userID),
		slog.Int64("quota_bytes", s.defaultQuota),
	)
	return q, nil
}

// SetLimit изменяет лимит пользователя. limit = -1 — безлимит.
func (s *LedgerService) SetLimit(ctx context.Context, userID string, limit int64) error {
	if limit != model.UnlimitedQuota && limit <= 0 {
		return fmt.Errorf("%w: лимит должен быть положительным или -1", ErrInvalidName)
	}
	if err := s.quotas.SetLimit(ctx, userID, limit); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка установки лимита: %w", err)
	}
	s.logger.Info("лимит квоты изменён",
		slog.String("user_id", userID),
		slog.Int64("quota_bytes", limit),
	)
	return nil
}

// Authorize проверяет, поместится ли size байт в квоту пользователя.
// Администратор и безлимитная квота проходят всегда.
// Возвращает ErrQuotaExceeded при нехватке места.
func Authorize(q *model.Quota, u *model.User, size int64) error {
	if u.BypassesQuota() || q.Unlimited() {
		return nil
	}
	if q.UsedBytes+size > q.QuotaBytes {
		return fmt.Errorf("%w: запрошено %d байт, доступно %d",
			ErrQuotaExceeded, size, q.AvailableBytes())
	}
	return nil
}
