// audit.go — асинхронный журнал аудита.
// Записи складываются в буферизованный канал и пишутся в БД фоновым
// воркером: аудит не добавляет латентности операциям и не валит их
// при недоступности БД. При переполнении буфера запись отбрасывается
// с предупреждением в лог.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
)

// auditBufferSize — ёмкость буфера записей аудита.
const auditBufferSize = 256

// auditInsertTimeout — таймаут одной вставки в БД.
const auditInsertTimeout = 5 * time.Second

// AuditService — асинхронный приёмник записей аудита.
type AuditService struct {
	repo   repository.AuditRepository
	ch     chan *model.AuditRecord
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewAuditService создаёт сервис аудита и запускает фоновый воркер.
func NewAuditService(repo repository.AuditRepository, logger *slog.Logger) *AuditService {
	s := &AuditService{
		repo:   repo,
		ch:     make(chan *model.AuditRecord, auditBufferSize),
		logger: logger.With(slog.String("component", "audit")),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Record ставит запись в очередь на сохранение. Не блокирует:
// при переполненном буфере запись теряется.
func (s *AuditService) Record(rec *model.AuditRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	select {
	case s.ch <- rec:
	default:
		s.logger.Warn("буфер аудита переполнен, запись отброшена",
			slog.String("action", rec.Action),
			slog.String("resource", rec.ResourcePath),
		)
	}
}

// Event — shortcut для записи события от имени пользователя.
func (s *AuditService) Event(u *model.User, action, resourcePath string, details map[string]any) {
	s.Record(&model.AuditRecord{
		UserID:       &u.ID,
		Username:     u.Username,
		Action:       action,
		ResourcePath: resourcePath,
		Details:      details,
	})
}

// AnonymousEvent — запись события без аутентифицированного пользователя
// (скачивания по публичным ссылкам).
func (s *AuditService) AnonymousEvent(action, resourcePath string, details map[string]any) {
	s.Record(&model.AuditRecord{
		Username:     "anonymous",
		Action:       action,
		ResourcePath: resourcePath,
		Details:      details,
	})
}

// ListByUser возвращает последние записи аудита пользователя.
func (s *AuditService) ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// Close останавливает воркер, дописав накопленные записи.
func (s *AuditService) Close() {
	close(s.ch)
	s.wg.Wait()
}

func (s *AuditService) worker() {
	defer s.wg.Done()
	for rec := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), auditInsertTimeout)
		if err := s.repo.Insert(ctx, rec); err != nil {
			s.logger.Error("ошибка записи аудита",
				slog.String("action", rec.Action),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
