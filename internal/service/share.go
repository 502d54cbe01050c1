// share.go — сервис публичных ссылок на файлы.
// Жизненный цикл ссылки: active -> expired (по времени или лимиту
// скачиваний) или active -> disabled (отозвана). Терминальные статусы
// не меняются. Исчерпание лимита фиксируется одним атомарным UPDATE:
// при гонке последнего скачивания побеждает ровно один запрос.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/cipherdrive/internal/auth"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/domain/share"
	"github.com/arturkryukov/cipherdrive/internal/repository"
	"github.com/arturkryukov/cipherdrive/internal/storage/filestore"
	"github.com/arturkryukov/cipherdrive/internal/storage/pathres"
)

// ShareService — сервис публичных ссылок.
type ShareService struct {
	shares   repository.ShareRepository
	resolver *pathres.Resolver
	store    *filestore.FileStore
	audit    *AuditService
	logger   *slog.Logger
}

// NewShareService создаёт сервис публичных ссылок.
func NewShareService(
	shares repository.ShareRepository,
	resolver *pathres.Resolver,
	store *filestore.FileStore,
	audit *AuditService,
	logger *slog.Logger,
) *ShareService {
	return &ShareService{
		shares:   shares,
		resolver: resolver,
		store:    store,
		audit:    audit,
		logger:   logger.With(slog.String("component", "share_service")),
	}
}

// CreateShareParams — параметры создания публичной ссылки.
type CreateShareParams struct {
	// Path — виртуальный путь файла в песочнице владельца
	Path string
	// ExpiresAt — срок действия, nil = бессрочно
	ExpiresAt *time.Time
	// MaxDownloads — лимит скачиваний, nil = без лимита
	MaxDownloads *int
	// Password — пароль доступа, пустая строка = без пароля
	Password string
}

// Create создаёт публичную ссылку на существующий файл владельца.
func (s *ShareService) Create(ctx context.Context, u *model.User, params CreateShareParams) (*model.ShareLink, error) {
	if u.Role == model.RoleDownloadOnly {
		return nil, fmt.Errorf("%w: роль download_only не создаёт ссылки", ErrForbidden)
	}
	if params.MaxDownloads != nil && *params.MaxDownloads <= 0 {
		return nil, fmt.Errorf("%w: лимит скачиваний должен быть положительным", ErrInvalidName)
	}
	// Срок в прошлом допустим: такая ссылка создаётся активной,
	// первое же обращение переведёт её в expired

	norm := pathres.Normalize(params.Path)
	absPath, err := s.resolver.Resolve(u, norm)
	if err != nil {
		if errors.Is(err, pathres.ErrSandboxViolation) {
			return nil, fmt.Errorf("%w: %s", ErrSandboxViolation, norm)
		}
		return nil, err
	}

	info, err := s.store.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, norm)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrIO, norm, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: ссылки создаются только на файлы", ErrInvalidName)
	}

	token, err := auth.NewShareToken()
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации токена: %w", err)
	}

	var passwordHash *string
	if params.Password != "" {
		hash, err := auth.HashPassword(params.Password)
		if err != nil {
			return nil, fmt.Errorf("ошибка хэширования пароля: %w", err)
		}
		passwordHash = &hash
	}

	link := &model.ShareLink{
		ID:           uuid.New().String(),
		Token:        token,
		OwnerID:      u.ID,
		FilePath:     absPath,
		ExpiresAt:    params.ExpiresAt,
		MaxDownloads: params.MaxDownloads,
		PasswordHash: passwordHash,
		Status:       model.ShareActive,
	}
	if err := s.shares.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("ошибка создания ссылки: %w", err)
	}

	s.audit.Event(u, "share_create", norm, map[string]any{
		"share_id":      link.ID,
		"has_password":  link.PasswordProtected(),
		"max_downloads": params.MaxDownloads,
	})
	s.logger.Info("публичная ссылка создана",
		slog.String("user", u.Username),
		slog.String("share_id", link.ID),
		slog.String("path", norm),
	)
	return link, nil
}

// List возвращает ссылки владельца.
// status — опциональный фильтр по статусу, nil = все.
func (s *ShareService) List(ctx context.Context, u *model.User, status *model.ShareStatus, limit, offset int) ([]*model.ShareLink, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.shares.ListByOwner(ctx, u.ID, status, limit, offset)
}

// Stats возвращает сводку по ссылкам владельца.
func (s *ShareService) Stats(ctx context.Context, u *model.User) (*model.ShareStats, error) {
	return s.shares.Stats(ctx, u.ID)
}

// Disable отзывает активную ссылку. Доступно владельцу и администратору.
// Отзыв идемпотентен: повторный вызов для терминальной ссылки успешен.
func (s *ShareService) Disable(ctx context.Context, u *model.User, shareID string) error {
	link, err := s.shares.GetByID(ctx, shareID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: ссылка %s", ErrNotFound, shareID)
		}
		return fmt.Errorf("ошибка чтения ссылки: %w", err)
	}
	if link.OwnerID != u.ID && u.Role != model.RoleAdmin {
		return fmt.Errorf("%w: ссылка принадлежит другому пользователю", ErrForbidden)
	}
	if share.IsTerminal(link.Status) {
		// Уже отозвана или истекла — повторный отзыв ничего не меняет
		return nil
	}
	if err := s.shares.SetStatus(ctx, shareID, model.ShareDisabled); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Гонка: статус сменился между чтением и записью,
			// ссылка уже терминальна
			return nil
		}
		return fmt.Errorf("ошибка отзыва ссылки: %w", err)
	}

	s.audit.Event(u, "share_disable", link.FilePath, map[string]any{"share_id": shareID})
	s.logger.Info("ссылка отозвана",
		slog.String("user", u.Username),
		slog.String("share_id", shareID),
	)
	return nil
}

// PublicInfo — сведения о ссылке для страницы скачивания,
// без инкремента счётчика.
type PublicInfo struct {
	FileName           string
	Size               int64
	PasswordRequired   bool
	ExpiresAt          *time.Time
	RemainingDownloads *int
}

// Info возвращает сведения об активной ссылке по токену.
// Неизвестный токен — ErrNotFound, терминальная ссылка — ErrGone.
func (s *ShareService) Info(ctx context.Context, token string) (*PublicInfo, error) {
	link, err := s.lookupActive(ctx, token)
	if err != nil {
		return nil, err
	}

	info, err := s.store.Stat(link.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Файл удалён — ссылка больше никогда не сработает
			s.markExpired(ctx, link.ID)
			return nil, fmt.Errorf("%w: файл удалён", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %s", ErrIO, err)
	}

	pi := &PublicInfo{
		FileName:         path.Base(link.FilePath),
		Size:             info.Size(),
		PasswordRequired: link.PasswordProtected(),
		ExpiresAt:        link.ExpiresAt,
	}
	if link.MaxDownloads != nil {
		remaining := *link.MaxDownloads - link.DownloadCount
		if remaining < 0 {
			remaining = 0
		}
		pi.RemainingDownloads = &remaining
	}
	return pi, nil
}

// Download выполняет скачивание по публичной ссылке.
//
// Порядок проверок:
//  1. Статус ссылки
//  2. Истечение по времени (с ленивым переводом в expired)
//  3. Исчерпание лимита скачиваний
//  4. Пароль (до инкремента счётчика)
//  5. Существование файла
//  6. Атомарная регистрация скачивания
//
// Неудачная проверка пароля и отсутствие файла счётчик не расходуют.
// Закрыть файл обязан вызывающий.
func (s *ShareService) Download(ctx context.Context, token, password string) (*os.File, os.FileInfo, error) {
	link, err := s.lookupActive(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	// 4. Пароль
	if link.PasswordProtected() {
		if password == "" || !auth.CheckPassword(*link.PasswordHash, password) {
			return nil, nil, fmt.Errorf("%w: неверный пароль ссылки", ErrUnauthorized)
		}
	}

	// 5. Файл должен существовать до расходования счётчика
	if _, err := s.store.Stat(link.FilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.markExpired(ctx, link.ID)
			return nil, nil, fmt.Errorf("%w: файл удалён", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrIO, err)
	}

	// 6. Регистрируем скачивание одним атомарным UPDATE:
	// при гонке последнего скачивания проигравший получает ErrGone
	updated, err := s.shares.RegisterDownload(ctx, link.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: лимит скачиваний исчерпан", ErrGone)
		}
		return nil, nil, fmt.Errorf("ошибка регистрации скачивания: %w", err)
	}

	f, info, err := s.store.Open(link.FilePath)
	if err != nil {
		// Счётчик уже израсходован, файл исчез между Stat и Open
		if errors.Is(err, os.ErrNotExist) {
			s.markExpired(ctx, link.ID)
			return nil, nil, fmt.Errorf("%w: файл удалён", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrIO, err)
	}

	s.audit.AnonymousEvent("share_download", link.FilePath, map[string]any{
		"share_id":       link.ID,
		"download_count": updated.DownloadCount,
	})
	s.logger.Info("скачивание по ссылке",
		slog.String("share_id", link.ID),
		slog.Int("download_count", updated.DownloadCount),
		slog.String("status", string(updated.Status)),
	)
	return f, info, nil
}

// lookupActive находит ссылку по токену и выполняет проверки 1-3.
// Несуществующий токен — ErrNotFound, недействительная ссылка — ErrGone.
func (s *ShareService) lookupActive(ctx context.Context, token string) (*model.ShareLink, error) {
	link, err := s.shares.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: неизвестный токен", ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка поиска ссылки: %w", err)
	}

	// 1. Статус
	if link.Status != model.ShareActive {
		return nil, fmt.Errorf("%w: статус %s", ErrGone, link.Status)
	}

	// 2. Истечение по времени: ленивый перевод в expired,
	// не дожидаясь фоновой зачистки
	if link.TimeExpired(time.Now().UTC()) {
		s.markExpired(ctx, link.ID)
		return nil, fmt.Errorf("%w: срок действия истёк", ErrGone)
	}

	// 3. Лимит скачиваний: счётчик мог разойтись со статусом,
	// фиксируем expired здесь же
	if link.DownloadsExhausted() {
		s.markExpired(ctx, link.ID)
		return nil, fmt.Errorf("%w: лимит скачиваний исчерпан", ErrGone)
	}

	return link, nil
}

// markExpired переводит ссылку в expired, не прерывая основной поток.
// ErrNotFound означает гонку с другим переводом в терминальный статус.
func (s *ShareService) markExpired(ctx context.Context, linkID string) {
	if err := s.shares.SetStatus(ctx, linkID, model.ShareExpired); err != nil &&
		!errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("ошибка перевода ссылки в expired",
			slog.String("share_id", linkID),
			slog.String("error", err.Error()),
		)
	}
}
