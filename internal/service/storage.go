// storage.go — сервис файловых операций в песочницах пользователей.
// Каждая мутация проходит через журнал транзакций (txlog) и фиксирует
// метаданные и квоту атомарно в одной транзакции БД. Физические
// операции с диском выполняются вне транзакции; расхождения после
// сбоев устраняет фоновая сверка.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/cipherdrive/internal/config"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
	"github.com/arturkryukov/cipherdrive/internal/storage/filestore"
	"github.com/arturkryukov/cipherdrive/internal/storage/pathres"
	"github.com/arturkryukov/cipherdrive/internal/storage/txlog"
)

// dirContentType — MIME-тип записей-директорий в индексе метаданных.
const dirContentType = "inode/directory"

// QuotaTxRunner выполняет fn в транзакции БД с tx-scoped репозиториями.
type QuotaTxRunner interface {
	InQuotaTx(ctx context.Context, fn func(quotas repository.QuotaRepository, entries repository.EntryRepository) error) error
}

// StorageService — сервис файловых операций.
type StorageService struct {
	cfg      *config.Config
	resolver *pathres.Resolver
	store    *filestore.FileStore
	txLog    *txlog.Log
	entries  repository.EntryRepository
	ledger   *LedgerService
	runner   QuotaTxRunner
	audit    *AuditService
	logger   *slog.Logger
}

// NewStorageService создаёт сервис файловых операций.
func NewStorageService(
	cfg *config.Config,
	resolver *pathres.Resolver,
	store *filestore.FileStore,
	txLog *txlog.Log,
	entries repository.EntryRepository,
	ledger *LedgerService,
	runner QuotaTxRunner,
	audit *AuditService,
	logger *slog.Logger,
) *StorageService {
	return &StorageService{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		txLog:    txLog,
		entries:  entries,
		ledger:   ledger,
		runner:   runner,
		audit:    audit,
		logger:   logger.With(slog.String("component", "storage_service")),
	}
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Dir — виртуальный путь целевой директории
	Dir string
	// Name — имя файла
	Name string
	// ContentType — MIME-тип (из multipart part)
	ContentType string
	// Size — заявленный размер (Content-Length), для advisory-проверки квоты
	Size int64
}

// Upload загружает файл в песочницу пользователя.
//
// Поток:
//  1. Проверка роли и имени
//  2. Резолв пути, проверка занятости
//  3. Advisory-проверка квоты (до записи на диск)
//  4. txlog Begin
//  5. Атомарная запись на диск (tmp + fsync + rename)
//  6. Транзакция БД: FOR UPDATE квоты, финальная проверка,
//     вставка записи индекса, инкремент used_bytes
//  7. txlog Commit
//
// При ошибке после записи на диск файл удаляется, txlog откатывается.
func (s *StorageService) Upload(ctx context.Context, u *model.User, params UploadParams) (*model.StorageEntry, error) {
	// 1. download_only — только чтение
	if u.Role == model.RoleDownloadOnly {
		return nil, fmt.Errorf("%w: роль download_only не загружает файлы", ErrForbidden)
	}
	if err := filestore.ValidateName(params.Name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, err)
	}
	if params.Size > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d байт при лимите %d", ErrFileTooLarge, params.Size, s.cfg.MaxFileSize)
	}

	// 2. Резолвим целевой путь
	virtual := path.Join(pathres.Normalize(params.Dir), params.Name)
	absPath, err := s.resolve(u, virtual)
	if err != nil {
		return nil, err
	}

	// Путь не должен быть занят ни в индексе, ни на диске
	if _, err := s.entries.GetByPath(ctx, u.ID, virtual); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, virtual)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("ошибка проверки индекса: %w", err)
	}
	if _, err := s.store.Stat(absPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, virtual)
	}

	// 3. Advisory-проверка квоты: быстрый отказ без блокировок
	quota, err := s.ledger.Quota(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(quota, u, params.Size); err != nil {
		return nil, err
	}

	// 4. Открываем транзакцию журнала
	txEntry, err := s.txLog.Begin(txlog.OpUpload, u.ID, virtual, params.Size)
	if err != nil {
		return nil, fmt.Errorf("ошибка журнала транзакций: %w", err)
	}

	// 5. Пишем файл на диск
	written, err := s.store.SaveFile(absPath, io.LimitReader(params.Reader, s.cfg.MaxFileSize+1))
	if err != nil {
		s.rollbackTx(txEntry.TransactionID)
		return nil, s.mapFSError(err, virtual)
	}
	if written > s.cfg.MaxFileSize {
		s.removeAndRollback(absPath, txEntry.TransactionID)
		return nil, fmt.Errorf("%w: лимит %d байт", ErrFileTooLarge, s.cfg.MaxFileSize)
	}

	// 6. Фиксируем метаданные и квоту атомарно
	entry := &model.StorageEntry{
		ID:          uuid.New().String(),
		OwnerID:     u.ID,
		Path:        virtual,
		Name:        params.Name,
		Size:        written,
		ContentType: normalizeContentType(params.ContentType),
	}
	err = s.runner.InQuotaTx(ctx, func(quotas repository.QuotaRepository, entries repository.EntryRepository) error {
		q, err := quotas.GetForUpdate(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("ошибка блокировки квоты: %w", err)
		}
		if err := Authorize(q, u, written); err != nil {
			return err
		}
		if err := entries.Insert(ctx, entry); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, virtual)
			}
			return err
		}
		return quotas.AddUsage(ctx, u.ID, written)
	})
	if err != nil {
		s.removeAndRollback(absPath, txEntry.TransactionID)
		return nil, err
	}

	// 7. Коммит журнала — best effort, данные уже зафиксированы
	if err := s.txLog.Commit(txEntry.TransactionID); err != nil {
		s.logger.Error("ошибка коммита журнала транзакций",
			slog.String("tx_id", txEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	s.audit.Event(u, "file_upload", virtual, map[string]any{
		"size":         written,
		"content_type": entry.ContentType,
	})
	s.logger.Info("файл загружен",
		slog.String("user", u.Username),
		slog.String("path", virtual),
		slog.Int64("size", written),
	)
	return entry, nil
}

// CreateFolder создаёт директорию в песочнице пользователя.
// Родительская директория должна существовать.
func (s *StorageService) CreateFolder(ctx context.Context, u *model.User, virtual string) (*model.StorageEntry, error) {
	if u.Role == model.RoleDownloadOnly {
		return nil, fmt.Errorf("%w: роль download_only не создаёт директории", ErrForbidden)
	}
	norm := pathres.Normalize(virtual)
	if norm == "/" {
		return nil, fmt.Errorf("%w: корень песочницы уже существует", ErrAlreadyExists)
	}
	name := path.Base(norm)
	if err := filestore.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, err)
	}

	absPath, err := s.resolve(u, norm)
	if err != nil {
		return nil, err
	}

	if _, err := s.entries.GetByPath(ctx, u.ID, norm); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, norm)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("ошибка проверки индекса: %w", err)
	}

	txEntry, err := s.txLog.Begin(txlog.OpCreateFolder, u.ID, norm, 0)
	if err != nil {
		return nil, fmt.Errorf("ошибка журнала транзакций: %w", err)
	}

	if err := s.store.CreateDir(absPath); err != nil {
		s.rollbackTx(txEntry.TransactionID)
		return nil, s.mapFSError(err, norm)
	}

	entry := &model.StorageEntry{
		ID:          uuid.New().String(),
		OwnerID:     u.ID,
		Path:        norm,
		Name:        name,
		Size:        0,
		ContentType: dirContentType,
		IsDirectory: true,
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		_ = os.Remove(absPath)
		s.rollbackTx(txEntry.TransactionID)
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, norm)
		}
		return nil, err
	}

	if err := s.txLog.Commit(txEntry.TransactionID); err != nil {
		s.logger.Error("ошибка коммита журнала транзакций",
			slog.String("tx_id", txEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	s.audit.Event(u, "folder_create", norm, nil)
	s.logger.Info("директория создана",
		slog.String("user", u.Username),
		slog.String("path", norm),
	)
	return entry, nil
}

// ListFolder возвращает содержимое директории: сначала директории,
// затем файлы, без учёта регистра имён. Для download_only корень "/"
// синтетический и перечисляет маунты разрешённых корней.
func (s *StorageService) ListFolder(ctx context.Context, u *model.User, virtual string) ([]filestore.Entry, error) {
	norm := pathres.Normalize(virtual)

	if u.Role == model.RoleDownloadOnly && norm == "/" {
		mounts := s.resolver.Mounts(u)
		entries := make([]filestore.Entry, 0, len(mounts))
		for _, m := range mounts {
			e := filestore.Entry{Name: m.Name, IsDir: true}
			if info, err := s.store.Stat(m.AbsPath); err == nil {
				e.ModTime = info.ModTime()
			}
			entries = append(entries, e)
		}
		return entries, nil
	}

	absPath, err := s.resolve(u, norm)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListDir(absPath)
	if err != nil {
		return nil, s.mapFSError(err, norm)
	}
	return entries, nil
}

// OpenDownload открывает файл для скачивания. Закрыть файл обязан
// вызывающий. Директории не скачиваются.
func (s *StorageService) OpenDownload(ctx context.Context, u *model.User, virtual string) (*os.File, os.FileInfo, error) {
	norm := pathres.Normalize(virtual)
	absPath, err := s.resolve(u, norm)
	if err != nil {
		return nil, nil, err
	}

	f, info, err := s.store.Open(absPath)
	if err != nil {
		return nil, nil, s.mapFSError(err, norm)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s — директория", ErrInvalidName, norm)
	}

	s.audit.Event(u, "file_download", norm, map[string]any{"size": info.Size()})
	return f, info, nil
}

// Delete удаляет файл или директорию (рекурсивно).
//
// Сначала физическое удаление, затем метаданные и декремент used_bytes
// одной транзакцией: квота освобождается только за реально
// освобождённые байты. Сбой после физического удаления оставляет
// осиротевшую запись индекса и завышенный used_bytes — их устраняет
// фоновая сверка.
func (s *StorageService) Delete(ctx context.Context, u *model.User, virtual string) error {
	if u.Role == model.RoleDownloadOnly {
		return fmt.Errorf("%w: роль download_only не удаляет файлы", ErrForbidden)
	}
	norm := pathres.Normalize(virtual)
	if norm == "/" {
		return fmt.Errorf("%w: корень песочницы не удаляется", ErrForbidden)
	}
	absPath, err := s.resolve(u, norm)
	if err != nil {
		return err
	}

	entry, err := s.entries.GetByPath(ctx, u.ID, norm)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, norm)
		}
		return fmt.Errorf("ошибка чтения индекса: %w", err)
	}

	if entry.IsDirectory {
		return s.deleteDir(ctx, u, norm, absPath)
	}
	return s.deleteFile(ctx, u, norm, absPath, entry.Size)
}

func (s *StorageService) deleteFile(ctx context.Context, u *model.User, norm, absPath string, size int64) error {
	txEntry, err := s.txLog.Begin(txlog.OpDelete, u.ID, norm, -size)
	if err != nil {
		return fmt.Errorf("ошибка журнала транзакций: %w", err)
	}

	// Физическое удаление первым: при сбое квота остаётся занятой
	if err := withRetry(func() error { return s.store.Remove(absPath) }); err != nil {
		s.rollbackTx(txEntry.TransactionID)
		return fmt.Errorf("%w: %s: %s", ErrIO, norm, err)
	}

	err = s.runner.InQuotaTx(ctx, func(quotas repository.QuotaRepository, entries repository.EntryRepository) error {
		if _, err := quotas.GetForUpdate(ctx, u.ID); err != nil {
			return fmt.Errorf("ошибка блокировки квоты: %w", err)
		}
		if err := entries.Delete(ctx, u.ID, norm); err != nil {
			return err
		}
		return quotas.AddUsage(ctx, u.ID, -size)
	})
	if err != nil {
		// Файл уже удалён с диска: запись индекса осиротела,
		// сверка подберёт
		s.rollbackTx(txEntry.TransactionID)
		return err
	}

	if err := s.txLog.Commit(txEntry.TransactionID); err != nil {
		s.logger.Error("ошибка коммита журнала транзакций",
			slog.String("tx_id", txEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	s.audit.Event(u, "file_delete", norm, map[string]any{"size": size})
	s.logger.Info("файл удалён",
		slog.String("user", u.Username),
		slog.String("path", norm),
		slog.Int64("size", size),
	)
	return nil
}

func (s *StorageService) deleteDir(ctx context.Context, u *model.User, norm, absPath string) error {
	freed, err := s.entries.SubtreeSize(ctx, u.ID, norm)
	if err != nil {
		return fmt.Errorf("ошибка подсчёта размера поддерева: %w", err)
	}

	txEntry, err := s.txLog.Begin(txlog.OpDelete, u.ID, norm, -freed)
	if err != nil {
		return fmt.Errorf("ошибка журнала транзакций: %w", err)
	}

	// Физическое удаление первым: при сбое квота остаётся занятой
	if err := withRetry(func() error { return s.store.RemoveTree(absPath) }); err != nil {
		s.rollbackTx(txEntry.TransactionID)
		return fmt.Errorf("%w: %s: %s", ErrIO, norm, err)
	}

	var removed int64
	err = s.runner.InQuotaTx(ctx, func(quotas repository.QuotaRepository, entries repository.EntryRepository) error {
		if _, err := quotas.GetForUpdate(ctx, u.ID); err != nil {
			return fmt.Errorf("ошибка блокировки квоты: %w", err)
		}
		n, err := entries.DeleteSubtree(ctx, u.ID, norm)
		if err != nil {
			return err
		}
		removed = n
		if removed == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, norm)
		}
		return quotas.AddUsage(ctx, u.ID, -freed)
	})
	if err != nil {
		// Поддерево уже удалено с диска: записи индекса осиротели,
		// сверка подберёт
		s.rollbackTx(txEntry.TransactionID)
		return err
	}

	if err := s.txLog.Commit(txEntry.TransactionID); err != nil {
		s.logger.Error("ошибка коммита журнала транзакций",
			slog.String("tx_id", txEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	s.audit.Event(u, "folder_delete", norm, map[string]any{
		"freed_bytes": freed,
		"entries":     removed,
	})
	s.logger.Info("директория удалена",
		slog.String("user", u.Username),
		slog.String("path", norm),
		slog.Int64("freed_bytes", freed),
		slog.Int64("entries", removed),
	)
	return nil
}

// resolve превращает виртуальный путь в физический,
// транслируя ошибку резолвера в ошибку сервисного слоя.
func (s *StorageService) resolve(u *model.User, virtual string) (string, error) {
	absPath, err := s.resolver.Resolve(u, virtual)
	if err != nil {
		if errors.Is(err, pathres.ErrSandboxViolation) {
			return "", fmt.Errorf("%w: %s", ErrSandboxViolation, pathres.Normalize(virtual))
		}
		return "", err
	}
	return absPath, nil
}

// mapFSError транслирует ошибки файлового хранилища в ошибки сервисного слоя.
func (s *StorageService) mapFSError(err error, virtual string) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, virtual)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, virtual)
	case errors.Is(err, filestore.ErrNotADirectory):
		return fmt.Errorf("%w: %s", ErrNotADirectory, virtual)
	case errors.Is(err, filestore.ErrInvalidName):
		return fmt.Errorf("%w: %s", ErrInvalidName, virtual)
	default:
		return fmt.Errorf("%w: %s: %s", ErrIO, virtual, err)
	}
}

// rollbackTx откатывает транзакцию журнала, логируя сбой отката.
func (s *StorageService) rollbackTx(txID string) {
	if err := s.txLog.Rollback(txID); err != nil {
		s.logger.Error("ошибка отката журнала транзакций",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// removeAndRollback — компенсация неудачной загрузки:
// удаление записанного файла и откат журнала.
func (s *StorageService) removeAndRollback(absPath, txID string) {
	if err := s.store.Remove(absPath); err != nil {
		s.logger.Error("ошибка удаления файла при откате", slog.String("error", err.Error()))
	}
	s.rollbackTx(txID)
}

// withRetry повторяет операцию один раз при транзиентной ошибке
// ввода-вывода. Отсутствие файла и отказ в доступе не повторяются.
func withRetry(op func() error) error {
	err := op()
	if err == nil || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return op()
}

// normalizeContentType возвращает MIME-тип или octet-stream по умолчанию.
func normalizeContentType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}
