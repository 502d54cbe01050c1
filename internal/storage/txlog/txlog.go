package txlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log — файловый журнал мутаций хранилища.
// Гарантирует обнаружение незавершённых мутаций: сначала создаётся
// запись pending, затем выполняется мутация, затем запись коммитится
// или откатывается. Pending записи, найденные при рестарте, означают
// возможное расхождение квот и обрабатываются сверкой.
type Log struct {
	// dir — директория хранения файлов журнала (CD_TXLOG_DIR)
	dir string
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// logger — логгер
	logger *slog.Logger
}

// New создаёт журнал мутаций. Проверяет и создаёт директорию,
// если она не существует. Возвращает ошибку при проблемах с FS.
func New(dir string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(dir, ".txlog_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Log{
		dir:    dir,
		logger: logger.With(slog.String("component", "txlog")),
	}, nil
}

// Begin создаёт запись журнала со статусом pending.
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (l *Log) Begin(op OperationType, ownerID, path string, sizeDelta int64) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		OwnerID:       ownerID,
		Path:          path,
		SizeDelta:     sizeDelta,
		StartedAt:     time.Now().UTC(),
	}

	if err := l.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	l.logger.Debug("мутация начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(entry.Operation)),
		slog.String("owner_id", entry.OwnerID),
		slog.String("path", entry.Path),
	)

	return entry, nil
}

// Commit помечает мутацию как успешно завершённую.
func (l *Log) Commit(txID string) error {
	return l.finish(txID, StatusCommitted)
}

// Rollback помечает мутацию как отменённую.
func (l *Log) Rollback(txID string) error {
	return l.finish(txID, StatusRolledBack)
}

// finish переводит pending запись в терминальный статус.
func (l *Log) finish(txID string, status TransactionStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}

	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := l.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}

	l.logger.Debug("мутация завершена",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)

	return nil
}

// RecoverPending находит все записи со статусом pending.
// Вызывается при старте сервиса: непустой результат означает,
// что квоты могли разойтись с фактическим содержимым диска.
func (l *Log) RecoverPending() ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(l.dir, "*.tx.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".tx.json")
		entry, err := l.readEntry(txID)
		if err != nil {
			l.logger.Warn("не удалось прочитать запись журнала при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		if entry.Status == StatusPending {
			pending = append(pending, entry)
			l.logger.Warn("обнаружена незавершённая мутация",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("owner_id", entry.OwnerID),
				slog.String("path", entry.Path),
				slog.Time("started_at", entry.StartedAt),
			)
		}
	}

	return pending, nil
}

// Get читает запись журнала по идентификатору мутации.
func (l *Log) Get(txID string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.readEntry(txID)
}

// CleanFinished удаляет все завершённые (committed/rolled_back) записи.
// Вызывается периодически, чтобы директория журнала не разрасталась.
func (l *Log) CleanFinished() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(l.dir, "*.tx.json"))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".tx.json")
		entry, err := l.readEntry(txID)
		if err != nil {
			continue
		}

		if entry.Status == StatusCommitted || entry.Status == StatusRolledBack {
			if err := os.Remove(path); err != nil {
				l.logger.Warn("не удалось удалить завершённую запись журнала",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			cleaned++
		}
	}

	if cleaned > 0 {
		l.logger.Info("очистка журнала завершена",
			slog.Int("cleaned", cleaned),
		)
	}

	return cleaned, nil
}

// writeEntry атомарно записывает запись журнала на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (l *Log) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(l.dir, txFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readEntry читает запись журнала из файла.
func (l *Log) readEntry(txID string) (*Entry, error) {
	path := filepath.Join(l.dir, txFileName(txID))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}

	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (l *Log) Dir() string {
	return l.dir
}
