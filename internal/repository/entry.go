package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
)

// EntryRepository — интерфейс индекса метаданных (таблица entries).
// Пути нормализованы, уникальны в паре (owner_id, path).
type EntryRepository interface {
	// Insert добавляет запись файла или директории.
	Insert(ctx context.Context, e *model.StorageEntry) error
	// GetByPath возвращает запись по виртуальному пути владельца.
	GetByPath(ctx context.Context, ownerID, path string) (*model.StorageEntry, error)
	// ListChildren возвращает прямых потомков директории.
	ListChildren(ctx context.Context, ownerID, dirPath string) ([]*model.StorageEntry, error)
	// UpdateSize обновляет размер записи файла.
	UpdateSize(ctx context.Context, ownerID, path string, size int64) error
	// Delete удаляет одну запись.
	Delete(ctx context.Context, ownerID, path string) error
	// DeleteSubtree удаляет запись и всех её потомков,
	// потомки удаляются раньше родителя.
	DeleteSubtree(ctx context.Context, ownerID, path string) (int64, error)
	// SubtreeSize возвращает суммарный размер файлов поддерева.
	SubtreeSize(ctx context.Context, ownerID, path string) (int64, error)
	// OwnerUsage возвращает суммарный размер всех файлов владельца.
	OwnerUsage(ctx context.Context, ownerID string) (int64, error)
}

type entryRepo struct {
	db DBTX
}

// NewEntryRepository создаёт репозиторий индекса метаданных.
func NewEntryRepository(db DBTX) EntryRepository {
	return &entryRepo{db: db}
}

const entryColumns = `id, owner_id, path, name, size, content_type, is_directory,
	created_at, updated_at`

// scanEntry сканирует строку результата в модель StorageEntry.
func scanEntry(row pgx.Row) (*model.StorageEntry, error) {
	e := &model.StorageEntry{}
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Path, &e.Name, &e.Size, &e.ContentType, &e.IsDirectory,
		&e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

// subtreePrefix возвращает LIKE-шаблон для потомков пути.
// Для корня "/" потомки — "/%", для "/docs" — "/docs/%".
func subtreePrefix(path string) string {
	if path == "/" {
		return "/%"
	}
	return path + "/%"
}

func (r *entryRepo) Insert(ctx context.Context, e *model.StorageEntry) error {
	query := `
		INSERT INTO entries (id, owner_id, path, name, size, content_type, is_directory)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.OwnerID, e.Path, e.Name, e.Size, e.ContentType, e.IsDirectory,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: путь %s уже существует", ErrConflict, e.Path)
		}
		return fmt.Errorf("ошибка вставки записи индекса: %w", err)
	}
	return nil
}

func (r *entryRepo) GetByPath(ctx context.Context, ownerID, path string) (*model.StorageEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM entries WHERE owner_id = $1 AND path = $2`, entryColumns)
	e, err := scanEntry(r.db.QueryRow(ctx, query, ownerID, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи индекса: %w", err)
	}
	return e, nil
}

func (r *entryRepo) ListChildren(ctx context.Context, ownerID, dirPath string) ([]*model.StorageEntry, error) {
	// Прямые потомки: под префиксом, но без вложенных "/"
	query := fmt.Sprintf(`
		SELECT %s
		FROM entries
		WHERE owner_id = $1
		  AND path LIKE $2
		  AND position('/' IN substring(path FROM char_length($3) + 1)) = 0
		ORDER BY is_directory DESC, lower(name)`, entryColumns)

	prefix := subtreePrefix(dirPath)
	base := dirPath
	if base == "/" {
		base = ""
	}
	rows, err := r.db.Query(ctx, query, ownerID, prefix, base+"/")
	if err != nil {
		return nil, fmt.Errorf("ошибка получения потомков: %w", err)
	}
	defer rows.Close()

	var result []*model.StorageEntry
	for rows.Next() {
		e := &model.StorageEntry{}
		if err := rows.Scan(
			&e.ID, &e.OwnerID, &e.Path, &e.Name, &e.Size, &e.ContentType, &e.IsDirectory,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи индекса: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *entryRepo) UpdateSize(ctx context.Context, ownerID, path string, size int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entries SET size = $3 WHERE owner_id = $1 AND path = $2`,
		ownerID, path, size)
	if err != nil {
		return fmt.Errorf("ошибка обновления размера: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepo) Delete(ctx context.Context, ownerID, path string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM entries WHERE owner_id = $1 AND path = $2`, ownerID, path)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи индекса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *entryRepo) DeleteSubtree(ctx context.Context, ownerID, path string) (int64, error) {
	// Потомки удаляются раньше родителя: сортировка по глубине пути
	query := `
		DELETE FROM entries
		WHERE id IN (
			SELECT id FROM entries
			WHERE owner_id = $1 AND (path = $2 OR path LIKE $3)
			ORDER BY char_length(path) DESC
		)`

	tag, err := r.db.Exec(ctx, query, ownerID, path, subtreePrefix(path))
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления поддерева: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *entryRepo) SubtreeSize(ctx context.Context, ownerID, path string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size), 0)
		FROM entries
		WHERE owner_id = $1
		  AND (path = $2 OR path LIKE $3)
		  AND NOT is_directory`

	var total int64
	err := r.db.QueryRow(ctx, query, ownerID, path, subtreePrefix(path)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта размера поддерева: %w", err)
	}
	return total, nil
}

func (r *entryRepo) OwnerUsage(ctx context.Context, ownerID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size), 0)
		FROM entries
		WHERE owner_id = $1 AND NOT is_directory`

	var total int64
	err := r.db.QueryRow(ctx, query, ownerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта использования: %w", err)
	}
	return total, nil
}
