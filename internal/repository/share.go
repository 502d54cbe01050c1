package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
)

// ShareRepository — интерфейс доступа к таблице shares.
type ShareRepository interface {
	// Create создаёт публичную ссылку.
	Create(ctx context.Context, s *model.ShareLink) error
	// GetByID возвращает ссылку по UUID.
	GetByID(ctx context.Context, id string) (*model.ShareLink, error)
	// GetByToken возвращает ссылку по токену.
	GetByToken(ctx context.Context, token string) (*model.ShareLink, error)
	// ListByOwner возвращает ссылки владельца.
	// status — опциональный фильтр по статусу, nil = все.
	ListByOwner(ctx context.Context, ownerID string, status *model.ShareStatus, limit, offset int) ([]*model.ShareLink, error)
	// SetStatus переводит активную ссылку в новый статус.
	// Возвращает ErrNotFound, если ссылка не существует или уже не активна:
	// терминальные статусы не перезаписываются.
	SetStatus(ctx context.Context, id string, status model.ShareStatus) error
	// RegisterDownload атомарно инкрементирует счётчик скачиваний активной
	// ссылки и, если лимит достигнут, переводит её в expired — одним UPDATE.
	// Возвращает ErrNotFound, если ссылка не активна или лимит уже исчерпан.
	RegisterDownload(ctx context.Context, id string) (*model.ShareLink, error)
	// ExpireStale переводит в expired активные ссылки с истёкшим сроком.
	// Возвращает количество обработанных ссылок.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	// Stats возвращает сводку по ссылкам владельца: количество в каждом
	// статусе и суммарное число скачиваний.
	Stats(ctx context.Context, ownerID string) (*model.ShareStats, error)
	// Delete удаляет ссылку.
	Delete(ctx context.Context, id string) error
}

type shareRepo struct {
	db DBTX
}

// NewShareRepository создаёт репозиторий публичных ссылок.
func NewShareRepository(db DBTX) ShareRepository {
	return &shareRepo{db: db}
}

const shareColumns = `id, token, owner_id, file_path, expires_at, max_downloads,
	download_count, password_hash, status, created_at`

// scanShare сканирует строку результата в модель ShareLink.
func scanShare(row pgx.Row) (*model.ShareLink, error) {
	s := &model.ShareLink{}
	err := row.Scan(
		&s.ID, &s.Token, &s.OwnerID, &s.FilePath, &s.ExpiresAt, &s.MaxDownloads,
		&s.DownloadCount, &s.PasswordHash, &s.Status, &s.CreatedAt,
	)
	return s, err
}

func (r *shareRepo) Create(ctx context.Context, s *model.ShareLink) error {
	query := `
		INSERT INTO shares (id, token, owner_id, file_path, expires_at,
			max_downloads, password_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		s.ID, s.Token, s.OwnerID, s.FilePath, s.ExpiresAt,
		s.MaxDownloads, s.PasswordHash, s.Status,
	).Scan(&s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: токен уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания ссылки: %w", err)
	}
	return nil
}

func (r *shareRepo) GetByID(ctx context.Context, id string) (*model.ShareLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM shares WHERE id = $1`, shareColumns)
	s, err := scanShare(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ссылки: %w", err)
	}
	return s, nil
}

func (r *shareRepo) GetByToken(ctx context.Context, token string) (*model.ShareLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM shares WHERE token = $1`, shareColumns)
	s, err := scanShare(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ссылки по токену: %w", err)
	}
	return s, nil
}

func (r *shareRepo) ListByOwner(ctx context.Context, ownerID string, status *model.ShareStatus, limit, offset int) ([]*model.ShareLink, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM shares
		WHERE owner_id = $1
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, shareColumns)

	rows, err := r.db.Query(ctx, query, ownerID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ссылок: %w", err)
	}
	defer rows.Close()

	var result []*model.ShareLink
	for rows.Next() {
		s := &model.ShareLink{}
		if err := rows.Scan(
			&s.ID, &s.Token, &s.OwnerID, &s.FilePath, &s.ExpiresAt, &s.MaxDownloads,
			&s.DownloadCount, &s.PasswordHash, &s.Status, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования ссылки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *shareRepo) SetStatus(ctx context.Context, id string, status model.ShareStatus) error {
	// Guard по статусу: терминальные ссылки не перезаписываются
	query := `UPDATE shares SET status = $2 WHERE id = $1 AND status = 'active'`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("ошибка изменения статуса ссылки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *shareRepo) RegisterDownload(ctx context.Context, id string) (*model.ShareLink, error) {
	// Инкремент и возможный перевод в expired — один UPDATE.
	// Конкурентные скачивания последней квоты: выигрывает ровно один,
	// остальные не находят строку по условию WHERE.
	query := fmt.Sprintf(`
		UPDATE shares
		SET download_count = download_count + 1,
		    status = CASE
		        WHEN max_downloads IS NOT NULL AND download_count + 1 >= max_downloads
		        THEN 'expired'
		        ELSE status
		    END
		WHERE id = $1
		  AND status = 'active'
		  AND (max_downloads IS NULL OR download_count < max_downloads)
		RETURNING %s`, shareColumns)

	s, err := scanShare(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка регистрации скачивания: %w", err)
	}
	return s, nil
}

func (r *shareRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE shares
		SET status = 'expired'
		WHERE status = 'active'
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1`

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка перевода истёкших ссылок: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *shareRepo) Stats(ctx context.Context, ownerID string) (*model.ShareStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(download_count), 0)
		 FROM shares WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта статистики ссылок: %w", err)
	}
	defer rows.Close()

	stats := &model.ShareStats{}
	for rows.Next() {
		var status model.ShareStatus
		var count, downloads int
		if err := rows.Scan(&status, &count, &downloads); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		switch status {
		case model.ShareActive:
			stats.Active = count
		case model.ShareExpired:
			stats.Expired = count
		case model.ShareDisabled:
			stats.Disabled = count
		}
		stats.TotalDownloads += downloads
	}
	return stats, rows.Err()
}

func (r *shareRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM shares WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления ссылки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
