package repository

import (
	"context"
	"fmt"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
)

// AuditRepository — интерфейс журнала аудита (append-only).
type AuditRepository interface {
	// Insert добавляет запись аудита.
	Insert(ctx context.Context, rec *model.AuditRecord) error
	// ListByUser возвращает последние записи пользователя.
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditRecord, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, rec *model.AuditRecord) error {
	query := `
		INSERT INTO audit_log (user_id, username, action, resource_path, details, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		rec.UserID, rec.Username, rec.Action, rec.ResourcePath, rec.Details, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditRecord, error) {
	query := `
		SELECT user_id, username, action, resource_path, details, ts
		FROM audit_log
		WHERE user_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditRecord
	for rows.Next() {
		rec := &model.AuditRecord{}
		if err := rows.Scan(
			&rec.UserID, &rec.Username, &rec.Action, &rec.ResourcePath,
			&rec.Details, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
