package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
)

// QuotaRepository — интерфейс доступа к таблице quotas.
// Изменения used_bytes выполняются внутри транзакции с блокировкой
// строки (GetForUpdate): операции одного пользователя сериализуются,
// разные пользователи друг друга не блокируют.
type QuotaRepository interface {
	// Create создаёт строку квоты пользователя.
	Create(ctx context.Context, q *model.Quota) error
	// Get возвращает квоту пользователя.
	Get(ctx context.Context, userID string) (*model.Quota, error)
	// GetForUpdate возвращает квоту с блокировкой строки (SELECT ... FOR UPDATE).
	// Должен вызываться внутри транзакции.
	GetForUpdate(ctx context.Context, userID string) (*model.Quota, error)
	// AddUsage изменяет used_bytes на delta с отсечкой в нуле.
	AddUsage(ctx context.Context, userID string, delta int64) error
	// SetUsage устанавливает used_bytes в абсолютное значение (сверка).
	SetUsage(ctx context.Context, userID string, used int64) error
	// SetLimit изменяет quota_bytes пользователя.
	SetLimit(ctx context.Context, userID string, limit int64) error
	// ListUserIDs возвращает идентификаторы всех пользователей с квотой.
	ListUserIDs(ctx context.Context) ([]string, error)
}

type quotaRepo struct {
	db DBTX
}

// NewQuotaRepository создаёт репозиторий квот.
func NewQuotaRepository(db DBTX) QuotaRepository {
	return &quotaRepo{db: db}
}

const quotaColumns = `user_id, quota_bytes, used_bytes, created_at, updated_at`

// scanQuota сканирует строку результата в модель Quota.
func scanQuota(row pgx.Row) (*model.Quota, error) {
	q := &model.Quota{}
	err := row.Scan(&q.UserID, &q.QuotaBytes, &q.UsedBytes, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func (r *quotaRepo) Create(ctx context.Context, q *model.Quota) error {
	query := `
		INSERT INTO quotas (user_id, quota_bytes, used_bytes)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, q.UserID, q.QuotaBytes, q.UsedBytes).
		Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: квота пользователя уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания квоты: %w", err)
	}
	return nil
}

func (r *quotaRepo) Get(ctx context.Context, userID string) (*model.Quota, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotas WHERE user_id = $1`, quotaColumns)
	q, err := scanQuota(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения квоты: %w", err)
	}
	return q, nil
}

func (r *quotaRepo) GetForUpdate(ctx context.Context, userID string) (*model.Quota, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotas WHERE user_id = $1 FOR UPDATE`, quotaColumns)
	q, err := scanQuota(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки квоты: %w", err)
	}
	return q, nil
}

func (r *quotaRepo) AddUsage(ctx context.Context, userID string, delta int64) error {
	// GREATEST защищает от ухода ниже нуля при рассинхронизации учёта
	query := `
		UPDATE quotas
		SET used_bytes = GREATEST(0, used_bytes + $2)
		WHERE user_id = $1`

	tag, err := r.db.Exec(ctx, query, userID, delta)
	if err != nil {
		return fmt.Errorf("ошибка изменения used_bytes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *quotaRepo) SetUsage(ctx context.Context, userID string, used int64) error {
	query := `UPDATE quotas SET used_bytes = GREATEST(0, $2) WHERE user_id = $1`

	tag, err := r.db.Exec(ctx, query, userID, used)
	if err != nil {
		return fmt.Errorf("ошибка установки used_bytes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *quotaRepo) SetLimit(ctx context.Context, userID string, limit int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE quotas SET quota_bytes = $2 WHERE user_id = $1`, userID, limit)
	if err != nil {
		return fmt.Errorf("ошибка установки quota_bytes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *quotaRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM quotas ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка квот: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования user_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
