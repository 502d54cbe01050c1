// Пакет txlog — файловый журнал мутаций хранилища.
// Каждая мутация (загрузка, удаление, создание директории) фиксируется
// записью pending до выполнения и переводится в committed или rolled_back
// после. Записи хранятся как JSON-файлы {tx_id}.tx.json в CD_TXLOG_DIR;
// незавершённые записи обнаруживаются при старте сервиса и сигнализируют
// о необходимости сверки квот.
package txlog

import (
	"time"
)

// OperationType — тип мутации, фиксируемой в журнале.
type OperationType string

const (
	// OpUpload — загрузка файла
	OpUpload OperationType = "upload"
	// OpDelete — удаление файла или директории
	OpDelete OperationType = "delete"
	// OpCreateFolder — создание директории
	OpCreateFolder OperationType = "create_folder"
)

// TransactionStatus — статус записи журнала.
type TransactionStatus string

const (
	// StatusPending — мутация начата, выполнение в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — мутация успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — мутация отменена после ошибки
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.tx.json.
type Entry struct {
	// TransactionID — уникальный идентификатор мутации (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип мутации
	Operation OperationType `json:"operation"`

	// Status — текущий статус
	Status TransactionStatus `json:"status"`

	// OwnerID — идентификатор пользователя-владельца
	OwnerID string `json:"owner_id"`

	// Path — виртуальный путь цели мутации
	Path string `json:"path"`

	// SizeDelta — ожидаемое изменение used_bytes владельца
	// (положительное для загрузки, отрицательное для удаления)
	SizeDelta int64 `json:"size_delta"`

	// StartedAt — время начала мутации (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения (UTC). nil для pending.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// txFileName возвращает имя файла журнала для данной мутации.
func txFileName(txID string) string {
	return txID + ".tx.json"
}
