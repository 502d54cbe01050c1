// Пакет model — доменные модели CipherDrive.
// User — аутентифицированный владелец песочницы, Quota — запись леджера
// использованных байт, StorageEntry — файл или директория в индексе
// метаданных, ShareLink — публичная ссылка на файл.
package model

import (
	"time"
)

// Role — роль пользователя.
type Role string

const (
	// RoleAdmin — полный доступ, квота не учитывается
	RoleAdmin Role = "admin"
	// RoleUser — стандартный пользователь со своей песочницей
	RoleUser Role = "user"
	// RoleDownloadOnly — доступ на чтение к общим медиа-каталогам,
	// без личной песочницы
	RoleDownloadOnly Role = "download_only"
)

// ParseRole преобразует строку в Role.
// Возвращает false для недопустимых значений.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleUser, RoleDownloadOnly:
		return Role(s), true
	default:
		return "", false
	}
}

// UnlimitedQuota — маркер безлимитной квоты в quota_bytes.
const UnlimitedQuota int64 = -1

// User — пользователь системы (запись таблицы users).
type User struct {
	// ID — уникальный идентификатор (UUID v4)
	ID string
	// Username — уникальное имя пользователя, часть пути песочницы
	Username string
	// Email — адрес электронной почты
	Email string
	// PasswordHash — bcrypt-хэш пароля
	PasswordHash string
	// Role — роль пользователя
	Role Role
	// IsActive — false блокирует аутентификацию
	IsActive bool
	// LastLogin — время последнего успешного входа
	LastLogin *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BypassesQuota возвращает true, если операции пользователя
// не проходят через леджер квот.
func (u *User) BypassesQuota() bool {
	return u.Role == RoleAdmin
}

// Quota — запись леджера квоты пользователя (таблица quotas).
// Инвариант: UsedBytes >= 0; для пользователей с ограниченной квотой
// UsedBytes <= QuotaBytes после каждой зафиксированной мутации.
type Quota struct {
	// UserID — владелец записи
	UserID string
	// QuotaBytes — выделенный объём в байтах, -1 = безлимит
	QuotaBytes int64
	// UsedBytes — учтённые использованные байты (монотонный леджер,
	// корректируется reconciliation)
	UsedBytes int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unlimited возвращает true для безлимитной квоты.
func (q *Quota) Unlimited() bool {
	return q.QuotaBytes == UnlimitedQuota
}

// AvailableBytes возвращает остаток квоты (не меньше нуля).
// Для безлимитной квоты возвращает -1.
func (q *Quota) AvailableBytes() int64 {
	if q.Unlimited() {
		return UnlimitedQuota
	}
	if q.UsedBytes >= q.QuotaBytes {
		return 0
	}
	return q.QuotaBytes - q.UsedBytes
}

// StorageEntry — файл или директория в индексе метаданных
// (таблица entries). Ключ — (owner_id, path).
type StorageEntry struct {
	// ID — уникальный идентификатор записи (UUID v4)
	ID string
	// OwnerID — владелец записи
	OwnerID string
	// Path — логический путь относительно песочницы владельца,
	// всегда начинается с "/"
	Path string
	// Name — имя файла или директории (последний сегмент Path)
	Name string
	// Size — размер в байтах (0 для директорий)
	Size int64
	// ContentType — MIME-тип (inode/directory для директорий)
	ContentType string
	// IsDirectory — признак директории
	IsDirectory bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ShareStatus — статус публичной ссылки.
type ShareStatus string

const (
	// ShareActive — ссылка действительна
	ShareActive ShareStatus = "active"
	// ShareExpired — истекла по времени или исчерпан лимит скачиваний.
	// Терминальный статус.
	ShareExpired ShareStatus = "expired"
	// ShareDisabled — отозвана владельцем или администратором.
	// Терминальный статус.
	ShareDisabled ShareStatus = "disabled"
)

// ShareLink — публичная ссылка на файл (таблица shares).
type ShareLink struct {
	// ID — уникальный идентификатор (UUID v4)
	ID string
	// Token — непредсказуемый токен доступа (crypto/rand, 256 бит)
	Token string
	// FilePath — абсолютный путь файла на диске
	FilePath string
	// OwnerID — создатель ссылки
	OwnerID string
	// ExpiresAt — время истечения, nil = не истекает по времени
	ExpiresAt *time.Time
	// MaxDownloads — лимит скачиваний, nil = без лимита
	MaxDownloads *int
	// DownloadCount — текущее количество скачиваний
	DownloadCount int
	// PasswordHash — bcrypt-хэш пароля доступа, nil = без пароля
	PasswordHash *string
	// Status — текущий статус ссылки
	Status    ShareStatus
	CreatedAt time.Time
}

// TimeExpired проверяет истечение ссылки по времени.
func (s *ShareLink) TimeExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// DownloadsExhausted проверяет исчерпание лимита скачиваний.
func (s *ShareLink) DownloadsExhausted() bool {
	return s.MaxDownloads != nil && s.DownloadCount >= *s.MaxDownloads
}

// PasswordProtected возвращает true для ссылок с паролем.
func (s *ShareLink) PasswordProtected() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}

// ShareStats — сводка по ссылкам владельца.
type ShareStats struct {
	// Active, Expired, Disabled — количество ссылок в каждом статусе
	Active   int
	Expired  int
	Disabled int
	// TotalDownloads — суммарное число скачиваний по всем ссылкам
	TotalDownloads int
}

// Total возвращает общее количество ссылок.
func (st *ShareStats) Total() int {
	return st.Active + st.Expired + st.Disabled
}

// AuditRecord — запись журнала аудита (таблица audit_log).
// Пишется fire-and-forget после каждой зафиксированной мутации.
type AuditRecord struct {
	// UserID — инициатор, nil для анонимных операций (публичные ссылки)
	UserID *string
	// Username — имя инициатора ("anonymous", "system" для фоновых задач)
	Username string
	// Action — тип операции (file_upload, share_create, ...)
	Action string
	// ResourcePath — путь затронутого ресурса
	ResourcePath string
	// Details — дополнительные поля (сериализуются в JSON)
	Details map[string]any
	// Timestamp — время операции (UTC)
	Timestamp time.Time
}
