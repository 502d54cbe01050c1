// identity.go — аутентификация и управление пользователями.
// Пароли — bcrypt, токены — самоподписанный HS256 JWT.
// Имя пользователя — сегмент пути песочницы, поэтому к нему
// предъявляются требования строже обычных.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/cipherdrive/internal/auth"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
	"github.com/arturkryukov/cipherdrive/internal/storage/provision"
)

// usernameRe — допустимые имена пользователей: строчные латинские
// буквы, цифры, дефис и подчёркивание, 3-32 символа.
var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)

// minPasswordLen — минимальная длина пароля.
const minPasswordLen = 8

// IdentityService — сервис аутентификации и пользователей.
type IdentityService struct {
	users       repository.UserRepository
	ledger      *LedgerService
	provisioner *provision.Provisioner
	issuer      *auth.TokenIssuer
	audit       *AuditService
	logger      *slog.Logger
}

// NewIdentityService создаёт сервис аутентификации.
func NewIdentityService(
	users repository.UserRepository,
	ledger *LedgerService,
	provisioner *provision.Provisioner,
	issuer *auth.TokenIssuer,
	audit *AuditService,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		users:       users,
		ledger:      ledger,
		provisioner: provisioner,
		issuer:      issuer,
		audit:       audit,
		logger:      logger.With(slog.String("component", "identity")),
	}
}

// Login проверяет учётные данные и выдаёт JWT.
// Неизвестное имя, неверный пароль и заблокированный пользователь
// неразличимы для вызывающего.
func (s *IdentityService) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, fmt.Errorf("%w: неверное имя или пароль", ErrUnauthorized)
		}
		return "", nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}
	if !u.IsActive || !auth.CheckPassword(u.PasswordHash, password) {
		return "", nil, fmt.Errorf("%w: неверное имя или пароль", ErrUnauthorized)
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		return "", nil, fmt.Errorf("ошибка выпуска токена: %w", err)
	}

	// Метка последнего входа — best effort
	if err := s.users.UpdateLastLogin(ctx, u.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("ошибка обновления last_login",
			slog.String("user", username),
			slog.String("error", err.Error()),
		)
	}

	s.audit.Event(u, "auth_login", "", nil)
	s.logger.Info("пользователь вошёл",
		slog.String("user", username),
		slog.String("role", string(u.Role)),
	)
	return token, u, nil
}

// CreateUserParams — параметры создания пользователя.
type CreateUserParams struct {
	Username string
	Email    string
	Password string
	Role     model.Role
	// QuotaBytes — лимит квоты, nil = значение по умолчанию
	QuotaBytes *int64
}

// CreateUser создаёт пользователя, его квоту и песочницу.
func (s *IdentityService) CreateUser(ctx context.Context, params CreateUserParams) (*model.User, error) {
	if !usernameRe.MatchString(params.Username) {
		return nil, fmt.Errorf("%w: имя пользователя %q", ErrInvalidName, params.Username)
	}
	if len(params.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: пароль короче %d символов", ErrInvalidName, minPasswordLen)
	}
	if _, ok := model.ParseRole(string(params.Role)); !ok {
		return nil, fmt.Errorf("%w: роль %q", ErrInvalidName, params.Role)
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, fmt.Errorf("ошибка хэширования пароля: %w", err)
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		Role:         params.Role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: пользователь %s", ErrAlreadyExists, params.Username)
		}
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	if _, err := s.ledger.Quota(ctx, u.ID); err != nil {
		return nil, err
	}
	if params.QuotaBytes != nil {
		if err := s.ledger.SetLimit(ctx, u.ID, *params.QuotaBytes); err != nil {
			return nil, err
		}
	}

	// download_only работает в общих каталогах, песочница не нужна
	if u.Role != model.RoleDownloadOnly {
		if err := s.provisioner.EnsureSandbox(u.Username); err != nil {
			return nil, fmt.Errorf("ошибка создания песочницы: %w", err)
		}
	}

	s.logger.Info("пользователь создан",
		slog.String("user", u.Username),
		slog.String("role", string(u.Role)),
	)
	return u, nil
}

// EnsureBootstrapAdmin создаёт стартового администратора,
// если таблица users пуста. Идемпотентна.
func (s *IdentityService) EnsureBootstrapAdmin(ctx context.Context, username, password string) error {
	if username == "" {
		return nil
	}
	existing, err := s.users.List(ctx, 1, 0)
	if err != nil {
		return fmt.Errorf("ошибка проверки таблицы users: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	u, err := s.CreateUser(ctx, CreateUserParams{
		Username: username,
		Password: password,
		Role:     model.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("ошибка создания стартового администратора: %w", err)
	}
	s.logger.Info("создан стартовый администратор", slog.String("user", u.Username))
	return nil
}
