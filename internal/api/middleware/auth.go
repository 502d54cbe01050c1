// auth.go — JWT middleware для аутентификации и авторизации.
// Валидирует самоподписанный HS256-токен и резолвит принципала
// из БД через expirable LRU-кэш: актуальность флага is_active
// гарантируется с точностью до TTL кэша.
// Публичные endpoints (health, metrics, публичные ссылки) — без аутентификации.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	apierrors "github.com/arturkryukov/cipherdrive/internal/api/errors"
	"github.com/arturkryukov/cipherdrive/internal/auth"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyUser — ключ аутентифицированного пользователя в контексте запроса.
const ContextKeyUser contextKey = "auth_user"

// Authenticator — middleware аутентификации по Bearer-токену.
type Authenticator struct {
	issuer *auth.TokenIssuer
	users  repository.UserRepository
	cache  *expirable.LRU[string, *model.User]
	logger *slog.Logger
}

// NewAuthenticator создаёт middleware аутентификации.
// cacheSize и cacheTTL управляют кэшем принципалов: повторные запросы
// одного пользователя не ходят в БД до истечения TTL.
func NewAuthenticator(
	issuer *auth.TokenIssuer,
	users repository.UserRepository,
	cacheSize int,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *Authenticator {
	return &Authenticator{
		issuer: issuer,
		users:  users,
		cache:  expirable.NewLRU[string, *model.User](cacheSize, nil, cacheTTL),
		logger: logger.With(slog.String("component", "auth")),
	}
}

// Middleware возвращает HTTP middleware аутентификации.
// Извлекает Bearer token, валидирует подпись (HS256), резолвит
// пользователя и помещает его в контекст запроса.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			claims, err := a.issuer.Verify(tokenString)
			if err != nil {
				a.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			u, err := a.resolveUser(r.Context(), claims.Subject)
			if err != nil {
				apierrors.Unauthorized(w, "Пользователь не найден")
				return
			}
			if !u.IsActive {
				apierrors.Unauthorized(w, "Пользователь заблокирован")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUser, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveUser возвращает пользователя по ID, через кэш.
func (a *Authenticator) resolveUser(ctx context.Context, id string) (*model.User, error) {
	if u, ok := a.cache.Get(id); ok {
		return u, nil
	}
	u, err := a.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.cache.Add(id, u)
	return u, nil
}

// Invalidate сбрасывает кэшированного принципала (блокировка, смена роли).
func (a *Authenticator) Invalidate(userID string) {
	a.cache.Remove(userID)
}

// RequireRole возвращает middleware, пропускающий только указанные роли.
// Должен использоваться ПОСЛЕ Authenticator.Middleware().
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := UserFromContext(r.Context())
			if u == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if !allowed[u.Role] {
				apierrors.Forbidden(w, "Недостаточно прав для операции")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext извлекает аутентифицированного пользователя из контекста.
// Возвращает nil, если пользователь не найден.
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(ContextKeyUser).(*model.User)
	return u
}
