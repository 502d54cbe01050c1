package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arturkryukov/cipherdrive/internal/auth"
	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
)

const testSecret = "test-secret-for-middleware-tests-0123456789"

// stubUserRepo — минимальный репозиторий пользователей для тестов.
// Считает обращения к БД для проверки кэша принципалов.
type stubUserRepo struct {
	users map[string]*model.User
	hits  int
}

func (s *stubUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.hits++
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUserRepo) Create(ctx context.Context, u *model.User) error { return nil }
func (s *stubUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return nil, repository.ErrNotFound
}
func (s *stubUserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	return nil, nil
}
func (s *stubUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (s *stubUserRepo) SetActive(ctx context.Context, id string, active bool) error { return nil }

func newAuthFixture(t *testing.T, u *model.User) (*Authenticator, *auth.TokenIssuer, *stubUserRepo) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := auth.NewTokenIssuer(testSecret, time.Hour)
	repo := &stubUserRepo{users: map[string]*model.User{}}
	if u != nil {
		repo.users[u.ID] = u
	}
	return NewAuthenticator(issuer, repo, 16, time.Minute, logger), issuer, repo
}

// call пропускает запрос через middleware и возвращает статус
// и пользователя, дошедшего до обработчика.
func call(a *Authenticator, authHeader string) (int, *model.User) {
	var got *model.User
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/quota", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, got
}

func TestAuthValidToken(t *testing.T) {
	u := &model.User{ID: "user-1", Username: "alice", Role: model.RoleUser, IsActive: true}
	a, issuer, _ := newAuthFixture(t, u)

	token, err := issuer.Issue(u)
	if err != nil {
		t.Fatalf("ошибка выпуска токена: %v", err)
	}

	status, got := call(a, "Bearer "+token)
	if status != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", status)
	}
	if got == nil || got.ID != "user-1" {
		t.Errorf("пользователь в контексте = %+v, ожидался user-1", got)
	}
}

func TestAuthRejections(t *testing.T) {
	u := &model.User{ID: "user-1", Username: "alice", Role: model.RoleUser, IsActive: true}
	a, issuer, _ := newAuthFixture(t, u)

	otherIssuer := auth.NewTokenIssuer("another-secret-with-enough-length-123456", time.Hour)
	foreignToken, _ := otherIssuer.Issue(u)
	expiredIssuer := auth.NewTokenIssuer(testSecret, -time.Minute)
	expiredToken, _ := expiredIssuer.Issue(u)
	ghostToken, _ := issuer.Issue(&model.User{ID: "ghost", Username: "ghost", Role: model.RoleUser})

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор вместо токена", "Bearer not.a.jwt"},
		{"чужой секрет", "Bearer " + foreignToken},
		{"просроченный", "Bearer " + expiredToken},
		{"несуществующий пользователь", "Bearer " + ghostToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, got := call(a, tt.header)
			if status != http.StatusUnauthorized {
				t.Errorf("статус = %d, ожидался 401", status)
			}
			if got != nil {
				t.Error("пользователь не должен попасть в контекст")
			}
		})
	}
}

func TestAuthInactiveUser(t *testing.T) {
	u := &model.User{ID: "user-1", Username: "alice", Role: model.RoleUser, IsActive: false}
	a, issuer, _ := newAuthFixture(t, u)

	token, _ := issuer.Issue(u)
	status, _ := call(a, "Bearer "+token)
	if status != http.StatusUnauthorized {
		t.Fatalf("статус = %d, ожидался 401 для заблокированного", status)
	}
}

func TestAuthPrincipalCache(t *testing.T) {
	u := &model.User{ID: "user-1", Username: "alice", Role: model.RoleUser, IsActive: true}
	a, issuer, repo := newAuthFixture(t, u)

	token, _ := issuer.Issue(u)
	for i := 0; i < 5; i++ {
		if status, _ := call(a, "Bearer "+token); status != http.StatusOK {
			t.Fatalf("запрос %d: статус %d", i, status)
		}
	}
	if repo.hits != 1 {
		t.Errorf("обращений к БД = %d, ожидалось 1 (кэш принципалов)", repo.hits)
	}

	// После инвалидации — повторный поход в БД
	a.Invalidate(u.ID)
	if status, _ := call(a, "Bearer "+token); status != http.StatusOK {
		t.Fatal("запрос после инвалидации должен пройти")
	}
	if repo.hits != 2 {
		t.Errorf("обращений к БД = %d, ожидалось 2", repo.hits)
	}
}

func TestRequireRole(t *testing.T) {
	admin := &model.User{ID: "a", Role: model.RoleAdmin, IsActive: true}
	user := &model.User{ID: "u", Role: model.RoleUser, IsActive: true}

	handler := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	run := func(u *model.User) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil)
		if u != nil {
			req = req.WithContext(context.WithValue(req.Context(), ContextKeyUser, u))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := run(admin); got != http.StatusOK {
		t.Errorf("admin: статус = %d, ожидался 200", got)
	}
	if got := run(user); got != http.StatusForbidden {
		t.Errorf("user: статус = %d, ожидался 403", got)
	}
	if got := run(nil); got != http.StatusUnauthorized {
		t.Errorf("аноним: статус = %d, ожидался 401", got)
	}
}
