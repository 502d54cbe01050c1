// fakes_test.go — in-memory реализации репозиториев для юнит-тестов
// сервисного слоя. Семантика повторяет SQL-реализации: отсечка
// used_bytes в нуле, терминальные статусы ссылок, атомарная
// регистрация скачивания.
package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arturkryukov/cipherdrive/internal/domain/model"
	"github.com/arturkryukov/cipherdrive/internal/repository"
)

// fakeQuotaRepo — потокобезопасный in-memory репозиторий квот.
type fakeQuotaRepo struct {
	mu     sync.Mutex
	quotas map[string]*model.Quota
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{quotas: make(map[string]*model.Quota)}
}

func (f *fakeQuotaRepo) Create(ctx context.Context, q *model.Quota) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.quotas[q.UserID]; ok {
		return repository.ErrConflict
	}
	cp := *q
	f.quotas[q.UserID] = &cp
	return nil
}

func (f *fakeQuotaRepo) Get(ctx context.Context, userID string) (*model.Quota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotas[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeQuotaRepo) GetForUpdate(ctx context.Context, userID string) (*model.Quota, error) {
	return f.Get(ctx, userID)
}

func (f *fakeQuotaRepo) AddUsage(ctx context.Context, userID string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotas[userID]
	if !ok {
		return repository.ErrNotFound
	}
	q.UsedBytes += delta
	if q.UsedBytes < 0 {
		q.UsedBytes = 0
	}
	return nil
}

func (f *fakeQuotaRepo) SetUsage(ctx context.Context, userID string, used int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotas[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if used < 0 {
		used = 0
	}
	q.UsedBytes = used
	return nil
}

func (f *fakeQuotaRepo) SetLimit(ctx context.Context, userID string, limit int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotas[userID]
	if !ok {
		return repository.ErrNotFound
	}
	q.QuotaBytes = limit
	return nil
}

func (f *fakeQuotaRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.quotas))
	for id := range f.quotas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// fakeEntryRepo — in-memory индекс метаданных, ключ owner_id+path.
type fakeEntryRepo struct {
	mu      sync.Mutex
	entries map[string]*model.StorageEntry
}

func newFakeEntryRepo() *fakeEntryRepo {
	return &fakeEntryRepo{entries: make(map[string]*model.StorageEntry)}
}

func entryKey(ownerID, path string) string {
	return ownerID + "\x00" + path
}

func (f *fakeEntryRepo) Insert(ctx context.Context, e *model.StorageEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entryKey(e.OwnerID, e.Path)
	if _, ok := f.entries[key]; ok {
		return repository.ErrConflict
	}
	cp := *e
	f.entries[key] = &cp
	return nil
}

func (f *fakeEntryRepo) GetByPath(ctx context.Context, ownerID, path string) (*model.StorageEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryKey(ownerID, path)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEntryRepo) ListChildren(ctx context.Context, ownerID, dirPath string) ([]*model.StorageEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := dirPath
	if prefix != "/" {
		prefix += "/"
	}
	var out []*model.StorageEntry
	for _, e := range f.entries {
		if e.OwnerID != ownerID || !strings.HasPrefix(e.Path, prefix) || e.Path == dirPath {
			continue
		}
		if strings.Contains(e.Path[len(prefix):], "/") {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDirectory != out[j].IsDirectory {
			return out[i].IsDirectory
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (f *fakeEntryRepo) UpdateSize(ctx context.Context, ownerID, path string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryKey(ownerID, path)]
	if !ok {
		return repository.ErrNotFound
	}
	e.Size = size
	return nil
}

func (f *fakeEntryRepo) Delete(ctx context.Context, ownerID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entryKey(ownerID, path)
	if _, ok := f.entries[key]; !ok {
		return repository.ErrNotFound
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeEntryRepo) subtree(ownerID, path string) []string {
	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	var keys []string
	for key, e := range f.entries {
		if e.OwnerID != ownerID {
			continue
		}
		if e.Path == path || strings.HasPrefix(e.Path, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (f *fakeEntryRepo) DeleteSubtree(ctx context.Context, ownerID, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := f.subtree(ownerID, path)
	for _, key := range keys {
		delete(f.entries, key)
	}
	return int64(len(keys)), nil
}

func (f *fakeEntryRepo) SubtreeSize(ctx context.Context, ownerID, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, key := range f.subtree(ownerID, path) {
		if e := f.entries[key]; !e.IsDirectory {
			total += e.Size
		}
	}
	return total, nil
}

func (f *fakeEntryRepo) OwnerUsage(ctx context.Context, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, e := range f.entries {
		if e.OwnerID == ownerID && !e.IsDirectory {
			total += e.Size
		}
	}
	return total, nil
}

// fakeShareRepo — in-memory репозиторий публичных ссылок.
type fakeShareRepo struct {
	mu     sync.Mutex
	shares map[string]*model.ShareLink // ключ — ID
}

func newFakeShareRepo() *fakeShareRepo {
	return &fakeShareRepo{shares: make(map[string]*model.ShareLink)}
}

func (f *fakeShareRepo) Create(ctx context.Context, s *model.ShareLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	cp.CreatedAt = time.Now().UTC()
	f.shares[s.ID] = &cp
	return nil
}

func (f *fakeShareRepo) GetByID(ctx context.Context, id string) (*model.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shares[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeShareRepo) GetByToken(ctx context.Context, token string) (*model.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.shares {
		if s.Token == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeShareRepo) ListByOwner(ctx context.Context, ownerID string, status *model.ShareStatus, limit, offset int) ([]*model.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ShareLink
	for _, s := range f.shares {
		if s.OwnerID == ownerID && (status == nil || s.Status == *status) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeShareRepo) SetStatus(ctx context.Context, id string, status model.ShareStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shares[id]
	if !ok || s.Status != model.ShareActive {
		return repository.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeShareRepo) RegisterDownload(ctx context.Context, id string) (*model.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shares[id]
	if !ok || s.Status != model.ShareActive {
		return nil, repository.ErrNotFound
	}
	if s.MaxDownloads != nil && s.DownloadCount >= *s.MaxDownloads {
		return nil, repository.ErrNotFound
	}
	s.DownloadCount++
	if s.MaxDownloads != nil && s.DownloadCount >= *s.MaxDownloads {
		s.Status = model.ShareExpired
	}
	cp := *s
	return &cp, nil
}

func (f *fakeShareRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.shares {
		if s.Status == model.ShareActive && s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
			s.Status = model.ShareExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeShareRepo) Stats(ctx context.Context, ownerID string) (*model.ShareStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &model.ShareStats{}
	for _, s := range f.shares {
		if s.OwnerID != ownerID {
			continue
		}
		switch s.Status {
		case model.ShareActive:
			stats.Active++
		case model.ShareExpired:
			stats.Expired++
		case model.ShareDisabled:
			stats.Disabled++
		}
		stats.TotalDownloads += s.DownloadCount
	}
	return stats, nil
}

func (f *fakeShareRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.shares[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.shares, id)
	return nil
}

// fakeUserRepo — in-memory репозиторий пользователей.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // ключ — ID
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.users {
		if ex.Username == u.Username {
			return repository.ErrConflict
		}
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.User
	for _, u := range f.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLogin = &at
	return nil
}

func (f *fakeUserRepo) SetActive(ctx context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	return nil
}

// fakeAuditRepo — in-memory журнал аудита.
type fakeAuditRepo struct {
	mu   sync.Mutex
	recs []*model.AuditRecord
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (f *fakeAuditRepo) Insert(ctx context.Context, rec *model.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.recs = append(f.recs, &cp)
	return nil
}

func (f *fakeAuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditRecord
	for i := len(f.recs) - 1; i >= 0 && len(out) < limit; i-- {
		r := f.recs[i]
		if r.UserID != nil && *r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

// fakeTxRunner выполняет замыкание без транзакции, над теми же фейками.
type fakeTxRunner struct {
	quotas  *fakeQuotaRepo
	entries *fakeEntryRepo
}

func (f *fakeTxRunner) InQuotaTx(ctx context.Context, fn func(quotas repository.QuotaRepository, entries repository.EntryRepository) error) error {
	return fn(f.quotas, f.entries)
}
