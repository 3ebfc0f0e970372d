package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	keys   map[int64]APIKey
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{keys: make(map[int64]APIKey)}
}

func (r *memoryRepo) FindByID(ctx context.Context, id int64) (APIKey, error) {
	key, ok := r.keys[id]
	if !ok {
		return APIKey{}, ErrInvalidKey
	}
	return key, nil
}

func (r *memoryRepo) Create(ctx context.Context, key APIKey) (int64, error) {
	r.nextID++
	key.ID = r.nextID
	r.keys[key.ID] = key
	return key.ID, nil
}

func (r *memoryRepo) TouchLastUsed(ctx context.Context, id int64) error {
	return nil
}

func TestIssueAndAuthenticate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	token, err := svc.Issue(ctx, "pos-terminal-1")
	require.NoError(t, err)

	key, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "pos-terminal-1", key.Name)

	_, err = svc.Authenticate(ctx, token+"x")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Authenticate(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = svc.Authenticate(ctx, "999.deadbeef")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestInactiveKeyRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	token, err := svc.Issue(ctx, "old-terminal")
	require.NoError(t, err)

	key := repo.keys[1]
	key.IsActive = false
	repo.keys[1] = key

	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestMiddleware(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	token, err := svc.Issue(context.Background(), "terminal")
	require.NoError(t, err)

	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
