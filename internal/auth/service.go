package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Service wraps API key rules. Tokens have the form "<id>.<secret>".
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates a presented token and returns the matching key.
func (s *Service) Authenticate(ctx context.Context, token string) (APIKey, error) {
	id, secret, ok := splitToken(token)
	if !ok {
		return APIKey{}, ErrInvalidKey
	}
	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return APIKey{}, err
	}
	if !key.IsActive {
		return APIKey{}, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return APIKey{}, ErrInvalidKey
	}
	_ = s.repo.TouchLastUsed(ctx, key.ID)
	return key, nil
}

// Issue creates a key and returns the token to hand to the client. The
// secret is shown once; only its hash survives.
func (s *Service) Issue(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name required", ErrValidation)
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	id, err := s.repo.Create(ctx, APIKey{Name: name, SecretHash: string(hash), IsActive: true})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%s", id, secret), nil
}

func splitToken(token string) (int64, string, bool) {
	id, secret, found := strings.Cut(token, ".")
	if !found || secret == "" {
		return 0, "", false
	}
	parsed, err := strconv.ParseInt(id, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, "", false
	}
	return parsed, secret, true
}
