package auth

import (
	"errors"
	"time"
)

// APIKey is a back-office or integration credential. Only the bcrypt hash of
// the secret is stored.
type APIKey struct {
	ID         int64
	Name       string
	SecretHash string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

var (
	// ErrInvalidKey covers unknown, malformed, inactive and mismatched keys.
	ErrInvalidKey = errors.New("auth: invalid api key")
	// ErrValidation indicates invalid input when issuing a key.
	ErrValidation = errors.New("auth: invalid input")
)
