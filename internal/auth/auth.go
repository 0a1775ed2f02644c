// Package auth resolves the caller principal from a bearer API key.
// Keys are stored as bcrypt hashes; the plain key never leaves the
// request handler.
package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Principal is the accountable identity budgets and rate limits are
// scoped to.
type Principal struct {
	ID           string
	APIKeyHash   string
	RateLimitRPM int
}

type Store interface {
	// Authenticate returns the principal owning the API key, or
	// ErrUnauthorized.
	Authenticate(ctx context.Context, apiKey string) (*Principal, error)
}

// InMemoryStore holds the principals loaded from configuration.
type InMemoryStore struct {
	mu         sync.RWMutex
	principals []Principal
}

func NewInMemoryStore(principals []Principal) *InMemoryStore {
	return &InMemoryStore{principals: principals}
}

func (s *InMemoryStore) Authenticate(ctx context.Context, apiKey string) (*Principal, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.principals {
		p := &s.principals[i]
		if bcrypt.CompareHashAndPassword([]byte(p.APIKeyHash), []byte(apiKey)) == nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrUnauthorized
}

// HashAPIKey produces the bcrypt hash stored in configuration.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
