package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInvalidToken is returned for unknown, revoked or expired join tokens
var ErrInvalidToken = errors.New("invalid join token")

// TokenManager issues the join tokens that admit managers to the cluster
type TokenManager struct {
	tokens map[string]*JoinToken
	mu     sync.RWMutex
	now    func() time.Time
}

// JoinToken admits one manager node until it expires
type JoinToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenManager creates a new token manager
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*JoinToken),
		now:    time.Now,
	}
}

// GenerateToken issues a token valid for ttl
func (tm *TokenManager) GenerateToken(ttl time.Duration) (*JoinToken, error) {
	if ttl <= 0 {
		return nil, errors.Errorf("token ttl must be positive, got %s", ttl)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate token")
	}

	now := tm.now()
	jt := &JoinToken{
		Token:     id.String(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()

	return jt, nil
}

// ValidateToken checks that token was issued here and has not expired
func (tm *TokenManager) ValidateToken(token string) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	jt, exists := tm.tokens[token]
	if !exists {
		return ErrInvalidToken
	}
	if !tm.now().Before(jt.ExpiresAt) {
		return errors.Wrap(ErrInvalidToken, "token expired")
	}
	return nil
}

// RevokeToken revokes a join token
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpiredTokens removes expired tokens and returns how many it removed
func (tm *TokenManager) CleanupExpiredTokens() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.now()
	removed := 0
	for token, jt := range tm.tokens {
		if !now.Before(jt.ExpiresAt) {
			delete(tm.tokens, token)
			removed++
		}
	}
	return removed
}

// ListTokens returns the live tokens, oldest first
func (tm *TokenManager) ListTokens() []*JoinToken {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tokens := make([]*JoinToken, 0, len(tm.tokens))
	for _, jt := range tm.tokens {
		tokens = append(tokens, jt)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens
}
