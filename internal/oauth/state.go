package oauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/providentiaww/dam-sync/internal/cache"
)

const stateAudience = "dam-sync-oauth"

// StateManager issues and validates the CSRF state carried through the
// authorization redirect. States are signed, short-lived and single-use.
type StateManager struct {
	secret []byte
	ttl    time.Duration
	nonces *cache.TTLCache[struct{}]
	now    func() time.Time
}

// NewStateManager creates a manager. An empty secret gets a random per-process key,
// which means states do not survive a restart.
func NewStateManager(secret string, ttl time.Duration) (*StateManager, error) {
	if secret == "" {
		generated, err := RandomString(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate state secret: %w", err)
		}
		secret = generated
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateManager{
		secret: []byte(secret),
		ttl:    ttl,
		nonces: cache.New[struct{}](),
		now:    time.Now,
	}, nil
}

// Issue returns a new signed state token.
func (m *StateManager) Issue() (string, error) {
	now := m.now()
	nonce := uuid.NewString()
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	m.nonces.Set(nonce, struct{}{}, m.ttl)
	return signed, nil
}

// Validate checks signature, expiry and audience, and consumes the nonce.
func (m *StateManager) Validate(token string) bool {
	if token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.ID == "" {
		return false
	}
	_, ok := m.nonces.Take(claims.ID)
	return ok
}
