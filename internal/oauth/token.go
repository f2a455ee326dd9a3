package oauth

import (
	"errors"
	"time"
)

var (
	// ErrNoToken means the store has never been given a token.
	ErrNoToken = errors.New("no access token stored")
	// ErrNotAuthenticated is the user-facing form of a missing or unusable token.
	ErrNotAuthenticated = errors.New("not authenticated, please re-authenticate")
	// ErrInvalidCredentials is returned when the token endpoint rejects an exchange or refresh.
	ErrInvalidCredentials = errors.New("invalid DAM credentials")
)

// AccessToken is the token pair held for the DAM. It is replaced wholesale on
// every exchange and refresh; ExpiresAt is fixed at exchange time.
type AccessToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the token is expired at now, treating tokens within
// skew of expiry as already expired.
func (t AccessToken) Expired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}
