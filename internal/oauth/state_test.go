package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateRejectsTamperingAndExpiry(t *testing.T) {
	m, err := NewStateManager("secret", time.Minute)
	require.NoError(t, err)

	state, err := m.Issue()
	require.NoError(t, err)
	require.False(t, m.Validate(state+"x"))
	require.False(t, m.Validate(""))

	other, err := NewStateManager("different", time.Minute)
	require.NoError(t, err)
	require.False(t, other.Validate(state))

	expired, err := m.Issue()
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	require.False(t, m.Validate(expired))
}

func TestStateWithGeneratedSecret(t *testing.T) {
	m, err := NewStateManager("", 0)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, m.ttl)

	state, err := m.Issue()
	require.NoError(t, err)
	require.True(t, m.Validate(state))
}
