package relay

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestDevModeAcceptsAnyToken(t *testing.T) {
	a := NewAuthenticator("")

	p, err := a.Authenticate("alice")
	require.NoError(t, err)
	require.Equal(t, "alice", p.UserID)

	p, err = a.Authenticate("")
	require.NoError(t, err)
	require.NotEmpty(t, p.UserID)
	require.Contains(t, p.UserName, "guest-")
}

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthenticator("test-secret")

	token, err := a.IssueToken("u1", "Alice")
	require.NoError(t, err)

	p, err := a.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserID)
	require.Equal(t, "Alice", p.UserName)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	a := NewAuthenticator("test-secret")

	_, err := a.Authenticate("")
	require.Error(t, err)

	_, err = a.Authenticate("garbage")
	require.Error(t, err)

	// Signed with a different secret.
	other, err := NewAuthenticator("other-secret").IssueToken("u1", "Alice")
	require.NoError(t, err)
	_, err = a.Authenticate(other)
	require.Error(t, err)
}

func TestAuthenticateRequiresSubject(t *testing.T) {
	a := NewAuthenticator("test-secret")

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "no subject"})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = a.Authenticate(signed)
	require.Error(t, err)
}

func TestNameFallsBackToSubject(t *testing.T) {
	a := NewAuthenticator("test-secret")

	token, err := a.IssueToken("u1", "")
	require.NoError(t, err)

	p, err := a.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserName)
}
