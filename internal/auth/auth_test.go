package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/lestari/internal/database"
)

type stubRoles map[string][]database.UserRole

func (s stubRoles) GetUserRoles(_ context.Context, userID string) ([]database.UserRole, error) {
	if userID == "broken" {
		return nil, errors.New("db down")
	}
	return s[userID], nil
}

func newTestResolver() *Resolver {
	return NewResolver([]byte("test-secret"), "lestari", "lestari_session", stubRoles{
		"admin-1": {{UserID: "admin-1", Role: RoleAdmin}},
	})
}

func TestBearerTokenRoundTrip(t *testing.T) {
	r := newTestResolver()
	token, err := r.IssueToken("u1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	s, ok := r.ResolveSession(req)
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
	assert.False(t, s.HasRole(RoleAdmin))
}

func TestCookieToken(t *testing.T) {
	r := newTestResolver()
	token, err := r.IssueToken("admin-1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: "lestari_session", Value: token})

	s, ok := r.ResolveSession(req)
	require.True(t, ok)
	assert.True(t, s.HasRole(RoleAdmin))
}

func TestRejectedTokens(t *testing.T) {
	r := newTestResolver()
	other := NewResolver([]byte("other-secret"), "lestari", "", nil)
	wrongIssuer := NewResolver([]byte("test-secret"), "someone-else", "", nil)

	badSig, err := other.IssueToken("u1", time.Hour)
	require.NoError(t, err)
	expired, err := r.IssueToken("u1", -time.Minute)
	require.NoError(t, err)
	issuer, err := wrongIssuer.IssueToken("u1", time.Hour)
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.StandardClaims{
		Subject: "u1", Issuer: "lestari",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":      "",
		"garbage":      "Bearer not-a-token",
		"bad sig":      "Bearer " + badSig,
		"expired":      "Bearer " + expired,
		"wrong issuer": "Bearer " + issuer,
		"alg none":     "Bearer " + noneAlg,
		"basic auth":   "Basic dTE6cGFzcw==",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			_, ok := r.ResolveSession(req)
			assert.False(t, ok)
		})
	}
}

func TestRoleLookupFailureFailsClosed(t *testing.T) {
	r := newTestResolver()
	token, err := r.IssueToken("broken", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	s, ok := r.ResolveSession(req)
	require.True(t, ok)
	assert.Equal(t, "broken", s.UserID)
	assert.Empty(t, s.Roles)
}

func TestIssueTokenRequiresUser(t *testing.T) {
	_, err := newTestResolver().IssueToken("", time.Hour)
	assert.Error(t, err)
}
