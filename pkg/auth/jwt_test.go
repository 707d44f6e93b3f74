package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

func TestJWTValidator_RoundTrip(t *testing.T) {
	v := NewJWTValidator("secret", "liquid-stake")
	require.True(t, v.IsConfigured())

	tok, err := v.GenerateToken("carol", []asset.Name{"dave"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.Subject)

	caller := claims.Caller()
	assert.True(t, caller.Has("carol"))
	assert.True(t, caller.Has("dave"))
	assert.False(t, caller.Has("liquidstake"))
}

func TestJWTValidator_Rejects(t *testing.T) {
	v := NewJWTValidator("secret", "liquid-stake")

	expired := NewJWTValidator("secret", "liquid-stake")
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredTok, err := expired.GenerateToken("carol", nil, time.Minute)
	require.NoError(t, err)

	otherKey, err := NewJWTValidator("other", "liquid-stake").GenerateToken("carol", nil, time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewJWTValidator("secret", "someone-else").GenerateToken("carol", nil, time.Minute)
	require.NoError(t, err)

	noSubject, err := v.GenerateToken("", nil, time.Minute)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expiredTok,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"garbage":      "abc.def.ghi",
		"empty":        "",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateToken(tok)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTValidator_Middleware(t *testing.T) {
	v := NewJWTValidator("secret", "")
	var seen []asset.Name
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		seen = caller.Principals()
		w.WriteHeader(http.StatusOK)
	}))

	tok, err := v.GenerateToken("liquidstake", []asset.Name{"base"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []asset.Name{"base", "liquidstake"}, seen)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
