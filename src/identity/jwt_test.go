package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func validClaims() Claims {
	return Claims{
		UserID:   "u1",
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestResolveValidToken(t *testing.T) {
	r := NewJWTResolver(secret)
	id, err := r.Resolve(context.Background(), Handshake{Token: sign(t, jwt.SigningMethodHS256, secret, validClaims())})
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "alice", id.Username)
}

func TestResolveRejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noUser := validClaims()
	noUser.UserID = ""

	cases := map[string]string{
		"missing token":  "",
		"garbage":        "not.a.token",
		"wrong secret":   sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims()),
		"expired":        sign(t, jwt.SigningMethodHS256, secret, expired),
		"missing userId": sign(t, jwt.SigningMethodHS256, secret, noUser),
		"alg none":       sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims()),
	}
	r := NewJWTResolver(secret)
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), Handshake{Token: token})
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestResolveWithoutSecret(t *testing.T) {
	r := NewJWTResolver(nil)
	_, err := r.Resolve(context.Background(), Handshake{Token: sign(t, jwt.SigningMethodHS256, secret, validClaims())})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPickToken(t *testing.T) {
	assert.Equal(t, "c", PickToken("c", "Bearer h", "q"))
	assert.Equal(t, "h", PickToken("", "Bearer h", "q"))
	assert.Equal(t, "h", PickToken("", "Bearer  h ", "q"))
	assert.Equal(t, "q", PickToken("", "Basic xyz", "q"))
	assert.Empty(t, PickToken("", "", ""))
}
