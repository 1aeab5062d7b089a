// Package identity resolves the user behind a connection from the bearer
// token presented at handshake time.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// ErrUnauthenticated is returned when no valid identity can be resolved.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenCookie is the cookie the login flow sets.
const TokenCookie = "token"

// Handshake is what the transport knows about a connection being opened.
type Handshake struct {
	Token      string
	RemoteAddr string
}

// Resolver yields the identity of a handshake.
type Resolver interface {
	Resolve(ctx context.Context, hs Handshake) (types.Identity, error)
}

// Claims is the token payload issued at login.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HMAC-signed tokens.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTResolver creates a resolver for tokens signed with secret.
func NewJWTResolver(secret []byte) *JWTResolver {
	return &JWTResolver{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
}

func (r *JWTResolver) Resolve(_ context.Context, hs Handshake) (types.Identity, error) {
	if hs.Token == "" {
		return types.Identity{}, fmt.Errorf("%w: no token", ErrUnauthenticated)
	}
	if len(r.secret) == 0 {
		return types.Identity{}, fmt.Errorf("%w: no signing secret configured", ErrUnauthenticated)
	}
	claims := &Claims{}
	tok, err := r.parser.ParseWithClaims(hs.Token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !tok.Valid || claims.UserID == "" {
		return types.Identity{}, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	return types.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// PickToken chooses the credential of a request: the token cookie first,
// then an "Authorization: Bearer" header, then a token query parameter.
func PickToken(cookie, authorization, query string) string {
	if cookie != "" {
		return cookie
	}
	if after, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return query
}
