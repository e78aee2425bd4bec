// Package auth verifies the bearer tokens presented on the signaling socket.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload issued by the identity provider.
// The subject is the peer identity.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

var _ core.IdentityVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier accepts tokens from any issuer when issuer is empty.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (core.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return core.Identity{}, core.Wrap(core.KindUnauthenticated, err, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return core.Identity{}, core.Errorf(core.KindUnauthenticated, "invalid token")
	}

	id := domain.UserID(claims.Subject)
	if err := id.Validate(); err != nil {
		return core.Identity{}, core.Wrap(core.KindUnauthenticated, err, "invalid token subject")
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return core.Identity{ID: id, DisplayName: name, Email: claims.Email, Verified: true}, nil
}

// Issue signs a token for id; used by tests and local tooling.
func (v *JWTVerifier) Issue(id domain.UserID, name, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  name,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
