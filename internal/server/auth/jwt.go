// Package auth mints and verifies the compact signed tokens (JWT, HS256)
// used as stateless access credentials and ties them to a rotating key set.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/avolkov/authcore/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// TokenType tags minted tokens so an access token can never pass a
// refresh-only check and vice versa.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carries the registered claim set plus the subject's user id and the
// token type tag.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string    `json:"uid"`
	TokenType TokenType `json:"typ"`
}

// Codec mints and verifies compact signed tokens under the key ring's
// current key. Construct with NewCodec.
type Codec struct {
	keys *Keyring
	now  func() time.Time
}

// NewCodec builds a Codec over the given key ring.
func NewCodec(keys *Keyring) *Codec {
	return &Codec{keys: keys, now: time.Now}
}

// Mint produces a signed token for userID with issued-at = now and
// expiry = now + validity. The current key id is placed in the "kid" header
// so verification can survive key rotation.
func (c *Codec) Mint(userID string, tokenType TokenType, validity time.Duration) (string, error) {
	now := c.now()
	key := c.keys.signer()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		UserID:    userID,
		TokenType: tokenType,
	})
	token.Header["kid"] = key.id

	signed, err := token.SignedString(key.secret)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}

	return signed, nil
}

// Verify checks the signature over the exact received bytes first, then
// expiry (now >= exp fails), then that the type tag matches expected.
// Everything is mapped onto the closed error set in common: tampering and
// malformed input become ErrInvalidToken, an overdue exp becomes
// ErrTokenExpired, a type mismatch becomes ErrWrongTokenType.
func (c *Codec) Verify(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		keyID, _ := t.Header["kid"].(string)
		secret, ok := c.keys.verificationKey(keyID)
		if !ok {
			return nil, common.ErrInvalidToken
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	if claims.TokenType != expected {
		return nil, common.ErrWrongTokenType
	}

	return claims, nil
}
