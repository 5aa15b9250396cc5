// Package token issues and verifies signed conversation session tokens.
//
// Tokens are stateless: a token binds a client to a conversation id without
// any server-side session table. Verification never consults the conversation
// store; a valid token referencing an already-expired conversation is an
// expected outcome handled by the caller.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/parleychat/parley/internal/models"
)

// Sentinel errors for token verification.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("session token expired")

	// ErrTokenInvalid indicates a signature, format, issuer, or payload problem.
	ErrTokenInvalid = errors.New("session token invalid")
)

// SessionClaims is the payload carried by a conversation session token.
type SessionClaims struct {
	ConversationID string `json:"conversationId"`
	CreatedAt      int64  `json:"createdAt"` // unix ms
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens. Secret, issuer and expiry come
// from configuration; the expiry is configured to match the conversation
// store's sliding window.
type Codec struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewCodec creates a token codec.
func NewCodec(secret, issuer string, expiry time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	return &Codec{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}, nil
}

// Issue generates a fresh conversation id and returns it together with a
// signed token bound to it. No store side effects.
func (c *Codec) Issue() (token string, conversationID string, err error) {
	conversationID = uuid.NewString()
	now := time.Now()

	claims := SessionClaims{
		ConversationID: conversationID,
		CreatedAt:      models.NowMs(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.expiry)),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return token, conversationID, nil
}

// Verify validates signature, issuer and expiry, returning the claims.
// Returns ErrTokenExpired for expired tokens and ErrTokenInvalid for
// everything else that fails validation.
func (c *Codec) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %s", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrTokenInvalid, err)
	}

	if claims.ConversationID == "" || claims.CreatedAt == 0 {
		return nil, fmt.Errorf("%w: missing payload fields", ErrTokenInvalid)
	}

	return claims, nil
}
