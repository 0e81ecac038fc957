package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated principal attached to a connection. A
// connection without one never reaches the collaboration handlers.
type Identity struct {
	UserID      string
	DisplayName string
}

// UserLookup resolves a user id to its display name. The token payload may not
// carry the name, so the verifier consults the user store.
type UserLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// TokenVerifier validates a bearer credential and resolves it to an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWTVerifier verifies HMAC-signed JWTs minted by the account service.
type JWTVerifier struct {
	secret []byte
	users  UserLookup
}

func NewJWTVerifier(secret string, users UserLookup) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), users: users}
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return nil, ErrInvalidToken
	}

	name, err := v.users.DisplayName(ctx, userID)
	if err != nil {
		// Token checks out but the account is gone; treat as unauthenticated.
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: userID, DisplayName: name}, nil
}
