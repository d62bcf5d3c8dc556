package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken signals a token that cannot be trusted.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSecret signals a verifier built without a signing secret.
	ErrMissingSecret = errors.New("auth: jwt secret required")
)

// Verifier validates bearer tokens minted by the external identity provider.
// Tokens carry the caller id in "user_id" and the caller role in "role".
type Verifier struct {
	jwtSecret []byte
}

// NewVerifier creates a verifier for HS256-signed tokens.
func NewVerifier(jwtSecret string) (*Verifier, error) {
	if strings.TrimSpace(jwtSecret) == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{jwtSecret: []byte(jwtSecret)}, nil
}

// VerifyToken validates a JWT token and returns the caller identity.
func (v *Verifier) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role, ok := ParseRole(roleStr)
	if !ok {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, roleStr)
	}
	return Identity{UserID: userID, Role: role}, nil
}
