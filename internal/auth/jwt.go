package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Credential failures are distinguished so the session layer can close with
// a code telling the client whether a fresh token would help.
var (
	ErrNoToken      = errors.New("no token provided")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Validator resolves a bearer credential to a user identity. Verification is
// read-only and happens once per connection establishment; frames received
// afterwards are trusted for the lifetime of the connection.
type Validator struct {
	method jwt.SigningMethod
	secret []byte
	pubKey *rsa.PublicKey
}

func NewHS256Validator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Validator{method: jwt.SigningMethodHS256, secret: []byte(secret)}, nil
}

func NewRS256Validator(publicKeyPath string) (*Validator, error) {
	pem, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &Validator{method: jwt.SigningMethodRS256, pubKey: key}, nil
}

func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrNoToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		if v.pubKey != nil {
			return v.pubKey, nil
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
