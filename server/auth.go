package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims bind a token to one device in one game.
type Claims struct {
	DeviceID string `json:"deviceId"`
	GameID   string `json:"gameId"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies the HS256 tokens handed out on start and join.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Sign(deviceID, gameID string) (string, error) {
	now := t.now()
	claims := Claims{
		DeviceID: deviceID,
		GameID:   gameID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.DeviceID == "" || claims.GameID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromRequest verifies the Authorization: Bearer header of r.
func (t *TokenIssuer) FromRequest(r *http.Request) (*Claims, error) {
	a := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return nil, ErrMissingToken
	}
	return t.Parse(strings.TrimSpace(a[7:]))
}
