// Package jwt выпускает и проверяет токены администраторов API.
package jwt

import (
	"errors"
	"time"
)

// RoleAdmin роль, которой открыт административный API.
const RoleAdmin = "admin"

// Issuer значение iss в выпущенных токенах.
const Issuer = "gateway-keeper"

// ErrEmptySecret ключ подписи не задан.
var ErrEmptySecret = errors.New("jwt: empty secret key")

// Maker выпускает и разбирает токены.
type Maker interface {
	GenerateToken(username, role string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl подписывает токены HS256 общим секретом.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewJWTMaker создаёт MakerImpl. Пустой секрет не допускается.
func NewJWTMaker(secretKey string, ttl time.Duration) (*MakerImpl, error) {
	if secretKey == "" {
		return nil, ErrEmptySecret
	}
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
		now:       time.Now,
	}, nil
}
