// Package identity сопоставляет bearer-токены с владельцами заказов.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const bearerPrefix = "Bearer "

// Claims — полезная нагрузка токена. Владелец передаётся в claim "id".
type Claims struct {
	OwnerID string `json:"id"`
	jwt.RegisteredClaims
}

// JWTResolver проверяет HS256-токены общим секретом.
type JWTResolver struct {
	secret []byte
	now    func() time.Time
}

// Option настраивает JWTResolver.
type Option func(*JWTResolver)

// WithClock подменяет источник времени для проверки exp/nbf.
func WithClock(now func() time.Time) Option {
	return func(r *JWTResolver) { r.now = now }
}

// NewJWTResolver создаёт резолвер; пустой секрет недопустим.
func NewJWTResolver(secret string, opts ...Option) (*JWTResolver, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	r := &JWTResolver{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve принимает токен как есть или в виде заголовка "Bearer <token>".
// Любая ошибка проверки превращается в domain.ErrUnauthorized.
func (r *JWTResolver) Resolve(_ context.Context, credential string) (string, error) {
	token := TokenFromHeader(credential)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}

	owner := strings.TrimSpace(claims.OwnerID)
	if owner == "" {
		return "", fmt.Errorf("%w: token has no owner id", domain.ErrUnauthorized)
	}
	return owner, nil
}

// Issue подписывает токен для владельца. ttl<=0 выпускает токен без срока действия.
func (r *JWTResolver) Issue(owner string, ttl time.Duration) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", errors.New("owner id is required")
	}

	now := r.now()
	claims := Claims{
		OwnerID: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  owner,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromHeader извлекает токен из значения Authorization.
// Значение без префикса Bearer считается самим токеном.
func TokenFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return header
}

var _ domain.IdentityResolver = (*JWTResolver)(nil)
