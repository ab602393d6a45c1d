package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"waygate/internal/platform/config"
)

type Claims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scp"`
	jwt.RegisteredClaims
}

// TokenService validates (and, for operator tooling, issues) HS256 bearer
// tokens signed with the configured secret.
type TokenService struct {
	secret []byte
}

func NewTokenService(cfg config.AuthConfig) *TokenService {
	return &TokenService{secret: []byte(cfg.JWTSecret)}
}

func (s *TokenService) Enabled() bool {
	return len(s.secret) > 0
}

func (s *TokenService) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	claims := Claims{
		Subject: subject,
		Scopes:  scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "waygate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
