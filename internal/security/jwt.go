package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim. Tokens are always minted with a numeric
// subject, so a parse failure means the token was not issued by us.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject: %w", err)
	}
	return uint(id), nil
}

type JWTManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
	}
}

func (m *JWTManager) SignAccessToken(userID uint, ttl time.Duration) (string, error) {
	return m.sign(userID, ttl, "access", m.accessSecret)
}

func (m *JWTManager) SignRefreshToken(userID uint, ttl time.Duration) (string, error) {
	return m.sign(userID, ttl, "refresh", m.refreshSecret)
}

func (m *JWTManager) sign(userID uint, ttl time.Duration, tokenType string, secret []byte) (string, error) {
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, "access")
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret, "refresh")
}

func (m *JWTManager) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
