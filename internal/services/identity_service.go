package services

import (
	"errors"
	"strings"
	"time"

	netyora_errors "netyora-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity resolves a bearer credential to a user id.
type Identity interface {
	Verify(token string) (string, error)
}

type IdentityClaims struct {
	UserID string `json:"sub"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IdentityService verifies HMAC-signed access tokens issued by the account service.
type IdentityService struct {
	signingKey []byte
}

func NewIdentityService(signingKey string) *IdentityService {
	return &IdentityService{signingKey: []byte(signingKey)}
}

func (s *IdentityService) Verify(tokenString string) (string, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *IdentityService) ParseAccessToken(tokenString string) (IdentityClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return IdentityClaims{}, netyora_errors.ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, netyora_errors.ErrUnauthenticated
		}
		return s.signingKey, nil
	})
	if err != nil {
		return IdentityClaims{}, netyora_errors.ErrUnauthenticated
	}

	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return IdentityClaims{}, netyora_errors.ErrUnauthenticated
	}
	return *claims, nil
}

// IssueAccessToken signs a token for userID. The chat service never logs users
// in; this exists for the migrate tool's dev fixtures and for tests.
func (s *IdentityService) IssueAccessToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now().UTC()
	claims := IdentityClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}
