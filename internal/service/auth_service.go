package service

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	appErrors "github.com/natsumeaurlia/exam-forge-integrations/pkg/errors"
)

// AuthService validates bearer tokens issued by the main ExamForge app.
type AuthService struct {
	secret []byte
}

// NewAuthService constructs the token validator.
func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// ValidateToken parses and verifies an access token, returning its claims.
func (s *AuthService) ValidateToken(token string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}
	if claims.TeamID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token missing team scope")
	}
	return claims, nil
}
