package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the verified identity attached to authenticated requests.
type JWTClaims struct {
	UserID string `json:"uid"`
	TeamID string `json:"tid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
