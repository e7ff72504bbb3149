package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	IsSuperUser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Claims is the JWT payload issued by the token endpoint.
type Claims struct {
	UserID    int64  `json:"uid"`
	Username  string `json:"username"`
	SuperUser bool   `json:"su,omitempty"`
	jwt.RegisteredClaims
}

// TokenRequest is the body of POST /api/auth/token.
type TokenRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Token is returned to the client after a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
