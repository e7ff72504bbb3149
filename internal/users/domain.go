// Package users manages login accounts. Passwords are stored as bcrypt hashes.
package users

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MinPasswordLength matches the login form.
const MinPasswordLength = 8

// User is a login account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name,omitempty"`
	CompanyID    *int64    `json:"company_id"`
	RoleID       *int64    `json:"role_id"`
	IsActive     bool      `json:"is_active"`
	IsSuperUser  bool      `json:"is_superuser"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListFilter narrows List.
type ListFilter struct {
	Search   string
	IsActive *bool
	Window   shared.Window
}

// CreateInput carries a new user.
type CreateInput struct {
	Email       string `json:"email" validate:"required,email"`
	Username    string `json:"username" validate:"required,min=3,max=50"`
	FullName    string `json:"full_name" validate:"max=100"`
	Password    string `json:"password" validate:"required,min=8"`
	CompanyID   *int64 `json:"company_id" validate:"omitempty,gt=0"`
	RoleID      *int64 `json:"role_id" validate:"omitempty,gt=0"`
	IsSuperUser bool   `json:"is_superuser"`
}

func (u User) validate() error {
	if _, err := mail.ParseAddress(u.Email); err != nil || u.Email == "" {
		return fmt.Errorf("%w: invalid email %q", httpx.ErrValidation, u.Email)
	}
	if len(u.Username) < 3 {
		return fmt.Errorf("%w: username must be at least 3 characters", httpx.ErrValidation)
	}
	return nil
}

func checkPassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", httpx.ErrValidation, MinPasswordLength)
	}
	return nil
}

// Patch lists the mutable user fields; nil leaves a field unchanged.
type Patch struct {
	Email       *string `json:"email" validate:"omitempty,email"`
	Username    *string `json:"username" validate:"omitempty,min=3,max=50"`
	FullName    *string `json:"full_name" validate:"omitempty,max=100"`
	Password    *string `json:"password" validate:"omitempty,min=8"`
	CompanyID   *int64  `json:"company_id" validate:"omitempty,gt=0"`
	RoleID      *int64  `json:"role_id" validate:"omitempty,gt=0"`
	IsActive    *bool   `json:"is_active"`
	IsSuperUser *bool   `json:"is_superuser"`
}

// Apply copies the profile fields onto u. Password and role are handled by the service.
func (p Patch) Apply(u *User) {
	if p.Email != nil {
		u.Email = strings.TrimSpace(*p.Email)
	}
	if p.Username != nil {
		u.Username = strings.TrimSpace(*p.Username)
	}
	if p.FullName != nil {
		u.FullName = strings.TrimSpace(*p.FullName)
	}
	if p.CompanyID != nil {
		id := *p.CompanyID
		u.CompanyID = &id
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	if p.IsSuperUser != nil {
		u.IsSuperUser = *p.IsSuperUser
	}
}
