package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PermissionCache drops cached permissions after a role or account change.
type PermissionCache interface {
	Invalidate(ctx context.Context, userID int64)
}

// Service exposes user use-cases.
type Service struct {
	repo   Repository
	audit  AuditPort
	perms  PermissionCache
	logger *slog.Logger
	cost   int
}

// NewService constructs the service. perms may be nil.
func NewService(repo Repository, audit AuditPort, perms PermissionCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, perms: perms, logger: logger, cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost, for tests.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// List returns users ordered by username.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]User, error) {
	return s.repo.List(ctx, filter)
}

// Get returns a user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) hash(password string) (string, error) {
	if err := checkPassword(password); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Create stores a user and assigns the optional role.
func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	u := User{
		Email:       strings.TrimSpace(in.Email),
		Username:    strings.TrimSpace(in.Username),
		FullName:    strings.TrimSpace(in.FullName),
		CompanyID:   in.CompanyID,
		IsActive:    true,
		IsSuperUser: in.IsSuperUser,
	}
	if err := u.validate(); err != nil {
		return User{}, err
	}
	hashed, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	u.PasswordHash = hashed
	var created User
	err = db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.Insert(ctx, u)
			if err != nil {
				return err
			}
			if in.RoleID != nil {
				if err := tx.SetRole(ctx, created.ID, *in.RoleID); err != nil {
					return err
				}
				role := *in.RoleID
				created.RoleID = &role
			}
			return nil
		})
	})
	if err != nil {
		return User{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "users", "user", strconv.FormatInt(created.ID, 10))
	entry.After = snapshot(created)
	entry.Description = "user " + created.Username + " created"
	s.record(ctx, entry)
	return created, nil
}

// Update applies a typed patch. A new password is re-hashed; a role replaces the current one.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (User, error) {
	var hashed string
	if patch.Password != nil {
		var err error
		if hashed, err = s.hash(*patch.Password); err != nil {
			return User{}, err
		}
	}
	var before, after User
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current
			patch.Apply(&current)
			if err := current.validate(); err != nil {
				return err
			}
			if hashed != "" {
				current.PasswordHash = hashed
			}
			if err := tx.Update(ctx, current); err != nil {
				return err
			}
			if patch.RoleID != nil {
				if err := tx.SetRole(ctx, id, *patch.RoleID); err != nil {
					return err
				}
				role := *patch.RoleID
				current.RoleID = &role
			}
			after = current
			return nil
		})
	})
	if err != nil {
		return User{}, err
	}
	s.invalidate(ctx, id)
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "users", "user", strconv.FormatInt(id, 10))
	entry.Before = snapshot(before)
	entry.After = snapshot(after)
	if hashed != "" {
		entry.Description = "password changed"
	}
	s.record(ctx, entry)
	return after, nil
}

// Delete removes a user and its role assignments. Callers cannot delete themselves.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if p, ok := shared.PrincipalFromContext(ctx); ok && p.UserID == id {
		return fmt.Errorf("%w: you cannot delete your own account", httpx.ErrValidation)
	}
	var removed User
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			removed, err = tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.DeleteRoles(ctx, id); err != nil {
				return err
			}
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "users", "user", strconv.FormatInt(id, 10))
	entry.Before = snapshot(removed)
	entry.Description = "user " + removed.Username + " deleted"
	s.record(ctx, entry)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.perms != nil {
		s.perms.Invalidate(ctx, userID)
	}
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
	}
}

func snapshot(u User) map[string]any {
	return map[string]any{
		"email":        u.Email,
		"username":     u.Username,
		"full_name":    u.FullName,
		"is_active":    u.IsActive,
		"is_superuser": u.IsSuperUser,
	}
}
