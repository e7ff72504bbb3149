package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const permCacheKeyPrefix = "rbac:perms:"

// Service orchestrates RBAC operations and caches effective permissions per user.
type Service struct {
	store  Store
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewService constructs a Service. A nil cache client disables caching.
func NewService(store Store, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, ttl: ttl, logger: logger}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", httpx.ErrValidation)
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// SeedPermissions makes sure every ledger permission exists.
func (s *Service) SeedPermissions(ctx context.Context) error {
	for _, name := range shared.LedgerScopes() {
		if _, err := s.store.EnsurePermission(ctx, name, describe(name)); err != nil {
			return fmt.Errorf("rbac: seed %s: %w", name, err)
		}
	}
	return nil
}

// SetRolePermissions replaces permissions for a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, names []string) error {
	normalized := normalizePermissions(names)
	users, err := s.store.SetRolePermissions(ctx, roleID, normalized)
	if err != nil {
		return err
	}
	for _, userID := range users {
		s.Invalidate(ctx, userID)
	}
	return nil
}

// AssignRole assigns a role to the given user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.Invalidate(ctx, userID)
	return nil
}

// RemoveRole removes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.Invalidate(ctx, userID)
	return nil
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	key := permCacheKeyPrefix + strconv.FormatInt(userID, 10)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var perms []string
			if jsonErr := json.Unmarshal(raw, &perms); jsonErr == nil {
				return perms, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("rbac cache read", slog.Any("error", err))
		}
	}
	perms, err := s.store.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []string{}
	}
	if s.cache != nil {
		raw, _ := json.Marshal(perms)
		if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
			s.logger.Warn("rbac cache write", slog.Any("error", err))
		}
	}
	return perms, nil
}

// Invalidate drops the cached permissions of a user.
func (s *Service) Invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, permCacheKeyPrefix+strconv.FormatInt(userID, 10)).Err(); err != nil {
		s.logger.Warn("rbac cache invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func describe(name string) string {
	module, action, ok := strings.Cut(name, ".")
	if !ok {
		return name
	}
	return strings.ToUpper(action[:1]) + action[1:] + " " + module
}
