// Package userstest provides an in-memory user repository for tests.
package userstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/users"
)

// Memory implements users.Repository and users.TxRepository. A failed WithTx leaves
// the state as it was before the call.
type Memory struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	users  map[int64]users.User
	roles  map[int64]int64
	nextID int64

	// Roles lists the role ids that exist.
	Roles map[int64]bool

	// Conflicts makes that many WithTx calls roll back with a serialization failure
	// after fn succeeds.
	Conflicts int
}

// NewMemory returns an empty repository that knows roles 1 and 2.
func NewMemory() *Memory {
	return &Memory{users: map[int64]users.User{}, roles: map[int64]int64{}, Roles: map[int64]bool{1: true, 2: true}}
}

var (
	_ users.Repository   = (*Memory)(nil)
	_ users.TxRepository = (*Memory)(nil)
)

// RoleOf returns the role assigned to a user.
func (m *Memory) RoleOf(userID int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[userID]
	return r, ok
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, users.TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	restore := m.snapshot()
	if err := fn(ctx, m); err != nil {
		restore()
		return err
	}
	if m.Conflicts > 0 {
		m.Conflicts--
		restore()
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	return nil
}

func (m *Memory) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	us := make(map[int64]users.User, len(m.users))
	for k, v := range m.users {
		us[k] = v
	}
	rs := make(map[int64]int64, len(m.roles))
	for k, v := range m.roles {
		rs[k] = v
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.users, m.roles, m.nextID = us, rs, nextID
	}
}

func (m *Memory) withRole(u users.User) users.User {
	if r, ok := m.roles[u.ID]; ok {
		u.RoleID = &r
	} else {
		u.RoleID = nil
	}
	return u
}

func (m *Memory) List(_ context.Context, filter users.ListFilter) ([]users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []users.User
	for _, u := range m.users {
		if search != "" && !strings.Contains(strings.ToLower(u.Username+" "+u.Email+" "+u.FullName), search) {
			continue
		}
		if filter.IsActive != nil && u.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, m.withRole(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return users.User{}, fmt.Errorf("%w: user", httpx.ErrNotFound)
	}
	return m.withRole(u), nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (users.User, error) {
	return m.Get(ctx, id)
}

func (m *Memory) checkUnique(u users.User) error {
	for _, existing := range m.users {
		if existing.ID == u.ID {
			continue
		}
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("%w: email %s", httpx.ErrDuplicate, u.Email)
		}
		if strings.EqualFold(existing.Username, u.Username) {
			return fmt.Errorf("%w: username %s", httpx.ErrDuplicate, u.Username)
		}
	}
	return nil
}

func (m *Memory) Insert(_ context.Context, u users.User) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(u); err != nil {
		return users.User{}, err
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	u.RoleID = nil
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) Update(_ context.Context, u users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return fmt.Errorf("%w: user", httpx.ErrNotFound)
	}
	if err := m.checkUnique(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("%w: user %d", httpx.ErrNotFound, id)
	}
	if _, ok := m.roles[id]; ok {
		return fmt.Errorf("%w: user %d is still referenced", httpx.ErrValidation, id)
	}
	delete(m.users, id)
	return nil
}

func (m *Memory) SetRole(_ context.Context, userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Roles[roleID] {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, roleID)
	}
	m.roles[userID] = roleID
	return nil
}

func (m *Memory) DeleteRoles(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, userID)
	return nil
}
