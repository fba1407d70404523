package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fathomlabs/authz"
)

// MemoryPolicyStore keeps policies in process memory for tests and demos.
// Every write appends to a per-policy version history.
type MemoryPolicyStore struct {
	mu        sync.RWMutex
	policies  map[string]*authz.Policy
	histories map[string][]authz.Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*authz.Policy), histories: make(map[string][]authz.Policy)}
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *authz.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.Name]; exists {
		return fmt.Errorf("policy already exists: %s", p.Name)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	cop := *p
	s.policies[p.Name] = &cop
	s.histories[p.Name] = append(s.histories[p.Name], cop)
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *authz.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.policies[p.Name]
	if !ok {
		return fmt.Errorf("policy not found: %s", p.Name)
	}
	p.Version = old.Version + 1
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now()
	cop := *p
	s.policies[p.Name] = &cop
	s.histories[p.Name] = append(s.histories[p.Name], cop)
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, name)
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, name string) (*authz.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	cop := *p
	return &cop, nil
}

func (s *MemoryPolicyStore) ListPolicies(ctx context.Context) ([]authz.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryPolicyStore) FindActivePolicies(ctx context.Context) ([]authz.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if !p.Active {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetPolicyHistory returns every version written, oldest first. History
// survives deletion of the policy itself.
func (s *MemoryPolicyStore) GetPolicyHistory(ctx context.Context, name string) ([]authz.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[name]
	if !ok {
		return nil, fmt.Errorf("no history for policy %s", name)
	}
	out := make([]authz.Policy, len(h))
	copy(out, h)
	return out, nil
}

// MemoryRoleStore keeps roles in process memory.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*authz.Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*authz.Role)}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *authz.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[r.ID]; exists {
		return fmt.Errorf("role already exists: %s", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cop := *r
	s.roles[r.ID] = &cop
	return nil
}

func (s *MemoryRoleStore) UpdateRole(ctx context.Context, r *authz.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return fmt.Errorf("role not found: %s", r.ID)
	}
	cop := *r
	s.roles[r.ID] = &cop
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, id string) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role not found: %s", id)
	}
	cop := *r
	return &cop, nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context) ([]authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryMembershipStore maps users to role IDs in process memory.
type MemoryMembershipStore struct {
	mu    sync.RWMutex
	roles map[string]map[string]bool
}

func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{roles: make(map[string]map[string]bool)}
}

func (m *MemoryMembershipStore) AssignRole(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[userID]; !ok {
		m.roles[userID] = make(map[string]bool)
	}
	m.roles[userID][roleID] = true
	return nil
}

func (m *MemoryMembershipStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.roles[userID]; ok {
		delete(set, roleID)
	}
	return nil
}

func (m *MemoryMembershipStore) ListUserRoles(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for roleID := range m.roles[userID] {
		out = append(out, roleID)
	}
	sort.Strings(out)
	return out, nil
}

// MemoryGrantStore keeps service grants in process memory.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string][]authz.Grant
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string][]authz.Grant)}
}

func (s *MemoryGrantStore) GrantPermission(ctx context.Context, serviceID string, g authz.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.grants[serviceID] {
		if existing == g {
			return nil
		}
	}
	s.grants[serviceID] = append(s.grants[serviceID], g)
	return nil
}

// RevokePermission removes the permission under every resource pattern it
// was granted with.
func (s *MemoryGrantStore) RevokePermission(ctx context.Context, serviceID, permission string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.grants[serviceID][:0]
	for _, g := range s.grants[serviceID] {
		if g.Permission != permission {
			kept = append(kept, g)
		}
	}
	s.grants[serviceID] = kept
	return nil
}

func (s *MemoryGrantStore) ListGrants(ctx context.Context, serviceID string) ([]authz.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authz.Grant, len(s.grants[serviceID]))
	copy(out, s.grants[serviceID])
	sort.Slice(out, func(i, j int) bool {
		if out[i].Permission != out[j].Permission {
			return out[i].Permission < out[j].Permission
		}
		return out[i].ResourcePattern < out[j].ResourcePattern
	})
	return out, nil
}

// MemoryAuditStore keeps audit entries in process memory.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*authz.AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*authz.AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *authz.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter authz.AuditFilter) ([]*authz.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*authz.AuditEntry, 0)
	for _, entry := range s.entries {
		if filter.Subject != "" && entry.Subject != filter.Subject {
			continue
		}
		if filter.Permission != "" && entry.Permission != filter.Permission {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}
