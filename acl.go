package objstore

import (
	"strings"
	"sync"
)

// Permission is the access being requested on an object.
type Permission string

const (
	PermissionRead   Permission = "READ"
	PermissionWrite  Permission = "WRITE"
	PermissionDelete Permission = "DELETE"
)

// AclPolicy is the access policy recorded for one object. Visibility is
// the coarse gate; the allow-lists only narrow access within the PRIVATE
// regime. A PUBLIC object is always readable regardless of allow-lists.
type AclPolicy struct {
	Visibility Visibility `json:"visibility"`
	// AllowedUsers narrows PRIVATE access to these user IDs.
	AllowedUsers []string `json:"allowedUsers,omitempty"`
	// AllowedRoles is recorded but not yet evaluated; role matching fails
	// closed until a role resolver exists at this boundary.
	AllowedRoles []string `json:"allowedRoles,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored policy state.
func (p *AclPolicy) Clone() *AclPolicy {
	if p == nil {
		return nil
	}
	cp := &AclPolicy{Visibility: p.Visibility}
	if p.AllowedUsers != nil {
		cp.AllowedUsers = append([]string(nil), p.AllowedUsers...)
	}
	if p.AllowedRoles != nil {
		cp.AllowedRoles = append([]string(nil), p.AllowedRoles...)
	}
	return cp
}

// Decide is the fail-closed access check shared by every adapter.
//
// With no recorded policy, only READ on a key structurally in the public
// namespace is allowed; objects created before ACL tracking began thus
// stay readable if they were always public. A recorded PUBLIC policy
// allows READ unconditionally. Everything else requires a non-empty
// userID present in the allow-list. Ambiguity never resolves to access
// granted.
func Decide(policy *AclPolicy, key, userID string, permission Permission) bool {
	if policy == nil {
		return permission == PermissionRead && strings.HasPrefix(key, PublicPrefix)
	}
	if policy.Visibility == VisibilityPublic && permission == PermissionRead {
		return true
	}
	if userID == "" {
		return false
	}
	for _, u := range policy.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// PolicyStore is the in-process ACL overlay: a mutex-guarded map from
// logical key to policy. Operations on the same key are linearizable; no
// ordering is promised across keys. The overlay assumes single-instance
// deployment — a horizontally scaled deployment must move this state to
// a shared store.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*AclPolicy
}

// NewPolicyStore creates an empty overlay.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]*AclPolicy)}
}

// Get returns the recorded policy for key, or nil.
func (s *PolicyStore) Get(key string) *AclPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policies[key].Clone()
}

// Set records the policy for key.
func (s *PolicyStore) Set(key string, policy *AclPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[key] = policy.Clone()
}

// Delete drops the policy for key. Called when the object is deleted.
func (s *PolicyStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, key)
}

// Move reassigns a policy from one key to another, used when a copy
// propagates ACL state to its destination.
func (s *PolicyStore) Move(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[from]; ok {
		s.policies[to] = p
		delete(s.policies, from)
	}
}
