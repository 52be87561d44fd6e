package usecase

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
)

// DefaultActionTTL is how long a pending action stays approvable
const DefaultActionTTL = 30 * time.Minute

// ActionStore holds pending actions awaiting operator approval.
// Purely in-memory; Sweep is the only path that frees abandoned entries.
// Safe for concurrent use.
type ActionStore struct {
	mu      sync.Mutex
	actions map[string]*domain.PendingAction
	ttl     time.Duration
}

// NewActionStore creates an action store with the given default TTL
func NewActionStore(ttl time.Duration) *ActionStore {
	if ttl <= 0 {
		ttl = DefaultActionTTL
	}
	return &ActionStore{
		actions: make(map[string]*domain.PendingAction),
		ttl:     ttl,
	}
}

// Create registers a new pending action and returns a copy of it.
// A non-positive ttl uses the store default.
func (s *ActionStore) Create(kind domain.ActionKind, payload map[string]string, ttl time.Duration) *domain.PendingAction {
	if ttl <= 0 {
		ttl = s.ttl
	}
	action := domain.NewPendingAction(kind, payload, ttl)

	s.mu.Lock()
	s.actions[action.ID] = action
	s.mu.Unlock()

	fmt.Printf("[Actions] Created pending action %s (%s)\n", action.ShortID(), kind)
	return action.Clone()
}

// Get returns a copy of the action, or nil if unknown
func (s *ActionStore) Get(id string) *domain.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[id]
	if !ok {
		return nil
	}
	return action.Clone()
}

// List returns all non-removed actions, optionally filtered by status.
// Expired-but-unresolved entries are included; callers check IsExpired.
func (s *ActionStore) List(status domain.ActionStatus) []*domain.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.PendingAction
	for _, action := range s.actions {
		if status != "" && action.Status != status {
			continue
		}
		result = append(result, action.Clone())
	}
	return result
}

// ListPending returns pending, non-expired actions. This is the set the
// router treats as awaiting the operator.
func (s *ActionStore) ListPending() []*domain.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.PendingAction
	for _, action := range s.actions {
		if action.Status == domain.ActionPending && !action.IsExpired() {
			result = append(result, action.Clone())
		}
	}
	return result
}

// Approve transitions the action pending→approved, recording the reply.
// Returns false without state change if missing, expired, or resolved.
func (s *ActionStore) Approve(id, replyText string) bool {
	return s.resolveLocked(id, replyText, (*domain.PendingAction).Approve)
}

// Reject transitions the action pending→rejected, recording the reply.
// Returns false without state change if missing, expired, or resolved.
func (s *ActionStore) Reject(id, replyText string) bool {
	return s.resolveLocked(id, replyText, (*domain.PendingAction).Reject)
}

func (s *ActionStore) resolveLocked(id, replyText string, apply func(*domain.PendingAction, string) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[id]
	if !ok {
		return false
	}
	return apply(action, replyText)
}

// Find returns a copy of the action matching the id exactly, or by unique
// id prefix (approval replies reference the 8-char short id). Nil if no
// match or the prefix is ambiguous.
func (s *ActionStore) Find(idOrPrefix string) *domain.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action, ok := s.actions[idOrPrefix]; ok {
		return action.Clone()
	}

	var match *domain.PendingAction
	for id, action := range s.actions {
		if strings.HasPrefix(id, idOrPrefix) {
			if match != nil {
				return nil
			}
			match = action
		}
	}
	if match == nil {
		return nil
	}
	return match.Clone()
}

// MostRecentPending returns the latest-created pending, non-expired action
func (s *ActionStore) MostRecentPending() *domain.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.PendingAction
	for _, action := range s.actions {
		if action.Status != domain.ActionPending || action.IsExpired() {
			continue
		}
		if latest == nil || action.CreatedAt.After(latest.CreatedAt) {
			latest = action
		}
	}
	if latest == nil {
		return nil
	}
	return latest.Clone()
}

// Sweep removes all expired entries regardless of status and returns the
// count removed. Resolved actions stay queryable until swept.
func (s *ActionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, action := range s.actions {
		if action.IsExpired() {
			delete(s.actions, id)
			removed++
		}
	}
	if removed > 0 {
		fmt.Printf("[Actions] Swept %d expired actions\n", removed)
	}
	return removed
}

// PendingCount reports the number of pending, non-expired actions
func (s *ActionStore) PendingCount() int {
	return len(s.ListPending())
}
