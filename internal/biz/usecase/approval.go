package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
)

// Intent is the approval classification of a free-text reply
type Intent string

const (
	IntentApprove Intent = "approve"
	IntentReject  Intent = "reject"
	IntentNone    Intent = "none"
)

// Matcher failure modes, reported back to the operator as chat messages
var (
	ErrActionNotFound = errors.New("action not found")
	ErrActionExpired  = errors.New("action has expired")
	ErrUndetermined   = errors.New("could not determine approval status")
)

// Recognition patterns for replies that reference a specific action id,
// e.g. "approve 1a2b3c4d", "action 1a2b3c4d-...", "#1a2b3c4d"
var actionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:approve|reject|yes|no)\s+([a-f0-9-]{8,})`),
	regexp.MustCompile(`(?i)action\s+([a-f0-9-]{8,})`),
	regexp.MustCompile(`#([a-f0-9-]{8,})`),
}

// Built-in approval/rejection tokens, checked after the operator-configured
// pattern lists. Word tokens match whole words; emoji match anywhere.
// Approve is checked before reject when both fire.
var (
	approveTokens = []string{"✅", "yes", "y", "approve", "ok", "sí", "si", "confirm"}
	rejectTokens  = []string{"❌", "no", "n", "reject", "cancel"}
)

// Resolution is a matched, applied approval or rejection
type Resolution struct {
	ActionID string
	Status   domain.ActionStatus
	Kind     domain.ActionKind
	Payload  map[string]string
}

// ApprovalMatcher maps free-text replies to approve/reject decisions on
// pending actions. Operator-configured patterns are persisted through the
// pattern repository and cached in memory.
type ApprovalMatcher struct {
	store    *ActionStore
	patterns repo.PatternRepo

	mu          sync.RWMutex
	autoApprove []string
	autoReject  []string
}

// NewApprovalMatcher creates a matcher and loads the persisted pattern lists
func NewApprovalMatcher(store *ActionStore, patterns repo.PatternRepo) *ApprovalMatcher {
	m := &ApprovalMatcher{store: store, patterns: patterns}
	if patterns != nil {
		ctx := context.Background()
		if list, err := patterns.List(ctx, repo.PatternAutoApprove); err == nil {
			m.autoApprove = list
		} else {
			fmt.Printf("[Approval] Failed to load auto-approve patterns: %v\n", err)
		}
		if list, err := patterns.List(ctx, repo.PatternAutoReject); err == nil {
			m.autoReject = list
		} else {
			fmt.Printf("[Approval] Failed to load auto-reject patterns: %v\n", err)
		}
	}
	return m
}

// ExtractExplicitID returns the action id (or short-id prefix) referenced in
// the text, or "" if the reply names no specific action
func (m *ApprovalMatcher) ExtractExplicitID(text string) string {
	for _, pattern := range actionIDPatterns {
		if match := pattern.FindStringSubmatch(text); match != nil {
			return match[1]
		}
	}
	return ""
}

// ClassifyIntent determines whether the text approves, rejects, or neither.
// Order: configured auto-approve, configured auto-reject, built-in approve
// tokens, built-in reject tokens; the first category with a hit wins.
func (m *ApprovalMatcher) ClassifyIntent(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))

	m.mu.RLock()
	autoApprove := m.autoApprove
	autoReject := m.autoReject
	m.mu.RUnlock()

	for _, pattern := range autoApprove {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return IntentApprove
		}
	}
	for _, pattern := range autoReject {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return IntentReject
		}
	}
	for _, token := range approveTokens {
		if containsToken(lower, token) {
			return IntentApprove
		}
	}
	for _, token := range rejectTokens {
		if containsToken(lower, token) {
			return IntentReject
		}
	}
	return IntentNone
}

// containsToken matches emoji anywhere but word tokens only on word
// boundaries, so "n" does not fire inside ordinary prose.
func containsToken(lower, token string) bool {
	if !unicode.IsLetter([]rune(token)[0]) {
		return strings.Contains(lower, token)
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		if w == token {
			return true
		}
	}
	return false
}

// Resolve matches a reply to a pending action. Returns (nil, nil) when the
// text is not approval-related at all and normal routing should continue.
func (m *ApprovalMatcher) Resolve(text, sender string) (*Resolution, error) {
	if id := m.ExtractExplicitID(text); id != "" {
		return m.handle(id, text)
	}

	if m.ClassifyIntent(text) != IntentNone {
		if recent := m.store.MostRecentPending(); recent != nil {
			return m.handle(recent.ID, text)
		}
	}

	return nil, nil
}

func (m *ApprovalMatcher) handle(id, text string) (*Resolution, error) {
	action := m.store.Find(id)
	if action == nil {
		return nil, ErrActionNotFound
	}
	if action.IsExpired() {
		return nil, ErrActionExpired
	}

	switch m.ClassifyIntent(text) {
	case IntentApprove:
		if m.store.Approve(action.ID, text) {
			fmt.Printf("[Approval] Action %s approved\n", action.ShortID())
			return &Resolution{
				ActionID: action.ID,
				Status:   domain.ActionApproved,
				Kind:     action.Kind,
				Payload:  action.Payload,
			}, nil
		}
	case IntentReject:
		if m.store.Reject(action.ID, text) {
			fmt.Printf("[Approval] Action %s rejected\n", action.ShortID())
			return &Resolution{
				ActionID: action.ID,
				Status:   domain.ActionRejected,
				Kind:     action.Kind,
				Payload:  action.Payload,
			}, nil
		}
	}
	return nil, ErrUndetermined
}

// AddAutoApprovePattern persists a new auto-approve pattern.
// Returns false if the pattern already existed.
func (m *ApprovalMatcher) AddAutoApprovePattern(ctx context.Context, pattern string) (bool, error) {
	return m.addPattern(ctx, repo.PatternAutoApprove, pattern)
}

// AddAutoRejectPattern persists a new auto-reject pattern.
// Returns false if the pattern already existed.
func (m *ApprovalMatcher) AddAutoRejectPattern(ctx context.Context, pattern string) (bool, error) {
	return m.addPattern(ctx, repo.PatternAutoReject, pattern)
}

func (m *ApprovalMatcher) addPattern(ctx context.Context, kind repo.PatternKind, pattern string) (bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false, errors.New("empty pattern")
	}

	added := true
	if m.patterns != nil {
		var err error
		added, err = m.patterns.Add(ctx, kind, pattern)
		if err != nil {
			return false, fmt.Errorf("persist pattern: %w", err)
		}
	}
	if !added {
		return false, nil
	}

	m.mu.Lock()
	if kind == repo.PatternAutoApprove {
		m.autoApprove = append(m.autoApprove, pattern)
	} else {
		m.autoReject = append(m.autoReject, pattern)
	}
	m.mu.Unlock()
	return true, nil
}

// PatternCounts reports the configured pattern list sizes (for /status)
func (m *ApprovalMatcher) PatternCounts() (approve, reject int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.autoApprove), len(m.autoReject)
}

// Patterns returns copies of the configured approve and reject phrase lists.
func (m *ApprovalMatcher) Patterns() (approve, reject []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	approve = append([]string(nil), m.autoApprove...)
	reject = append([]string(nil), m.autoReject...)
	return approve, reject
}
