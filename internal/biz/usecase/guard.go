package usecase

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
)

// Webhook event tags that describe our own prior sends, not user content
var echoEventTypes = map[string]bool{
	"message_ack":       true,
	"message_create":    true,
	"message_sent":      true,
	"message_delivered": true,
}

// Low-information tokens the provider echoes back as message bodies
var ackTokens = map[string]bool{
	"sent":      true,
	"delivered": true,
	"read":      true,
	"ok":        true,
	"true":      true,
}

// Fragments of the assistant's own canned output. Matching these is a
// heuristic against re-ingesting our own replies as user input; it is not
// sound, just cheap. Keep lowercase.
var assistantFragments = []string{
	"¡claro! puedo platicar contigo sobre cualquier tema",
	"puedo platicar contigo sobre cualquier tema",
	"lo siento, estoy teniendo problemas para procesar tu mensaje",
	"entiendo que dijiste",
	"estoy aquí para ayudarte",
}

// GuardConfig tunes the loop-prevention gates (value object)
type GuardConfig struct {
	CooldownWindow  time.Duration // min time between sends to the same sender
	MaxProcessedIDs int           // tracked provider message ids
	MaxRecentBodies int           // per-recipient outbound dedup window
}

// DefaultGuardConfig mirrors the defaults of the production deployment
var DefaultGuardConfig = GuardConfig{
	CooldownWindow:  5 * time.Second,
	MaxProcessedIDs: 100,
	MaxRecentBodies: 5,
}

// RouterState holds the mutable anti-flood state shared across concurrent
// dispatches: the cooldown ledger, the recent-outbound cache, the processed
// message-id set and the emergency stop flag. One instance per bridge.
type RouterState struct {
	mu        sync.Mutex
	cooldown  map[string]time.Time
	recent    map[string][]string
	seen      map[string]struct{}
	seenOrder []string
	stopped   atomic.Bool
}

// NewRouterState creates an empty router state
func NewRouterState() *RouterState {
	return &RouterState{
		cooldown: make(map[string]time.Time),
		recent:   make(map[string][]string),
		seen:     make(map[string]struct{}),
	}
}

// LoopGuard decides whether inbound events get processed and whether
// candidate outbound sends actually go out. Safe for concurrent use.
type LoopGuard struct {
	cfg   GuardConfig
	state *RouterState
}

// NewLoopGuard creates a loop guard over the shared router state
func NewLoopGuard(cfg GuardConfig, state *RouterState) *LoopGuard {
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = DefaultGuardConfig.CooldownWindow
	}
	if cfg.MaxProcessedIDs <= 0 {
		cfg.MaxProcessedIDs = DefaultGuardConfig.MaxProcessedIDs
	}
	if cfg.MaxRecentBodies <= 0 {
		cfg.MaxRecentBodies = DefaultGuardConfig.MaxRecentBodies
	}
	return &LoopGuard{cfg: cfg, state: state}
}

// ShouldProcess decides whether the router should handle the event at all.
// Returns false with a reason for anything that is noise, echo, or a repeat.
// On acceptance the event's message id is recorded, so a concurrent
// redelivery of the same id is accepted exactly once.
func (g *LoopGuard) ShouldProcess(ev *domain.Event) (bool, string) {
	if g.state.stopped.Load() {
		return false, "emergency stop active"
	}
	if !ev.FromOperator {
		return false, "not from operator"
	}
	if echoEventTypes[ev.EventType] {
		return false, "echo event: " + ev.EventType
	}

	body := strings.ToLower(strings.TrimSpace(ev.Body))
	if utf8.RuneCountInString(body) < 2 {
		return false, "empty message"
	}
	if ackTokens[body] {
		return false, "acknowledgment message"
	}
	for _, fragment := range assistantFragments {
		if strings.Contains(body, fragment) {
			return false, "contains assistant response"
		}
	}

	if ev.MessageID == "" {
		return true, ""
	}

	g.state.mu.Lock()
	defer g.state.mu.Unlock()

	if _, exists := g.state.seen[ev.MessageID]; exists {
		return false, "already processed"
	}
	g.state.seen[ev.MessageID] = struct{}{}
	g.state.seenOrder = append(g.state.seenOrder, ev.MessageID)

	// Evict the oldest half once over capacity
	if len(g.state.seenOrder) > g.cfg.MaxProcessedIDs {
		keep := len(g.state.seenOrder) / 2
		for _, id := range g.state.seenOrder[:len(g.state.seenOrder)-keep] {
			delete(g.state.seen, id)
		}
		g.state.seenOrder = append([]string(nil), g.state.seenOrder[len(g.state.seenOrder)-keep:]...)
	}
	return true, ""
}

// ShouldSend suppresses exact-duplicate re-sends to a recipient. On true the
// body is recorded in the recipient's recent-outbound window (FIFO, bounded).
func (g *LoopGuard) ShouldSend(recipient, body string) bool {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()

	recent := g.state.recent[recipient]
	for _, prev := range recent {
		if prev == body {
			fmt.Printf("[Guard] Duplicate outbound suppressed for %s\n", recipient)
			return false
		}
	}

	recent = append(recent, body)
	if len(recent) > g.cfg.MaxRecentBodies {
		recent = recent[len(recent)-g.cfg.MaxRecentBodies:]
	}
	g.state.recent[recipient] = recent
	return true
}

// CheckCooldown atomically checks and charges the sender's cooldown window.
// Concurrent events from the same sender cannot both pass within one window.
func (g *LoopGuard) CheckCooldown(sender string, now time.Time) bool {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()

	if last, ok := g.state.cooldown[sender]; ok && now.Sub(last) < g.cfg.CooldownWindow {
		return false
	}
	g.state.cooldown[sender] = now
	return true
}

// SetEmergencyStop toggles the global kill switch
func (g *LoopGuard) SetEmergencyStop(stopped bool) {
	g.state.stopped.Store(stopped)
}

// EmergencyStopped reports whether the kill switch is set
func (g *LoopGuard) EmergencyStopped() bool {
	return g.state.stopped.Load()
}
