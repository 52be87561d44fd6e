package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
)

// ---- fakes ----

type sentMessage struct {
	To   string
	Body string
}

type fakeMessenger struct {
	event    *domain.Event
	parseErr error

	sent    []sentMessage
	sendErr error
}

func (f *fakeMessenger) SendText(ctx context.Context, to, body string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{To: to, Body: body})
	return fmt.Sprintf("out-%d", len(f.sent)), nil
}

func (f *fakeMessenger) ParseInbound(raw []byte) (*domain.Event, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

func (f *fakeMessenger) lastSent() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Body
}

type fakeAgent struct {
	reply      string
	respondErr error
	cleared    []string
}

func (f *fakeAgent) Respond(ctx context.Context, message, systemContext, sender string) (string, error) {
	if f.respondErr != nil {
		return "", f.respondErr
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "respuesta a: " + message, nil
}

func (f *fakeAgent) SuggestReply(ctx context.Context, sender, subject, body string) (string, error) {
	return "borrador de respuesta", nil
}

func (f *fakeAgent) ClearHistory(sender string) {
	f.cleared = append(f.cleared, sender)
}

func (f *fakeAgent) HistorySummary(sender string) string { return "resumen" }
func (f *fakeAgent) Personality() string                 { return "personalidad" }
func (f *fakeAgent) Configured() bool                    { return true }

type fakeExecutor struct {
	executed []domain.ActionKind
	payloads []map[string]string
	err      error
}

func (f *fakeExecutor) Execute(ctx context.Context, kind domain.ActionKind, payload map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.executed = append(f.executed, kind)
	f.payloads = append(f.payloads, payload)
	return nil
}

type memPatternRepo struct {
	patterns map[repo.PatternKind][]string
}

func (m *memPatternRepo) List(ctx context.Context, kind repo.PatternKind) ([]string, error) {
	return m.patterns[kind], nil
}

func (m *memPatternRepo) Add(ctx context.Context, kind repo.PatternKind, pattern string) (bool, error) {
	if m.patterns == nil {
		m.patterns = make(map[repo.PatternKind][]string)
	}
	m.patterns[kind] = append(m.patterns[kind], pattern)
	return true, nil
}

// ---- harness ----

type routerFixture struct {
	router    *Router
	messenger *fakeMessenger
	agent     *fakeAgent
	executor  *fakeExecutor
	guard     *usecase.LoopGuard
	store     *usecase.ActionStore
}

// newRouterFixture builds a router with a negligible cooldown so tests
// exercise the other gates without sleeping.
func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	return newRouterFixtureWithCooldown(t, time.Nanosecond)
}

func newRouterFixtureWithCooldown(t *testing.T, cooldown time.Duration) *routerFixture {
	t.Helper()

	messenger := &fakeMessenger{}
	agent := &fakeAgent{}
	executor := &fakeExecutor{}

	cfg := usecase.DefaultGuardConfig
	cfg.CooldownWindow = cooldown
	guard := usecase.NewLoopGuard(cfg, usecase.NewRouterState())
	store := usecase.NewActionStore(30 * time.Minute)
	matcher := usecase.NewApprovalMatcher(store, &memPatternRepo{})

	router := NewRouter(messenger, agent, executor, guard, matcher, store, nil, "/")
	return &routerFixture{
		router:    router,
		messenger: messenger,
		agent:     agent,
		executor:  executor,
		guard:     guard,
		store:     store,
	}
}

var eventSeq int

func (f *routerFixture) dispatch(body string) domain.Outcome {
	eventSeq++
	return f.dispatchEvent(&domain.Event{
		MessageID:    fmt.Sprintf("msg-%d", eventSeq),
		From:         "5664087506@c.us",
		Body:         body,
		EventType:    "message_received",
		FromOperator: true,
	})
}

func (f *routerFixture) dispatchEvent(ev *domain.Event) domain.Outcome {
	f.messenger.event = ev
	return f.router.Dispatch(context.Background(), nil)
}

// ---- tests ----

func TestRouter_Dispatch_ParseError(t *testing.T) {
	f := newRouterFixture(t)
	f.messenger.parseErr = &domain.ParseError{Reason: "invalid JSON payload"}

	outcome := f.router.Dispatch(context.Background(), []byte("not json"))
	if outcome.Status != domain.OutcomeError {
		t.Errorf("Expected error outcome, got %s", outcome.Status)
	}
	var parseErr *domain.ParseError
	if !errors.As(outcome.Err, &parseErr) {
		t.Error("Expected a ParseError in the outcome")
	}
	if len(f.messenger.sent) != 0 {
		t.Error("Expected no sends on parse failure")
	}
}

func TestRouter_Dispatch_SkipsEcho(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatchEvent(&domain.Event{
		MessageID: "msg-echo", From: "5664087506@c.us",
		Body: "hola", EventType: "message_ack", FromOperator: true,
	})
	if outcome.Status != domain.OutcomeSkipped {
		t.Errorf("Expected skipped, got %s", outcome.Status)
	}
	if len(f.messenger.sent) != 0 {
		t.Error("Expected no sends for an echo event")
	}
}

func TestRouter_Dispatch_SkipsNonOperator(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatchEvent(&domain.Event{
		MessageID: "msg-stranger", From: "5551234567@c.us",
		Body: "hola", EventType: "message_received",
	})
	if outcome.Status != domain.OutcomeSkipped {
		t.Errorf("Expected skipped, got %s", outcome.Status)
	}
}

func TestRouter_Dispatch_ApproveExecutes(t *testing.T) {
	f := newRouterFixture(t)
	action := f.store.Create(domain.ActionReplyEmail, map[string]string{"sender": "ana@example.com"}, 0)

	outcome := f.dispatch("✅ sí, envíalo")
	if outcome.Status != domain.OutcomeExecuted {
		t.Fatalf("Expected executed, got %s (%s)", outcome.Status, outcome.Message)
	}
	if len(f.executor.executed) != 1 || f.executor.executed[0] != domain.ActionReplyEmail {
		t.Errorf("Expected reply_email executed, got %v", f.executor.executed)
	}
	if got := f.store.Get(action.ID); got.Status != domain.ActionApproved {
		t.Errorf("Expected stored action approved, got %s", got.Status)
	}
	if !strings.Contains(f.messenger.lastSent(), "✅") {
		t.Errorf("Expected confirmation message, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_RejectSkipsExecution(t *testing.T) {
	f := newRouterFixture(t)
	action := f.store.Create(domain.ActionReplyEmail, nil, 0)

	outcome := f.dispatch("❌ no")
	if outcome.Status != domain.OutcomeExecuted {
		t.Fatalf("Expected executed outcome for rejection, got %s", outcome.Status)
	}
	if outcome.Message != "action rejected" {
		t.Errorf("Expected rejection message, got %q", outcome.Message)
	}
	if len(f.executor.executed) != 0 {
		t.Error("Expected executor to not run on rejection")
	}
	if got := f.store.Get(action.ID); got.Status != domain.ActionRejected {
		t.Errorf("Expected stored action rejected, got %s", got.Status)
	}
}

func TestRouter_Dispatch_ExecutorFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.store.Create(domain.ActionReplyEmail, nil, 0)
	f.executor.err = errors.New("gateway unreachable")

	outcome := f.dispatch("✅ sí")
	if outcome.Status != domain.OutcomeError {
		t.Fatalf("Expected error outcome, got %s", outcome.Status)
	}
	if !strings.Contains(f.messenger.lastSent(), "Failed to execute") {
		t.Errorf("Expected failure report to operator, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_StaleApproval(t *testing.T) {
	f := newRouterFixture(t)
	action := f.store.Create(domain.ActionReplyEmail, nil, time.Nanosecond)
	time.Sleep(time.Millisecond)

	outcome := f.dispatch("approve " + action.ID)
	if outcome.Status != domain.OutcomeError {
		t.Fatalf("Expected error outcome, got %s", outcome.Status)
	}
	if !errors.Is(outcome.Err, usecase.ErrActionExpired) {
		t.Errorf("Expected ErrActionExpired, got %v", outcome.Err)
	}
	if !strings.Contains(f.messenger.lastSent(), "⚠️") {
		t.Errorf("Expected warning sent to operator, got %q", f.messenger.lastSent())
	}
	if len(f.executor.executed) != 0 {
		t.Error("Expected nothing executed for a stale approval")
	}
}

func TestRouter_Dispatch_StatusCommand(t *testing.T) {
	f := newRouterFixture(t)
	f.store.Create(domain.ActionCreateEvent, map[string]string{"title": "Demo"}, 0)

	outcome := f.dispatch("/status")
	if outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result, got %s", outcome.Status)
	}
	sent := f.messenger.lastSent()
	if !strings.Contains(sent, "Pending actions: 1") {
		t.Errorf("Expected pending count in status, got %q", sent)
	}
	if !strings.Contains(sent, "Demo") {
		t.Errorf("Expected action summary in status, got %q", sent)
	}
}

func TestRouter_Dispatch_HelpCommand(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatch("/help")
	if outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result, got %s", outcome.Status)
	}
	if !strings.Contains(f.messenger.lastSent(), "/status") {
		t.Errorf("Expected command list in help, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_ClearCommand(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatch("/clear")
	if outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result, got %s", outcome.Status)
	}
	if len(f.agent.cleared) != 1 {
		t.Error("Expected agent history to be cleared")
	}
}

func TestRouter_Dispatch_UnknownCommand(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatch("/frobnicate")
	if outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result, got %s", outcome.Status)
	}
	if !strings.Contains(f.messenger.lastSent(), "Unknown command") {
		t.Errorf("Expected unknown-command hint, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_StopAndResume(t *testing.T) {
	f := newRouterFixture(t)

	if outcome := f.dispatch("/stop"); outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result for stop, got %s", outcome.Status)
	}
	if !f.guard.EmergencyStopped() {
		t.Fatal("Expected emergency stop to be set")
	}

	// Ordinary traffic is suppressed while stopped
	if outcome := f.dispatch("hola"); outcome.Status != domain.OutcomeEmergencyStop {
		t.Errorf("Expected emergency_stop outcome, got %s", outcome.Status)
	}

	// Resume stays reachable for the operator
	if outcome := f.dispatch("/resume"); outcome.Status != domain.OutcomeCommandResult {
		t.Errorf("Expected command_result for resume, got %s", outcome.Status)
	}
	if f.guard.EmergencyStopped() {
		t.Error("Expected emergency stop to be cleared")
	}
	if outcome := f.dispatch("hola de nuevo"); outcome.Status != domain.OutcomeAIResponse {
		t.Errorf("Expected conversation to resume, got %s", outcome.Status)
	}
}

func TestRouter_Dispatch_ResumeNotReachableForStrangers(t *testing.T) {
	f := newRouterFixture(t)
	f.guard.SetEmergencyStop(true)

	outcome := f.dispatchEvent(&domain.Event{
		MessageID: "msg-x", From: "5551234567@c.us",
		Body: "/resume", EventType: "message_received",
	})
	if outcome.Status != domain.OutcomeEmergencyStop {
		t.Errorf("Expected emergency_stop, got %s", outcome.Status)
	}
	if !f.guard.EmergencyStopped() {
		t.Error("Expected stop flag to survive a stranger's resume")
	}
}

func TestRouter_Dispatch_ScheduleCommand(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatch(`/schedule "Llamada con Ana" 2:30pm`)
	if outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result, got %s (%s)", outcome.Status, outcome.Message)
	}

	pending := f.store.ListPending()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending action, got %d", len(pending))
	}
	action := pending[0]
	if action.Kind != domain.ActionCreateEvent {
		t.Errorf("Expected create_event, got %s", action.Kind)
	}
	if action.Payload["title"] != "Llamada con Ana" {
		t.Errorf("Expected title in payload, got %q", action.Payload["title"])
	}
	start, err := time.Parse(time.RFC3339, action.Payload["start_time"])
	if err != nil {
		t.Fatalf("Expected RFC3339 start_time, got %q", action.Payload["start_time"])
	}
	if start.Hour() != 14 || start.Minute() != 30 {
		t.Errorf("Expected 14:30 start, got %v", start)
	}

	sent := f.messenger.lastSent()
	if !strings.Contains(sent, action.ShortID()) {
		t.Errorf("Expected approval request with short id, got %q", sent)
	}
}

func TestRouter_Dispatch_ScheduleWithoutTime(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatch(`/schedule "Sin hora"`)
	if outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result, got %s", outcome.Status)
	}
	if len(f.store.ListPending()) != 0 {
		t.Error("Expected no action without a time")
	}
	if !strings.Contains(f.messenger.lastSent(), "specify a time") {
		t.Errorf("Expected time hint, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_PendingActionsBlockConversation(t *testing.T) {
	f := newRouterFixture(t)
	f.store.Create(domain.ActionReplyEmail, nil, 0)

	outcome := f.dispatch("cuéntame un chiste")
	if outcome.Status != domain.OutcomePendingActions {
		t.Fatalf("Expected pending_actions, got %s", outcome.Status)
	}
	if !strings.Contains(f.messenger.lastSent(), "pending actions") {
		t.Errorf("Expected pending reminder, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_Conversation(t *testing.T) {
	f := newRouterFixture(t)
	f.agent.reply = "¡Hola! ¿En qué te ayudo?"

	outcome := f.dispatch("hola")
	if outcome.Status != domain.OutcomeAIResponse {
		t.Fatalf("Expected ai_response, got %s (%s)", outcome.Status, outcome.Message)
	}
	if f.messenger.lastSent() != "¡Hola! ¿En qué te ayudo?" {
		t.Errorf("Expected agent reply sent, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_ConversationAgentError(t *testing.T) {
	f := newRouterFixture(t)
	f.agent.respondErr = errors.New("model unavailable")

	outcome := f.dispatch("hola")
	if outcome.Status != domain.OutcomeError {
		t.Fatalf("Expected error, got %s", outcome.Status)
	}
	if !strings.Contains(f.messenger.lastSent(), "Lo siento") {
		t.Errorf("Expected apology fallback sent, got %q", f.messenger.lastSent())
	}
}

func TestRouter_Dispatch_RateLimited(t *testing.T) {
	f := newRouterFixtureWithCooldown(t, 5*time.Second)
	f.agent.reply = "respuesta"

	if outcome := f.dispatch("primer mensaje"); outcome.Status != domain.OutcomeAIResponse {
		t.Fatalf("Expected first message to go through, got %s", outcome.Status)
	}
	outcome := f.dispatch("segundo mensaje")
	if outcome.Status != domain.OutcomeRateLimited {
		t.Fatalf("Expected rate_limited, got %s", outcome.Status)
	}
	if len(f.messenger.sent) != 1 {
		t.Errorf("Expected only one outbound message, got %d", len(f.messenger.sent))
	}
}

func TestRouter_Dispatch_DuplicateSuppressed(t *testing.T) {
	f := newRouterFixture(t)
	f.agent.reply = "misma respuesta"

	if outcome := f.dispatch("pregunta uno"); outcome.Status != domain.OutcomeAIResponse {
		t.Fatalf("Expected first reply to go through, got %s", outcome.Status)
	}
	outcome := f.dispatch("pregunta dos")
	if outcome.Status != domain.OutcomeDuplicate {
		t.Fatalf("Expected duplicate_suppressed, got %s", outcome.Status)
	}
	if len(f.messenger.sent) != 1 {
		t.Errorf("Expected only one outbound message, got %d", len(f.messenger.sent))
	}
}

func TestRouter_Dispatch_SendFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.messenger.sendErr = errors.New("provider down")

	outcome := f.dispatch("hola")
	if outcome.Status != domain.OutcomeError {
		t.Errorf("Expected error outcome on send failure, got %s", outcome.Status)
	}
}

func TestRouter_Dispatch_AutocheckWithoutPoller(t *testing.T) {
	f := newRouterFixture(t)

	outcome := f.dispatch("/autocheck")
	if outcome.Status != domain.OutcomeCommandResult {
		t.Fatalf("Expected command_result, got %s", outcome.Status)
	}
	if !strings.Contains(f.messenger.lastSent(), "not configured") {
		t.Errorf("Expected not-configured notice, got %q", f.messenger.lastSent())
	}
}
