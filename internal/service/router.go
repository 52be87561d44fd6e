package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
)

const defaultSendTimeout = 30 * time.Second

// Router orchestrates inbound event handling: loop-guard gating, approval
// resolution, slash commands, and conversational fallback. Dispatch is the
// sole entry point and never lets an adapter error escape.
type Router struct {
	messenger repo.MessengerRepo
	agent     repo.AgentRepo
	executor  repo.ExecutorRepo
	guard     *usecase.LoopGuard
	matcher   *usecase.ApprovalMatcher
	store     *usecase.ActionStore
	poller    *MailPoller // optional

	prefix      string
	sendTimeout time.Duration
}

// NewRouter creates a router. poller may be nil when mail polling is not
// configured; prefix defaults to "/".
func NewRouter(
	messenger repo.MessengerRepo,
	agent repo.AgentRepo,
	executor repo.ExecutorRepo,
	guard *usecase.LoopGuard,
	matcher *usecase.ApprovalMatcher,
	store *usecase.ActionStore,
	poller *MailPoller,
	prefix string,
) *Router {
	if prefix == "" {
		prefix = "/"
	}
	return &Router{
		messenger:   messenger,
		agent:       agent,
		executor:    executor,
		guard:       guard,
		matcher:     matcher,
		store:       store,
		poller:      poller,
		prefix:      prefix,
		sendTimeout: defaultSendTimeout,
	}
}

// Dispatch processes one raw webhook payload to a terminal outcome.
// Adapter failures are converted to outcomes; nothing propagates.
func (r *Router) Dispatch(ctx context.Context, raw []byte) (outcome domain.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			fmt.Printf("[Router] Panic in dispatch: %v\n", rec)
			outcome = domain.Outcome{
				Status:  domain.OutcomeError,
				Message: fmt.Sprintf("internal error: %v", rec),
			}
		}
	}()

	ev, err := r.messenger.ParseInbound(raw)
	if err != nil {
		return domain.Outcome{Status: domain.OutcomeError, Message: err.Error(), Err: err}
	}

	// The resume command must stay reachable while everything else is
	// suppressed, and only for the operator.
	if r.guard.EmergencyStopped() && ev.FromOperator && r.isCommand(ev.Body, "resume") {
		return r.cmdResume(ctx, ev)
	}

	if ok, reason := r.guard.ShouldProcess(ev); !ok {
		fmt.Printf("[Router] Skipping event from %s: %s\n", ev.From, reason)
		status := domain.OutcomeSkipped
		if r.guard.EmergencyStopped() {
			status = domain.OutcomeEmergencyStop
		}
		return domain.Outcome{Status: status, Message: reason}
	}

	if res, resErr := r.matcher.Resolve(ev.Body, ev.From); resErr != nil {
		// Stale or undeterminable approval reference: tell the operator,
		// keep routing terminal.
		r.gatedSend(ctx, ev.From, "⚠️ "+resErr.Error())
		return domain.Outcome{Status: domain.OutcomeError, Message: resErr.Error(), Err: resErr}
	} else if res != nil {
		return r.executeResolution(ctx, ev, res)
	}

	if strings.HasPrefix(ev.Body, r.prefix) {
		return r.handleCommand(ctx, ev)
	}

	if len(r.store.ListPending()) > 0 {
		r.gatedSend(ctx, ev.From, "⏳ Please respond to pending actions first. Use "+r.prefix+"status to list them.")
		return domain.Outcome{Status: domain.OutcomePendingActions, Message: "please resolve pending actions first"}
	}

	return r.handleConversation(ctx, ev)
}

// GetPendingActions exposes the action list for operator tooling
func (r *Router) GetPendingActions(status domain.ActionStatus) []*domain.PendingAction {
	return r.store.List(status)
}

type sendStatus int

const (
	sendOK sendStatus = iota
	sendRateLimited
	sendDuplicate
	sendFailed
)

// gatedSend is the single outbound path: cooldown first, then duplicate
// suppression, then the provider call with a bounded timeout. The cooldown
// is charged even when the duplicate check later suppresses the send.
func (r *Router) gatedSend(ctx context.Context, to, body string) (sendStatus, error) {
	if !r.guard.CheckCooldown(to, time.Now()) {
		fmt.Printf("[Router] Rate limited send to %s\n", to)
		return sendRateLimited, nil
	}
	if !r.guard.ShouldSend(to, body) {
		return sendDuplicate, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if _, err := r.messenger.SendText(sendCtx, to, body); err != nil {
		fmt.Printf("[Router] Send to %s failed: %v\n", to, err)
		return sendFailed, err
	}
	return sendOK, nil
}

func (r *Router) outcomeForSend(st sendStatus, err error, ok domain.OutcomeStatus, okMsg string) domain.Outcome {
	switch st {
	case sendRateLimited:
		return domain.Outcome{Status: domain.OutcomeRateLimited, Message: "too soon since last response"}
	case sendDuplicate:
		return domain.Outcome{Status: domain.OutcomeDuplicate, Message: "duplicate message prevented"}
	case sendFailed:
		return domain.Outcome{Status: domain.OutcomeError, Message: err.Error(), Err: err}
	default:
		return domain.Outcome{Status: ok, Message: okMsg}
	}
}

func (r *Router) executeResolution(ctx context.Context, ev *domain.Event, res *usecase.Resolution) domain.Outcome {
	if res.Status == domain.ActionRejected {
		r.gatedSend(ctx, ev.From, "❌ Action rejected. Nothing was sent.")
		return domain.Outcome{Status: domain.OutcomeExecuted, Message: "action rejected"}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	err := r.executor.Execute(execCtx, res.Kind, res.Payload)
	cancel()
	if err != nil {
		fmt.Printf("[Router] Execute %s failed: %v\n", res.Kind, err)
		r.gatedSend(ctx, ev.From, fmt.Sprintf("❌ Failed to execute %s: %v", res.Kind, err))
		return domain.Outcome{Status: domain.OutcomeError, Message: err.Error(), Err: err}
	}

	r.gatedSend(ctx, ev.From, fmt.Sprintf("✅ %s executed successfully", res.Kind))
	return domain.Outcome{Status: domain.OutcomeExecuted, Message: string(res.Kind) + " executed"}
}

// ---- commands ----

func (r *Router) isCommand(body, name string) bool {
	fields := strings.Fields(strings.TrimSpace(body))
	return len(fields) > 0 && strings.EqualFold(fields[0], r.prefix+name)
}

func (r *Router) handleCommand(ctx context.Context, ev *domain.Event) domain.Outcome {
	body := strings.TrimSpace(ev.Body)
	name := strings.ToLower(strings.TrimPrefix(strings.Fields(body)[0], r.prefix))

	switch name {
	case "status":
		return r.reply(ctx, ev, r.statusMessage())
	case "help":
		return r.reply(ctx, ev, r.helpMessage())
	case "clear":
		r.agent.ClearHistory(ev.From)
		return r.reply(ctx, ev, "🧹 Conversation history cleared.")
	case "personality":
		return r.reply(ctx, ev, r.agent.Personality())
	case "summary":
		return r.reply(ctx, ev, r.agent.HistorySummary(ev.From))
	case "stop":
		r.guard.SetEmergencyStop(true)
		return r.reply(ctx, ev, "🚨 ASSISTANT STOPPED\n\nAll responses are disabled to prevent flooding. Use "+r.prefix+"resume to reactivate.")
	case "resume":
		return r.cmdResume(ctx, ev)
	case "autocheck":
		return r.cmdAutoCheck(ctx, ev)
	case "schedule":
		return r.cmdSchedule(ctx, ev, body)
	default:
		return r.reply(ctx, ev, "Unknown command. Use "+r.prefix+"help for available commands.")
	}
}

func (r *Router) reply(ctx context.Context, ev *domain.Event, body string) domain.Outcome {
	st, err := r.gatedSend(ctx, ev.From, body)
	return r.outcomeForSend(st, err, domain.OutcomeCommandResult, body)
}

func (r *Router) cmdResume(ctx context.Context, ev *domain.Event) domain.Outcome {
	r.guard.SetEmergencyStop(false)
	return r.reply(ctx, ev, "✅ ASSISTANT RESUMED\n\nThe assistant is active again.")
}

func (r *Router) cmdAutoCheck(ctx context.Context, ev *domain.Event) domain.Outcome {
	if r.poller == nil {
		return r.reply(ctx, ev, "📬 Mail polling is not configured.")
	}
	if r.poller.Toggle() {
		return r.reply(ctx, ev, "✅ Auto mail check ENABLED. Unread mail becomes pending actions.")
	}
	return r.reply(ctx, ev, "❌ Auto mail check DISABLED. Mail is only checked on request.")
}

var (
	scheduleTitleRe = regexp.MustCompile(`"([^"]+)"`)
	scheduleTimeRe  = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)?`)
)

// cmdSchedule parses `schedule "Title" HH:MM[am|pm]` and registers a
// create_event pending action for approval
func (r *Router) cmdSchedule(ctx context.Context, ev *domain.Event, body string) domain.Outcome {
	title := "Meeting"
	if m := scheduleTitleRe.FindStringSubmatch(body); m != nil {
		title = m[1]
	}

	m := scheduleTimeRe.FindStringSubmatch(body)
	if m == nil {
		return r.reply(ctx, ev, "Please specify a time, e.g. "+r.prefix+`schedule "Team sync" 2:30pm`)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return r.reply(ctx, ev, "Invalid time. Use HH:MM, optionally with am/pm.")
	}

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if start.Before(now) {
		start = start.Add(24 * time.Hour)
	}
	end := start.Add(time.Hour)

	action := r.store.Create(domain.ActionCreateEvent, map[string]string{
		"title":       title,
		"start_time":  start.Format(time.RFC3339),
		"end_time":    end.Format(time.RFC3339),
		"description": "Scheduled via chat: " + body,
	}, 0)

	st, err := r.gatedSend(ctx, ev.From, formatApprovalRequest(action))
	return r.outcomeForSend(st, err, domain.OutcomeCommandResult, "approval requested for "+action.ShortID())
}

func (r *Router) statusMessage() string {
	pending := r.store.ListPending()
	approveCount, rejectCount := r.matcher.PatternCounts()

	var b strings.Builder
	b.WriteString("🤖 System Status\n\n")
	fmt.Fprintf(&b, "⏳ Pending actions: %d\n", len(pending))
	for _, action := range pending {
		fmt.Fprintf(&b, "  • #%s %s\n", action.ShortID(), action.Summary())
	}
	fmt.Fprintf(&b, "🚨 Emergency stop: %s\n", onOff(r.guard.EmergencyStopped()))
	if r.poller != nil {
		fmt.Fprintf(&b, "📬 Auto mail check: %s\n", onOff(r.poller.Running()))
	} else {
		b.WriteString("📬 Auto mail check: not configured\n")
	}
	fmt.Fprintf(&b, "🧠 AI: %s\n", onOff(r.agent.Configured()))
	fmt.Fprintf(&b, "📋 Patterns: %d auto-approve / %d auto-reject", approveCount, rejectCount)
	return b.String()
}

func (r *Router) helpMessage() string {
	p := r.prefix
	return "🤖 Assistant Help\n\n" +
		"Available commands:\n" +
		p + "status - System status and pending actions\n" +
		p + "help - Show this help\n" +
		p + "clear - Clear conversation history\n" +
		p + "personality - Show AI personality\n" +
		p + "summary - Conversation summary\n" +
		p + `schedule "Title" HH:MM - Propose a calendar event` + "\n" +
		p + "autocheck - Toggle automatic mail checking\n" +
		p + "stop - Emergency stop (disable all responses)\n" +
		p + "resume - Reactivate after emergency stop\n\n" +
		"Reply to approval requests with ✅/sí/yes or ❌/no, optionally with #id."
}

func (r *Router) handleConversation(ctx context.Context, ev *domain.Event) domain.Outcome {
	systemContext := "Eres un asistente de WhatsApp inteligente y amigable."
	replyText, err := r.agent.Respond(ctx, ev.Body, systemContext, ev.From)
	if err != nil {
		fmt.Printf("[Router] Conversation error: %v\n", err)
		r.gatedSend(ctx, ev.From, "Lo siento, estoy teniendo problemas para procesar tu mensaje. ¿Puedo ayudarte con algo más específico?")
		return domain.Outcome{Status: domain.OutcomeError, Message: err.Error(), Err: err}
	}

	st, sendErr := r.gatedSend(ctx, ev.From, replyText)
	return r.outcomeForSend(st, sendErr, domain.OutcomeAIResponse, replyText)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// formatApprovalRequest renders the operator-facing approval prompt for a
// pending action, ending with the short id approval replies can reference
func formatApprovalRequest(a *domain.PendingAction) string {
	switch a.Kind {
	case domain.ActionReplyEmail:
		return fmt.Sprintf(`📧 Nuevo correo de %s
📋 Asunto: %s

📝 Resumen: %s

💬 Respuesta sugerida:
%s

¿Enviar? ✅/❌ (#%s)`,
			payloadField(a, "sender", "Unknown"),
			payloadField(a, "subject", "No subject"),
			payloadField(a, "summary", "No summary available"),
			payloadField(a, "suggested_reply", "No suggested reply"),
			a.ShortID())
	case domain.ActionCreateEvent:
		return fmt.Sprintf(`📅 Calendar Event Request
📋 Title: %s
⏰ Time: %s

Create event? ✅/❌ (#%s)`,
			payloadField(a, "title", "New Event"),
			payloadField(a, "start_time", "Unknown time"),
			a.ShortID())
	default:
		return fmt.Sprintf("🤖 Action required: %s\n\n%s\n\nApprove? ✅/❌ (#%s)",
			a.Kind, a.Summary(), a.ShortID())
	}
}

func payloadField(a *domain.PendingAction, key, fallback string) string {
	if v, ok := a.Payload[key]; ok && v != "" {
		return v
	}
	return fallback
}
