package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/conf"
)

// GatewayRepo executes approved actions against the mail and calendar
// gateway services and reads unread mail from the mail gateway.
type GatewayRepo struct {
	mail     *resty.Client
	calendar *resty.Client
}

// NewGatewayRepo creates a gateway repository. Either URL may be empty;
// executing an action whose gateway is not configured fails.
func NewGatewayRepo(cfg conf.GatewayConfig) *GatewayRepo {
	g := &GatewayRepo{}
	if cfg.MailURL != "" {
		g.mail = newGatewayClient(cfg.MailURL)
	}
	if cfg.CalendarURL != "" {
		g.calendar = newGatewayClient(cfg.CalendarURL)
	}
	return g
}

func newGatewayClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
}

// Execute performs an approved action by kind.
func (g *GatewayRepo) Execute(ctx context.Context, kind domain.ActionKind, payload map[string]string) error {
	switch kind {
	case domain.ActionReplyEmail:
		return g.sendMailReply(ctx, payload)
	case domain.ActionCreateEvent:
		return g.createEvent(ctx, payload)
	default:
		return fmt.Errorf("unknown action kind %q", kind)
	}
}

func (g *GatewayRepo) sendMailReply(ctx context.Context, payload map[string]string) error {
	if g.mail == nil {
		return fmt.Errorf("mail gateway not configured")
	}

	resp, err := g.mail.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"thread_id": payload["thread_id"],
			"to":        payload["sender"],
			"subject":   payload["subject"],
			"body":      payload["suggested_reply"],
		}).
		Post("/api/mail/reply")
	if err != nil {
		return fmt.Errorf("mail reply: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail reply: status %d: %s", resp.StatusCode(), resp.String())
	}

	fmt.Printf("[Gateway] Sent mail reply to %s\n", payload["sender"])
	return nil
}

func (g *GatewayRepo) createEvent(ctx context.Context, payload map[string]string) error {
	if g.calendar == nil {
		return fmt.Errorf("calendar gateway not configured")
	}

	resp, err := g.calendar.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"title":       payload["title"],
			"start_time":  payload["start_time"],
			"end_time":    payload["end_time"],
			"description": payload["description"],
		}).
		Post("/api/calendar/events")
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("create event: status %d: %s", resp.StatusCode(), resp.String())
	}

	fmt.Printf("[Gateway] Created event %q\n", payload["title"])
	return nil
}

// UnreadMail lists unread messages from the mail gateway.
func (g *GatewayRepo) UnreadMail(ctx context.Context) ([]domain.InboundEmail, error) {
	if g.mail == nil {
		return nil, fmt.Errorf("mail gateway not configured")
	}

	var out struct {
		Emails []domain.InboundEmail `json:"emails"`
	}
	resp, err := g.mail.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/mail/unread")
	if err != nil {
		return nil, fmt.Errorf("unread mail: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unread mail: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Emails, nil
}

var (
	_ repo.ExecutorRepo = (*GatewayRepo)(nil)
	_ repo.MailboxRepo  = (*GatewayRepo)(nil)
)
