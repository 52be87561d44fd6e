package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/conf"
)

// UltraMsgRepo talks to the UltraMsg WhatsApp HTTP API and parses its
// webhook payloads into events.
type UltraMsgRepo struct {
	client     *resty.Client
	instanceID string
	token      string
	operator   domain.Identity
}

// NewUltraMsgRepo creates an UltraMsg message repository
func NewUltraMsgRepo(cfg conf.UltraMsgConfig) *UltraMsgRepo {
	client := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &UltraMsgRepo{
		client:     client,
		instanceID: cfg.InstanceID,
		token:      cfg.Token,
		operator:   domain.Identity{Number: cfg.OperatorNumber},
	}
}

type sendResponse struct {
	Sent    string      `json:"sent"`
	Message string      `json:"message"`
	ID      json.Number `json:"id"`
	Error   interface{} `json:"error"`
}

// SendText sends a text message and returns the provider message id.
func (r *UltraMsgRepo) SendText(ctx context.Context, to, body string) (string, error) {
	var out sendResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"token": r.token,
			"to":    to,
			"body":  body,
		}).
		SetResult(&out).
		Post("/" + r.instanceID + "/messages/chat")
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("send message: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != nil {
		return "", fmt.Errorf("send message: %v", out.Error)
	}

	fmt.Printf("[UltraMsg] Sent message to %s (id=%s)\n", to, out.ID.String())
	return out.ID.String(), nil
}

// webhookPayload is the nested UltraMsg webhook shape.
type webhookPayload struct {
	EventType string `json:"event_type"`
	Data      struct {
		ID     string      `json:"id"`
		From   string      `json:"from"`
		To     string      `json:"to"`
		Body   string      `json:"body"`
		FromMe bool        `json:"fromMe"`
		Time   json.Number `json:"time"`
	} `json:"data"`

	// Flat fallback used by some webhook configurations
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// ParseInbound decodes a webhook payload into an event. Malformed or
// incomplete payloads yield a *domain.ParseError.
func (r *UltraMsgRepo) ParseInbound(raw []byte) (*domain.Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &domain.ParseError{Reason: "invalid JSON payload: " + err.Error()}
	}

	ev := &domain.Event{
		MessageID: payload.Data.ID,
		From:      payload.Data.From,
		To:        payload.Data.To,
		Body:      payload.Data.Body,
		EventType: payload.EventType,
	}
	if ev.MessageID == "" && ev.From == "" {
		ev.MessageID = payload.ID
		ev.From = payload.From
		ev.To = payload.To
		ev.Body = payload.Body
	}
	// The provider omits message ids on some notification events. An id-less
	// payload is still routable as long as it names a sender.
	if ev.From == "" {
		return nil, &domain.ParseError{Reason: "payload missing sender"}
	}
	if ev.EventType == "" {
		ev.EventType = "message_received"
	}

	if secs, err := payload.Data.Time.Int64(); err == nil && secs > 0 {
		ev.Timestamp = secs
	} else {
		ev.Timestamp = time.Now().Unix()
	}

	ev.FromOperator = !payload.Data.FromMe && r.operator.Matches(ev.From)
	return ev, nil
}

var _ repo.MessengerRepo = (*UltraMsgRepo)(nil)
