package repo

import (
	"context"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
)

// MessengerRepo is the outbound chat delivery and inbound parsing interface
type MessengerRepo interface {
	// SendText delivers a message and returns the provider message id
	SendText(ctx context.Context, to, body string) (string, error)

	// ParseInbound normalizes a raw webhook payload into an Event.
	// Returns *domain.ParseError for malformed payloads.
	ParseInbound(raw []byte) (*domain.Event, error)
}
