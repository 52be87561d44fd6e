package repo

import (
	"context"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
)

// ExecutorRepo performs the side effect of an approved action.
// Payload shape is opaque to the core beyond what the handlers populate.
type ExecutorRepo interface {
	Execute(ctx context.Context, kind domain.ActionKind, payload map[string]string) error
}
