package repo

import (
	"context"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
)

// MailboxRepo surfaces unread mail for the polling loop
type MailboxRepo interface {
	UnreadMail(ctx context.Context) ([]domain.InboundEmail, error)
}
