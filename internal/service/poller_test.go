package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
)

type fakeMailbox struct {
	emails []domain.InboundEmail
	err    error
}

func (f *fakeMailbox) UnreadMail(ctx context.Context) ([]domain.InboundEmail, error) {
	return f.emails, f.err
}

func newPollerFixture(mailbox *fakeMailbox) (*MailPoller, *fakeMessenger, *usecase.ActionStore) {
	messenger := &fakeMessenger{}
	store := usecase.NewActionStore(30 * time.Minute)
	poller := NewMailPoller(mailbox, &fakeAgent{}, messenger, store, "5664087506", time.Hour)
	return poller, messenger, store
}

func TestMailPoller_CheckOnce_CreatesActions(t *testing.T) {
	mailbox := &fakeMailbox{emails: []domain.InboundEmail{
		{ID: "mail-1", ThreadID: "thread-1", Sender: "ana@example.com", Subject: "Factura", Body: "Adjunto la factura de agosto."},
	}}
	poller, messenger, store := newPollerFixture(mailbox)

	poller.checkOnce()

	pending := store.ListPending()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending action, got %d", len(pending))
	}
	action := pending[0]
	if action.Kind != domain.ActionReplyEmail {
		t.Errorf("Expected reply_email, got %s", action.Kind)
	}
	if action.Payload["email_id"] != "mail-1" || action.Payload["sender"] != "ana@example.com" {
		t.Errorf("Expected email fields in payload, got %v", action.Payload)
	}
	if action.Payload["suggested_reply"] != "borrador de respuesta" {
		t.Errorf("Expected suggested reply in payload, got %q", action.Payload["suggested_reply"])
	}

	if len(messenger.sent) != 1 {
		t.Fatalf("Expected 1 approval request sent, got %d", len(messenger.sent))
	}
	if messenger.sent[0].To != "5664087506" {
		t.Errorf("Expected request sent to operator, got %s", messenger.sent[0].To)
	}
	if !strings.Contains(messenger.sent[0].Body, action.ShortID()) {
		t.Errorf("Expected short id in approval request, got %q", messenger.sent[0].Body)
	}
}

func TestMailPoller_CheckOnce_DeduplicatesSeenMail(t *testing.T) {
	mailbox := &fakeMailbox{emails: []domain.InboundEmail{
		{ID: "mail-1", Sender: "ana@example.com", Subject: "Factura", Body: "hola"},
	}}
	poller, messenger, store := newPollerFixture(mailbox)

	poller.checkOnce()
	poller.checkOnce()

	if got := len(store.ListPending()); got != 1 {
		t.Errorf("Expected 1 action after repeated checks, got %d", got)
	}
	if len(messenger.sent) != 1 {
		t.Errorf("Expected 1 approval request after repeated checks, got %d", len(messenger.sent))
	}
}

func TestMailPoller_Toggle(t *testing.T) {
	poller, _, _ := newPollerFixture(&fakeMailbox{})

	if poller.Running() {
		t.Fatal("Expected poller to start disabled")
	}
	if !poller.Toggle() {
		t.Error("Expected first toggle to enable polling")
	}
	if !poller.Running() {
		t.Error("Expected poller to be running after enable")
	}
	if poller.Toggle() {
		t.Error("Expected second toggle to disable polling")
	}
	if poller.Running() {
		t.Error("Expected poller to be stopped after disable")
	}

	// Stop on a stopped poller is a no-op
	poller.Stop()
}
