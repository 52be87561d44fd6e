package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
)

// MailPoller periodically checks the mailbox for unread mail and turns each
// message into a reply_email pending action with an approval request sent to
// the operator. It starts disabled; the autocheck command toggles it.
type MailPoller struct {
	mailbox   repo.MailboxRepo
	agent     repo.AgentRepo
	messenger repo.MessengerRepo
	store     *usecase.ActionStore

	operator     string
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	seen map[string]struct{}
}

// NewMailPoller creates a mail poller that notifies the given operator number.
func NewMailPoller(
	mailbox repo.MailboxRepo,
	agent repo.AgentRepo,
	messenger repo.MessengerRepo,
	store *usecase.ActionStore,
	operator string,
	pollInterval time.Duration,
) *MailPoller {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &MailPoller{
		mailbox:      mailbox,
		agent:        agent,
		messenger:    messenger,
		store:        store,
		operator:     operator,
		pollInterval: pollInterval,
		seen:         make(map[string]struct{}),
	}
}

// Start begins polling. Calling Start on a running poller is a no-op.
func (p *MailPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.loop(p.stopCh)
	fmt.Printf("[MailPoller] Started with poll interval %v\n", p.pollInterval)
}

// Stop halts polling and waits for the loop to exit. Safe when not running.
func (p *MailPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	fmt.Println("[MailPoller] Stopped")
}

// Toggle flips the polling state and reports whether it is now running.
func (p *MailPoller) Toggle() bool {
	if p.Running() {
		p.Stop()
		return false
	}
	p.Start()
	return true
}

// Running reports whether the poll loop is active.
func (p *MailPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *MailPoller) loop(stopCh chan struct{}) {
	defer p.wg.Done()

	p.checkOnce()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkOnce()
		case <-stopCh:
			return
		}
	}
}

func (p *MailPoller) checkOnce() {
	ctx := context.Background()

	emails, err := p.mailbox.UnreadMail(ctx)
	if err != nil {
		fmt.Printf("[MailPoller] Error checking mail: %v\n", err)
		return
	}

	for _, email := range emails {
		if _, ok := p.seen[email.ID]; ok {
			continue
		}
		p.seen[email.ID] = struct{}{}
		p.proposeReply(ctx, email)
	}
}

func (p *MailPoller) proposeReply(ctx context.Context, email domain.InboundEmail) {
	fmt.Printf("[MailPoller] New mail from %s: %s\n", email.Sender, email.Subject)

	suggested, err := p.agent.SuggestReply(ctx, email.Sender, email.Subject, email.Body)
	if err != nil {
		fmt.Printf("[MailPoller] Error suggesting reply: %v\n", err)
		suggested = "Gracias por tu mensaje. Te responderé pronto."
	}

	summary := email.Body
	if len([]rune(summary)) > 200 {
		summary = string([]rune(summary)[:200]) + "..."
	}

	action := p.store.Create(domain.ActionReplyEmail, map[string]string{
		"email_id":        email.ID,
		"thread_id":       email.ThreadID,
		"sender":          email.Sender,
		"subject":         email.Subject,
		"summary":         summary,
		"suggested_reply": suggested,
	}, 0)

	if _, err := p.messenger.SendText(ctx, p.operator, formatApprovalRequest(action)); err != nil {
		fmt.Printf("[MailPoller] Error sending approval request: %v\n", err)
	}
}
