package repo

import "context"

// AgentRepo is the conversational AI interface
type AgentRepo interface {
	// Respond generates a conversational reply for the sender
	Respond(ctx context.Context, message, systemContext, sender string) (string, error)

	// SuggestReply drafts a reply to an email body for operator approval
	SuggestReply(ctx context.Context, sender, subject, body string) (string, error)

	// ClearHistory drops the sender's conversation history
	ClearHistory(sender string)

	// HistorySummary returns a short summary of the sender's conversation
	HistorySummary(sender string) string

	// Personality describes the agent's configured persona
	Personality() string

	// Configured reports whether the backing API is usable
	Configured() bool
}
