package domain

// InboundEmail is an unread email surfaced by the mail gateway
type InboundEmail struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}
