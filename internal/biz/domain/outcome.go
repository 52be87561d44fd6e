package domain

// OutcomeStatus tags the terminal state of dispatching one inbound event
type OutcomeStatus string

const (
	OutcomeError          OutcomeStatus = "error"
	OutcomeSkipped        OutcomeStatus = "skipped"
	OutcomeEmergencyStop  OutcomeStatus = "emergency_stop"
	OutcomeExecuted       OutcomeStatus = "executed"
	OutcomeCommandResult  OutcomeStatus = "command_result"
	OutcomePendingActions OutcomeStatus = "pending_actions"
	OutcomeAIResponse     OutcomeStatus = "ai_response"
	OutcomeRateLimited    OutcomeStatus = "rate_limited"
	OutcomeDuplicate      OutcomeStatus = "duplicate_suppressed"
)

// Outcome is the result of Router.Dispatch for one inbound event
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
	Err     error         `json:"-"`
}

// ParseError marks a malformed webhook payload. The HTTP layer maps it
// to a 4xx; everything else dispatch reports is a 200 with an outcome.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse webhook payload: " + e.Reason
}
