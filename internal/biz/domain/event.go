package domain

import "strings"

// Event represents a normalized inbound webhook event
type Event struct {
	MessageID    string // provider message id, may be empty
	From         string
	To           string
	Body         string
	EventType    string // provider event tag ("message_ack", "message_create", ...)
	Timestamp    int64  // provider unix timestamp, 0 if absent
	FromOperator bool   // derived by the adapter against the configured operator identity
}

// Identity is the configured operator channel identity (value object)
type Identity struct {
	Number string // digits, optionally with provider suffix like "@c.us"
}

// minSubscriberDigits is the shortest number form still identifying a
// full subscriber line. Anything shorter is a fragment, not a number.
const minSubscriberDigits = 10

// Matches checks whether a sender/recipient string refers to this identity.
// Provider suffixes are stripped and country-code prefixes are tolerated
// by suffix comparison, so "5215664087506@c.us" matches a configured
// "5664087506" and vice versa. The shorter form must still be a full
// subscriber number, so a trailing fragment like "506" never matches.
func (i Identity) Matches(s string) bool {
	a := normalizeNumber(i.Number)
	b := normalizeNumber(s)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	shorter := a
	if len(b) < len(a) {
		shorter = b
	}
	if len(shorter) < minSubscriberDigits {
		return false
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

func normalizeNumber(s string) string {
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
