package repo

import "context"

// PatternKind separates the two operator-editable pattern lists
type PatternKind string

const (
	PatternAutoApprove PatternKind = "auto_approve"
	PatternAutoReject  PatternKind = "auto_reject"
)

// PatternRepo persists operator-editable approval/rejection patterns
type PatternRepo interface {
	// List returns all patterns of the given kind
	List(ctx context.Context, kind PatternKind) ([]string, error)

	// Add stores a pattern; returns false if it already existed
	Add(ctx context.Context, kind PatternKind, pattern string) (bool, error)
}
