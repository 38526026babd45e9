package domain

import (
	"time"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityUnlisted
}

// Paste is immutable once created; there is no update operation.
type Paste struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	Content    string     `json:"content"`
	Language   string     `json:"language"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the paste is logically deleted. A nil ExpiresAt
// means the paste never expires.
func (p *Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Summary is a public-index entry. Snippet carries the content truncated
// per deployment policy, never the full body.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Snippet   string    `json:"snippet"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateParams struct {
	Content string
	Title   string
	// Language is nil when the caller wants the deployment default, which is
	// distinct from an explicit "none".
	Language *string
	// Expiry is nil for "use default"; NoExpiry selects "never" explicitly.
	Expiry     *time.Duration
	NoExpiry   bool
	LongID     bool
	Visibility Visibility
}
