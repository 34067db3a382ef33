package domain

import "time"

// SourceStatus is the lifecycle state of a recipient source.
type SourceStatus string

const (
	SourcePending SourceStatus = "pending"
	SourceParsing SourceStatus = "parsing"
	SourceReady   SourceStatus = "ready"
	SourceFailed  SourceStatus = "failed"
)

// RecipientSource is the enumerated set of message targets for a campaign,
// e.g. a chat export or a member list reference parsed into recipients.
type RecipientSource struct {
	ID      string
	OwnerID int64
	Name    string
	Ref     string
	Status  SourceStatus

	Total     int
	CreatedAt time.Time
}

// Recipient is one audience member of a source. A recipient is visited at
// most once per campaign: Sent flips to true transactionally with the send
// outcome and never flips back.
type Recipient struct {
	ID       int64
	SourceID string

	// TgID/Username identify the target; either may be empty depending on
	// how the source was parsed.
	TgID      int64
	Username  string
	FirstName string
	LastName  string

	Sent     bool
	SentAt   *time.Time
	Attempts int
}

// Vars returns the substitution variables available to template rendering.
func (r *Recipient) Vars() map[string]any {
	return map[string]any{
		"first_name": r.FirstName,
		"last_name":  r.LastName,
		"username":   r.Username,
	}
}
