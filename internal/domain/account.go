package domain

import (
	"fmt"
	"time"
)

// AccountStatus is the lifecycle state of a sender identity.
type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountCodeSent  AccountStatus = "code_sent"
	AccountActive    AccountStatus = "active"
	AccountFloodWait AccountStatus = "flood_wait"
	AccountBlocked   AccountStatus = "blocked"
	AccountError     AccountStatus = "error"
)

// accountTransitions is the single source of truth for legal status changes.
var accountTransitions = map[AccountStatus][]AccountStatus{
	// pending -> active directly is legal: token-backed accounts have no
	// code step.
	AccountPending:   {AccountCodeSent, AccountActive, AccountError, AccountBlocked},
	AccountCodeSent:  {AccountActive, AccountError, AccountBlocked},
	AccountActive:    {AccountFloodWait, AccountError, AccountBlocked},
	AccountFloodWait: {AccountActive, AccountError, AccountBlocked},
	AccountError:     {AccountActive, AccountBlocked},
	AccountBlocked:   {},
}

// CanTransition reports whether from -> to is a legal account status change.
func (from AccountStatus) CanTransition(to AccountStatus) bool {
	if from == to {
		return true
	}
	for _, s := range accountTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Account is a rate-limited sender identity with a daily quota and health state.
type Account struct {
	ID      int64
	OwnerID int64
	Phone   string
	Name    string
	// Token is the Bot API credential for bot-backed accounts. Empty for
	// identities driven by an external client through the Authorizer/Sender
	// seams.
	Token string

	Status AccountStatus

	DailyLimit int
	DailySent  int

	Successes         int
	Failures          int
	FloodEvents       int
	ConsecutiveErrors int

	FloodWaitUntil *time.Time
	LastError      string

	// FolderID groups accounts so a campaign can reference a folder
	// instead of an explicit account list.
	FolderID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

const DefaultDailyLimit = 50

// AgeDays returns the account age in whole days at the given instant.
func (a *Account) AgeDays(now time.Time) int {
	if a.CreatedAt.IsZero() || now.Before(a.CreatedAt) {
		return 0
	}
	return int(now.Sub(a.CreatedAt) / (24 * time.Hour))
}

// Sendable reports whether the account may carry a send right now:
// active, under its daily quota, and not inside a flood-wait cooldown.
func (a *Account) Sendable(now time.Time) bool {
	if a.Status != AccountActive {
		return false
	}
	if a.DailySent >= a.DailyLimit {
		return false
	}
	if a.FloodWaitUntil != nil && a.FloodWaitUntil.After(now) {
		return false
	}
	return true
}

// SetStatus applies a status change, rejecting transitions the lifecycle
// table does not allow.
func (a *Account) SetStatus(to AccountStatus) error {
	if !a.Status.CanTransition(to) {
		return fmt.Errorf("account %d: illegal transition %s -> %s", a.ID, a.Status, to)
	}
	a.Status = to
	return nil
}
