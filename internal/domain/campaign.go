package domain

import (
	"fmt"
	"time"
)

// CampaignStatus is the lifecycle state of a bulk-send job.
type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignFailed    CampaignStatus = "failed"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignPending: {CampaignRunning, CampaignStopped},
	CampaignRunning: {CampaignPaused, CampaignCompleted, CampaignStopped, CampaignFailed},
	CampaignPaused:  {CampaignRunning, CampaignStopped},
	// completed/stopped/failed are terminal
	CampaignCompleted: {},
	CampaignStopped:   {},
	CampaignFailed:    {},
}

// CanTransition reports whether from -> to is a legal campaign status change.
func (from CampaignStatus) CanTransition(to CampaignStatus) bool {
	if from == to {
		return true
	}
	for _, s := range campaignTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignCompleted, CampaignStopped, CampaignFailed:
		return true
	}
	return false
}

// CampaignSettings is per-campaign pacing and reporting policy.
type CampaignSettings struct {
	DelayMin    time.Duration
	DelayMax    time.Duration
	AutoSwitch  bool
	ReportEvery int
}

// Campaign is one bulk-send job over a recipient source using a pool of accounts.
type Campaign struct {
	ID      string
	OwnerID int64
	Name    string

	SourceID   string
	TemplateID string

	// AccountIDs is the eligible pool, resolved from a folder at creation time.
	AccountIDs []int64

	// CurrentAccountID is advisory: it records the account last used by the
	// dispatcher, and is recomputed by acquire when absent or exhausted.
	CurrentAccountID *int64

	Status CampaignStatus

	SentCount   int
	FailedCount int
	TotalCount  int

	Settings CampaignSettings

	// StartAt, when set on a pending campaign, makes the promotion worker
	// move it to running once the time has passed.
	StartAt *time.Time

	FailReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether every recipient has been visited.
func (c *Campaign) Done() bool {
	return c.SentCount+c.FailedCount >= c.TotalCount
}

// SetStatus applies a status change, rejecting transitions the lifecycle
// table does not allow.
func (c *Campaign) SetStatus(to CampaignStatus) error {
	if !c.Status.CanTransition(to) {
		return fmt.Errorf("campaign %s: illegal transition %s -> %s", c.ID, c.Status, to)
	}
	c.Status = to
	return nil
}

// Template is a reusable message body rendered per recipient.
type Template struct {
	ID        string
	OwnerID   int64
	Name      string
	Body      string
	CreatedAt time.Time
}
