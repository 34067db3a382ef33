package storage

import (
	"context"
	"errors"
	"time"

	"tgblast/internal/domain"
)

var (
	ErrNotFound = errors.New("storage: not found")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// AccountStore is the account persistence surface.
//
// Update is a full-record write; the engine serializes writers per account
// (see pool.Pool), so a plain UPDATE is race-free within one process.
type AccountStore interface {
	Account(ctx context.Context, id int64) (*domain.Account, error)
	AccountsByIDs(ctx context.Context, ids []int64) ([]*domain.Account, error)
	AccountsByStatus(ctx context.Context, st domain.AccountStatus, limit int) ([]*domain.Account, error)
	AccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error)
	CreateAccount(ctx context.Context, a *domain.Account) error
	UpdateAccount(ctx context.Context, a *domain.Account) error

	// ResetDailyCounters zeroes daily_sent for all accounts (24h cycle).
	ResetDailyCounters(ctx context.Context) (int64, error)
	// ReleaseFloodWaits returns flood_wait accounts whose cooldown has
	// elapsed to active, and reports how many were released.
	ReleaseFloodWaits(ctx context.Context, now time.Time) (int64, error)
}

// CampaignStore is the campaign persistence surface.
type CampaignStore interface {
	Campaign(ctx context.Context, id string) (*domain.Campaign, error)
	CampaignsByStatus(ctx context.Context, st domain.CampaignStatus) ([]*domain.Campaign, error)
	// CampaignsDue returns pending campaigns whose start_at <= now.
	CampaignsDue(ctx context.Context, now time.Time) ([]*domain.Campaign, error)
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	UpdateCampaign(ctx context.Context, c *domain.Campaign) error

	Template(ctx context.Context, id string) (*domain.Template, error)
	CreateTemplate(ctx context.Context, t *domain.Template) error
}

// RecipientStore is the recipient/source persistence surface.
type RecipientStore interface {
	Source(ctx context.Context, id string) (*domain.RecipientSource, error)
	SourcesByStatus(ctx context.Context, st domain.SourceStatus, limit int) ([]*domain.RecipientSource, error)
	CreateSource(ctx context.Context, s *domain.RecipientSource) error
	UpdateSource(ctx context.Context, s *domain.RecipientSource) error

	InsertRecipients(ctx context.Context, sourceID string, rs []domain.Recipient) error
	// NextUnsent returns the oldest unsent recipient of the source whose
	// attempt count is below ceil, or ErrNotFound. Creation order, no
	// reordering, so every recipient is eventually covered.
	NextUnsent(ctx context.Context, sourceID string, ceil int) (*domain.Recipient, error)
	CountUnsent(ctx context.Context, sourceID string) (int, error)
	// ClaimSent marks the recipient sent iff it is still unsent. The false
	// return means another tick already claimed it.
	ClaimSent(ctx context.Context, id int64, at time.Time) (bool, error)
	// BumpAttempts increments the per-recipient retry counter.
	BumpAttempts(ctx context.Context, id int64) error
}

// Store is the full persistence interface consumed by the engine.
type Store interface {
	AccountStore
	CampaignStore
	RecipientStore
	Close() error
}
