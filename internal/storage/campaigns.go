package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tgblast/internal/domain"
)

const campaignCols = `id, owner_id, name, source_id, template_id, account_ids,
	current_account_id, status, sent_count, failed_count, total_count,
	delay_min_ms, delay_max_ms, auto_switch, report_every, start_at,
	fail_reason, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	var c domain.Campaign
	var status, accountIDs string
	var cur, startAt sql.NullInt64
	var delayMin, delayMax, created, updated int64
	var autoSwitch int
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.SourceID, &c.TemplateID,
		&accountIDs, &cur, &status, &c.SentCount, &c.FailedCount, &c.TotalCount,
		&delayMin, &delayMax, &autoSwitch, &c.Settings.ReportEvery, &startAt,
		&c.FailReason, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(accountIDs), &c.AccountIDs); err != nil {
		return nil, fmt.Errorf("campaign %s: account_ids: %w", c.ID, err)
	}
	c.Status = domain.CampaignStatus(status)
	c.CurrentAccountID = scanInt64(cur)
	c.StartAt = scanTime(startAt)
	c.Settings.DelayMin = time.Duration(delayMin) * time.Millisecond
	c.Settings.DelayMax = time.Duration(delayMax) * time.Millisecond
	c.Settings.AutoSwitch = autoSwitch != 0
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}

func (s *sqliteStore) Campaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignCols+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) CampaignsByStatus(ctx context.Context, st domain.CampaignStatus) ([]*domain.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE status = ? ORDER BY created_at`, string(st))
}

func (s *sqliteStore) CampaignsDue(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignCols+` FROM campaigns
		 WHERE status = ? AND start_at IS NOT NULL AND start_at <= ?
		 ORDER BY start_at`,
		string(domain.CampaignPending), now.UnixMilli())
}

func (s *sqliteStore) queryCampaigns(ctx context.Context, q string, args ...any) ([]*domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.CampaignPending
	}
	ids, err := json.Marshal(c.AccountIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns(id, owner_id, name, source_id, template_id,
		    account_ids, current_account_id, status, sent_count, failed_count,
		    total_count, delay_min_ms, delay_max_ms, auto_switch, report_every,
		    start_at, fail_reason, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, c.Name, c.SourceID, c.TemplateID, string(ids),
		nullInt64(c.CurrentAccountID), string(c.Status), c.SentCount,
		c.FailedCount, c.TotalCount, c.Settings.DelayMin.Milliseconds(),
		c.Settings.DelayMax.Milliseconds(), boolInt(c.Settings.AutoSwitch),
		c.Settings.ReportEvery, nullTime(c.StartAt), c.FailReason,
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	c.UpdatedAt = time.Now()
	ids, err := json.Marshal(c.AccountIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET owner_id=?, name=?, source_id=?, template_id=?,
		    account_ids=?, current_account_id=?, status=?, sent_count=?,
		    failed_count=?, total_count=?, delay_min_ms=?, delay_max_ms=?,
		    auto_switch=?, report_every=?, start_at=?, fail_reason=?, updated_at=?
		 WHERE id=?`,
		c.OwnerID, c.Name, c.SourceID, c.TemplateID, string(ids),
		nullInt64(c.CurrentAccountID), string(c.Status), c.SentCount,
		c.FailedCount, c.TotalCount, c.Settings.DelayMin.Milliseconds(),
		c.Settings.DelayMax.Milliseconds(), boolInt(c.Settings.AutoSwitch),
		c.Settings.ReportEvery, nullTime(c.StartAt), c.FailReason,
		c.UpdatedAt.UnixMilli(), c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("campaign %s: %w", c.ID, ErrNotFound)
	}
	return err
}

func (s *sqliteStore) Template(ctx context.Context, id string) (*domain.Template, error) {
	var t domain.Template
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, body, created_at FROM templates WHERE id = ?`, id).
		Scan(&t.ID, &t.OwnerID, &t.Name, &t.Body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.UnixMilli(created)
	return &t, nil
}

func (s *sqliteStore) CreateTemplate(ctx context.Context, t *domain.Template) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates(id, owner_id, name, body, created_at) VALUES(?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Name, t.Body, t.CreatedAt.UnixMilli())
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
