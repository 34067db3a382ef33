package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tgblast/internal/domain"
)

const accountCols = `id, owner_id, phone, name, token, status, daily_limit, daily_sent,
	successes, failures, flood_events, consecutive_errors, flood_wait_until,
	last_error, folder_id, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var a domain.Account
	var status string
	var fw, folder sql.NullInt64
	var created, updated int64
	err := row.Scan(&a.ID, &a.OwnerID, &a.Phone, &a.Name, &a.Token, &status, &a.DailyLimit,
		&a.DailySent, &a.Successes, &a.Failures, &a.FloodEvents,
		&a.ConsecutiveErrors, &fw, &a.LastError, &folder, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AccountStatus(status)
	a.FloodWaitUntil = scanTime(fw)
	a.FolderID = scanInt64(folder)
	a.CreatedAt = time.UnixMilli(created)
	a.UpdatedAt = time.UnixMilli(updated)
	return &a, nil
}

func (s *sqliteStore) Account(ctx context.Context, id int64) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) AccountsByIDs(ctx context.Context, ids []int64) ([]*domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	q := `SELECT ` + accountCols + ` FROM accounts WHERE id IN (` + strings.Join(ph, ",") + `) ORDER BY id`
	return s.queryAccounts(ctx, q, args...)
}

func (s *sqliteStore) AccountsByStatus(ctx context.Context, st domain.AccountStatus, limit int) ([]*domain.Account, error) {
	q := `SELECT ` + accountCols + ` FROM accounts WHERE status = ? ORDER BY id`
	args := []any{string(st)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryAccounts(ctx, q, args...)
}

func (s *sqliteStore) AccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountCols+` FROM accounts WHERE owner_id = ? ORDER BY id`, ownerID)
}

func (s *sqliteStore) queryAccounts(ctx context.Context, q string, args ...any) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = domain.AccountPending
	}
	if a.DailyLimit <= 0 {
		a.DailyLimit = domain.DefaultDailyLimit
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(owner_id, phone, name, token, status, daily_limit, daily_sent,
		    successes, failures, flood_events, consecutive_errors, flood_wait_until,
		    last_error, folder_id, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.OwnerID, a.Phone, a.Name, a.Token, string(a.Status), a.DailyLimit, a.DailySent,
		a.Successes, a.Failures, a.FloodEvents, a.ConsecutiveErrors,
		nullTime(a.FloodWaitUntil), a.LastError, nullInt64(a.FolderID),
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (s *sqliteStore) UpdateAccount(ctx context.Context, a *domain.Account) error {
	a.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET owner_id=?, phone=?, name=?, token=?, status=?, daily_limit=?,
		    daily_sent=?, successes=?, failures=?, flood_events=?,
		    consecutive_errors=?, flood_wait_until=?, last_error=?, folder_id=?,
		    updated_at=?
		 WHERE id=?`,
		a.OwnerID, a.Phone, a.Name, a.Token, string(a.Status), a.DailyLimit,
		a.DailySent, a.Successes, a.Failures, a.FloodEvents,
		a.ConsecutiveErrors, nullTime(a.FloodWaitUntil), a.LastError,
		nullInt64(a.FolderID), a.UpdatedAt.UnixMilli(), a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("account %d: %w", a.ID, ErrNotFound)
	}
	return err
}

func (s *sqliteStore) ResetDailyCounters(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET daily_sent = 0, updated_at = ? WHERE daily_sent > 0`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) ReleaseFloodWaits(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ?, flood_wait_until = NULL, updated_at = ?
		 WHERE status = ? AND flood_wait_until IS NOT NULL AND flood_wait_until <= ?`,
		string(domain.AccountActive), now.UnixMilli(),
		string(domain.AccountFloodWait), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
