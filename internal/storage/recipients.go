package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tgblast/internal/domain"
)

func (s *sqliteStore) Source(ctx context.Context, id string) (*domain.RecipientSource, error) {
	var src domain.RecipientSource
	var status string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, ref, status, total, created_at FROM sources WHERE id = ?`, id).
		Scan(&src.ID, &src.OwnerID, &src.Name, &src.Ref, &status, &src.Total, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	src.Status = domain.SourceStatus(status)
	src.CreatedAt = time.UnixMilli(created)
	return &src, nil
}

func (s *sqliteStore) SourcesByStatus(ctx context.Context, st domain.SourceStatus, limit int) ([]*domain.RecipientSource, error) {
	q := `SELECT id, owner_id, name, ref, status, total, created_at FROM sources WHERE status = ? ORDER BY created_at`
	args := []any{string(st)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.RecipientSource
	for rows.Next() {
		var src domain.RecipientSource
		var status string
		var created int64
		if err := rows.Scan(&src.ID, &src.OwnerID, &src.Name, &src.Ref, &status, &src.Total, &created); err != nil {
			return nil, err
		}
		src.Status = domain.SourceStatus(status)
		src.CreatedAt = time.UnixMilli(created)
		out = append(out, &src)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateSource(ctx context.Context, src *domain.RecipientSource) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now()
	}
	if src.Status == "" {
		src.Status = domain.SourcePending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources(id, owner_id, name, ref, status, total, created_at) VALUES(?,?,?,?,?,?,?)`,
		src.ID, src.OwnerID, src.Name, src.Ref, string(src.Status), src.Total, src.CreatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) UpdateSource(ctx context.Context, src *domain.RecipientSource) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET name=?, ref=?, status=?, total=? WHERE id=?`,
		src.Name, src.Ref, string(src.Status), src.Total, src.ID)
	return err
}

func (s *sqliteStore) InsertRecipients(ctx context.Context, sourceID string, rs []domain.Recipient) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO recipients(source_id, tg_id, username, first_name, last_name) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rs {
		if _, err := stmt.ExecContext(ctx, sourceID, r.TgID, r.Username, r.FirstName, r.LastName); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sources SET total = (SELECT COUNT(*) FROM recipients WHERE source_id = ?) WHERE id = ?`,
		sourceID, sourceID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) NextUnsent(ctx context.Context, sourceID string, ceil int) (*domain.Recipient, error) {
	if ceil <= 0 {
		ceil = 1
	}
	var r domain.Recipient
	var sent int
	var sentAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, tg_id, username, first_name, last_name, sent, sent_at, attempts
		 FROM recipients
		 WHERE source_id = ? AND sent = 0 AND attempts < ?
		 ORDER BY id LIMIT 1`,
		sourceID, ceil).
		Scan(&r.ID, &r.SourceID, &r.TgID, &r.Username, &r.FirstName, &r.LastName, &sent, &sentAt, &r.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Sent = sent != 0
	r.SentAt = scanTime(sentAt)
	return &r, nil
}

func (s *sqliteStore) CountUnsent(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipients WHERE source_id = ? AND sent = 0`, sourceID).Scan(&n)
	return n, err
}

func (s *sqliteStore) ClaimSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET sent = 1, sent_at = ? WHERE id = ? AND sent = 0`,
		at.UnixMilli(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) BumpAttempts(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET attempts = attempts + 1 WHERE id = ?`, id)
	return err
}
