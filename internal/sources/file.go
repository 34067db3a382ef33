// Package sources resolves recipient source references. The file parser reads
// audience exports from disk: CSV with a tg_id column, or plain line lists.
package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tgblast/internal/domain"
	"tgblast/pkg/logx"
)

// FileParser parses sources whose ref is a path under Root. Refs escaping
// Root are rejected.
type FileParser struct {
	root string
	log  logx.Logger
}

func NewFileParser(root string, log logx.Logger) *FileParser {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileParser{root: root, log: log}
}

func (p *FileParser) Parse(ctx context.Context, src *domain.RecipientSource) ([]domain.Recipient, error) {
	ref := strings.TrimSpace(src.Ref)
	if ref == "" {
		return nil, fmt.Errorf("source %s: empty ref", src.ID)
	}
	path := ref
	if p.root != "" {
		path = filepath.Join(p.root, filepath.Clean("/"+ref))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}
	defer f.Close()

	var rs []domain.Recipient
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rs, err = parseCSV(ctx, f)
	} else {
		rs, err = parseLines(ctx, f)
	}
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}
	return dedup(rs), nil
}

// parseCSV reads rows of tg_id,username,first_name,last_name. A header row is
// detected by a non-numeric first field and skipped.
func parseCSV(ctx context.Context, f io.Reader) ([]domain.Recipient, error) {
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out []domain.Recipient
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 {
			continue
		}
		id, idErr := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if first {
			first = false
			if idErr != nil {
				continue // header
			}
		} else if idErr != nil {
			return nil, fmt.Errorf("line %d: bad tg_id %q", line(r), rec[0])
		}
		rcpt := domain.Recipient{TgID: id}
		if len(rec) > 1 {
			rcpt.Username = strings.TrimPrefix(strings.TrimSpace(rec[1]), "@")
		}
		if len(rec) > 2 {
			rcpt.FirstName = strings.TrimSpace(rec[2])
		}
		if len(rec) > 3 {
			rcpt.LastName = strings.TrimSpace(rec[3])
		}
		out = append(out, rcpt)
	}
	return out, nil
}

func line(r *csv.Reader) int {
	l, _ := r.FieldPos(0)
	return l
}

// parseLines reads one recipient per line: a numeric id or an @username.
func parseLines(ctx context.Context, f io.Reader) ([]domain.Recipient, error) {
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var out []domain.Recipient
	for _, ln := range strings.Split(string(b), "\n") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		if id, err := strconv.ParseInt(ln, 10, 64); err == nil {
			out = append(out, domain.Recipient{TgID: id})
			continue
		}
		out = append(out, domain.Recipient{Username: strings.TrimPrefix(ln, "@")})
	}
	return out, nil
}

// dedup drops duplicate recipients, preferring the first occurrence. Identity
// is the numeric id when present, otherwise the username.
func dedup(in []domain.Recipient) []domain.Recipient {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, r := range in {
		var key string
		switch {
		case r.TgID != 0:
			key = "id:" + strconv.FormatInt(r.TgID, 10)
		case r.Username != "":
			key = "u:" + strings.ToLower(r.Username)
		default:
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
