package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tgblast/internal/domain"
)

// Config tunes process-wide pacing.
type Config struct {
	// RatePerSec bounds aggregate sends per second across all campaigns.
	RatePerSec int
	// Quiet is an optional blackout window during which no sends occur.
	Quiet QuietHours
}

// Policy computes the delay before a campaign's next send and gates sends
// behind a process-wide token bucket and the quiet-hours window.
type Policy struct {
	mu      sync.Mutex
	quiet   QuietHours
	limiter *rate.Limiter
	rng     *rand.Rand
}

func New(cfg Config) *Policy {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Policy{
		quiet:   cfg.Quiet,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Apply swaps the pacing configuration at runtime.
func (p *Policy) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	p.mu.Lock()
	p.quiet = cfg.Quiet
	p.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	p.mu.Unlock()
}

// NextDelay draws uniformly from the campaign's [delay_min, delay_max] and
// applies ±10% jitter so send timing has no detectable periodicity. When the
// current time falls inside the quiet-hours window the returned delay defers
// past the window end instead.
func (p *Policy) NextDelay(c *domain.Campaign, now time.Time) time.Duration {
	if until, ok := p.QuietUntil(now); ok {
		return until.Sub(now)
	}

	lo, hi := c.Settings.DelayMin, c.Settings.DelayMax
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	d := lo
	if hi > lo {
		p.mu.Lock()
		d = lo + time.Duration(p.rng.Int63n(int64(hi-lo)+1))
		p.mu.Unlock()
	}

	// jitter [0.9, 1.1]
	p.mu.Lock()
	j := 0.9 + p.rng.Float64()*0.2
	p.mu.Unlock()
	return time.Duration(float64(d) * j)
}

// QuietUntil reports whether now falls inside the quiet-hours window and, if
// so, when the window ends.
func (p *Policy) QuietUntil(now time.Time) (time.Time, bool) {
	p.mu.Lock()
	q := p.quiet
	p.mu.Unlock()
	return q.Until(now)
}

// Wait blocks on the process-wide send limiter.
func (p *Policy) Wait(ctx context.Context) error {
	p.mu.Lock()
	l := p.limiter
	p.mu.Unlock()
	return l.Wait(ctx)
}

// QuietHours is a daily blackout window, e.g. {Start: "23:00", End: "08:00"}.
// A window spanning midnight is supported. Empty Start/End disables the gate.
type QuietHours struct {
	Start    string
	End      string
	Location *time.Location
}

// Enabled reports whether a window is configured.
func (q QuietHours) Enabled() bool {
	return strings.TrimSpace(q.Start) != "" && strings.TrimSpace(q.End) != ""
}

// Until returns the end of the current quiet window if now is inside it.
func (q QuietHours) Until(now time.Time) (time.Time, bool) {
	if !q.Enabled() {
		return time.Time{}, false
	}
	loc := q.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	sh, sm, err := parseHHMM(q.Start)
	if err != nil {
		return time.Time{}, false
	}
	eh, em, err := parseHHMM(q.End)
	if err != nil {
		return time.Time{}, false
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), sh, sm, 0, 0, loc)
	end := time.Date(now.Year(), now.Month(), now.Day(), eh, em, 0, 0, loc)

	if !end.After(start) {
		// Window spans midnight: e.g. 23:00 -> 08:00.
		if now.Before(end) {
			return end, true
		}
		if !now.Before(start) {
			return end.Add(24 * time.Hour), true
		}
		return time.Time{}, false
	}
	if !now.Before(start) && now.Before(end) {
		return end, true
	}
	return time.Time{}, false
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
