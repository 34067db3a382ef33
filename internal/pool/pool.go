package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tgblast/internal/domain"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

// Config tunes account health policy.
type Config struct {
	// ErrorCeiling is the consecutive-error count at which an account is
	// pulled from rotation (status=error) until operator intervention.
	ErrorCeiling int
	// DefaultFloodWait applies when the provider throttles without
	// supplying a cooldown duration.
	DefaultFloodWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.ErrorCeiling <= 0 {
		c.ErrorCeiling = 5
	}
	if c.DefaultFloodWait <= 0 {
		c.DefaultFloodWait = 30 * time.Minute
	}
	return c
}

// Pool answers "which account, if any, can send right now" over a campaign's
// eligible account list, and applies send outcomes back to account records.
//
// Quota consumption must not race across campaigns sharing an account, so the
// acquire/commit pair is bracketed by a per-account mutex: Acquire returns a
// Lease holding the account lock, and Commit/Release give it back.
type Pool struct {
	cfg   Config
	store storage.AccountStore
	log   logx.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(cfg Config, store storage.AccountStore, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		cfg:   cfg.withDefaults(),
		store: store,
		log:   log,
		locks: map[int64]*sync.Mutex{},
	}
}

// Lease is an acquired account plus the right to commit one send outcome
// against it. Exactly one of Commit or Release must be called.
type Lease struct {
	Account *domain.Account

	p    *Pool
	lock *sync.Mutex
	done bool
}

// Acquire returns the best eligible account of the campaign, or (nil, nil)
// when none qualifies. A nil lease is the dispatcher's backpressure signal,
// not an error.
//
// Selection: status active, daily_sent < daily_limit, no pending flood wait.
// Tie-break: highest reliability score, then lowest daily_sent (spreads load),
// then lowest id (deterministic for testing).
func (p *Pool) Acquire(ctx context.Context, c *domain.Campaign) (*Lease, error) {
	accounts, err := p.store.AccountsByIDs(ctx, c.AccountIDs)
	if err != nil {
		return nil, fmt.Errorf("pool: load accounts: %w", err)
	}
	now := time.Now()

	eligible := accounts[:0]
	for _, a := range accounts {
		if a.Sendable(now) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	type ranked struct {
		a     *domain.Account
		score float64
	}
	rs := make([]ranked, 0, len(eligible))
	for _, a := range eligible {
		rs = append(rs, ranked{a: a, score: Score(a, now)})
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		if rs[i].a.DailySent != rs[j].a.DailySent {
			return rs[i].a.DailySent < rs[j].a.DailySent
		}
		return rs[i].a.ID < rs[j].a.ID
	})

	for _, r := range rs {
		lock := p.lockFor(r.a.ID)
		// Skip accounts another campaign is mid-send on; the next tick
		// will see them again.
		if !lock.TryLock() {
			continue
		}
		// Re-read under the lock: the holder we raced with may have
		// consumed quota or tripped a flood wait.
		fresh, err := p.store.Account(ctx, r.a.ID)
		if err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("pool: reload account %d: %w", r.a.ID, err)
		}
		if !fresh.Sendable(time.Now()) {
			lock.Unlock()
			continue
		}
		return &Lease{Account: fresh, p: p, lock: lock}, nil
	}
	return nil, nil
}

// Commit applies the send outcome to the account record and releases the lease.
//
//   - sent: consumes one unit of daily quota, resets consecutive errors
//   - throttled: account enters flood_wait until now+cooldown; quota untouched
//   - error: consecutive errors grow; at the ceiling the account leaves rotation
//   - fatal: account is blocked immediately
func (l *Lease) Commit(ctx context.Context, out domain.Outcome) error {
	if l.done {
		return nil
	}
	defer l.release()

	a := l.Account
	now := time.Now()

	switch out.Kind {
	case domain.OutcomeSent:
		a.DailySent++
		a.Successes++
		a.ConsecutiveErrors = 0
	case domain.OutcomeThrottled:
		wait := out.RetryAfter
		if wait <= 0 {
			wait = l.p.cfg.DefaultFloodWait
		}
		until := now.Add(wait)
		a.FloodWaitUntil = &until
		a.FloodEvents++
		if err := a.SetStatus(domain.AccountFloodWait); err != nil {
			return err
		}
	case domain.OutcomeError:
		a.Failures++
		a.ConsecutiveErrors++
		a.LastError = out.Reason
		if a.ConsecutiveErrors >= l.p.cfg.ErrorCeiling {
			if err := a.SetStatus(domain.AccountError); err != nil {
				return err
			}
		}
	case domain.OutcomeFatal:
		a.LastError = out.Reason
		if err := a.SetStatus(domain.AccountBlocked); err != nil {
			return err
		}
	default:
		return fmt.Errorf("pool: unknown outcome %q", out.Kind)
	}

	if err := l.p.store.UpdateAccount(ctx, a); err != nil {
		return fmt.Errorf("pool: commit account %d: %w", a.ID, err)
	}
	return nil
}

// Release gives the lease back without consuming quota. Used on paths where
// the send was never attempted (shutdown, render failure).
func (l *Lease) Release() {
	if l.done {
		return
	}
	l.release()
}

func (l *Lease) release() {
	l.done = true
	l.lock.Unlock()
}

func (p *Pool) lockFor(id int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.locks[id]
	if !ok {
		m = &sync.Mutex{}
		p.locks[id] = m
	}
	return m
}
