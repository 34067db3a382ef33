package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"tgblast/internal/domain"
	"tgblast/internal/notify"
	"tgblast/internal/pacing"
	"tgblast/internal/pool"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

// memStore is an in-memory storage.Store for dispatcher tests.
type memStore struct {
	mu         sync.Mutex
	accounts   map[int64]*domain.Account
	campaigns  map[string]*domain.Campaign
	templates  map[string]*domain.Template
	sources    map[string]*domain.RecipientSource
	recipients []*domain.Recipient
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  map[int64]*domain.Account{},
		campaigns: map[string]*domain.Campaign{},
		templates: map[string]*domain.Template{},
		sources:   map[string]*domain.RecipientSource{},
	}
}

func (m *memStore) Account(_ context.Context, id int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) AccountsByIDs(_ context.Context, ids []int64) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Account
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) AccountsByStatus(_ context.Context, st domain.AccountStatus, _ int) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Account
	for _, a := range m.accounts {
		if a.Status == st {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) AccountsByOwner(_ context.Context, ownerID int64) ([]*domain.Account, error) {
	return nil, nil
}

func (m *memStore) CreateAccount(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memStore) UpdateAccount(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memStore) ResetDailyCounters(context.Context) (int64, error) { return 0, nil }

func (m *memStore) ReleaseFloodWaits(_ context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) Campaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CampaignsByStatus(_ context.Context, st domain.CampaignStatus) ([]*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == st {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CampaignsDue(_ context.Context, now time.Time) ([]*domain.Campaign, error) {
	return nil, nil
}

func (m *memStore) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memStore) UpdateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memStore) Template(_ context.Context, id string) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) CreateTemplate(_ context.Context, t *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m *memStore) Source(_ context.Context, id string) (*domain.RecipientSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) SourcesByStatus(_ context.Context, st domain.SourceStatus, _ int) ([]*domain.RecipientSource, error) {
	return nil, nil
}

func (m *memStore) CreateSource(_ context.Context, s *domain.RecipientSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sources[s.ID] = &cp
	return nil
}

func (m *memStore) UpdateSource(_ context.Context, s *domain.RecipientSource) error {
	return m.CreateSource(nil, s)
}

func (m *memStore) InsertRecipients(_ context.Context, sourceID string, rs []domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range rs {
		cp := rs[i]
		cp.ID = int64(len(m.recipients) + 1)
		cp.SourceID = sourceID
		m.recipients = append(m.recipients, &cp)
	}
	return nil
}

func (m *memStore) NextUnsent(_ context.Context, sourceID string, ceil int) (*domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.SourceID == sourceID && !r.Sent && r.Attempts < ceil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) CountUnsent(_ context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.recipients {
		if r.SourceID == sourceID && !r.Sent {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ClaimSent(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.ID == id {
			if r.Sent {
				return false, nil
			}
			r.Sent = true
			r.SentAt = &at
			return true, nil
		}
	}
	return false, storage.ErrNotFound
}

func (m *memStore) BumpAttempts(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.ID == id {
			r.Attempts++
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) Close() error { return nil }

// scriptSender replays a fixed outcome sequence.
type scriptSender struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	sends    []int64 // account IDs in send order
}

func (s *scriptSender) Send(_ context.Context, a *domain.Account, _ *domain.Recipient, _ string) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, a.ID)
	if len(s.outcomes) == 0 {
		return domain.Sent()
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out
}

type captureNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *captureNotifier) Notify(ev domain.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *captureNotifier) has(t domain.EventType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

type fixture struct {
	store  *memStore
	sender *scriptSender
	events *captureNotifier
	svc    *Service
}

// newFixture seeds one running campaign ("c1") over source "s1" and template
// "t1" with the given accounts and recipient count.
func newFixture(t *testing.T, accounts []*domain.Account, recipients int, settings domain.CampaignSettings) *fixture {
	t.Helper()
	store := newMemStore()
	ctx := context.Background()

	var ids []int64
	for _, a := range accounts {
		if err := store.CreateAccount(ctx, a); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}
	if err := store.CreateTemplate(ctx, &domain.Template{ID: "t1", Body: "hi {{ first_name }}"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateSource(ctx, &domain.RecipientSource{ID: "s1", Status: domain.SourceReady, Total: recipients}); err != nil {
		t.Fatal(err)
	}
	rs := make([]domain.Recipient, recipients)
	for i := range rs {
		rs[i] = domain.Recipient{TgID: int64(100 + i), FirstName: "R"}
	}
	if err := store.InsertRecipients(ctx, "s1", rs); err != nil {
		t.Fatal(err)
	}
	if settings.DelayMin == 0 && settings.DelayMax == 0 {
		settings.DelayMin, settings.DelayMax = time.Millisecond, 2*time.Millisecond
	}
	c := &domain.Campaign{
		ID: "c1", SourceID: "s1", TemplateID: "t1",
		AccountIDs: ids, Status: domain.CampaignRunning,
		TotalCount: recipients, Settings: settings,
	}
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatal(err)
	}

	sender := &scriptSender{}
	events := &captureNotifier{}
	svc := New(Config{RetryCeil: 3, SendTimeout: time.Second}, store,
		pool.New(pool.Config{}, store, logx.Nop()),
		pacing.New(pacing.Config{RatePerSec: 1000}),
		sender, events, logx.Nop())
	return &fixture{store: store, sender: sender, events: events, svc: svc}
}

// tickN runs up to n ticks, clearing the pacing gate between ticks so tests
// do not sleep.
func (f *fixture) tickN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := f.svc.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		f.svc.mu.Lock()
		f.svc.nextDue = map[string]time.Time{}
		f.svc.mu.Unlock()
	}
}

func (f *fixture) campaign(t *testing.T) *domain.Campaign {
	t.Helper()
	c, err := f.store.Campaign(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func testAccount(id int64) *domain.Account {
	return &domain.Account{
		ID: id, Status: domain.AccountActive,
		DailyLimit: 10, CreatedAt: time.Now(),
		Name: "acct",
	}
}

func TestDispatchSendsAndCompletes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 3, domain.CampaignSettings{AutoSwitch: true})

	f.tickN(t, 4)

	c := f.campaign(t)
	if c.SentCount != 3 || c.FailedCount != 0 {
		t.Fatalf("counters: sent=%d failed=%d", c.SentCount, c.FailedCount)
	}
	if c.Status != domain.CampaignCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}
	a, _ := f.store.Account(context.Background(), 1)
	if a.DailySent != 3 || a.Successes != 3 {
		t.Fatalf("account counters: %+v", a)
	}
	if !f.events.has(domain.EventCampaignCompleted) {
		t.Fatal("missing completion event")
	}
}

func TestDispatchPacingDelayGatesNextSend(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 2,
		domain.CampaignSettings{AutoSwitch: true, DelayMin: time.Hour, DelayMax: time.Hour})

	// First tick sends; second tick is inside the pacing delay and must not.
	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c := f.campaign(t); c.SentCount != 1 {
		t.Fatalf("SentCount = %d, want 1 (second send gated)", c.SentCount)
	}
}

func TestDispatchThrottleSwitchesAccount(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1), testAccount(2)}, 2,
		domain.CampaignSettings{AutoSwitch: true})
	f.sender.outcomes = []domain.Outcome{
		domain.Throttled(time.Hour), // first account trips flood wait
		domain.Sent(),
		domain.Sent(),
	}

	f.tickN(t, 4)

	c := f.campaign(t)
	if c.SentCount != 2 || c.FailedCount != 0 {
		t.Fatalf("counters: sent=%d failed=%d", c.SentCount, c.FailedCount)
	}
	if c.Status != domain.CampaignCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}
	// Throttle must not consume the recipient: 3 sends total for 2 recipients.
	if len(f.sender.sends) != 3 {
		t.Fatalf("sends = %v, want 3 attempts", f.sender.sends)
	}
	throttled, _ := f.store.Account(context.Background(), f.sender.sends[0])
	if throttled.Status != domain.AccountFloodWait {
		t.Fatalf("first account status = %s, want flood_wait", throttled.Status)
	}
	if !f.events.has(domain.EventAccountFloodWait) {
		t.Fatal("missing flood wait event")
	}
}

func TestDispatchExhaustedPoolAutoSwitchDefers(t *testing.T) {
	t.Parallel()
	a := testAccount(1)
	a.DailySent = a.DailyLimit
	f := newFixture(t, []*domain.Account{a}, 1, domain.CampaignSettings{AutoSwitch: true})

	f.tickN(t, 2)

	c := f.campaign(t)
	if c.Status != domain.CampaignRunning {
		t.Fatalf("status = %s, want running (transient backpressure)", c.Status)
	}
	if c.SentCount != 0 {
		t.Fatalf("SentCount = %d, want 0", c.SentCount)
	}
}

func TestDispatchExhaustedPoolNoAutoSwitchFails(t *testing.T) {
	t.Parallel()
	a := testAccount(1)
	a.DailySent = a.DailyLimit
	f := newFixture(t, []*domain.Account{a}, 1, domain.CampaignSettings{AutoSwitch: false})

	f.tickN(t, 1)

	c := f.campaign(t)
	if c.Status != domain.CampaignFailed {
		t.Fatalf("status = %s, want failed", c.Status)
	}
	if c.FailReason == "" {
		t.Fatal("expected a fail reason")
	}
	if !f.events.has(domain.EventCampaignFailed) {
		t.Fatal("missing failure event")
	}
}

func TestDispatchTransientErrorRetriesThenGivesUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 1, domain.CampaignSettings{AutoSwitch: true})
	f.sender.outcomes = []domain.Outcome{
		domain.SendError("net"),
		domain.SendError("net"),
		domain.SendError("net"),
	}

	f.tickN(t, 5)

	c := f.campaign(t)
	if c.SentCount != 0 || c.FailedCount != 1 {
		t.Fatalf("counters: sent=%d failed=%d, want 0/1", c.SentCount, c.FailedCount)
	}
	if c.Status != domain.CampaignCompleted {
		t.Fatalf("status = %s, want completed (all recipients visited)", c.Status)
	}
	// RetryCeil=3: attempts 1, 2, then give-up on the third.
	if len(f.sender.sends) != 3 {
		t.Fatalf("send attempts = %d, want 3", len(f.sender.sends))
	}
}

func TestDispatchPermanentRecipientErrorFailsImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 2, domain.CampaignSettings{AutoSwitch: true})
	f.sender.outcomes = []domain.Outcome{
		domain.RecipientRejected("blocked the bot"),
		domain.Sent(),
	}

	f.tickN(t, 3)

	c := f.campaign(t)
	if c.SentCount != 1 || c.FailedCount != 1 {
		t.Fatalf("counters: sent=%d failed=%d, want 1/1", c.SentCount, c.FailedCount)
	}
	if c.Status != domain.CampaignCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}
	// No retry for a permanent rejection.
	if len(f.sender.sends) != 2 {
		t.Fatalf("send attempts = %d, want 2", len(f.sender.sends))
	}
}

func TestDispatchFatalBlocksAccountAndContinues(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1), testAccount(2)}, 1,
		domain.CampaignSettings{AutoSwitch: true})
	f.sender.outcomes = []domain.Outcome{
		domain.Fatal("unauthorized"),
		domain.Sent(),
	}

	f.tickN(t, 3)

	blocked, _ := f.store.Account(context.Background(), f.sender.sends[0])
	if blocked.Status != domain.AccountBlocked {
		t.Fatalf("account status = %s, want blocked", blocked.Status)
	}
	c := f.campaign(t)
	if c.SentCount != 1 || c.Status != domain.CampaignCompleted {
		t.Fatalf("campaign: sent=%d status=%s", c.SentCount, c.Status)
	}
	if !f.events.has(domain.EventAccountBlocked) {
		t.Fatal("missing blocked event")
	}
}

func TestDispatchQuietHoursLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 1, domain.CampaignSettings{AutoSwitch: true})
	// Window covering the whole day keeps every tick quiet.
	f.svc.pacing.Apply(pacing.Config{Quiet: pacing.QuietHours{Start: "00:00", End: "23:59", Location: time.UTC}})

	f.tickN(t, 3)

	c := f.campaign(t)
	if c.SentCount != 0 || c.FailedCount != 0 || c.Status != domain.CampaignRunning {
		t.Fatalf("quiet hours changed state: %+v", c)
	}
	if len(f.sender.sends) != 0 {
		t.Fatalf("sends during quiet hours: %v", f.sender.sends)
	}
}

func TestDispatchRecordsCurrentAccount(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(7)}, 2, domain.CampaignSettings{AutoSwitch: true})

	f.tickN(t, 1)

	c := f.campaign(t)
	if c.CurrentAccountID == nil || *c.CurrentAccountID != 7 {
		t.Fatalf("CurrentAccountID = %v, want 7", c.CurrentAccountID)
	}
}

func TestDispatchProgressReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 4,
		domain.CampaignSettings{AutoSwitch: true, ReportEvery: 2})

	f.tickN(t, 5)

	n := 0
	f.events.mu.Lock()
	for _, ev := range f.events.events {
		if ev.Type == domain.EventCampaignProgress {
			n++
		}
	}
	f.events.mu.Unlock()
	if n != 2 {
		t.Fatalf("progress events = %d, want 2 (every 2 of 4 sends)", n)
	}
}

// cancelSender cancels the tick context from inside Send and then reports the
// scripted outcome, like a shutdown racing an in-flight send.
type cancelSender struct {
	cancel  context.CancelFunc
	outcome domain.Outcome
}

func (s *cancelSender) Send(context.Context, *domain.Account, *domain.Recipient, string) domain.Outcome {
	s.cancel()
	return s.outcome
}

func TestDispatchStopMidSendAbandonsUnconfirmed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 1, domain.CampaignSettings{AutoSwitch: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.sender = &cancelSender{cancel: cancel, outcome: domain.SendError("net")}

	if err := f.svc.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// Nothing was confirmed, so nothing may be recorded.
	left, err := f.store.CountUnsent(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if left != 1 {
		t.Fatalf("unsent = %d, want 1 (recipient untouched)", left)
	}
	c := f.campaign(t)
	if c.SentCount != 0 || c.FailedCount != 0 {
		t.Fatalf("counters mutated: sent=%d failed=%d", c.SentCount, c.FailedCount)
	}
	a, _ := f.store.Account(context.Background(), 1)
	if a.DailySent != 0 || a.ConsecutiveErrors != 0 {
		t.Fatalf("account mutated: %+v", a)
	}

	// The lease was released, so the next process picks the recipient up again.
	f.svc.sender = &scriptSender{}
	f.tickN(t, 2)
	if c := f.campaign(t); c.SentCount != 1 || c.Status != domain.CampaignCompleted {
		t.Fatalf("resume after abandon: sent=%d status=%s", c.SentCount, c.Status)
	}
}

func TestDispatchStopMidSendRecordsConfirmed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []*domain.Account{testAccount(1)}, 1, domain.CampaignSettings{AutoSwitch: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.sender = &cancelSender{cancel: cancel, outcome: domain.Sent()}

	if err := f.svc.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// The provider confirmed the send; cancellation must not lose the commit.
	left, err := f.store.CountUnsent(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Fatalf("unsent = %d, want 0 (send recorded)", left)
	}
	c := f.campaign(t)
	if c.SentCount != 1 || c.Status != domain.CampaignCompleted {
		t.Fatalf("campaign: sent=%d status=%s", c.SentCount, c.Status)
	}
	a, _ := f.store.Account(context.Background(), 1)
	if a.DailySent != 1 || a.Successes != 1 {
		t.Fatalf("account not committed: %+v", a)
	}
}

var _ storage.Store = (*memStore)(nil)
var _ notify.Notifier = (*captureNotifier)(nil)
