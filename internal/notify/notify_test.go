package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tgblast/internal/domain"
	"tgblast/pkg/logx"
)

type memTransport struct {
	mu   sync.Mutex
	sent []string
	fail bool
	wake chan struct{}
}

func newMemTransport() *memTransport {
	return &memTransport{wake: make(chan struct{}, 64)}
}

func (m *memTransport) Send(ctx context.Context, ownerID int64, text string) error {
	m.mu.Lock()
	m.sent = append(m.sent, text)
	fail := m.fail
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	if fail {
		return errors.New("transport down")
	}
	return nil
}

func (m *memTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *memTransport) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for m.count() < n {
		select {
		case <-deadline:
			t.Fatalf("only %d sends before deadline, want %d", m.count(), n)
		case <-m.wake:
		}
	}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	tr := newMemTransport()
	s := New(Config{RatePerSec: 100}, tr, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	s.Notify(domain.Event{Type: domain.EventCampaignCompleted, OwnerID: 1, Text: "done"})
	tr.waitFor(t, 1)

	tr.mu.Lock()
	got := tr.sent[0]
	tr.mu.Unlock()
	if got != "done" {
		t.Fatalf("sent %q", got)
	}
}

func TestNotifyFullQueueDrops(t *testing.T) {
	t.Parallel()
	tr := newMemTransport()
	// worker never started: the queue fills up and further events are dropped
	s := New(Config{QueueSize: 2}, tr, logx.Nop())

	for i := 0; i < 5; i++ {
		s.Notify(domain.Event{Type: domain.EventAccountFloodWait, OwnerID: 1, AccountID: int64(i)})
	}
	if n := len(s.queue); n != 2 {
		t.Fatalf("queue holds %d, want 2", n)
	}
}

func TestNotifyDedupWindow(t *testing.T) {
	t.Parallel()
	tr := newMemTransport()
	s := New(Config{RatePerSec: 100, DedupWindow: time.Hour}, tr, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	ev := domain.Event{Type: domain.EventAccountFloodWait, OwnerID: 1, CampaignID: "c1", AccountID: 7, Text: "flood"}
	s.Notify(ev)
	s.Notify(ev) // same key, inside the window
	other := ev
	other.AccountID = 8
	s.Notify(other)

	tr.waitFor(t, 2)
	time.Sleep(50 * time.Millisecond)
	if n := tr.count(); n != 2 {
		t.Fatalf("sent %d, want 2 (duplicate suppressed)", n)
	}
}

func TestNotifyTransportFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()
	tr := newMemTransport()
	tr.fail = true
	s := New(Config{RatePerSec: 100}, tr, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	s.Notify(domain.Event{Type: domain.EventCampaignFailed, OwnerID: 1, Text: "x"})
	s.Notify(domain.Event{Type: domain.EventCampaignFailed, OwnerID: 2, Text: "y"})
	tr.waitFor(t, 2) // worker keeps going after a failed send
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newMemTransport(), logx.Nop())
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestNopNotifier(t *testing.T) {
	t.Parallel()
	Nop().Notify(domain.Event{Type: domain.EventCampaignCompleted})
}
