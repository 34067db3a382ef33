package dispatch

import (
	"context"
	"time"

	"tgblast/internal/domain"
)

// Sender is the opaque message-send capability. Implementations map their
// provider's responses onto an Outcome; the engine never sees the wire
// protocol. Implementations must honor ctx cancellation.
type Sender interface {
	Send(ctx context.Context, a *domain.Account, r *domain.Recipient, text string) domain.Outcome
}

// Config tunes the dispatcher.
type Config struct {
	// RetryCeil bounds attempts per recipient so a permanently failing
	// recipient cannot loop forever. A recipient whose attempts reach the
	// ceiling is counted as failed and not visited again.
	RetryCeil int
	// SendTimeout bounds one provider call.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryCeil <= 0 {
		c.RetryCeil = 3
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}
