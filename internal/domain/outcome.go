package domain

import "time"

// OutcomeKind classifies the result of one send attempt.
type OutcomeKind string

const (
	// OutcomeSent means the provider accepted the message.
	OutcomeSent OutcomeKind = "sent"
	// OutcomeThrottled means the provider imposed a cooldown on the account.
	OutcomeThrottled OutcomeKind = "throttled"
	// OutcomeError is any other send failure.
	OutcomeError OutcomeKind = "error"
	// OutcomeFatal means the provider permanently rejected the account
	// (banned/blocked); the account leaves rotation immediately.
	OutcomeFatal OutcomeKind = "fatal"
)

// Outcome is the result of a send attempt, as reported by the send capability
// and consumed by pool.Commit.
type Outcome struct {
	Kind OutcomeKind

	// RetryAfter is the provider-imposed cooldown for OutcomeThrottled.
	// Zero means the provider supplied no duration; a configured default applies.
	RetryAfter time.Duration

	// Reason carries the provider error text for OutcomeError/OutcomeFatal.
	Reason string

	// RecipientPermanent marks an OutcomeError as specific and permanent to
	// the recipient (e.g. the recipient blocked the sender). Such failures
	// are counted and the recipient is not retried.
	RecipientPermanent bool
}

func Sent() Outcome                  { return Outcome{Kind: OutcomeSent} }
func Throttled(d time.Duration) Outcome { return Outcome{Kind: OutcomeThrottled, RetryAfter: d} }
func SendError(reason string) Outcome   { return Outcome{Kind: OutcomeError, Reason: reason} }
func RecipientRejected(reason string) Outcome {
	return Outcome{Kind: OutcomeError, Reason: reason, RecipientPermanent: true}
}
func Fatal(reason string) Outcome { return Outcome{Kind: OutcomeFatal, Reason: reason} }
