// Package sender is the Bot API delivery backend. Each account carries its
// own bot token; sends go out through a cached per-account client and API
// errors are folded into delivery outcomes the dispatcher understands.
package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgblast/internal/domain"
	"tgblast/pkg/logx"
)

type Telegram struct {
	log logx.Logger

	mu   sync.Mutex
	bots map[int64]*client
}

type client struct {
	token string
	bot   *tele.Bot
}

func NewTelegram(log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{log: log, bots: make(map[int64]*client)}
}

// bot returns the cached client for the account, rebuilding it when the token
// rotated. Construction performs a getMe round-trip, so a bad token fails here.
func (t *Telegram) bot(a *domain.Account) (*tele.Bot, error) {
	if strings.TrimSpace(a.Token) == "" {
		return nil, fmt.Errorf("account %d has no token", a.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.bots[a.ID]; ok && c.token == a.Token {
		return c.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{Token: a.Token})
	if err != nil {
		return nil, err
	}
	t.bots[a.ID] = &client{token: a.Token, bot: b}
	return b, nil
}

// Send delivers one message and classifies the result.
func (t *Telegram) Send(ctx context.Context, a *domain.Account, r *domain.Recipient, text string) domain.Outcome {
	if r.TgID == 0 {
		// The Bot API cannot resolve bare usernames for direct messages.
		return domain.RecipientRejected("recipient has no numeric id")
	}
	b, err := t.bot(a)
	if err != nil {
		return domain.SendError(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return domain.SendError(err.Error())
	}

	_, err = b.Send(&tele.Chat{ID: r.TgID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return classify(err)
}

func classify(err error) domain.Outcome {
	if err == nil {
		return domain.Sent()
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return domain.Throttled(time.Duration(flood.RetryAfter) * time.Second)
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrUserIsDeactivated):
		return domain.RecipientRejected(err.Error())
	case errors.Is(err, tele.ErrUnauthorized):
		// Token revoked: the account itself is dead, not the recipient.
		return domain.Fatal(err.Error())
	}
	return domain.SendError(err.Error())
}

// Step implements the authorization flow for token-backed accounts: a valid
// token goes straight to active. Accounts without a token belong to an
// external client and are left where they are.
func (t *Telegram) Step(ctx context.Context, a *domain.Account) (domain.AccountStatus, error) {
	if strings.TrimSpace(a.Token) == "" {
		return a.Status, nil
	}
	if _, err := t.bot(a); err != nil {
		if errors.Is(err, tele.ErrUnauthorized) {
			return a.Status, fmt.Errorf("token rejected: %w", err)
		}
		return a.Status, err
	}
	return domain.AccountActive, nil
}

// Warm pings the API for a young account so it shows steady low-volume
// activity before carrying campaign traffic.
func (t *Telegram) Warm(ctx context.Context, a *domain.Account) error {
	b, err := t.bot(a)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = b.Raw("getMe", nil)
	return err
}

// Close drops all cached clients.
func (t *Telegram) Close() {
	t.mu.Lock()
	t.bots = make(map[int64]*client)
	t.mu.Unlock()
}
