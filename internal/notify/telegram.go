package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgblast/pkg/logx"
)

// TelegramConfig configures the operator-notification bot.
type TelegramConfig struct {
	Token string
	// ChatIDs maps an owner id to the chat that receives their events.
	// DefaultChatID receives events for owners without a mapping (0 disables).
	ChatIDs       map[int64]int64
	DefaultChatID int64
}

// Telegram delivers notifications through a Telegram bot (bot API, not the
// sender accounts; campaign sends go through the opaque dispatch.Sender).
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger

	mu  sync.Mutex
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	return &Telegram{cfg: cfg, log: log, bot: b}, nil
}

func (t *Telegram) Send(ctx context.Context, ownerID int64, text string) error {
	t.mu.Lock()
	b := t.bot
	t.mu.Unlock()
	if b == nil {
		return fmt.Errorf("notify: telegram transport closed")
	}
	chatID := t.cfg.DefaultChatID
	if id, ok := t.cfg.ChatIDs[ownerID]; ok {
		chatID = id
	}
	if chatID == 0 {
		return fmt.Errorf("notify: no chat configured for owner %d", ownerID)
	}
	_, err := b.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// Close releases the underlying bot client.
func (t *Telegram) Close() {
	t.mu.Lock()
	b := t.bot
	t.bot = nil
	t.mu.Unlock()
	if b != nil {
		b.Stop()
	}
}
