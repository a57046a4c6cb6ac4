// Package telegram sends notification text to a single Telegram chat.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"stockwatch/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64

	// RatePerSec caps outbound requests across all callers. Telegram throttles
	// bots around 30 msg/s globally and 1 msg/s per chat.
	RatePerSec int

	// Offline skips the getMe handshake; used by tests.
	Offline bool
}

// Sender delivers one message per call. Chunking, pacing and retry live in
// the notify dispatcher; this layer only enforces the channel-wide rate cap.
type Sender struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		// Bounds every API request so a stalled send can't hang a cycle.
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	return &Sender{
		bot:     bot,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// Send delivers a single message with link previews disabled. The text must
// already fit Telegram's per-message limit.
func (s *Sender) Send(ctx context.Context, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	// telebot's Send doesn't take a context; bound it with a deadline check
	// before the call instead.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	start := time.Now()
	_, err := s.bot.Send(s.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return err
	}
	s.log.Debug("message sent", logx.Int("len", len(text)), logx.Duration("took", time.Since(start)))
	return nil
}
