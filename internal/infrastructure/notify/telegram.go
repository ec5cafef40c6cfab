package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("telegram queue full")

type TelegramConfig struct {
	Token  string
	ChatID int64
	// APIEndpoint overrides tgbot.APIEndpoint, mainly for tests.
	APIEndpoint string
	Timeout     time.Duration
}

// Telegram sends alerts from a background worker so a slow Bot API never
// holds up the trading loop.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	logger *zap.Logger

	queue chan string
	done  chan struct{}
	once  sync.Once
}

func NewTelegram(cfg TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbot.APIEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b, err := tgbot.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	t := &Telegram{
		bot:    b,
		chatID: cfg.ChatID,
		logger: logger,
		queue:  make(chan string, 64),
		done:   make(chan struct{}),
	}
	go t.worker()
	return t, nil
}

// Notify queues text for delivery.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	select {
	case t.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

func (t *Telegram) worker() {
	defer close(t.done)
	for text := range t.queue {
		if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
			t.logger.Warn("Telegram send failed", zap.Error(err))
		}
	}
}

// Close flushes queued messages and stops the worker.
func (t *Telegram) Close() {
	t.once.Do(func() { close(t.queue) })
	<-t.done
}
