// Package telegram sends operator alerts to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/utils"
)

// Telegram rejects longer messages.
const maxMessageLength = 4096

type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Notifier posts alerts to one chat.
type Notifier struct {
	client sender
	chatID int64
	prefix string
	logger *zap.Logger
}

// New creates a bot client for token. The bot only sends messages, so it is
// never started.
func New(token string, chatID int64, prefix string, logger *zap.Logger) (*Notifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	return newNotifier(b, chatID, prefix, logger), nil
}

func newNotifier(client sender, chatID int64, prefix string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		client: client,
		chatID: chatID,
		prefix: strings.TrimSpace(prefix),
		logger: logger.With(zap.Int64("telegram_chat", chatID)),
	}
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if n.prefix != "" {
		text = n.prefix + " " + text
	}

	_, err := n.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   utils.TruncateForLog(text, maxMessageLength-3),
	})
	if err != nil {
		n.logger.Warn("sending telegram alert failed", zap.Error(err))
		return fmt.Errorf("sending telegram alert: %w", err)
	}

	n.logger.Debug("telegram alert sent")
	return nil
}
