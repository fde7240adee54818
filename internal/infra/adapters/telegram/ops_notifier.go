package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"delegated-billing/internal/domain/ports/adapter"
)

var _ adapter.OpsNotifier = (*OpsNotifier)(nil)

// OpsNotifier delivers operator alerts (permanent charge failures, allowance
// drift) to a Telegram chat. Alert bodies carry subscription ids and amounts
// only — never account addresses or credential material.
type OpsNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger
}

func NewOpsNotifier(token string, chatID int64, logger *zerolog.Logger) (*OpsNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is zero")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	l := logger.With().Str("component", "OpsNotifier").Logger()
	return &OpsNotifier{bot: bot, chatID: chatID, log: &l}, nil
}

func (n *OpsNotifier) Name() string { return "telegram" }

func (n *OpsNotifier) Alert(ctx context.Context, subject, body string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("⚠️ %s\n%s", subject, body))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	n.log.Debug().Str("subject", subject).Msg("operator alert sent")
	return nil
}
