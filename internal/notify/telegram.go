package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Xeron2000/pricesentry/internal/config"
)

// botAPI is the slice of the telegram client the sender uses; tests swap
// in a fake.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers alert messages through the Telegram bot API.
// Messages go out as Markdown; when chart bytes are attached they are sent
// as a photo with the message as caption.
type TelegramSender struct {
	bot    botAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramSender builds a sender from the configured credentials.
func NewTelegramSender(cfg config.TelegramConfig, log zerolog.Logger) (*TelegramSender, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	return &TelegramSender{
		bot:    bot,
		chatID: chatID,
		log:    log.With().Str("component", "telegram_sender").Logger(),
	}, nil
}

// Name identifies the sender in delivery records and logs.
func (s *TelegramSender) Name() string { return "telegram" }

// Send delivers the message, as a photo caption when chart bytes are
// attached.
func (s *TelegramSender) Send(ctx context.Context, message string, photo []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(photo) > 0 {
		msg := tgbotapi.NewPhoto(s.chatID, tgbotapi.FileBytes{Name: "chart.png", Bytes: photo})
		msg.Caption = message
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := s.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram photo send: %w", err)
		}
		return nil
	}

	msg := tgbotapi.NewMessage(s.chatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram message send: %w", err)
	}
	return nil
}
