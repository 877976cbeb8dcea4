package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeron2000/pricesentry/internal/config"
)

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func newFakeSender(bot *fakeBot) *TelegramSender {
	return &TelegramSender{bot: bot, chatID: -100123, log: zerolog.Nop()}
}

func TestTelegramSender_SendsMarkdownMessage(t *testing.T) {
	bot := &fakeBot{}
	s := newFakeSender(bot)

	require.NoError(t, s.Send(context.Background(), "*hello*", nil))
	require.Len(t, bot.sent, 1)

	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "*hello*", msg.Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)
	assert.Equal(t, int64(-100123), msg.ChatID)
}

func TestTelegramSender_SendsPhotoWithCaption(t *testing.T) {
	bot := &fakeBot{}
	s := newFakeSender(bot)

	require.NoError(t, s.Send(context.Background(), "caption", []byte{0x89, 0x50}))
	require.Len(t, bot.sent, 1)

	photo, ok := bot.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, "caption", photo.Caption)
}

func TestTelegramSender_PropagatesError(t *testing.T) {
	bot := &fakeBot{err: errors.New("chat not found")}
	s := newFakeSender(bot)

	err := s.Send(context.Background(), "msg", nil)
	assert.ErrorContains(t, err, "chat not found")
}

func TestTelegramSender_CancelledContext(t *testing.T) {
	bot := &fakeBot{}
	s := newFakeSender(bot)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Send(ctx, "msg", nil))
	assert.Empty(t, bot.sent)
}

func TestNewTelegramSender_RejectsBadConfig(t *testing.T) {
	_, err := NewTelegramSender(config.TelegramConfig{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewTelegramSender(config.TelegramConfig{Token: "123:abc", ChatID: "not-a-number"}, zerolog.Nop())
	assert.Error(t, err)
}

// Notifier delivery failures are logged and recorded, never propagated.
func TestNotifier_SendFailureDoesNotPropagate(t *testing.T) {
	bot := &fakeBot{err: errors.New("boom")}
	n := &Notifier{log: zerolog.Nop()}
	n.senders = []Sender{newFakeSender(bot)}

	n.Send(context.Background(), "message", nil)
	assert.Len(t, bot.sent, 1)
}

func TestNotifier_EmptyMessageSkipped(t *testing.T) {
	bot := &fakeBot{}
	n := &Notifier{log: zerolog.Nop()}
	n.senders = []Sender{newFakeSender(bot)}

	n.Send(context.Background(), "   ", nil)
	assert.Empty(t, bot.sent)
}
