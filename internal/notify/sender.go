package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Xeron2000/pricesentry/internal/config"
)

// Sender delivers one composed alert message, optionally with a rendered
// chart image. Delivery is best-effort; implementations report failures
// through the returned error and must not retry indefinitely.
type Sender interface {
	Name() string
	Send(ctx context.Context, message string, photo []byte) error
}

// Notifier fans a message out to every configured channel sender, logging
// failures with target context instead of propagating them.
type Notifier struct {
	mu      sync.RWMutex
	senders []Sender
	history *HistoryStore
	log     zerolog.Logger
}

// NewNotifier builds a notifier around the configured channels. history
// may be nil when delivery records are not wanted.
func NewNotifier(cfg config.Config, history *HistoryStore, log zerolog.Logger) *Notifier {
	n := &Notifier{
		history: history,
		log:     log.With().Str("component", "notifier").Logger(),
	}
	n.UpdateConfig(cfg)
	return n
}

// UpdateConfig rebuilds the sender set after a configuration hot reload.
func (n *Notifier) UpdateConfig(cfg config.Config) {
	var senders []Sender
	for _, channel := range cfg.NotificationChannels {
		switch channel {
		case "telegram":
			sender, err := NewTelegramSender(cfg.Telegram, n.log)
			if err != nil {
				n.log.Error().Err(err).Str("channel", channel).Msg("Failed to build sender")
				continue
			}
			senders = append(senders, sender)
		default:
			n.log.Warn().Str("channel", channel).Msg("Unsupported notification channel")
		}
	}

	n.mu.Lock()
	n.senders = senders
	n.mu.Unlock()
}

// Send delivers message (plus optional chart bytes) to every sender.
// Failures are logged with target and detail and never block the caller's
// loop.
func (n *Notifier) Send(ctx context.Context, message string, photo []byte) {
	if strings.TrimSpace(message) == "" {
		return
	}

	n.mu.RLock()
	senders := make([]Sender, len(n.senders))
	copy(senders, n.senders)
	n.mu.RUnlock()

	for _, sender := range senders {
		var eventID string
		if n.history != nil {
			eventID = n.history.RecordEvent(sender.Name(), message, photo)
		}

		if err := sender.Send(ctx, message, photo); err != nil {
			n.log.Error().
				Err(err).
				Str("target", sender.Name()).
				Str("detail", err.Error()).
				Msg("Notification send failed")
			if n.history != nil {
				n.history.RecordDelivery(eventID, sender.Name(), "failed", err.Error())
			}
			continue
		}

		n.log.Info().Str("target", sender.Name()).Msg("Notification sent")
		if n.history != nil {
			n.history.RecordDelivery(eventID, sender.Name(), "sent", "")
		}
	}
}
