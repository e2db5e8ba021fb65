package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"treasury-alerts/internal/alert"
)

// Delivery is the outcome of one send attempt. Sent=false with an empty
// Error means the channel had no destination configured — a configuration
// gap, not a transient fault.
type Delivery struct {
	Sent  bool
	Error string
}

// Defaults are the process-wide fallback destinations per channel, injected
// at construction so the engine never reads ambient environment state.
type Defaults struct {
	TelegramChatID  string
	SlackWebhookURL string
}

// Dispatcher routes a rendered message to the provider for its channel.
// It never returns a Go error: every provider failure is captured in the
// Delivery so a bad channel cannot abort a batch.
type Dispatcher struct {
	telegram *TelegramClient
	slack    *SlackClient
	defaults Defaults
	logger   zerolog.Logger
}

// NewDispatcher wires the concrete senders. Either client may be nil when
// that provider is not configured.
func NewDispatcher(telegram *TelegramClient, slack *SlackClient, defaults Defaults, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		telegram: telegram,
		slack:    slack,
		defaults: defaults,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Send resolves the destination (per-rule override, else the process-wide
// default) and delivers the message.
func (d *Dispatcher) Send(ctx context.Context, channel alert.Channel, destination string, msg Message) Delivery {
	switch channel {
	case alert.ChannelTelegram:
		chatID := destination
		if chatID == "" {
			chatID = d.defaults.TelegramChatID
		}
		if chatID == "" || d.telegram == nil {
			d.logger.Warn().Str("channel", string(channel)).Msg("no destination configured; skipping send")
			return Delivery{}
		}
		if err := d.telegram.Send(ctx, chatID, msg); err != nil {
			return Delivery{Error: err.Error()}
		}
		return Delivery{Sent: true}

	case alert.ChannelSlack:
		url := destination
		if url == "" {
			url = d.defaults.SlackWebhookURL
		}
		if url == "" || d.slack == nil {
			d.logger.Warn().Str("channel", string(channel)).Msg("no destination configured; skipping send")
			return Delivery{}
		}
		if err := d.slack.Send(ctx, url, msg); err != nil {
			return Delivery{Error: err.Error()}
		}
		return Delivery{Sent: true}
	}

	// Channels without a wired provider (email today) degrade to the
	// configuration-gap outcome rather than failing the firing.
	d.logger.Warn().Str("channel", string(channel)).Msg("no provider for channel; skipping send")
	return Delivery{}
}
