// Package bot answers Telegram commands with views of the running monitor.
package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/m2rcus/hypemonitoring/internal/alerting"
	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
)

// StatusSource is the read-only view of the monitor.
type StatusSource interface {
	Status(now time.Time) engine.Report
	Asset() string
}

// VoiceTester sends the fixed voice test phrase.
type VoiceTester interface {
	SendTestVoice(ctx context.Context, chatID int64) error
}

// Options tune the listener.
type Options struct {
	// PollTimeout is the long-poll duration in seconds. It must stay below
	// the HTTP client timeout of the API.
	PollTimeout int
	Now         func() time.Time
}

// Bot long-polls updates and replies to commands. Non-command messages are
// ignored.
type Bot struct {
	api    *tgbotapi.BotAPI
	source StatusSource
	voice  VoiceTester
	opts   Options
	logger zerolog.Logger
}

// New wires the listener. voice may be nil, which disables /testvoice.
func New(api *tgbotapi.BotAPI, source StatusSource, voice VoiceTester, opts Options, logger zerolog.Logger) *Bot {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 25
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Bot{
		api:    api,
		source: source,
		voice:  voice,
		opts:   opts,
		logger: logger.With().Str("component", "bot").Logger(),
	}
}

// Listen starts a goroutine that polls for updates until ctx is cancelled.
func (b *Bot) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					b.handle(ctx, update.Message)
				}
			}
		}
	}()
	b.logger.Info().Str("username", b.api.Self.UserName).Msg("listening for commands")
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	b.logger.Debug().Str("command", command).Int64("chat_id", msg.Chat.ID).Msg("command received")

	text := b.Respond(ctx, msg.Chat.ID, command)
	if text == "" {
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	reply.DisableWebPagePreview = true
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Error().Err(err).Str("command", command).Msg("failed to send reply")
	}
}

// Respond returns the HTML reply to command, or "" for commands the bot does
// not know. Only /testvoice has a side effect.
func (b *Bot) Respond(ctx context.Context, chatID int64, command string) string {
	now := b.opts.Now()
	switch strings.ToLower(command) {
	case "start", "help":
		return b.helpText()
	case "status":
		return alerting.RenderStatus(b.source.Asset(), b.source.Status(now), now)
	case "settings":
		return b.settingsText(now)
	case "ping":
		return "Pong"
	case "testvoice":
		if b.voice == nil {
			return "🔇 Voice alerts are disabled."
		}
		if err := b.voice.SendTestVoice(ctx, chatID); err != nil {
			b.logger.Error().Err(err).Msg("voice test failed")
			return fmt.Sprintf("❌ Voice test failed: <code>%s</code>", html.EscapeString(err.Error()))
		}
		return "🔊 Voice test sent."
	default:
		return ""
	}
}

func (b *Bot) helpText() string {
	th := b.source.Status(b.opts.Now()).Thresholds
	asset := html.EscapeString(b.source.Asset())

	var s strings.Builder
	fmt.Fprintf(&s, "🤖 <b>%s Price Monitor</b>\n\n", asset)
	fmt.Fprintf(&s, "I watch %s and alert when the price approaches $%s.\n\n", asset, money(th.TargetPrice))
	s.WriteString("<b>Commands:</b>\n")
	s.WriteString("/status - current price, statistics and drop probability\n")
	s.WriteString("/settings - thresholds and cooldowns\n")
	s.WriteString("/testvoice - send a test voice message\n")
	s.WriteString("/ping - check the bot is alive\n")
	s.WriteString("/help - this message")
	return s.String()
}

func (b *Bot) settingsText(now time.Time) string {
	r := b.source.Status(now)
	th := r.Thresholds

	var s strings.Builder
	s.WriteString("⚙️ <b>Monitor Settings</b>\n\n")
	fmt.Fprintf(&s, "🎯 <b>Target Price:</b> $%s\n", money(th.TargetPrice))
	fmt.Fprintf(&s, "🚨 <b>Critical Price:</b> $%s\n", money(th.CriticalPrice))
	fmt.Fprintf(&s, "📏 <b>Std Dev Band:</b> %s σ\n", decimal.NewFromFloat(th.StandardDeviations).String())
	fmt.Fprintf(&s, "📊 <b>Alert Probability:</b> %s%%\n", decimal.NewFromFloat(th.AlertProbability*100).StringFixed(0))
	fmt.Fprintf(&s, "📉 <b>Strong Downtrend:</b> %s%%\n\n", decimal.NewFromFloat(th.StrongDowntrend*100).StringFixed(0))

	s.WriteString("⏱ <b>Cooldowns:</b>\n")
	for _, c := range r.Cooldowns {
		state := "ready"
		if c.Remaining > 0 {
			state = c.Remaining.Round(time.Second).String() + " remaining"
		}
		fmt.Fprintf(&s, "• %s: %s (%s)\n", tierLabel(c.Tier), c.Cooldown, state)
	}
	return strings.TrimRight(s.String(), "\n")
}

func tierLabel(t classify.Tier) string {
	return strings.ToUpper(t.String()[:1]) + t.String()[1:]
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
