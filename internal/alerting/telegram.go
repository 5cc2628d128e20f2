package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
)

// TelegramOptions parameterise the Telegram transport.
type TelegramOptions struct {
	BotToken   string
	ChatID     string
	APIBase    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Asset      string
	Text       bool
	Voice      bool
}

// TelegramNotifier pushes HTML text and synthesized voice through the Bot API.
type TelegramNotifier struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	opts       TelegramOptions
	tts        Synthesizer
	logger     zerolog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewTelegramNotifier validates the chat id and authenticates the bot token
// (one getMe call). tts may be nil, which disables voice alerts.
func NewTelegramNotifier(opts TelegramOptions, tts Synthesizer, logger zerolog.Logger) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(opts.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	if opts.BotToken == "" {
		return nil, errors.New("telegram bot token not configured")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, base+"/bot%s/%s", &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	n := &TelegramNotifier{
		bot:        bot,
		chatID:     chatID,
		opts:       opts,
		tts:        tts,
		logger:     logger.With().Str("component", "alert_telegram").Logger(),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
	if n.maxRetries <= 0 {
		n.maxRetries = 3
	}
	if n.retryDelay <= 0 {
		n.retryDelay = time.Second
	}
	return n, nil
}

// Bot exposes the authenticated API client for the command listener.
func (n *TelegramNotifier) Bot() *tgbotapi.BotAPI {
	return n.bot
}

// ChatID is the chat alerts are delivered to.
func (n *TelegramNotifier) ChatID() int64 {
	return n.chatID
}

// VoiceEnabled reports whether voice payloads can be produced.
func (n *TelegramNotifier) VoiceEnabled() bool {
	return n.opts.Voice && n.tts != nil
}

// Notify sends the voice alert followed by the text alert. A failure of one
// payload does not prevent the other.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	var errs []error

	if n.VoiceEnabled() {
		if err := n.sendVoice(ctx, n.chatID, renderVoiceScript(note), voiceCaption(note)); err != nil {
			errs = append(errs, fmt.Errorf("voice alert: %w", err))
		}
	}

	if n.opts.Text {
		if err := n.sendHTML(ctx, n.chatID, renderAlert(note)); err != nil {
			errs = append(errs, fmt.Errorf("text alert: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	n.logger.Info().
		Str("id", note.ID).
		Str("tier", note.Tier.String()).
		Str("reason", string(note.Reason)).
		Bool("text", n.opts.Text).
		Bool("voice", n.VoiceEnabled()).
		Msg("alert delivered (Telegram)")
	return nil
}

// NotifyStatus sends the periodic status update.
func (n *TelegramNotifier) NotifyStatus(ctx context.Context, r engine.Report) error {
	return n.sendHTML(ctx, n.chatID, RenderStatus(n.opts.Asset, r, time.Now()))
}

// SendTestVoice sends the fixed test phrase to chatID, or to the alert chat
// when chatID is zero.
func (n *TelegramNotifier) SendTestVoice(ctx context.Context, chatID int64) error {
	if n.tts == nil {
		return errors.New("voice synthesis not configured")
	}
	if chatID == 0 {
		chatID = n.chatID
	}
	return n.sendVoice(ctx, chatID, testPhrase, "🔊 Voice test")
}

// SendError reports a monitoring error. Call it only on the first failure of
// a streak.
func (n *TelegramNotifier) SendError(ctx context.Context, cycleErr error) error {
	return n.sendHTML(ctx, n.chatID, renderError(cycleErr))
}

// SendRecovery reports the end of a failure streak.
func (n *TelegramNotifier) SendRecovery(ctx context.Context, failures int) error {
	return n.sendHTML(ctx, n.chatID, renderRecovery(failures))
}

func (n *TelegramNotifier) sendHTML(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return n.send(ctx, msg)
}

func (n *TelegramNotifier) sendVoice(ctx context.Context, chatID int64, script, caption string) error {
	audio, err := n.tts.Synthesize(ctx, script)
	if err != nil {
		return err
	}
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "alert.mp3", Bytes: audio})
	voice.Caption = caption
	return n.send(ctx, voice)
}

// send retries with linear backoff.
func (n *TelegramNotifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		_, err := n.bot.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err
		n.logger.Warn().Err(err).Int("attempt", i+1).Msg("telegram send failed")

		if i == n.maxRetries-1 {
			break
		}
		timer := time.NewTimer(n.retryDelay * time.Duration(i+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", n.maxRetries, lastErr)
}

func voiceCaption(note Notification) string {
	if note.Tier == classify.TierCritical {
		return "🚨 Critical price alert"
	}
	return "🚨 Price alert"
}

var (
	_ Notifier        = (*TelegramNotifier)(nil)
	_ StatusNotifier  = (*TelegramNotifier)(nil)
	_ FailureReporter = (*TelegramNotifier)(nil)
)
