package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/m2rcus/hypemonitoring/internal/alerting"
	"github.com/m2rcus/hypemonitoring/internal/bot"
	"github.com/m2rcus/hypemonitoring/internal/config"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/fetcher"
	"github.com/m2rcus/hypemonitoring/internal/scheduler"
	"github.com/m2rcus/hypemonitoring/internal/server"
	"github.com/m2rcus/hypemonitoring/internal/service"
	"github.com/m2rcus/hypemonitoring/internal/storage"
	"github.com/m2rcus/hypemonitoring/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output (tables, YAML). Defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) userAgent() string {
	if a.Config.Source.UserAgent != "" {
		return a.Config.Source.UserAgent
	}
	return version.UserAgent()
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	src := a.Config.Source
	if src.Kind == config.SourceChainlink {
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:       src.Chainlink.RPCURL,
			FeedAddress:  src.Chainlink.FeedAddress,
			Asset:        src.Asset,
			Timeout:      src.RequestTimeout,
			MaxStaleness: src.Chainlink.MaxStaleness,
		}, a.Logger)
	}
	return fetcher.NewHyperliquid(fetcher.HyperliquidOptions{
		BaseURL:   src.Hyperliquid.BaseURL,
		Asset:     src.Asset,
		Timeout:   src.RequestTimeout,
		UserAgent: a.userAgent(),
	}, a.Logger)
}

func (a *App) newEngine() (*engine.Engine, error) {
	return engine.New(a.Config.Monitor.EngineConfig())
}

// newNotifier returns the alert sink and, when Telegram is configured, the
// Telegram client so the command bot can share it.
func (a *App) newNotifier() (alerting.Notifier, *alerting.TelegramNotifier, error) {
	cfg := a.Config.Alerting
	if !cfg.Telegram.Enabled {
		return alerting.NewLogNotifier(a.Config.Source.Asset, a.Logger), nil, nil
	}

	var tts alerting.Synthesizer
	if cfg.VoiceAlerts {
		tts = alerting.NewGoogleTTS(alerting.GoogleTTSOptions{
			BaseURL:   cfg.TTS.BaseURL,
			Language:  cfg.TTS.Language,
			Timeout:   cfg.TTS.Timeout,
			UserAgent: a.userAgent(),
		}, a.Logger)
	}

	tg, err := alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken:   cfg.Telegram.BotToken,
		ChatID:     cfg.Telegram.ChatID,
		APIBase:    cfg.Telegram.APIBase,
		Timeout:    cfg.Telegram.RequestTimeout,
		MaxRetries: cfg.Telegram.MaxRetries,
		RetryDelay: cfg.Telegram.RetryDelay,
		Asset:      a.Config.Source.Asset,
		Text:       cfg.TextAlerts,
		Voice:      cfg.VoiceAlerts,
	}, tts, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return tg, tg, nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	return storage.Open(ctx, a.Config.Database, a.Logger)
}

func (a *App) serviceOptions() service.Options {
	return service.Options{
		Asset:          a.Config.Source.Asset,
		AlertsEnabled:  a.Config.Alerting.Enabled,
		StatusUpdates:  a.Config.Alerting.StatusUpdates,
		StatusInterval: a.Config.Alerting.StatusInterval,
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
	}
}

// pollTimeout keeps the long poll inside the HTTP client timeout.
func pollTimeout(clientTimeout time.Duration) int {
	secs := int((clientTimeout - 5*time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.driver not configured; persistence disabled")
	} else {
		defer store.Close()
	}

	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	notifier, tg, err := a.newNotifier()
	if err != nil {
		return err
	}

	svc := service.New(a.serviceOptions(), eng, sched, a.newFetcher(), store, notifier, a.Logger)

	if tg != nil && a.Config.Alerting.Telegram.Commands {
		var voice bot.VoiceTester
		if tg.VoiceEnabled() {
			voice = tg
		}
		bot.New(tg.Bot(), svc, voice, bot.Options{
			PollTimeout: pollTimeout(a.Config.Alerting.Telegram.RequestTimeout),
			Now:         svc.Now,
		}, a.Logger).Listen(ctx)
	}

	var wg sync.WaitGroup
	if a.Config.Server.Enabled {
		srv := server.New(server.Options{
			Addr:            a.Config.Server.Addr,
			Mode:            a.Config.Server.Mode,
			ShutdownTimeout: a.Config.Server.ShutdownTimeout,
			Now:             svc.Now,
		}, svc, a.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server stopped")
				cancel()
			}
		}()
	}

	a.Logger.Info().
		Str("asset", a.Config.Source.Asset).
		Str("source", a.Config.Source.Kind).
		Dur("interval", a.Config.Scheduler.Interval).
		Str("version", version.Version).
		Msg("starting monitoring service")

	err = svc.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReplayOptions bound the stored samples fed through a fresh engine.
type ReplayOptions struct {
	From time.Time
	To   time.Time
}

// SimulateOptions drive the service with a fixed price sequence.
type SimulateOptions struct {
	Prices []float64
	Step   time.Duration
	Notify bool
}
