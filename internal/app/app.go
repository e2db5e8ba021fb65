package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"treasury-alerts/internal/alerting"
	"treasury-alerts/internal/config"
	"treasury-alerts/internal/engine"
	"treasury-alerts/internal/fetcher"
	"treasury-alerts/internal/scheduler"
	"treasury-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (fetcher.BTCPriceFetcher, fetcher.OnChainFetcher) {
	btc := fetcher.NewBTCPrice(fetcher.BTCPriceOptions{
		BaseURL:   a.Config.Metrics.BTCPriceURL,
		Timeout:   a.Config.Metrics.RequestTimeout,
		UserAgent: a.Config.Metrics.UserAgent,
	}, a.Logger)

	onChain := fetcher.NewOnChain(fetcher.OnChainOptions{
		FearGreedURL:   a.Config.Metrics.FearGreedURL,
		MetricsBaseURL: a.Config.Metrics.OnChainBaseURL,
		Timeout:        a.Config.Metrics.RequestTimeout,
		UserAgent:      a.Config.Metrics.UserAgent,
	}, a.Logger)

	return btc, onChain
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	cfg := a.Config.Alerting

	var telegram *alerting.TelegramClient
	if cfg.Telegram.Enabled {
		telegram = alerting.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.APIBase, cfg.SendTimeout, a.Logger)
	}

	var slack *alerting.SlackClient
	if cfg.Slack.Enabled {
		slack = alerting.NewSlackClient(cfg.SendTimeout, a.Logger)
	}

	return alerting.NewDispatcher(telegram, slack, alerting.Defaults{
		TelegramChatID:  cfg.Telegram.DefaultChatID,
		SlackWebhookURL: cfg.Slack.DefaultWebhookURL,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	return store, store.Close, nil
}

func (a *App) buildEngine(store *storage.Store) *engine.Engine {
	btc, onChain := a.newFetchers()
	return engine.New(
		store,
		store,
		store,
		btc,
		onChain,
		a.newDispatcher(),
		engine.Options{LookbackDays: a.Config.Metrics.LookbackDays},
		a.Logger,
	)
}

// Run executes the long-running scan daemon: one engine run per scheduler
// tick, guarded by a postgres advisory lock so overlapping deployments never
// evaluate the same rule concurrently.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := a.buildEngine(store)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting alert daemon")

	err = sched.Run(ctx, func(tickCtx context.Context, tick time.Time) error {
		_, _, tickErr := a.runLocked(tickCtx, store, eng, tick)
		return tickErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert daemon stopped")
	return nil
}

// runLocked performs one tick's worth of work under the advisory lock:
// expire past-deadline rules, run the scan, prune old firing events. The
// second return reports whether this runner held the lock.
func (a *App) runLocked(ctx context.Context, store *storage.Store, eng *engine.Engine, tick time.Time) (engine.Summary, bool, error) {
	unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Scheduler.AdvisoryLockKey)
	if err != nil {
		return engine.Summary{}, false, err
	}
	if !acquired {
		a.Logger.Info().Time("tick", tick).Msg("another runner holds the scan lock; skipping tick")
		return engine.Summary{}, false, nil
	}
	defer unlock()

	if expired, err := store.ExpireRules(ctx, tick); err != nil {
		a.Logger.Error().Err(err).Msg("rule expiry sweep failed")
	} else if expired > 0 {
		a.Logger.Info().Int64("expired", expired).Msg("rules expired")
	}

	summary, err := eng.RunOnce(ctx)
	if err != nil {
		return engine.Summary{}, true, err
	}

	if retention := a.Config.Retention.Events; retention > 0 {
		cutoff := tick.Add(-retention)
		if err := store.DeleteEventsBefore(ctx, cutoff); err != nil {
			a.Logger.Error().Err(err).Msg("event retention prune failed")
		}
	}

	return summary, true, nil
}

// Scan performs a single engine run and prints the summary, for cron-style
// deployments and operator spot checks.
func (a *App) Scan(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	summary, ran, err := a.runLocked(ctx, store, a.buildEngine(store), time.Now().UTC())
	if err != nil {
		return err
	}
	if !ran {
		return errors.New("scan lock held by another runner")
	}

	printSummary(summary)
	return nil
}

// RulesOptions configure the rules listing.
type RulesOptions struct {
	Limit int
}

// EventsOptions configure the events listing.
type EventsOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting firing-event history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

func printSummary(summary engine.Summary) {
	fmt.Fprintf(os.Stdout, "checked=%d triggered=%d errors=%d\n",
		summary.Checked, summary.Triggered, len(summary.Errors))
	for _, msg := range summary.Errors {
		fmt.Fprintf(os.Stdout, "  error: %s\n", msg)
	}
}
