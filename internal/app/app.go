package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"fx-rate-alerts/internal/api"
	"fx-rate-alerts/internal/config"
	"fx-rate-alerts/internal/dispatch"
	"fx-rate-alerts/internal/engine"
	"fx-rate-alerts/internal/mailer"
	"fx-rate-alerts/internal/metrics"
	"fx-rate-alerts/internal/rates"
	"fx-rate-alerts/internal/scheduler"
	"fx-rate-alerts/internal/service"
	"fx-rate-alerts/internal/storage"
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

// OnceOptions configure a single manual pipeline run.
type OnceOptions struct {
	At *time.Time
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting historical observations.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// BackfillOptions configure the history backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	if a.Config.Database.AutoMigrate {
		if err := storage.RunMigrations(a.Config.Database.DSN, a.Config.Database.MigrationsPath, a.Logger); err != nil {
			return nil, nil, err
		}
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newProvider() *rates.HTTPProvider {
	return rates.NewHTTPProvider(rates.HTTPOptions{
		BaseURL:   a.Config.Provider.BaseURL,
		AccessKey: a.Config.Provider.AccessKey,
		Base:      a.Config.Provider.Base,
		Target:    a.Config.Provider.Target,
		Timeout:   a.Config.Provider.RequestTimeout,
		UserAgent: a.Config.Provider.UserAgent,
	}, a.Logger)
}

func (a *App) newMailer() (mailer.Mailer, error) {
	if !a.Config.Notify.Enabled {
		return nil, nil
	}
	return mailer.NewSMTPMailer(mailer.SMTPOptions{
		Host:     a.Config.Mailer.Host,
		Port:     a.Config.Mailer.Port,
		Username: a.Config.Mailer.Username,
		Password: a.Config.Mailer.Password,
		From:     a.Config.Mailer.From,
		StartTLS: a.Config.Mailer.StartTLS,
		Timeout:  a.Config.Mailer.Timeout,
	}, a.Logger)
}

func (a *App) newDispatcher(store *storage.Store, m mailer.Mailer) *dispatch.Dispatcher {
	if m == nil {
		return nil
	}
	return dispatch.New(store, store, m, dispatch.Options{
		MaxConcurrent:  a.Config.Notify.MaxConcurrent,
		SendTimeout:    a.Config.Notify.SendTimeout,
		SubjectPrefix:  a.Config.Notify.SubjectPrefix,
		BaseCurrency:   a.Config.Provider.Base,
		TargetCurrency: a.Config.Provider.Target,
	}, a.Logger)
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	times, err := scheduler.ParseTimes(a.Config.Scheduler.TriggerTimes)
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Options{
		TriggerTimes:     times,
		Location:         a.Config.Location(),
		BusinessDaysOnly: a.Config.Scheduler.BusinessDaysOnly,
		StartupDelay:     a.Config.Scheduler.StartupDelay,
	}, a.Logger)
}

func (a *App) newPipeline(store *storage.Store, sched *scheduler.Scheduler, mets *metrics.Metrics) (*service.Pipeline, error) {
	m, err := a.newMailer()
	if err != nil {
		return nil, err
	}

	source := rates.NewAdapter(a.newProvider(), store, a.Logger)
	eng := engine.New(store, a.Logger)

	var dispatcher service.Dispatcher
	if d := a.newDispatcher(store, m); d != nil {
		dispatcher = d
	}

	return service.New(a.Config, sched, source, eng, dispatcher, store, mets, a.Logger), nil
}

// Run executes the long-running scheduler and projection API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	mets := metrics.New(prometheus.DefaultRegisterer)

	pipeline, err := a.newPipeline(store, sched, mets)
	if err != nil {
		return err
	}

	var server *api.Server
	apiErr := make(chan error, 1)
	if a.Config.API.Enabled {
		server = api.NewServer(store, a.Config.Provider.Base, a.Config.Provider.Target, a.Logger)
		go func() {
			if err := server.Start(a.Config.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				apiErr <- err
			}
		}()
		a.Logger.Info().Str("addr", a.Config.API.Addr).Msg("projection api listening")
	}

	a.Logger.Info().
		Strs("trigger_times", a.Config.Scheduler.TriggerTimes).
		Str("timezone", a.Config.Scheduler.Timezone).
		Msg("starting rate alert service")

	runErr := make(chan error, 1)
	go func() {
		runErr <- pipeline.Run(ctx)
	}()

	select {
	case err = <-apiErr:
		cancel()
		<-runErr
	case err = <-runErr:
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.API.ShutdownTimeout)
		defer shutdownCancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			a.Logger.Error().Err(shutdownErr).Msg("api shutdown failed")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("rate alert service stopped")
	return nil
}
