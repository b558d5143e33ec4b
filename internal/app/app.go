// Package app assembles the daemon: config, logging, stores, services, the
// HTTP surface, and the background jobs that keep them healthy.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pushbridge/internal/api"
	"pushbridge/internal/batcher"
	"pushbridge/internal/composer"
	"pushbridge/internal/config"
	"pushbridge/internal/delivery"
	"pushbridge/internal/directory"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/hostevents"
	"pushbridge/internal/prefs"
	"pushbridge/internal/ratelimit"
	"pushbridge/internal/relay"
	"pushbridge/internal/runtime/supervisor"
	logx "pushbridge/pkg/logx"
)

type App struct {
	log    logx.Logger
	logSvc *logx.Service

	mgr      *config.Manager
	defaults atomic.Value // stores prefs.Defaults

	bus     eventbus.Bus
	dir     directory.Store
	relay   *relay.Client
	comp    *composer.Composer
	del     *delivery.Service
	host    *hostevents.Adapter
	limiter *ratelimit.Limiter
	apiSrv  *api.Server

	sup  *supervisor.Supervisor
	cron *cron.Cron
}

// New loads the config file, builds every component, and returns the
// not-yet-started application.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))
	mgr.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a := &App{log: log, logSvc: logSvc, mgr: mgr, bus: eventbus.New()}
	a.defaults.Store(defaultsFrom(cfg))

	dcfg, err := directoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.dir, err = directory.Open(dcfg, log.With(logx.String("svc", "directory")))
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}

	rcfg, err := relayConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.relay = relay.New(rcfg, log.With(logx.String("svc", "relay")))

	a.comp = composer.New(cfg.Events.Language)

	a.del = delivery.New(
		delivery.Config{ConfirmRegistrations: cfg.Events.ConfirmRegistrations},
		a.dir, a.relay, a.comp, a.bus,
		log.With(logx.String("svc", "delivery")),
	)

	bcfg, err := batcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.host = hostevents.New(bcfg, a.dir, a.del, a.comp, a.currentDefaults, a.bus,
		log.With(logx.String("svc", "hostevents")))

	a.limiter = ratelimit.New(log.With(logx.String("svc", "ratelimit")))

	acfg, err := apiConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.apiSrv = api.New(acfg, a.dir, a.del, a.comp, a.limiter, a.host, a.bus,
		log.With(logx.String("svc", "api")))

	return a, nil
}

func (a *App) currentDefaults() prefs.Defaults {
	d, _ := a.defaults.Load().(prefs.Defaults)
	return d
}

// Start launches the HTTP server, config watcher, bus drain, and the
// maintenance schedule. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("svc", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	a.sup.Go("http", a.apiSrv.Serve)
	a.sup.GoRestart("config.watch", a.mgr.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("bus.drain", a.drainBus)

	a.cron = cron.New()
	if _, err := a.cron.AddFunc("@every 5m", func() {
		a.limiter.Sweep(a.staleness())
	}); err != nil {
		return err
	}
	if _, err := a.cron.AddFunc("@daily", func() {
		cctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := a.dir.Compact(cctx); err != nil {
			a.log.Warn("directory compaction failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	a.cron.Start()

	a.log.Info("pushbridge started")
	return nil
}

// Stop drains everything in dependency order: stop accepting work, flush
// pending batches, then close stores and sinks.
func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	var firstErr error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Pending batches flush now rather than being lost.
	if err := a.host.Batcher().Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := a.dir.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	_ = a.logSvc.Close()
	return firstErr
}

// reloadLoop applies committed config changes to the running services.
func (a *App) reloadLoop(ctx context.Context) error {
	ch := a.mgr.Subscribe(1)
	defer a.mgr.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			if cfg == nil {
				continue
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	if err := validate(cfg); err != nil {
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return
	}

	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	a.defaults.Store(defaultsFrom(cfg))
	a.comp.SetLanguage(cfg.Events.Language)
	a.del.Apply(delivery.Config{ConfirmRegistrations: cfg.Events.ConfirmRegistrations})

	if rcfg, err := relayConfig(cfg); err == nil {
		a.relay.Apply(rcfg)
	} else {
		a.log.Warn("relay config invalid, keeping previous", logx.Err(err))
	}
	if bcfg, err := batcherConfig(cfg); err == nil {
		a.host.Batcher().Apply(bcfg)
	} else {
		a.log.Warn("batching config invalid, keeping previous", logx.Err(err))
	}
	if acfg, err := apiConfig(cfg); err == nil {
		// Listen address changes require a restart; everything else applies
		// live.
		a.apiSrv.Apply(acfg)
	} else {
		a.log.Warn("server config invalid, keeping previous", logx.Err(err))
	}

	a.log.Info("configuration applied")
}

// drainBus mirrors core telemetry events into the log at debug level.
func (a *App) drainBus(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
		}
	}
}

func (a *App) staleness() time.Duration {
	cfg := a.mgr.Get()
	if cfg == nil {
		return 0
	}
	d, err := config.ParseDurationField("rate_limit.staleness", cfg.RateLimit.Staleness)
	if err != nil {
		return 0
	}
	return d
}

// ---- config translation ----

func validate(cfg *config.Config) error {
	if cfg.Server.AuthSecret == "" {
		return fmt.Errorf("server.auth_secret is required")
	}
	if cfg.Directory.Path == "" {
		return fmt.Errorf("directory.path is required")
	}
	_, err := apiConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := relayConfig(cfg); err != nil {
		return err
	}
	if _, err := batcherConfig(cfg); err != nil {
		return err
	}
	if _, err := directoryConfig(cfg); err != nil {
		return err
	}
	return nil
}

// defaultsFrom reads the admin event switches; an omitted switch means
// enabled.
func defaultsFrom(cfg *config.Config) prefs.Defaults {
	on := func(v *bool) bool { return v == nil || *v }
	return prefs.Defaults{
		ItemAdded:     on(cfg.Events.ItemAdded),
		PlaybackStart: on(cfg.Events.PlaybackStart),
		PlaybackStop:  on(cfg.Events.PlaybackStop),
	}
}

func relayConfig(cfg *config.Config) (relay.Config, error) {
	timeout, err := config.ParseDurationField("relay.timeout", cfg.Relay.Timeout)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		URL:        cfg.Relay.URL,
		Timeout:    timeout,
		RatePerSec: cfg.Relay.RatePerSec,
	}, nil
}

func batcherConfig(cfg *config.Config) (batcher.Config, error) {
	window, err := config.ParseDurationField("batching.window", cfg.Batching.Window)
	if err != nil {
		return batcher.Config{}, err
	}
	maxWindow, err := config.ParseDurationField("batching.max_window", cfg.Batching.MaxWindow)
	if err != nil {
		return batcher.Config{}, err
	}
	return batcher.Config{Window: window, MaxWindow: maxWindow}, nil
}

func directoryConfig(cfg *config.Config) (directory.Config, error) {
	busy, err := config.ParseDurationField("directory.busy_timeout", cfg.Directory.BusyTimeout)
	if err != nil {
		return directory.Config{}, err
	}
	return directory.Config{
		Driver:      cfg.Directory.Driver,
		Path:        cfg.Directory.Path,
		BusyTimeout: busy,
	}, nil
}

func apiConfig(cfg *config.Config) (api.Config, error) {
	read, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("server.idle_timeout", cfg.Server.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	regWin, err := config.ParseDurationField("rate_limit.registration_window", cfg.RateLimit.RegistrationWindow)
	if err != nil {
		return api.Config{}, err
	}
	bcWin, err := config.ParseDurationField("rate_limit.broadcast_window", cfg.RateLimit.BroadcastWindow)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Addr:               cfg.Server.Addr,
		ExternalURL:        cfg.Server.ExternalURL,
		AuthSecret:         cfg.Server.AuthSecret,
		ReadTimeout:        read,
		WriteTimeout:       write,
		IdleTimeout:        idle,
		RegistrationMax:    cfg.RateLimit.RegistrationMax,
		RegistrationWindow: regWin,
		BroadcastMax:       cfg.RateLimit.BroadcastMax,
		BroadcastWindow:    bcWin,
	}, nil
}
