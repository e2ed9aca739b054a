// Rendezvous daemon -- real-time peer-rendezvous and message-routing
// WebSocket service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/rendezvous/internal/adminapi"
	"github.com/dantte-lp/rendezvous/internal/config"
	"github.com/dantte-lp/rendezvous/internal/identity"
	"github.com/dantte-lp/rendezvous/internal/membership"
	rzmetrics "github.com/dantte-lp/rendezvous/internal/metrics"
	"github.com/dantte-lp/rendezvous/internal/notify"
	"github.com/dantte-lp/rendezvous/internal/rendezvous"
	"github.com/dantte-lp/rendezvous/internal/transport"
	appversion "github.com/dantte-lp/rendezvous/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("rendezvous starting",
		slog.String("version", appversion.Version),
		slog.String("transport_addr", cfg.Transport.Addr),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := rzmetrics.NewCollector(reg)

	verifier, err := newVerifier(cfg.Identity, logger)
	if err != nil {
		logger.Error("failed to build identity verifier", slog.String("error", err.Error()))
		return 1
	}

	resolver := newResolver(cfg.Membership, logger)

	mgr := rendezvous.NewManager(logger, verifier, resolver,
		rendezvous.WithManagerMetrics(collector),
	)
	defer mgr.Close()

	if err := runServers(cfg, mgr, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("rendezvous exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("rendezvous stopped")
	return 0
}

// runServers sets up and runs the WebSocket, admin, and metrics HTTP
// servers plus the heartbeat and (optional) notify goroutines, using an
// errgroup with signal-aware context for graceful shutdown.
//
// Grounded on cmd/gobfd/main.go's runServers: errgroup + signal.NotifyContext
// lifecycle, systemd readiness notification, and a shutdown goroutine that
// waits on context cancellation before draining servers.
func runServers(
	cfg *config.Config,
	mgr *rendezvous.Manager,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	dispatch := rendezvous.NewDispatcher(mgr, logger)
	sup := rendezvous.NewHeartbeatSupervisor(mgr, logger, rendezvous.WithHeartbeatInterval(cfg.Heartbeat.Interval))

	wsHandler := transport.NewHandler(mgr, dispatch, sup, logger)
	wsMux := http.NewServeMux()
	wsMux.Handle(cfg.Transport.Path, wsHandler)
	wsSrv := &http.Server{
		Addr:              cfg.Transport.Addr,
		Handler:           wsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminSrv := newAdminServer(cfg.Admin, mgr, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, wsSrv, adminSrv, metricsSrv, cfg, logger)

	g.Go(func() error {
		return sup.Run(gCtx)
	})

	notifyHandler, notifyEnabled := newNotifyHandler(cfg.Notify, logger)
	if notifyEnabled {
		g.Go(func() error {
			return notifyHandler.Run(gCtx, mgr.PresenceEvents())
		})
	}

	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, wsSrv, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the transport, admin, and metrics HTTP
// server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	wsSrv, adminSrv, metricsSrv *http.Server,
	cfg *config.Config,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("websocket server listening", slog.String("addr", cfg.Transport.Addr), slog.String("path", cfg.Transport.Path))
		return listenAndServe(ctx, &lc, wsSrv, cfg.Transport.Addr)
	})

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog goroutine as an errgroup
// member. SIGHUP reload only updates the dynamic log level here: unlike
// the teacher's declarative BFD sessions, a rendezvous daemon has no
// reconcilable static configuration beyond logging.
func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// handleSIGHUP listens for SIGHUP and reloads the dynamic log level from
// a fresh read of the configuration file. Blocks until ctx is cancelled.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

// reloadLogLevel loads a fresh configuration from configPath and updates
// the dynamic log level. Errors during reload are logged but do not stop
// the daemon -- the previous log level remains in effect.
func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval. If the watchdog is not configured, it exits
// immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown signals systemd, then drains the HTTP servers within
// shutdownTimeout.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Construction
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAdminServer creates an HTTP server for the JSON admin introspection
// surface plus the grpchealth check service.
func newAdminServer(cfg config.AdminConfig, mgr *rendezvous.Manager, logger *slog.Logger) *http.Server {
	srv := adminapi.NewServer(mgr, logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newVerifier builds the identity.JWTVerifier from the configured HMAC
// secrets. Returns an error if none are configured, since AUTH would
// otherwise be unconditionally unverifiable.
func newVerifier(cfg config.IdentityConfig, logger *slog.Logger) (*identity.JWTVerifier, error) {
	if len(cfg.HMACSecrets) == 0 {
		return nil, errors.New("identity.hmac_secrets must configure at least one signing key")
	}

	secrets := make(map[string][]byte, len(cfg.HMACSecrets))
	for kid, secret := range cfg.HMACSecrets {
		secrets[kid] = []byte(secret)
	}

	store := identity.NewHMACKeyStore(secrets)

	opts := []identity.Option{identity.WithClockSkew(cfg.ClockSkew)}
	if cfg.ExpectedIssuer != "" {
		opts = append(opts, identity.WithExpectedIssuer(cfg.ExpectedIssuer))
	}

	return identity.NewJWTVerifier(store.Keyfunc(), logger, opts...), nil
}

// newResolver builds the membership.HTTPResolver. A blank BaseURL is a
// valid deployment shape (every AUTH degrades to a null network id per
// spec.md §7), so this never errors.
func newResolver(cfg config.MembershipConfig, logger *slog.Logger) *membership.HTTPResolver {
	return membership.NewHTTPResolver(cfg.BaseURL, logger,
		membership.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		membership.WithMaxElapsed(cfg.MaxElapsed),
	)
}

// newNotifyHandler builds the notify.Handler when enabled. Returns
// (nil, false) when notifications are disabled.
func newNotifyHandler(cfg config.NotifyConfig, logger *slog.Logger) (*notify.Handler, bool) {
	if !cfg.Enabled {
		return nil, false
	}

	client := slack.New(cfg.BotToken)
	handler := notify.NewHandler(notify.HandlerConfig{
		Poster:    client,
		ChannelID: cfg.ChannelID,
		Dampening: notify.DefaultDampeningConfig(),
		Logger:    logger,
	})

	return handler, true
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
