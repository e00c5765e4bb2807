// Command fleetsentryd runs the monitoring cycle, the HTTP/websocket
// surface, and every supporting subsystem (store, notifications, audit)
// as a single long-lived process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fleetsentry/sentinel/internal/actions"
	"github.com/fleetsentry/sentinel/internal/anomaly"
	"github.com/fleetsentry/sentinel/internal/audit"
	"github.com/fleetsentry/sentinel/internal/circuit"
	"github.com/fleetsentry/sentinel/internal/config"
	"github.com/fleetsentry/sentinel/internal/eventbus"
	"github.com/fleetsentry/sentinel/internal/forecast"
	"github.com/fleetsentry/sentinel/internal/inventory"
	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/fleetsentry/sentinel/internal/monitoring"
	"github.com/fleetsentry/sentinel/internal/notify"
	"github.com/fleetsentry/sentinel/internal/obsmetrics"
	"github.com/fleetsentry/sentinel/internal/remediation"
	"github.com/fleetsentry/sentinel/internal/selfhealth"
	"github.com/fleetsentry/sentinel/internal/store"
	"github.com/fleetsentry/sentinel/internal/ws"

	httpapi "github.com/fleetsentry/sentinel/internal/api"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "fleetsentryd",
	Short:   "fleetsentryd monitors a fleet of container engines and raises insights",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleetsentryd %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	envFile := os.Getenv("FLEETSENTRY_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	var cfgMu sync.RWMutex

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to create data directory")
	}

	log.Info().Msg("starting fleetsentryd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, filepath.Join(cfg.DataDir, "fleetsentry.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	endpoints, err := loadEndpointRegistrations(endpointsFilePath(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load endpoint registrations")
	}
	if len(endpoints) == 0 {
		log.Warn().Msg("no endpoints registered, every cycle will be a no-op")
	}

	invClient, err := inventory.NewClient(endpoints, circuit.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build inventory client")
	}

	hub := ws.NewHub()
	bus := eventbus.New()
	metrics := obsmetrics.NewMetrics()
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(metrics.Collectors()...)

	signer, err := audit.NewSigner(cfg.DataDir, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audit signer")
	}
	auditStore := store.NewAuditStore(st, signer)

	actionStore := store.NewActionStore(st)
	executor := actions.NewInventoryExecutor(invClient)
	actionsBroadcaster := &hubActionBroadcaster{hub: hub}
	actionsSvc := actions.NewService(actionStore, executor, auditStore, actionsBroadcaster)

	dispatcher := buildNotifyDispatcher(ctx, cfg, st)
	dispatcher.SetCooldownWindow(true, cfg.AnomalyCooldownMinutes)
	go runCooldownSweeper(ctx, dispatcher)

	webhookDispatcher := notify.NewWebhookDispatcher(st)
	bus.OnAny(func(evt eventbus.DomainEvent) {
		webhookDispatcher.Dispatch(ctx, string(evt.Type), evt.Data)
	})

	suggester := remediation.NewSuggester()

	var isolationIF *anomaly.IsolationForest
	if cfg.IsolationForestEnabled {
		isolationIF = anomaly.NewIsolationForest()
	}

	var forecaster *forecast.Service
	if cfg.PredictiveAlertingEnabled {
		forecaster = forecast.NewService(forecast.DefaultForecastConfig())
	}

	deps := monitoring.Deps{
		Inventory:   invClient,
		Store:       st,
		Actions:     actionStore,
		Suggester:   suggester,
		IsolationIF: isolationIF,
		Bus:         bus,
		Hub:         hub,
		Notifier:    dispatcher,
		Metrics:     metrics,
	}
	if forecaster != nil {
		deps.Forecaster = forecasterAdapter{svc: forecaster}
	}

	cycle := monitoring.NewCycle(deps, cfg, &cfgMu)
	cycle.Start(ctx)

	health := selfhealth.NewRegistry(
		selfhealth.NewPingChecker("store", "", func(ctx context.Context) bool {
			return st.DB().PingContext(ctx) == nil
		}),
	)

	server := httpapi.NewServer(actionsSvc, health, st, invClient, os.Getenv("FLEETSENTRY_AUTH_TOKEN"))

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	settingsPath := filepath.Join(cfg.DataDir, "settings.env")
	watcher, err := config.NewWatcher(settingsPath, cfg, &cfgMu)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create settings watcher, live reload disabled")
	} else {
		watcher.SetReloadCallback(func(c *config.Config) {
			dispatcher.SetCooldownWindow(true, c.AnomalyCooldownMinutes)
		})
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start settings watcher")
		} else {
			defer watcher.Stop()
		}
	}

	go func() {
		certFile := os.Getenv("FLEETSENTRY_TLS_CERT_FILE")
		keyFile := os.Getenv("FLEETSENTRY_TLS_KEY_FILE")
		if certFile != "" && keyFile != "" {
			log.Info().Str("addr", cfg.ListenAddr).Str("protocol", "HTTPS").Msg("server listening")
			if err := httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("HTTPS server failed")
			}
			return
		}
		log.Info().Str("addr", cfg.ListenAddr).Str("protocol", "HTTP").Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			// Settings (anomaly thresholds, cooldown, max insights per cycle)
			// are already hot-reloaded by the fsnotify watcher above; SIGHUP
			// just forces operators' habitual "reload" signal to do something
			// observable. Endpoint registration changes still require a
			// restart, since the running Cycle was constructed with a fixed
			// Inventory.
			log.Info().Msg("received SIGHUP; live settings reload is handled by the file watcher, endpoint changes require a restart")
		case <-sigChan:
			log.Info().Msg("shutting down")
			goto shutdown
		}
	}

shutdown:
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	cancel()
	cycle.Stop()

	log.Info().Msg("fleetsentryd stopped")
}

// endpointsFilePath is the operator-maintained list of registered
// container engines; §6 treats this as config, not network discovery.
func endpointsFilePath(cfg *config.Config) string {
	if v := os.Getenv("FLEETSENTRY_ENDPOINTS_FILE"); v != "" {
		return v
	}
	return filepath.Join(cfg.DataDir, "endpoints.json")
}

// loadEndpointRegistrations reads the JSON array of registered endpoints.
// A missing file is not an error: a fresh install starts with zero
// endpoints until one is registered.
func loadEndpointRegistrations(path string) ([]inventory.EndpointRegistration, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var out []inventory.EndpointRegistration
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	return out, nil
}

// buildNotifyDispatcher wires a sender per channel enabled in the static
// environment configuration; a channel that fails to construct (e.g. a
// rejected webhook URL) is logged and left out of the map rather than
// aborting startup.
func buildNotifyDispatcher(ctx context.Context, cfg *config.Config, st *store.Store) *notify.Dispatcher {
	chCfg := notify.ChannelConfig{
		TeamsEnabled:      os.Getenv("NOTIFY_TEAMS_ENABLED") == "true",
		TeamsWebhookURL:   os.Getenv("NOTIFY_TEAMS_WEBHOOK_URL"),
		DiscordEnabled:    os.Getenv("NOTIFY_DISCORD_ENABLED") == "true",
		DiscordWebhookURL: os.Getenv("NOTIFY_DISCORD_WEBHOOK_URL"),
		TelegramEnabled:   os.Getenv("NOTIFY_TELEGRAM_ENABLED") == "true",
		TelegramBotToken:  os.Getenv("NOTIFY_TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("NOTIFY_TELEGRAM_CHAT_ID"),
		EmailEnabled:      os.Getenv("NOTIFY_EMAIL_ENABLED") == "true",
		SMTPHost:          os.Getenv("NOTIFY_SMTP_HOST"),
		SMTPPort:          smtpPortFromEnv(),
		SMTPUser:          os.Getenv("NOTIFY_SMTP_USER"),
		SMTPPass:          os.Getenv("NOTIFY_SMTP_PASS"),
		SMTPFrom:          os.Getenv("NOTIFY_SMTP_FROM"),
		SMTPTo:            splitEnvList(os.Getenv("NOTIFY_SMTP_TO")),
	}

	senders := make(map[notify.Channel]notify.ChannelSender)
	enabled := make(map[notify.Channel]bool)

	if chCfg.TeamsEnabled && chCfg.TeamsWebhookURL != "" {
		if s, err := notify.NewTeamsSender(chCfg.TeamsWebhookURL); err != nil {
			log.Warn().Err(err).Msg("teams webhook rejected, channel disabled")
		} else {
			senders[notify.ChannelTeams] = s
			enabled[notify.ChannelTeams] = true
		}
	}
	if chCfg.DiscordEnabled && chCfg.DiscordWebhookURL != "" {
		if s, err := notify.NewDiscordSender(chCfg.DiscordWebhookURL); err != nil {
			log.Warn().Err(err).Msg("discord webhook rejected, channel disabled")
		} else {
			senders[notify.ChannelDiscord] = s
			enabled[notify.ChannelDiscord] = true
		}
	}
	if chCfg.TelegramEnabled && chCfg.TelegramBotToken != "" {
		if s, err := notify.NewTelegramSender(chCfg.TelegramBotToken, chCfg.TelegramChatID); err != nil {
			log.Warn().Err(err).Msg("telegram bot token rejected, channel disabled")
		} else {
			senders[notify.ChannelTelegram] = s
			enabled[notify.ChannelTelegram] = true
		}
	}
	if chCfg.EmailEnabled && chCfg.SMTPHost != "" {
		resolver := &dnscache.Resolver{}
		if s, err := notify.NewEmailSender(ctx, resolver, chCfg); err != nil {
			log.Warn().Err(err).Msg("smtp host rejected, channel disabled")
		} else {
			senders[notify.ChannelEmail] = s
			enabled[notify.ChannelEmail] = true
		}
	}

	return notify.NewDispatcher(senders, enabled, st, st)
}

// smtpPortFromEnv parses NOTIFY_SMTP_PORT, defaulting to 587 (STARTTLS) when
// unset or invalid.
func smtpPortFromEnv() int {
	if v := os.Getenv("NOTIFY_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			return port
		}
	}
	return 587
}

// splitEnvList parses a comma-separated environment value into a trimmed,
// non-empty string slice.
func splitEnvList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runCooldownSweeper(ctx context.Context, d *notify.Dispatcher) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.SweepCooldowns()
		case <-ctx.Done():
			return
		}
	}
}

// hubActionBroadcaster adapts *ws.Hub into actions.Broadcaster, publishing
// every remediation action transition to a dedicated room.
type hubActionBroadcaster struct {
	hub *ws.Hub
}

func (b *hubActionBroadcaster) BroadcastAction(a *models.Action) {
	b.hub.BroadcastJSON("remediation", a)
}

// forecasterAdapter narrows *forecast.Service to monitoring.Forecaster.
type forecasterAdapter struct {
	svc *forecast.Service
}

func (f forecasterAdapter) Forecast(resourceID, resourceName, metric string, horizon time.Duration, threshold float64) (*forecast.Forecast, error) {
	return f.svc.Forecast(resourceID, resourceName, metric, horizon, threshold)
}
