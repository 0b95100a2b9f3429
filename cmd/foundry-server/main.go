package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/config"
	"github.com/Lucas-William-Bateson/foundry/dispatch"
	"github.com/Lucas-William-Bateson/foundry/janitor"
	"github.com/Lucas-William-Bateson/foundry/scheduler"
	"github.com/Lucas-William-Bateson/foundry/store"
	"github.com/Lucas-William-Bateson/foundry/webhook"
)

var (
	version   string
	branch    string
	revision  string
	buildDate string
	goVersion = runtime.Version()
)

var (
	bindAddr    = kingpin.Flag("bind-addr", "The address to listen on for webhook and dispatch HTTP requests.").Envar("FOUNDRY_BIND_ADDR").Default(":5000").String()
	metricsAddr = kingpin.Flag("metrics-listen-address", "The address to listen on for Prometheus metrics requests.").Default(":9001").String()
	metricsPath = kingpin.Flag("metrics-path", "The path to listen for Prometheus metrics requests.").Default("/metrics").String()

	databaseURL = kingpin.Flag("database-url", "Postgres-wire-compatible connection string.").Envar("DATABASE_URL").Required().String()

	githubWebhookSecret = kingpin.Flag("github-webhook-secret", "The shared secret configured on the Github webhook.").Envar("GITHUB_WEBHOOK_SECRET").Required().String()

	schedulerTick       = kingpin.Flag("scheduler-tick-interval", "How often the scheduler checks for due schedules.").Envar("FOUNDRY_SCHEDULER_TICK").Default("1s").Duration()
	janitorTick         = kingpin.Flag("janitor-tick-interval", "How often the janitor checks for stale jobs.").Envar("FOUNDRY_JANITOR_TICK").Default("60s").Duration()
	staleJobTimeout     = kingpin.Flag("stale-job-timeout", "How long a job may run before it is eligible for reaping.").Envar("FOUNDRY_STALE_JOB_TIMEOUT").Default("30m").Duration()
	staleJobIdleTimeout = kingpin.Flag("stale-job-idle-timeout", "How long a running job may go without log activity before it is eligible for reaping.").Envar("FOUNDRY_STALE_JOB_IDLE_TIMEOUT").Default("10m").Duration()

	prometheusOutboundAPICallTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_server_outbound_api_call_totals",
			Help: "Total of outgoing api calls.",
		},
		[]string{"target"},
	)

	prometheusWebhookDeliveryTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_server_webhook_delivery_totals",
			Help: "Total of inbound webhook deliveries by outcome.",
		},
		[]string{"event", "outcome"},
	)

	prometheusJobEventTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_server_job_event_totals",
			Help: "Total of dispatch API job lifecycle events by outcome.",
		},
		[]string{"event", "outcome"},
	)

	prometheusScheduleFireTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_server_schedule_fire_totals",
			Help: "Total of scheduler tick outcomes by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(prometheusOutboundAPICallTotals)
	prometheus.MustRegister(prometheusWebhookDeliveryTotals)
	prometheus.MustRegister(prometheusJobEventTotals)
	prometheus.MustRegister(prometheusScheduleFireTotals)
}

func main() {
	kingpin.Parse()
	initLogging()

	cfg := config.ServerConfig{
		BindAddr:            *bindAddr,
		MetricsAddr:         *metricsAddr,
		MetricsPath:         *metricsPath,
		GithubWebhookSecret: *githubWebhookSecret,
		Database:            config.DatabaseConfig{DriverName: "postgres", DataSource: *databaseURL},
		JanitorInterval:     *janitorTick,
		StaleJobTimeout:     *staleJobTimeout,
		StaleJobIdleTimeout: *staleJobIdleTimeout,
		SchedulerTick:       *schedulerTick,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go startPrometheus()

	db := store.NewClient(cfg.Database.DataSource, prometheusOutboundAPICallTotals)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Connecting to database failed")
	}
	defer db.Close()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.NewLoop(db, *schedulerTick, prometheusScheduleFireTotals).Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.New(db, *janitorTick, *staleJobTimeout, *staleJobIdleTimeout).Run(ctx)
	}()

	srv := handleRequests(db)

	<-sigs
	log.Debug().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Graceful server shutdown failed")
	}

	cancel()
	wg.Wait()

	log.Info().Msg("Server gracefully stopped")
}

func startPrometheus() {
	log.Debug().
		Str("port", *metricsAddr).
		Str("path", *metricsPath).
		Msg("Serving Prometheus metrics...")

	http.Handle(*metricsPath, promhttp.Handler())

	if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
		log.Fatal().Err(err).Msg("Starting Prometheus listener failed")
	}
}

func initLogging() {
	zerolog.LevelFieldName = "severity"

	log.Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("app", "foundry-server").
		Str("version", version).
		Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)

	log.Info().
		Str("branch", branch).
		Str("revision", revision).
		Str("buildDate", buildDate).
		Str("goVersion", goVersion).
		Msg("Starting foundry-server...")
}

func handleRequests(db store.Client) *http.Server {
	webhookHandler := webhook.NewHandler(db, *githubWebhookSecret, prometheusWebhookDeliveryTotals)
	dispatchHandler := dispatch.NewHandler(db, prometheusJobEventTotals)

	router := dispatch.NewRouter(dispatchHandler)
	webhookHandler.Register(router)

	log.Debug().Str("addr", *bindAddr).Msg("Serving webhook and dispatch requests...")

	srv := &http.Server{
		Addr:           *bindAddr,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Starting gin router failed")
		}
	}()

	return srv
}
