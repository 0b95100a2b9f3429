package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/alecthomas/kingpin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/agent"
	"github.com/Lucas-William-Bateson/foundry/config"
	"github.com/Lucas-William-Bateson/foundry/container"
	"github.com/Lucas-William-Bateson/foundry/deploy"
	"github.com/Lucas-William-Bateson/foundry/githubapi"
	"github.com/Lucas-William-Bateson/foundry/ingress"
)

var (
	version   string
	branch    string
	revision  string
	buildDate string
	goVersion = runtime.Version()
)

var (
	agentID        = kingpin.Flag("agent-id", "Unique identifier this agent claims jobs under. Auto-generated if unset.").Envar("FOUNDRY_AGENT_ID").String()
	serverBaseURL  = kingpin.Flag("server-base-url", "Base url of the foundry server's dispatch API.").Envar("FOUNDRY_SERVER_BASE_URL").Required().String()
	workspaceDir   = kingpin.Flag("workspace-dir", "Writable directory for job checkouts.").Envar("FOUNDRY_WORKSPACE_DIR").Default("/var/lib/foundry/workspaces").String()
	pollInterval   = kingpin.Flag("poll-interval", "How often an idle worker polls for a job.").Envar("FOUNDRY_POLL_INTERVAL").Default("2s").Duration()
	workers        = kingpin.Flag("workers", "Number of concurrent job workers.").Envar("FOUNDRY_AGENT_WORKERS").Default("1").Int()
	defaultTimeout = kingpin.Flag("default-stage-timeout", "Wall-clock timeout applied to every stage.").Envar("FOUNDRY_DEFAULT_STAGE_TIMEOUT").Default("60m").Duration()
	metricsAddr    = kingpin.Flag("metrics-listen-address", "The address to listen on for Prometheus metrics requests.").Default(":9002").String()
	metricsPath    = kingpin.Flag("metrics-path", "The path to listen for Prometheus metrics requests.").Default("/metrics").String()

	deployNetwork  = kingpin.Flag("deploy-network", "Docker network deployed containers are attached to.").Envar("FOUNDRY_DEPLOY_NETWORK").Default("foundry").String()
	deployRootHost = kingpin.Flag("deploy-root-host", "Canonical host (e.g. the tunnel's cfargotunnel.com host) that each deployment domain's CNAME record points at.").Envar("FOUNDRY_DEPLOY_ROOT_HOST").String()

	cloudflareAPIBase   = kingpin.Flag("cloudflare-api-base", "Cloudflare API base url.").Envar("CLOUDFLARE_API_BASE").Default("https://api.cloudflare.com/client/v4").String()
	cloudflareAccountID = kingpin.Flag("cloudflare-account-id", "Cloudflare account id owning the tunnel.").Envar("CLOUDFLARE_ACCOUNT_ID").String()
	cloudflareTunnelID  = kingpin.Flag("cloudflare-tunnel-id", "Cloudflare Tunnel id to publish routes through.").Envar("CLOUDFLARE_TUNNEL_ID").String()
	cloudflareZoneID    = kingpin.Flag("cloudflare-zone-id", "Cloudflare zone id the deployment domains' DNS records are written to.").Envar("CLOUDFLARE_ZONE_ID").String()
	cloudflareAPIToken  = kingpin.Flag("cloudflare-api-token", "Cloudflare API token.").Envar("CLOUDFLARE_API_TOKEN").String()

	githubAppID          = kingpin.Flag("github-app-id", "Github App id to report commit statuses as.").Envar("GITHUB_APP_ID").String()
	githubInstallationID = kingpin.Flag("github-installation-id", "Github App installation id owning the repositories this agent builds.").Envar("GITHUB_INSTALLATION_ID").String()
	githubPrivateKeyPath = kingpin.Flag("github-private-key-path", "Path to the Github App's PEM-encoded private key.").Envar("GITHUB_PRIVATE_KEY_PATH").String()

	prometheusOutboundAPICallTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_agent_outbound_api_call_totals",
			Help: "Total of outgoing api calls by target and outcome.",
		},
		[]string{"target", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(prometheusOutboundAPICallTotals)
}

func main() {
	kingpin.Parse()
	initLogging()

	if *agentID == "" {
		*agentID = uuid.New().String()
	}

	cfg := config.AgentConfig{
		AgentID:              *agentID,
		ServerBaseURL:        *serverBaseURL,
		WorkspaceDir:         *workspaceDir,
		PollInterval:         *pollInterval,
		Workers:              *workers,
		DefaultTimeout:       *defaultTimeout,
		MetricsAddr:          *metricsAddr,
		MetricsPath:          *metricsPath,
		GithubAppID:          *githubAppID,
		GithubInstallationID: *githubInstallationID,
		GithubPrivateKeyPath: *githubPrivateKeyPath,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go startPrometheus()

	ctx, cancel := context.WithCancel(context.Background())

	dispatchClient := agent.NewDispatchClient(cfg.ServerBaseURL, prometheusOutboundAPICallTotals)
	reconciler := buildReconciler()
	statusReporter := buildStatusReporter(cfg)

	executor := agent.NewExecutor(agent.Options{
		AgentID:        cfg.AgentID,
		WorkspaceDir:   cfg.WorkspaceDir,
		Workers:        cfg.Workers,
		PollInterval:   cfg.PollInterval,
		DefaultTimeout: cfg.DefaultTimeout,
	}, dispatchClient, reconciler, statusReporter)

	done := make(chan struct{})
	go func() {
		defer close(done)
		executor.Run(ctx)
	}()

	<-sigs
	log.Debug().Msg("Shutting down...")
	cancel()
	<-done

	log.Info().Msg("Agent gracefully stopped")
}

// buildReconciler wires a deploy.Reconciler against Cloudflare Tunnel when
// credentials are configured, otherwise returns nil: jobs with no [deploy]
// block never touch it, and a job that declares one fails loudly instead of
// silently no-opping (see runDeploy's nil check).
func buildReconciler() *deploy.Reconciler {
	if *cloudflareTunnelID == "" {
		log.Warn().Msg("No Cloudflare Tunnel configured; jobs declaring [deploy] will fail")
		return nil
	}

	controller := ingress.NewCloudflareTunnel(*cloudflareAPIBase, *cloudflareAccountID, *cloudflareTunnelID, *cloudflareZoneID, *cloudflareAPIToken)
	return deploy.NewReconciler(container.NewRuntime(), controller, *deployNetwork, *deployRootHost)
}

// buildStatusReporter wires a githubapi.Client when GitHub App credentials
// are configured, otherwise returns nil: jobs built for non-github
// repositories, or when reporting is unconfigured, simply skip it.
func buildStatusReporter(cfg config.AgentConfig) githubapi.Client {
	if cfg.GithubAppID == "" {
		return nil
	}
	return githubapi.NewClient(githubapi.Config{
		AppID:          cfg.GithubAppID,
		InstallationID: cfg.GithubInstallationID,
		PrivateKeyPath: cfg.GithubPrivateKeyPath,
	})
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
		Str("app", "foundry-agent").
		Str("version", version).
		Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)

	log.Info().
		Str("branch", branch).
		Str("revision", revision).
		Str("buildDate", buildDate).
		Str("goVersion", goVersion).
		Msg("Starting foundry-agent...")
}
