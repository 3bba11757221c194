package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/palaseus/gillean/internal/admin"
	"github.com/palaseus/gillean/internal/alert"
	"github.com/palaseus/gillean/internal/api"
	"github.com/palaseus/gillean/internal/circuitbreaker"
	"github.com/palaseus/gillean/internal/config"
	"github.com/palaseus/gillean/internal/node"
	"github.com/palaseus/gillean/internal/orchestrator"
	"github.com/palaseus/gillean/internal/ratelimit"
	"github.com/palaseus/gillean/internal/report"
	"github.com/palaseus/gillean/internal/suite"
	"github.com/palaseus/gillean/internal/tracing"
)

var (
	app = kingpin.New("harness", "Distributed test harness for gillean ledger nodes.")

	flagBinary   = app.Flag("binary", "Path to the node binary.").String()
	flagNodes    = app.Flag("nodes", "Number of nodes in the fleet.").Int()
	flagBasePort = app.Flag("base-port", "First node API port; node i listens on base+i.").Int()
	flagMode     = app.Flag("mode", "Run mode: single or continuous.").Enum("", config.SuiteModeSingle, config.SuiteModeContinuous)
	flagDuration = app.Flag("duration", "Continuous-mode time budget, e.g. 10m. Zero runs until interrupted.").Duration()
	flagFleet    = app.Flag("fleet", "Optional YAML fleet file overriding per-node parameters.").String()
	flagReport   = app.Flag("report", "Report artifact path.").String()
	flagCases    = app.Flag("case", "Run only the named case; repeatable.").Strings()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg := config.Load()
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting harness",
		"binary", cfg.Node.Binary,
		"nodes", cfg.Node.Count,
		"base_port", cfg.Node.BasePort,
		"mode", cfg.Suite.Mode,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "gillean-harness", tracingEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	handles, err := buildFleet(cfg, logger)
	if err != nil {
		logger.Error("failed to build fleet", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(cfg, suite.Builtin(), handles, buildAlerter(cfg, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	statusSrv := admin.NewServer(logger,
		admin.WithNodesProvider(orch),
		admin.WithHealthProvider(orch),
		admin.WithResultsProvider(orch),
		admin.WithRunRequester(orch),
	)
	g.Go(func() error {
		return statusSrv.Run(gCtx, cfg.Server.StatusPort)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	suiteFailed := false
	g.Go(func() error {
		defer cancel()

		if err := orch.StartFleet(gCtx); err != nil {
			return fmt.Errorf("start fleet: %w", err)
		}
		defer orch.StopFleet(context.Background())

		if cfg.Suite.Mode == config.SuiteModeContinuous {
			return orch.RunContinuous(gCtx)
		}

		res, err := orch.RunCases(gCtx, *flagCases)
		if err != nil {
			return err
		}
		rep := res.(*report.Report)
		rep.Render(os.Stdout, true)
		if cfg.Suite.ReportPath != "" {
			if err := rep.WriteFile(cfg.Suite.ReportPath); err != nil {
				logger.Warn("failed to write report artifact", "path", cfg.Suite.ReportPath, "error", err)
			} else {
				logger.Info("report written", "path", cfg.Suite.ReportPath)
			}
		}
		suiteFailed = !rep.AllPassed()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("harness exited with error", "error", err)
		os.Exit(1)
	}
	if suiteFailed {
		logger.Warn("suite finished with failures")
		os.Exit(1)
	}
	logger.Info("harness shut down gracefully")
}

// applyFlags lets command-line flags override the environment config.
// Validation runs after the merge, so a flag can repair a bad env value.
func applyFlags(cfg *config.Config) {
	if *flagBinary != "" {
		cfg.Node.Binary = *flagBinary
	}
	if *flagNodes > 0 {
		cfg.Node.Count = *flagNodes
	}
	if *flagBasePort > 0 {
		cfg.Node.BasePort = *flagBasePort
	}
	if *flagMode != "" {
		cfg.Suite.Mode = *flagMode
	}
	if *flagDuration > 0 {
		cfg.Suite.Duration = *flagDuration
	}
	if *flagReport != "" {
		cfg.Suite.ReportPath = *flagReport
	}
}

// buildFleet derives node configs, applies any fleet-file overrides, and
// wires a rate-limited, breaker-guarded API client into each handle.
func buildFleet(cfg *config.Config, logger *slog.Logger) ([]*node.Handle, error) {
	nodeCfgs := node.FleetConfigs(cfg.Node.Count, cfg.Node.BasePort, cfg.Node.DataRoot)

	if *flagFleet != "" {
		fleet, err := config.LoadFleet(*flagFleet)
		if err != nil {
			return nil, fmt.Errorf("load fleet file: %w", err)
		}
		nodeCfgs = node.ApplyFleetOverrides(nodeCfgs, fleet)
	}

	timing := node.Timing{
		StartupTimeout: cfg.Node.StartupTimeout,
		PollInterval:   cfg.Node.StartupPollInterval,
		StopGrace:      cfg.Node.StopGrace,
	}

	handles := make([]*node.Handle, len(nodeCfgs))
	for i, nc := range nodeCfgs {
		client := api.NewClient(nc.ID, nc.BaseURL(), logger,
			api.WithTimeout(cfg.API.RequestTimeout),
			api.WithLimiter(ratelimit.New(cfg.API.RateRPS, cfg.API.RateBurst, nc.ID)),
			api.WithBreaker(circuitbreaker.New(nc.ID, circuitbreaker.Config{
				FailureThreshold: cfg.API.BreakerFailures,
				OpenTimeout:      cfg.API.BreakerOpenTimeout,
			})),
		)
		handles[i] = node.NewHandle(nc, cfg.Node.Binary, client, timing, logger)
	}
	return handles, nil
}

// buildAlerter assembles the alert fan-out from the configured channels.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}
