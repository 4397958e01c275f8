package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/breakpoint-labs/havoc/pkg/alerting"
	"github.com/breakpoint-labs/havoc/pkg/api"
	"github.com/breakpoint-labs/havoc/pkg/config"
	"github.com/breakpoint-labs/havoc/pkg/drivers"
	"github.com/breakpoint-labs/havoc/pkg/engine"
	"github.com/breakpoint-labs/havoc/pkg/events"
	"github.com/breakpoint-labs/havoc/pkg/gateway"
	"github.com/breakpoint-labs/havoc/pkg/log"
	"github.com/breakpoint-labs/havoc/pkg/orchestrator"
	"github.com/breakpoint-labs/havoc/pkg/persistence"
	"github.com/breakpoint-labs/havoc/pkg/telemetry"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableSorting:         true,
		DisableLevelTruncation: true,
	})
}

func main() {
	var configPath string
	var dryRun bool

	root := &cobra.Command{
		Use:   "havoc",
		Short: "havoc is a fault-injection experiment orchestrator",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the orchestrator and its HTTP operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, dryRun)
		},
	}
	serve.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")
	serve.Flags().BoolVar(&dryRun, "dry-run", false, "log fault-injection commands instead of executing them")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		log.Fatalf("havoc exited with error: %v", err)
	}
}

func runServe(configPath string, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(level)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitOTelSDK(context.Background(), cfg.Tracing.Endpoint)
		if err != nil {
			log.Warnf("[Startup]: Tracing disabled, collector at %s not usable, err: %v", cfg.Tracing.Endpoint, err)
		} else {
			defer shutdown(context.Background())
		}
	}

	runner := drivers.ShellRunner
	if dryRun {
		runner = func(ctx context.Context, command string) error {
			log.Infof("[DryRun]: %s", command)
			return nil
		}
	}
	registry := drivers.NewRegistry()
	if err := drivers.RegisterBuiltins(registry, runner); err != nil {
		return err
	}

	var persist persistence.Store
	if cfg.Persistence.Enabled {
		persist, err = persistence.Open(cfg.Persistence.Path)
		if err != nil {
			return err
		}
	}

	var alerts alerting.Sink = alerting.LogSink{}
	if cfg.Alerting.Sink == "redis" {
		redisSink, err := alerting.NewRedisSink(cfg.Alerting.RedisAddr, cfg.Alerting.RedisChannel)
		if err != nil {
			return err
		}
		defer redisSink.Close()
		alerts = redisSink
	}

	bus := events.NewBus()
	collector := telemetry.NewCollector()
	go collector.Observe(bus.Subscribe())

	// the metrics gateway is an external collaborator; until one is wired
	// in, the static gateway keeps rehearsals and dry runs usable
	gw := gateway.NewStatic()

	orch, err := orchestrator.New(gw, registry, bus, orchestrator.Options{
		Engine: engine.Options{
			SampleInterval:  cfg.Engine.SampleInterval,
			MonitorInterval: cfg.Engine.MonitorInterval,
			DefaultDuration: cfg.Engine.DefaultDuration,
		},
		Persistence: persist,
		Alerts:      alerts,
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	server := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      api.NewServer(orch, collector.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("[Startup]: Operator API listening on %s", cfg.API.Addr)
		errCh <- server.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Infof("[Shutdown]: Received %s, draining", s)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
