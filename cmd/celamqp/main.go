// celamqp — CEL to AMQP bridge.
// Reads call event records from the host platform and publishes each one as
// a JSON document to the configured exchange/queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/switchkit/celamqp"
	"github.com/switchkit/celamqp/config"
	"github.com/switchkit/celamqp/health"
	"github.com/switchkit/celamqp/host"
	"github.com/switchkit/celamqp/internal/rabbitmq"
)

// version is set by ldflags at build time.
var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "celamqp",
		Short:         "Bridge call event logging to an AMQP broker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "cel_amqp.yaml", "path to config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newStatusCmd(&configPath))

	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge, reading call event records from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*configPath)
		},
	}
}

func run(configPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry, err := rabbitmq.NewRegistry(profiles(cfg), rabbitmq.WithRegistryLogger(logger))
	if err != nil {
		return err
	}
	defer registry.Close()

	backend, err := celamqp.NewBackend(configPath, celamqp.NewRegistrySource(registry),
		celamqp.WithBackendLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := backend.Load(ctx); err != nil {
		return fmt.Errorf("configuration failed to load: %w", err)
	}

	backends := host.NewRegistry(host.WithRegistryLogger(logger))
	if err := backends.Register(backend.Name(), backend.HandleEvent); err != nil {
		return err
	}

	reloader, err := NewReloader(configPath, func() error {
		return backend.Reload(context.Background())
	}, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := reloader.Run(ctx); err != nil {
			logger.Error("config watcher stopped", "error", err)
		}
	}()

	source := NewStdinSource(logger)
	err = source.Run(ctx, backends.Dispatch)

	if uerr := backends.Unregister(backend.Name()); uerr != nil {
		logger.Error("failed to unregister backend", "error", uerr)
	}
	if uerr := backend.Unload(); uerr != nil {
		logger.Error("failed to unload backend", "error", uerr)
	}

	return err
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report broker connection health for the configured profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(*configPath)
		},
	}
}

func status(configPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry, err := rabbitmq.NewRegistry(profiles(cfg), rabbitmq.WithRegistryLogger(logger))
	if err != nil {
		return err
	}
	defer registry.Close()

	cm, err := registry.Get(cfg.CEL.Connection)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cm.Connect(ctx); err != nil {
		return err
	}

	checker := health.NewAMQPChecker(cm, logger)
	result := checker.Check(ctx)

	fmt.Printf("%s: %s (%s)\n", result.Name, result.Status, result.Message)
	fmt.Printf("  exchange: %q\n", cfg.CEL.Exchange)
	fmt.Printf("  queue:    %q\n", cfg.CEL.Queue)
	if result.Error != "" {
		fmt.Printf("  error:    %s\n", result.Error)
	}

	if result.Status == health.StatusUnhealthy {
		return fmt.Errorf("connection is unhealthy")
	}
	return nil
}

func profiles(cfg *config.Config) map[string]rabbitmq.Profile {
	out := make(map[string]rabbitmq.Profile, len(cfg.Connections))
	for name, conn := range cfg.Connections {
		out[name] = rabbitmq.Profile{URL: conn.URL}
	}
	return out
}
