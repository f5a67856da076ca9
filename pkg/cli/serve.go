package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/httpimpl"
	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/protocol"
	"github.com/getstubd/stubd/pkg/tcpimpl"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

type serveFlags struct {
	configFile string
	configDir  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the configured stub services (foreground)",
	Long: `Start every service declared in the configuration and serve until
interrupted. Services with port 0 are bound to an OS-assigned ephemeral port;
the resolved port is logged at startup.`,
	Example: `  # Serve from a single file
  stubd serve --config services.yaml

  # Serve everything under a config directory
  stubd serve --config-dir ./stubs

  # Verbose structured logs
  stubd serve --config services.yaml --log-level debug --log-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(&serveFlagVals)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlagVals.configFile, "config", "c", "", "Path to service configuration file")
	serveCmd.Flags().StringVarP(&serveFlagVals.configDir, "config-dir", "d", "", "Directory of configuration files")
}

func runServe(f *serveFlags) error {
	file, err := loadConfig(f.configFile, f.configDir)
	if err != nil {
		return err
	}
	if len(file.Services) == 0 {
		return fmt.Errorf("no services configured")
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Format: logging.ParseFormat(logFormat),
	})

	registry := newRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instances := make([]*imposter.Instance, 0, len(file.Services))
	shutdown := func() {
		for _, in := range instances {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := in.Close(closeCtx); err != nil {
				log.Warn("service shutdown failed", "port", in.Port(), "error", err)
			}
			cancel()
		}
	}

	for _, svc := range file.Services {
		impl, err := registry.Get(svc.Protocol)
		if err != nil {
			shutdown()
			return fmt.Errorf("service on port %d: %w", svc.Port, err)
		}
		in, err := imposter.Create(ctx, impl, *svc,
			imposter.WithDefaults(file.Defaults),
			imposter.WithLogger(log))
		if err != nil {
			shutdown()
			return fmt.Errorf("failed to start %s service on port %d: %w", svc.Protocol, svc.Port, err)
		}
		instances = append(instances, in)
	}

	log.Info("all services up", "count", len(instances))
	<-ctx.Done()

	log.Info("shutting down")
	shutdown()
	return nil
}

// newRegistry wires the built-in protocol implementations.
func newRegistry() *protocol.Registry {
	registry := protocol.NewRegistry()
	// Registration of the built-ins cannot collide.
	_ = registry.Register(httpimpl.New())
	_ = registry.Register(tcpimpl.New())
	return registry
}

// loadConfig resolves the --config / --config-dir pair.
func loadConfig(configFile, configDir string) (*config.File, error) {
	switch {
	case configFile != "" && configDir != "":
		return nil, fmt.Errorf("--config and --config-dir are mutually exclusive")
	case configDir != "":
		return config.LoadDir(configDir)
	case configFile != "":
		return config.LoadFile(configFile)
	default:
		return nil, fmt.Errorf("one of --config or --config-dir is required")
	}
}
