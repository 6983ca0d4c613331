package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/switchagent/internal/config"
	"github.com/signalsfoundry/switchagent/internal/logging"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath   string
	backend      string
	netns        string
	grpcAddr     string
	metricsAddr  string
	warmBootFile string
	logLevel     string
}

func (o *cliOptions) bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to the agent YAML configuration")
	fs.StringVar(&o.backend, "backend", "", "hardware backend: fake or netdev")
	fs.StringVar(&o.netns, "netns", "", "network namespace holding the netdev ports")
	fs.StringVar(&o.grpcAddr, "grpc-addr", "", "TCP address the gRPC server listens on")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP address for /metrics and /ports; empty keeps the configured one")
	fs.StringVar(&o.warmBootFile, "warm-boot-file", "", "where warm-boot state is read at start and written at exit")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
}

// load reads the configuration file, if any, and lets explicitly set flags
// override it.
func (o *cliOptions) load(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return cfg, err
		}
	}

	if fs.Changed("backend") {
		cfg.Backend = config.Backend(o.backend)
	}
	if fs.Changed("netns") {
		cfg.Netns = o.netns
	}
	if fs.Changed("grpc-addr") {
		cfg.GRPCAddr = o.grpcAddr
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if fs.Changed("warm-boot-file") {
		cfg.WarmBootFile = o.warmBootFile
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func newRootCommand() *cobra.Command {
	var opts cliOptions
	cmd := &cobra.Command{
		Use:           "switch-agent",
		Short:         "Program switch hardware from a declarative configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd.Flags())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid configuration: %v\n", err)
				return err
			}
			log := logging.New(cfg.Logging())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
				return err
			}
			if err := run(ctx, cfg, log, lis); err != nil {
				log.Error(ctx, "agent exited with error", logging.Err(err))
				return err
			}
			return nil
		},
	}
	opts.bindFlags(cmd.PersistentFlags())
	cmd.AddCommand(newValidateCommand(&opts))
	return cmd
}

func newValidateCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file and print what it would program",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd.Flags())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid configuration: %v\n", err)
				return err
			}
			state, err := cfg.DesiredState()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switch %s: backend %s, %d ports, %d interfaces, %d acl entries\n",
				cfg.SwitchID, cfg.Backend,
				len(state.Ports()), len(state.Interfaces()), len(state.AclEntries()))
			return nil
		},
	}
}
