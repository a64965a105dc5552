package cli

import (
	"context"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/jsoncrdt/internal/discovery"
	"github.com/roach88/jsoncrdt/internal/relay"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Listen    string
	Redis     string
	Instance  string
	Metrics   bool
	Advertise bool
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Start a WebSocket relay",
		Long: `Start a relay that forwards every message received on /<room> to the
other connections in the same room.

Several relays can share rooms through Redis (--redis). With --metrics the
relay serves Prometheus metrics on /metrics; with --advertise it announces
itself over mDNS so peers on the local network find it without a URL.
Flags override the config file.

Example:
  jsoncrdt relay --listen :8080
  jsoncrdt relay --config relay.toml --redis localhost:6379 --metrics`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default from config, :8080)")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "Redis address for cross-instance fan-out")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance name (default: random)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "serve Prometheus metrics on /metrics")
	cmd.Flags().BoolVar(&opts.Advertise, "advertise", false, "announce the relay over mDNS")

	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Relay.Listen = opts.Listen
	}
	if flags.Changed("redis") {
		cfg.Relay.Redis = opts.Redis
	}
	if flags.Changed("instance") {
		cfg.Relay.Instance = opts.Instance
	}
	if flags.Changed("metrics") {
		cfg.Relay.Metrics = opts.Metrics
	}
	if flags.Changed("advertise") {
		cfg.Discovery.Enabled = opts.Advertise
	}

	logger := opts.newLogger(cmd, cfg.Log.Level)
	ctx, stop := signalContext(cmd)
	defer stop()

	relayOpts := []relay.Option{relay.WithLogger(logger)}
	if cfg.Relay.Instance != "" {
		relayOpts = append(relayOpts, relay.WithInstance(cfg.Relay.Instance))
	}
	if cfg.Relay.Metrics {
		relayOpts = append(relayOpts, relay.WithMetrics())
	}
	if cfg.Relay.Redis != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Relay.Redis})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return WrapExitError(ExitCommandError, "cannot reach redis", err)
		}
		logger.Info("redis fan-out enabled", "addr", cfg.Relay.Redis)
		relayOpts = append(relayOpts, relay.WithRedis(client))
	}
	srv := relay.New(relayOpts...)

	ln, err := net.Listen("tcp", cfg.Relay.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	addr := ln.Addr().(*net.TCPAddr)

	if cfg.Discovery.Enabled {
		instance := cfg.Relay.Instance
		if instance == "" {
			instance = fmt.Sprintf("jsoncrdt-relay-%d", addr.Port)
		}
		ad, err := discovery.Advertise(instance, addr.Port,
			discovery.WithService(cfg.Discovery.Service),
			discovery.WithDomain(cfg.Discovery.Domain),
			discovery.WithLogger(logger),
		)
		if err != nil {
			ln.Close()
			return WrapExitError(ExitCommandError, "failed to advertise relay", err)
		}
		defer ad.Shutdown()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s. Press Ctrl-C to stop.\n", addr)

	if err := srv.Serve(ctx, ln); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "relay error", err)
	}
	logger.Info("relay stopped gracefully")
	return nil
}
