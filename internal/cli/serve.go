package cli

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/metrics"
	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/remote/wsremote"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Simulate bool
	Interval time.Duration
	Users    []string
	Seed     uint64
}

// ServeInfo is printed once the server is listening.
type ServeInfo struct {
	Addr     string   `json:"addr"`
	URL      string   `json:"url"`
	Simulate bool     `json:"simulate"`
	Users    []string `json:"users,omitempty"`
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a realtime state server",
		Long: `Run an in-memory realtime state server that homesync clients
subscribe to over websockets.

Each user has one document holding device switches, alert switches and
sensor readings. Every change is pushed to all of that user's clients.
/metrics serves Prometheus metrics and /healthz a liveness probe.

With --simulate the server plays a temperature and humidity sensor,
publishing a new reading every interval to the given users, or to every
user it has seen.

Examples:
  homesync serve
  homesync serve --addr 127.0.0.1:9000
  homesync serve --simulate --interval 2s --user alice`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "publish simulated sensor readings")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "simulated reading period (default server.simulate_interval_ms)")
	cmd.Flags().StringSliceVar(&opts.Users, "user", nil, "users to simulate readings for (default all)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "seed for simulated readings (0 picks one)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	rt, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	addr := rt.cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	simulate := rt.cfg.Server.Simulate || opts.Simulate
	interval := rt.cfg.Server.SimulateInterval()
	if cmd.Flags().Changed("interval") {
		interval = opts.Interval
	}
	if simulate && interval <= 0 {
		return NewExitError(ExitCommandError, "--interval must be positive")
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := remote.NewNode()
	srv := wsremote.NewServer(node, rt.log.Named("server"))

	m := metrics.New()
	m.Registry().MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "homesync",
			Name:      "server_connections",
			Help:      "Open client websockets.",
		},
		func() float64 { return float64(srv.Connections()) },
	))
	srv.Router().Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "listen on "+addr, err)
	}
	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	if simulate {
		simOpts := []remote.SimulatorOption{remote.WithSimulatorLogger(rt.log.Named("simulator"))}
		if opts.Seed != 0 {
			simOpts = append(simOpts, remote.WithSimulatorSeed(opts.Seed))
		}
		sim := remote.NewSimulator(node, opts.Users, interval, simOpts...)
		go sim.Run(ctx)
	}

	bound := ln.Addr().String()
	info := ServeInfo{Addr: bound, URL: "ws://" + bound, Simulate: simulate, Users: opts.Users}
	rt.log.Infow("Serving", "addr", bound, "simulate", simulate)
	out := opts.formatter(cmd)
	if opts.Format == "json" {
		if err := out.Success(info); err != nil {
			return err
		}
	} else {
		if err := out.Success("Serving on " + info.URL + " (Ctrl-C to stop)"); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return WrapExitError(ExitFailure, "server stopped", err)
	}

	srv.CloseConnections()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server stopped", err)
	}
	rt.log.Infow("Server stopped")
	return nil
}

// commandContext returns cmd's context, or Background outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
