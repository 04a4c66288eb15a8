package cli

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/identity"
	"github.com/roach88/homesync/internal/metrics"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	User        string
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a home's state as it syncs",
		Long: `Start the sync engine and print the view every time it changes.

The cached state is shown at once, then replaced by what the remote
pushes. Without --user the signed-in user from the session file is
followed, so homesync login and logout in another terminal switch the
watched home.

Examples:
  homesync watch
  homesync watch --user alice --format json
  homesync watch --metrics-addr :9100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.User, "user", "u", "", "user to watch (default: the signed-in user)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	rt, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.MetricsAddr != "" {
		rt.metrics = metrics.New()
		if err := serveMetrics(ctx, rt, opts.MetricsAddr); err != nil {
			return err
		}
	}

	provider, err := watchProvider(rt, opts.User)
	if err != nil {
		return err
	}

	eng, stopEngine, err := rt.startEngine(ctx)
	if err != nil {
		return err
	}
	defer stopEngine()

	go func() {
		if err := identity.Bind(ctx, provider, eng); err != nil && !errors.Is(err, context.Canceled) {
			rt.log.Errorw("Identity binding stopped", "error", err)
		}
	}()
	go logErrors(ctx, rt, eng)

	out := opts.formatter(cmd)
	for v := range eng.Watch(ctx) {
		if err := out.Line(describeView(v), v); err != nil {
			return err
		}
	}
	return nil
}

// watchProvider follows --user, or the session file when it is empty.
func watchProvider(rt *runtime, user string) (identity.Provider, error) {
	if user != "" {
		return identity.NewStatic(user), nil
	}
	s, err := identity.OpenSession(rt.cfg.Session.Path, identity.WithSessionLogger(rt.log.Named("session")))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open session", err)
	}
	rt.closers = append(rt.closers, s.Close)
	if s.Current() == "" {
		rt.log.Infow("Nobody signed in; waiting for homesync login", "session", s.Path())
	}
	return s, nil
}

func logErrors(ctx context.Context, rt *runtime, eng *engine.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-eng.Errors():
			var serr *engine.SyncError
			if errors.As(err, &serr) {
				rt.log.Warnw("Sync error", "kind", serr.KindName(), "user", serr.UserID, "key", serr.Key, "error", serr.Err)
				continue
			}
			rt.log.Warnw("Sync error", "error", err)
		}
	}
}

func serveMetrics(ctx context.Context, rt *runtime, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "listen on "+addr, err)
	}
	r := mux.NewRouter()
	r.Handle("/metrics", rt.metrics.Handler()).Methods(http.MethodGet)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Errorw("Metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	rt.log.Infow("Serving metrics", "addr", ln.Addr().String())
	return nil
}
