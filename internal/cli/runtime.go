package cli

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/config"
	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/identity"
	"github.com/roach88/homesync/internal/logger"
	"github.com/roach88/homesync/internal/metrics"
	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/remote/wsremote"
)

// runtime holds what a long-running command builds from the config.
type runtime struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	closers []func() error
}

// setup loads and validates the config and builds the logger.
func (o *RootOptions) setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{
		JSON:    cfg.Log.JSON,
		Verbose: cfg.Log.Verbose,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "create logger", err)
	}
	if cfg.File != "" {
		log.Debugw("Config loaded", "file", cfg.File)
	}
	return &runtime{cfg: cfg, log: log}, nil
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.Verbose {
		cfg.Log.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// close releases everything opened through the runtime, newest first.
func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.log.Warnw("Close failed", "error", err)
		}
	}
	r.closers = nil
	_ = r.log.Sync()
}

func (r *runtime) openCache() (cache.Cache, error) {
	if r.cfg.Cache.Memory {
		return cache.NewMemory(), nil
	}
	st, err := cache.Open(r.cfg.Cache.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open cache", err)
	}
	r.closers = append(r.closers, st.Close)
	return st, nil
}

func (r *runtime) openSource() (*wsremote.Client, error) {
	paths, err := r.cfg.PathMap()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "remote.devices", err)
	}
	c, err := wsremote.NewClient(wsremote.Options{
		URL:               r.cfg.RemoteURL(),
		ReconnectInterval: r.cfg.Remote.Reconnect(),
		Paths:             paths,
		Logger:            r.log.Named("remote"),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "remote client", err)
	}
	return c, nil
}

func (r *runtime) newEngine(src remote.Source, c cache.Cache) *engine.Engine {
	return engine.New(src, c,
		engine.WithLogger(r.log.Named("engine")),
		engine.WithMetrics(r.metrics),
		engine.WithDebounce(r.cfg.Sync.Debounce()),
		engine.WithWriteTimeout(r.cfg.Sync.WriteTimeout()),
		engine.WithErrorBuffer(r.cfg.Sync.ErrorBuffer),
	)
}

// startEngine builds the cache, remote client and engine and runs the
// engine until ctx ends. The returned stop function waits for Run to
// return.
func (r *runtime) startEngine(ctx context.Context) (*engine.Engine, func(), error) {
	c, err := r.openCache()
	if err != nil {
		return nil, nil, err
	}
	src, err := r.openSource()
	if err != nil {
		return nil, nil, err
	}
	eng := r.newEngine(src, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Errorw("Engine stopped", "error", err)
		}
	}()
	stop := func() {
		eng.Stop()
		<-done
	}
	return eng, stop, nil
}

// userFor returns the --user flag or the signed-in user from the session
// file.
func (r *runtime) userFor(flag string) (string, error) {
	if id := strings.TrimSpace(flag); id != "" {
		return id, nil
	}
	u, err := identity.ReadSession(r.cfg.Session.Path)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "read session", err)
	}
	if u.ID == "" {
		return "", WrapExitError(ExitCommandError, "select user", errNoUser)
	}
	return u.ID, nil
}

// waitSynced blocks until the view for user shows a snapshot from a
// connected remote. A disconnected view keeps waiting while the client
// redials; PhaseError returns at once.
func waitSynced(ctx context.Context, eng *engine.Engine, user string, timeout time.Duration) (engine.View, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	views := eng.Watch(wctx)
	var last engine.View
	for {
		select {
		case v, ok := <-views:
			if !ok {
				if wctx.Err() == nil {
					return last, errors.New("engine stopped before the first snapshot")
				}
				views = nil
				continue
			}
			last = v
			if v.UserID != user {
				continue
			}
			if v.Phase == engine.PhaseError {
				return v, errors.Newf("remote refused the subscription: %s", v.Error)
			}
			if v.Connected && !v.Loading {
				return v, nil
			}
		case <-wctx.Done():
			err := errors.Newf("no snapshot within %s", timeout)
			if last.Error != "" {
				err = errors.Newf("no snapshot within %s (last error: %s)", timeout, last.Error)
			}
			return last, errors.WithHint(err, "is `homesync serve` running? see remote.url in the config")
		}
	}
}
