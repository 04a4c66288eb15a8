package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/state"
)

// CacheShowResult is the JSON payload of cache show.
type CacheShowResult struct {
	User  string      `json:"user"`
	Entry state.Entry `json:"entry"`
}

// CacheRow is one line of cache list.
type CacheRow struct {
	Namespace string    `json:"namespace"`
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CacheForgetResult is the JSON payload of cache forget.
type CacheForgetResult struct {
	User    string `json:"user"`
	Removed bool   `json:"removed"`
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local state cache",
		Long: `Inspect the SQLite cache that holds each user's last known state.

The engine shows the cached entry right after sign-in, before the
remote has answered.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newCacheShowCommand(rootOpts))
	cmd.AddCommand(newCacheListCommand(rootOpts))
	cmd.AddCommand(newCacheForgetCommand(rootOpts))

	return cmd
}

func newCacheShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [user]",
		Short: "Print a user's cached state",
		Long: `Print the cached entry for a user, or for the signed-in user when none
is given.

Examples:
  homesync cache show
  homesync cache show alice --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var user string
			if len(args) == 1 {
				user = args[0]
			}
			return runCacheShow(opts, user, cmd)
		},
	}
}

func newCacheListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List cached users",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(opts, cmd)
		},
	}
}

func newCacheForgetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "forget <user>",
		Short:         "Drop a user's cached state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheForget(opts, args[0], cmd)
		},
	}
}

// openStore opens the configured SQLite cache. An in-memory cache has
// nothing to inspect.
func openStore(rt *runtime) (*cache.Store, error) {
	if rt.cfg.Cache.Memory {
		return nil, NewExitError(ExitCommandError, "cache.memory is set: nothing is stored on disk")
	}
	st, err := cache.Open(rt.cfg.Cache.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open cache", err)
	}
	rt.closers = append(rt.closers, st.Close)
	return st, nil
}

func runCacheShow(opts *RootOptions, user string, cmd *cobra.Command) error {
	rt, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	user, err = rt.userFor(user)
	if err != nil {
		return err
	}
	st, err := openStore(rt)
	if err != nil {
		return err
	}

	e, ok, err := st.Get(commandContext(cmd), user)
	if err != nil {
		return WrapExitError(ExitCommandError, "read cache", err)
	}
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("nothing cached for %s", user))
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(CacheShowResult{User: user, Entry: e})
	}
	var b strings.Builder
	b.WriteString(user)
	describeEntry(&b, e)
	if !e.Device.LastUpdated.IsZero() {
		b.WriteString(" updated=" + e.Device.LastUpdated.UTC().Format(time.RFC3339))
	}
	return out.Success(b.String())
}

func runCacheList(opts *RootOptions, cmd *cobra.Command) error {
	rt, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := openStore(rt)
	if err != nil {
		return err
	}
	rows, err := st.Users(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "list cache", err)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		list := make([]CacheRow, len(rows))
		for i, r := range rows {
			list[i] = CacheRow(r)
		}
		return out.Success(list)
	}
	if len(rows) == 0 {
		return out.Success("Cache is empty.")
	}
	for _, r := range rows {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s  %s\n", r.Namespace, shortDigest(r.Digest), r.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runCacheForget(opts *RootOptions, user string, cmd *cobra.Command) error {
	rt, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := openStore(rt)
	if err != nil {
		return err
	}
	removed, err := st.Forget(commandContext(cmd), user)
	if err != nil {
		return WrapExitError(ExitCommandError, "forget "+user, err)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(CacheForgetResult{User: user, Removed: removed})
	}
	if !removed {
		return out.Success("Nothing cached for " + user + ".")
	}
	return out.Success("Forgot " + user + ".")
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
