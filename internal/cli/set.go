package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/state"
)

// defaultSetTimeout bounds the wait for the first snapshot and for the
// write outcome.
const defaultSetTimeout = 10 * time.Second

// SetOptions holds flags for the set and alert commands.
type SetOptions struct {
	*RootOptions
	User    string
	Timeout time.Duration
}

// SetResult is the JSON payload of set and alert.
type SetResult struct {
	User      string      `json:"user"`
	Key       string      `json:"key"`
	Value     bool        `json:"value"`
	WriteID   string      `json:"writeId"`
	Coalesced bool        `json:"coalesced,omitempty"`
	View      engine.View `json:"view"`
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return newSwitchCommand(rootOpts, state.GroupDevice, &cobra.Command{
		Use:   "set <device> <on|off>",
		Short: "Switch a device on or off",
		Long: `Switch a device (lamp, door, window or motion) and wait until the
remote has accepted the write. Names ignore case, so "Lamp" means lamp.

A refused write is put back and the command exits with code 1.

Examples:
  homesync set lamp on
  homesync set door off --user alice`,
	})
}

// NewAlertCommand creates the alert command.
func NewAlertCommand(rootOpts *RootOptions) *cobra.Command {
	return newSwitchCommand(rootOpts, state.GroupAlert, &cobra.Command{
		Use:   "alert <alert> <on|off>",
		Short: "Enable or disable a sensor alert",
		Long: `Switch a sensor alert (temperatureAlert, humidityAlert, motionAlert,
doorAlert or windowAlert) and wait until the remote has accepted the write.

Examples:
  homesync alert doorAlert on
  homesync alert temperatureAlert off --format json`,
	})
}

func newSwitchCommand(rootOpts *RootOptions, group state.Group, cmd *cobra.Command) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd.Args = cobra.ExactArgs(2)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSet(opts, group, args[0], args[1], cmd)
	}

	cmd.Flags().StringVarP(&opts.User, "user", "u", "", "user whose home to change (default: the signed-in user)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", defaultSetTimeout, "how long to wait for the remote")

	return cmd
}

func runSet(opts *SetOptions, group state.Group, name, raw string, cmd *cobra.Command) error {
	key, err := parseGroupKey(group, name)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid key", err)
	}
	value, err := parseSwitch(raw)
	if err != nil {
		return err
	}
	if opts.Timeout <= 0 {
		return NewExitError(ExitCommandError, "--timeout must be positive")
	}

	rt, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	user, err := rt.userFor(opts.User)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, stopEngine, err := rt.startEngine(ctx)
	if err != nil {
		return err
	}
	defer stopEngine()

	if err := eng.SetIdentity(user); err != nil {
		return WrapExitError(ExitFailure, "sign in", err)
	}
	if _, err := waitSynced(ctx, eng, user, opts.Timeout); err != nil {
		return WrapExitError(ExitFailure, "load "+user, err)
	}

	var res *engine.Result
	if group == state.GroupAlert {
		res, err = eng.UpdateSensorAlert(string(key), value)
	} else {
		res, err = eng.UpdateDevice(string(key), value)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "update "+string(key), err)
	}

	wctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := res.Wait(wctx); err != nil {
		return WrapExitError(ExitFailure, "write "+string(key), err)
	}
	if err := eng.Settle(wctx); err != nil {
		rt.log.Debugw("Settle interrupted", "error", err)
	}

	v := eng.View()
	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(SetResult{
			User:      user,
			Key:       string(key),
			Value:     value,
			WriteID:   res.WriteID(),
			Coalesced: res.Coalesced(),
			View:      v,
		})
	}
	out.VerboseLog("write %s accepted", res.WriteID())
	return out.Success(describeView(v))
}

func parseGroupKey(group state.Group, name string) (state.Key, error) {
	if group == state.GroupAlert {
		return state.ParseAlertKey(name)
	}
	return state.ParseDeviceKey(name)
}
