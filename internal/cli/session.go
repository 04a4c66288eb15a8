package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/identity"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Name  string
	Email string
	Role  string
}

// SessionResult is the JSON payload of login and logout.
type SessionResult struct {
	Path string         `json:"path"`
	User *identity.User `json:"user,omitempty"`
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign a user in",
		Long: `Write the session file so that later commands, and any running
homesync watch, act for this user.

Examples:
  homesync login alice
  homesync login bob --name "Bob" --role admin`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Sign the current user out",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(rootOpts, cmd)
		},
	}
}

func runLogin(opts *LoginOptions, id string, cmd *cobra.Command) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return NewExitError(ExitCommandError, "user id must not be empty")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	u := identity.User{ID: id, Name: opts.Name, Email: opts.Email, Role: opts.Role}
	if err := identity.WriteSession(cfg.Session.Path, u); err != nil {
		return WrapExitError(ExitCommandError, "login", err)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(SessionResult{Path: cfg.Session.Path, User: &u})
	}
	out.VerboseLog("session written to %s", cfg.Session.Path)
	return out.Success("Signed in as " + id + ".")
}

func runLogout(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	prev, err := identity.ReadSession(cfg.Session.Path)
	if err != nil {
		// An unreadable session file is removed all the same.
		prev = identity.User{}
	}
	if err := identity.ClearSession(cfg.Session.Path); err != nil {
		return WrapExitError(ExitCommandError, "logout", err)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		res := SessionResult{Path: cfg.Session.Path}
		if prev.ID != "" {
			res.User = &prev
		}
		return out.Success(res)
	}
	if prev.ID == "" {
		return out.Success("Nobody was signed in.")
	}
	return out.Success("Signed out " + prev.ID + ".")
}
