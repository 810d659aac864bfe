package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/ff7link"
	"github.com/loykin/ff7link/internal/updater"
	"github.com/loykin/ff7link/pkg/client"
)

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "ff7link API URL (default from config, e.g. http://127.0.0.1:7373/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.Token, "token", "", "bearer token (default from config)")
}

// newClient builds an API client from flags, falling back to the config file.
func newClient(g *GlobalFlags, f *APIFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.Timeout = f.APITimeout
	if g.ConfigPath != "" {
		c, err := ff7link.LoadConfig(g.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg.BaseURL = baseURLFor(c.Server.Listen, c.Server.BasePath)
		cfg.Token = c.Server.Token
	}
	if f.APIUrl != "" {
		cfg.BaseURL = strings.TrimRight(f.APIUrl, "/")
	}
	if f.Token != "" {
		cfg.Token = f.Token
	}
	return client.New(cfg), nil
}

// baseURLFor turns a listen address into a URL reachable from this host.
func baseURLFor(listen, base string) string {
	host := listen
	switch {
	case strings.HasPrefix(host, ":"):
		host = "127.0.0.1" + host
	case strings.HasPrefix(host, "0.0.0.0:"):
		host = "127.0.0.1" + strings.TrimPrefix(host, "0.0.0.0")
	}
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return "http://" + host
	}
	return "http://" + host + "/" + base
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func createStatusCommand(g *GlobalFlags, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the game process is attached",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g, f)
			if err != nil {
				return err
			}
			p, err := c.Process(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), p)
			return nil
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createGameCommand(g *GlobalFlags, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Print the current game snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g, f)
			if err != nil {
				return err
			}
			snap, err := c.ReadGameData(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createWriteMessagesCommand(g *GlobalFlags, f *APIFlags) *cobra.Command {
	wf := &WriteMessagesFlags{}
	cmd := &cobra.Command{
		Use:   "write-messages",
		Short: "Write raw bytes into the world message buffer",
		Long: `Write the contents of a file into the game's world message buffer.

Examples:
  ff7link write-messages --file=messages.bin
  cat messages.bin | ff7link write-messages --file=-`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), wf.File)
			if err != nil {
				return err
			}
			c, err := newClient(g, f)
			if err != nil {
				return err
			}
			if err := c.UpdateMessageData(cmd.Context(), data); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes of message data\n", len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&wf.File, "file", "", "file with message bytes, '-' for stdin (required)")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	addAPIFlags(cmd, f)
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	// #nosec G304 user-selected input file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func createUpdateStatusCommand(g *GlobalFlags, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-status",
		Short: "Show the self-update session of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g, f)
			if err != nil {
				return err
			}
			s, err := c.UpdateStatus(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), s)
			return nil
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createUpdateCommand(g *GlobalFlags) *cobra.Command {
	uf := &UpdateFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and install an update in the foreground",
		Long: `Run one update cycle in the foreground using the [updater] settings.
The application is not restarted afterwards.

Examples:
  ff7link update --check-only
  ff7link update --config=ff7link.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), cmd.OutOrStdout(), g.ConfigPath, *uf)
		},
	}
	cmd.Flags().BoolVar(&uf.CheckOnly, "check-only", false, "only report whether an update is available")
	return cmd
}

func runUpdate(ctx context.Context, out io.Writer, configPath string, f UpdateFlags, opts ...ff7link.Option) error {
	cfg, err := ff7link.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg.Updater.Restart = false
	app, err := ff7link.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	u := app.Updater()
	if !u.Enabled() {
		return errors.New("updater is disabled: set [updater] enabled = true and endpoint")
	}
	if f.CheckOnly {
		rel, err := u.Check(ctx)
		if errors.Is(err, updater.ErrNoUpdate) {
			_, _ = fmt.Fprintf(out, "Up to date (%s)\n", u.Session().CurrentVersion)
			return nil
		}
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Update available: %s -> %s\n", u.Session().CurrentVersion, rel.Version)
		return nil
	}
	s := u.Run(ctx)
	printJSON(out, s)
	if s.State == updater.StateFailed {
		return fmt.Errorf("update failed: %s", s.Err)
	}
	return nil
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ff7link version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), ff7link.Version)
		},
	}
}
