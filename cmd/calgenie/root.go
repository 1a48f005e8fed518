package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/calgenie/internal/app"
	"github.com/ashureev/calgenie/internal/config"
)

type globalOptions struct {
	store    string
	meetings string
	db       string
	nlp      string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "calgenie",
		Short: "Negotiate and manage meetings from the terminal",
		Long: `calgenie schedules meetings from natural-language requests.

It checks requests against the stored calendar, offers to replace
conflicting meetings the requester does not organize, and asks for
confirmation before anything is written.

Configuration is read from the environment (and a .env file); the flags
below override it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.store, "store", "", "event store driver: json, sqlite or memory (default $STORE_DRIVER)")
	cmd.PersistentFlags().StringVar(&opts.meetings, "meetings", "", "meetings JSON file (default $MEETINGS_PATH)")
	cmd.PersistentFlags().StringVar(&opts.db, "db", "", "SQLite database path (default $DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.nlp, "nlp", "", "language provider: openai, grpc or none (default $NLP_PROVIDER)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if opts.verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newMeetingsCmd(opts))
	cmd.AddCommand(newServeCmd())
	return cmd
}

// loadConfig reads the environment, applies flag overrides and validates.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg := config.FromEnv()
	if o.store != "" {
		cfg.StoreDriver = strings.ToLower(o.store)
	}
	if o.meetings != "" {
		cfg.MeetingsPath = o.meetings
	}
	if o.db != "" {
		cfg.DBPath = o.db
	}
	if o.nlp != "" {
		cfg.NLP.Provider = strings.ToLower(o.nlp)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *globalOptions) open(ctx context.Context) (*app.App, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, slog.Default(), nil)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Explain how to run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(),
				"The HTTP and WebSocket server is a separate binary: go run ./cmd/server")
			return err
		},
	}
}
