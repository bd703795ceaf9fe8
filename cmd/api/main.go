package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"

	"github.com/academyhub/backend/internal/auth"
	"github.com/academyhub/backend/internal/catalog"
	"github.com/academyhub/backend/internal/config"
	"github.com/academyhub/backend/internal/dashboard"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the task execution worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	root := &cobra.Command{
		Use:           "api",
		Short:         "Academy agent task approval service",
		SilenceUsage:  true,
		RunE:          serveCmd.RunE,
	}
	root.AddCommand(serveCmd, newMigrateCmd(logger), newQueriesCmd(), newKeysCmd(), newStaffCmd())
	return root
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot reach PostgreSQL (is it running?): %w", err)
	}
	return pool, nil
}

func newMigrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply River job queue migrations and the agent schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
			if err != nil {
				return fmt.Errorf("create river migrator: %w", err)
			}
			res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
			if err != nil {
				return fmt.Errorf("river migrate up: %w", err)
			}
			logger.Info("River migrations applied", "versions", len(res.Versions))

			if err := repository.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info("agent schema applied")
			return nil
		},
	}
}

func newQueriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queries",
		Short: "List the named queries agents may run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, q := range catalog.New(nil, nil, nil).ListAvailableQueries() {
				fmt.Fprintf(tw, "%s\t%s\n", q.Name, q.Description)
			}
			return tw.Flush()
		},
	}
}

func newKeysCmd() *cobra.Command {
	var orgID, agentID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for an agent and print it once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			k, raw, err := dashboard.IssueKey(ctx, repository.NewAgentKeyRepo(pool), orgID, agentID)
			if err != nil {
				return fmt.Errorf("issue key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key id:  %s\napi key: %s\n", k.ID, raw)
			return nil
		},
	}
	create.Flags().StringVar(&orgID, "org", "", "organization the agent acts for")
	create.Flags().StringVar(&agentID, "agent", "", "agent identifier")
	_ = create.MarkFlagRequired("org")
	_ = create.MarkFlagRequired("agent")

	keys := &cobra.Command{Use: "keys", Short: "Manage agent API keys"}
	keys.AddCommand(create)
	return keys
}

// staffPasswordEnv lets scripts pass the password without it showing up in
// the process list.
const staffPasswordEnv = "STAFF_PASSWORD"

func newStaffCmd() *cobra.Command {
	var orgID, email, name, role, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account (use this for the first admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(staffPasswordEnv)
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters (--password or %s)", staffPasswordEnv)
			}
			if name == "" {
				name = email
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
			u, err := svc.Register(ctx, orgID, email, password, name, role)
			if err != nil {
				return fmt.Errorf("create staff user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staff id: %s\nemail:    %s\nrole:     %s\n", u.ID, u.Email, u.Role)
			return nil
		},
	}
	create.Flags().StringVar(&orgID, "org", "", "organization the account belongs to")
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&name, "name", "", "display name (defaults to the email)")
	create.Flags().StringVar(&role, "role", models.StaffRoleAdmin, "reviewer or admin")
	create.Flags().StringVar(&password, "password", "", "password; falls back to $"+staffPasswordEnv)
	_ = create.MarkFlagRequired("org")
	_ = create.MarkFlagRequired("email")

	staff := &cobra.Command{Use: "staff", Short: "Manage staff accounts"}
	staff.AddCommand(create)
	return staff
}
