// Command edms-taskrunner is the background process of the lifecycle core:
// it runs the scheduler beat loop, executes individual tasks on demand,
// verifies the audit chain, and applies the schema. The HTTP/JSON API is a
// separate process and out of scope here.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	// Both supported database dialects register their drivers here so a
	// single binary serves production (MySQL) and offline/test (SQLite)
	// deployments.
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/edms/lifecycle-core/internal/artifact"
	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/config"
	"github.com/edms/lifecycle-core/internal/filestore"
	"github.com/edms/lifecycle-core/internal/lifecycle"
	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/scheduler"
	"github.com/edms/lifecycle-core/internal/storage/sqlstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "edms-taskrunner",
		Short:         "EDMS lifecycle core background task runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newRunOnceCmd(&configPath),
		newVerifyCmd(&configPath),
		newMigrateCmd(&configPath),
		newConfigCmd(&configPath),
	)
	return root
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			rendered, err := cfg.Render()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
}

// wiring holds the fully assembled core for one command invocation.
type wiring struct {
	cfg   *config.Config
	store *sqlstore.Store
	sched *scheduler.Scheduler
	log   *slog.Logger
}

func buildWiring(ctx context.Context, configPath string) (*wiring, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := sqlstore.Open(ctx, cfg.Database.Dialect, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	files, err := filestore.New(cfg.FileStore.Root)
	if err != nil {
		store.Close()
		return nil, err
	}

	pipeline := artifact.New(files, artifact.Config{
		OrganizationName: cfg.Organization.Name,
		SystemName:       cfg.Organization.SystemName,
		Extra:            cfg.Placeholders,
	}, log)

	notifier := notification.New(notification.Config{
		DefaultRoute: cfg.Notifications.DefaultRoute,
		Contacts:     cfg.Notifications.Contacts,
		WebhookURL:   cfg.Notifications.WebhookURL,
	}, log)

	engine := lifecycle.NewEngine(store, pipeline, notifier, log,
		lifecycle.WithSLAs(cfg.Workflow.ReviewSLA(), cfg.Workflow.ApprovalSLA()))

	tasks := scheduler.Tasks(scheduler.Deps{
		Store:    store,
		Engine:   engine,
		Notifier: notifier,
		Admins:   cfg.Notifications.Admins,
	})
	sched := scheduler.New(store, tasks, log, scheduler.WithWorkers(cfg.Scheduler.Workers))

	return &wiring{cfg: cfg, store: store, sched: sched, log: log}, nil
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler beat loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := buildWiring(ctx, *configPath)
			if err != nil {
				return err
			}
			defer w.store.Close()

			if err := w.sched.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			w.log.Info("scheduler stopped")
			return nil
		},
	}
}

func newRunOnceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once <task>",
		Short: "Execute a single scheduler task immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := buildWiring(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer w.store.Close()
			return w.sched.RunOnce(cmd.Context(), args[0])
		},
	}
}

func newVerifyCmd(configPath *string) *cobra.Command {
	var from int64
	cmd := &cobra.Command{
		Use:   "verify-audit-chain",
		Short: "Walk the audit chain and report the first divergence, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := buildWiring(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer w.store.Close()

			report, err := audit.VerifyChain(cmd.Context(), w.store, from)
			if err != nil {
				return err
			}
			if !report.OK {
				return fmt.Errorf("audit chain DIVERGED at sequence %d (%d entries checked)",
					*report.FirstDivergence, report.EntriesChecked)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "audit chain OK: %d entries verified\n", report.EntriesChecked)
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", 1, "sequence number to start verification at")
	return cmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the relational schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Open applies the schema as part of connecting.
			w, err := buildWiring(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer w.store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
