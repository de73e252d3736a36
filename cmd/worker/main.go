package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lysyi3m/rss-tag/app/api"
	"github.com/lysyi3m/rss-tag/app/cfg"
	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/external"
	"github.com/lysyi3m/rss-tag/app/tasks"
)

func main() {
	defaults, err := cfg.WorkerDefaults()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := buildCLI(defaults).Execute(); err != nil {
		os.Exit(1)
	}
}

func buildCLI(defaults *cfg.WorkerCfg) *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:           "rss-tag-worker",
		Short:         "External worker and maintenance commands for RSS Tag",
		Version:       cfg.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(buildRunCommand(defaults))
	rootCmd.AddCommand(buildTokenCommand(defaults))
	rootCmd.AddCommand(buildLocksCommand(defaults))

	return rootCmd
}

func buildRunCommand(defaults *cfg.WorkerCfg) *cobra.Command {
	var (
		server string
		token  string
		idle   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Claim items from the server, process them locally and submit results",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The token stays out of the flag default so --help never prints it
			if token == "" {
				token = defaults.Token
			}
			if server == "" || token == "" {
				return fmt.Errorf("both --server and --token are required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := external.NewClient(server, token, "RSS Tag Worker/"+cfg.GetVersion(), 60*time.Second)
			runner := external.NewRunner(client, external.DefaultPlugins())
			if idle > 0 {
				runner.IdleSleep = idle
			}

			slog.Info("Starting external worker", "server", server)
			return runner.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&server, "server", defaults.Server, "server base URL (env RSSTAG_SERVER)")
	cmd.Flags().StringVar(&token, "token", "", "worker token (env RSSTAG_TOKEN)")
	cmd.Flags().DurationVar(&idle, "idle", 0, "sleep between claims when there is no work")

	return cmd
}

func buildTokenCommand(defaults *cfg.WorkerCfg) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage worker tokens",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db-path", defaults.DBPath, "path to the sqlite database (env DB_PATH)")

	var owner, name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a worker token for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			return withDatabase(dbPath, func(db *database.DB) error {
				token, secret, err := api.NewWorkerToken(owner, name)
				if err != nil {
					return err
				}
				if err := database.NewTokenRepository(db).CreateToken(cmd.Context(), token); err != nil {
					return err
				}
				fmt.Printf("id:    %s\ntoken: %s\n", token.ID, secret)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&owner, "owner", "", "owner the token acts for")
	createCmd.Flags().StringVar(&name, "name", "", "label for the token")

	var id string
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a worker token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return withDatabase(dbPath, func(db *database.DB) error {
				revoked, err := database.NewTokenRepository(db).RevokeToken(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !revoked {
					return fmt.Errorf("token %s not found or already revoked", id)
				}
				fmt.Printf("revoked %s\n", id)
				return nil
			})
		},
	}
	revokeCmd.Flags().StringVar(&id, "id", "", "token id")

	cmd.AddCommand(createCmd, revokeCmd)
	return cmd
}

func buildLocksCommand(defaults *cfg.WorkerCfg) *cobra.Command {
	var dbPath, owner string

	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and repair task and item locks",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db-path", defaults.DBPath, "path to the sqlite database (env DB_PATH)")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Free every claimed task and item, e.g. after a crash",
		Long: "Frees tasks and items left claimed by workers that died. Frozen tasks stay frozen.\n" +
			"Run it only while no server or worker is processing the affected owner.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(dbPath, func(db *database.DB) error {
				settings := tasks.DefaultSettings()
				graph, err := tasks.NewGraph(settings.Successors)
				if err != nil {
					return err
				}
				store := tasks.NewStore(database.NewTaskRepository(db), database.NewItemRepository(db),
					database.NewUserRepository(db), graph, settings)

				taskCount, itemCount, err := store.ResetLocks(cmd.Context(), owner)
				if err != nil {
					return err
				}
				fmt.Printf("released %d tasks and %d items\n", taskCount, itemCount)
				return nil
			})
		},
	}
	resetCmd.Flags().StringVar(&owner, "owner", "", "limit the reset to one owner")

	cmd.AddCommand(resetCmd)
	return cmd
}

func withDatabase(path string, fn func(db *database.DB) error) error {
	db, err := database.NewConnection(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, _, err := database.RunMigrations(db); err != nil {
		return err
	}
	return fn(db)
}
