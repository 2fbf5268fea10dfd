package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yoockh/smartattend/config"
	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/rollcall"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "smartattend",
		Short:         "Classroom attendance kiosk and processing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(), migrateCommand(), extractCommand())
	return root
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), settings)
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create database tables and Mongo indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(settings.LogLevel)

			if err := config.InitPostgres(); err != nil {
				return fmt.Errorf("postgres init: %w", err)
			}
			if err := config.Migrate(config.PostgresDB); err != nil {
				return fmt.Errorf("postgres migrate: %w", err)
			}
			log.Info("postgres migrated")

			if os.Getenv("MONGO_URI") == "" {
				return nil
			}
			if err := config.InitMongo(); err != nil {
				return fmt.Errorf("mongo init: %w", err)
			}
			defer config.MongoClient.Disconnect(cmd.Context())
			if err := config.EnsureMongoIndexes(settings.MongoDB); err != nil {
				return fmt.Errorf("mongo indexes: %w", err)
			}
			log.Info("mongo indexes ensured")
			return nil
		},
	}
}

func extractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <text>",
		Short: "Print the roll numbers found in a transcript",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ids := rollcall.Extract(strings.Join(args, " ")).Slice()
			if len(ids) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no roll numbers found")
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, " "))
		},
	}
}
