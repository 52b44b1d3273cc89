package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"filebroker/internal/fileserver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "filebroker",
		Short:         "Broker short-lived token-scoped URLs for file transfer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		backend string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the file server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Optional .env for local development.
			_ = godotenv.Load()

			cfg, err := fileserver.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backend") {
				cfg.Backend = backend
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logger := log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				Prefix:          "filebroker",
			})
			if os.Getenv("DEBUG") == "1" {
				logger.SetLevel(log.DebugLevel)
			}

			srv, err := fileserver.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := srv.EnsureRunning(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("shutting down", "signal", sig.String())

			return srv.Stop()
		},
	}

	cmd.Flags().StringVar(&backend, "backend", fileserver.BackendLocal, "backend to run: local or s3")
	cmd.Flags().IntVar(&port, "port", fileserver.DefaultPort, "listen port for the local backend (0 = ephemeral)")
	return cmd
}
