package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	root := &cobra.Command{
		Use:           "waybillctl",
		Short:         "Operate the waybill pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "dotenv file to load")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("WAYBILL_CONFIG"), "config file")

	root.AddCommand(
		migrateCmd(&opts),
		extractCmd(&opts),
		renderCmd(&opts),
		enqueueCmd(&opts),
		exportCmd(&opts),
	)
	return root
}
