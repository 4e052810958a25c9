package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"maxpop/internal/datastore"
	"maxpop/internal/dummy"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run a fake queue service backed by the configured Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(false, "")
		if err != nil {
			return err
		}
		defer logger.Sync()

		port, _ := cmd.Flags().GetInt("port")
		jitter, _ := cmd.Flags().GetDuration("jitter")
		failRate, _ := cmd.Flags().GetFloat64("fail-rate")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store := datastore.New(datastore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.TransPrefix,
		}, logger)
		defer store.Close()
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("datastore %s: %w", cfg.Redis.Addr, err)
		}

		srv := dummy.NewServer(dummy.ServerConfig{
			Addr:     fmt.Sprintf(":%d", port),
			Jitter:   jitter,
			FailRate: failRate,
		}, store, logger)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run the fake service on")
	dummyCmd.Flags().Duration("jitter", 0, "upper bound of random delay added to every pop")
	dummyCmd.Flags().Float64("fail-rate", 0, "share of pops answered with 500")
}
