package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"maxpop/internal/banner"
	"maxpop/internal/config"
	"maxpop/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "maxpop",
	Short: "maxpop - pop throughput ramp for queue services",
	Long: `
maxpop measures how fast a queue service hands out messages.

Each round fills the origin queue with N transactions, then pops N of them
across the configured agents and times the drain. N grows until maxPop.max_pops,
then the payload grows and N starts over.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Init(viper.GetViper(), cfgFile)
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.maxpop.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(runCmd, dummyCmd, runsCmd, exportCmd)
}

// loadConfig reads the merged settings and builds the logger for a command.
// Logs go to logFile when set.
func loadConfig(validate bool, logFile string) (config.Config, *zap.Logger, error) {
	load := config.Decode
	if validate {
		load = config.Load
	}
	cfg, err := load(viper.GetViper())
	if err != nil {
		return config.Config{}, nil, err
	}

	var outputs []string
	if cfg.Log.File != "" {
		outputs = append(outputs, cfg.Log.File)
	} else if logFile != "" {
		outputs = append(outputs, logFile)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development, outputs...)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
