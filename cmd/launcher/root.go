package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stevecastle/gamelauncher/appconfig"
	"github.com/stevecastle/gamelauncher/logging"
)

const (
	configFlag   = "config"
	logLevelFlag = "log-level"
	logFileFlag  = "log-file"
)

var (
	configPath string
	logLevel   string
	logFile    string
	store      *appconfig.Store
	rootCmd    = &cobra.Command{
		Use:               "launcher",
		Short:             "Install, update and launch the game through wine",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, configFlag, "c", appconfig.DefaultConfigPath(), "launcher config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, logLevelFlag, "l", "", "log level, defaults to the configured one")
	rootCmd.PersistentFlags().StringVar(&logFile, logFileFlag, "", "log file path, console logs to stderr")

	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runnersCmd)
	rootCmd.AddCommand(dxvkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(openCmd)

	configCmd.AddCommand(configGetCmd, configSetCmd)
}

// setup loads the configuration and initialises logging for every command.
func setup(cmd *cobra.Command, _ []string) error {
	store = appconfig.NewStore(configPath)
	cfg, err := store.Load()
	if err != nil {
		return err
	}

	level, file := cfg.Log.Level, cfg.Log.File
	if flagChanged(cmd.Flags(), logLevelFlag) {
		level = logLevel
	}
	if flagChanged(cmd.Flags(), logFileFlag) {
		file = logFile
	}
	if err := logging.InitLog(level, file); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	log.Debugf("loaded config from %s", store.Path())
	return nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// signalContext is cancelled on interrupt so transfers stop cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
