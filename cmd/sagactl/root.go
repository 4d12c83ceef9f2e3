package main

import (
	"context"
	"fmt"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus/saga/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every subcommand needs after the root command loaded the configuration.
type app struct {
	configFile string
	verbose    bool
	timeout    time.Duration

	config *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "sagactl",
		Short: "Inspect saga instances and locks",
		Long: `sagactl reads saga instances from the configured store and releases saga locks
left behind by crashed consumers.

Settings are read from the config file and GOBUS_ environment variables,
e.g. GOBUS_STORE=mongodb or GOBUS_REDIS_ADDRS=redis:6379.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "timeout of the whole command")

	root.AddCommand(newLoadCommand(a), newUnlockCommand(a))
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.config = cfg

	if a.verbose {
		a.logger, err = zap.NewDevelopment()
	} else {
		a.logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.timeout)
}
