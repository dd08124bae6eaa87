package main

import (
	"fmt"
	"os"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	cfg       *config.Config
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pgcrud",
	Short:         "pgcrud is a CRUD API over PostgreSQL or a PostgREST gateway",
	Long:          `pgcrud serves users, posts and auth endpoints backed by PostgreSQL directly or through a PostgREST gateway`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// skipConfig is the PersistentPreRunE of commands that need neither config
// nor logger.
func skipConfig(*cobra.Command, []string) error { return nil }

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/pgcrud.yaml or ./pgcrud.yaml)")
	f.StringVarP(&logLevel, "log-level", "L", "", "log level (debug, info, warn, error)")
	f.StringVar(&logFormat, "log-format", logging.FormatJSON, "log format (json, console)")

	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd, gatewayFunctionCmd)
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err = logging.New(logLevel, logFormat)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	if used := config.FileUsed(); used != "" {
		logger.Debug("config file loaded", zap.String("path", used))
	}
	return nil
}
