package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/edgeflare/pgcrud/internal/app"
	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/logging"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Starts the HTTP API and, when enabled, the Prometheus metrics server`,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("addr", "l", "", "API listen address")
	f.String("db-type", "", "database adapter (postgres, gateway)")
	f.StringP("conn-string", "c", "", "PostgreSQL connection string")
	f.String("gateway-url", "", "PostgREST base URL")
	f.String("cache", "", "cache driver (none, memory, redis)")
	f.Bool("auto-migrate", false, "apply pending migrations before serving")

	viper.BindPFlag("server.addr", f.Lookup("addr"))
	viper.BindPFlag("database.type", f.Lookup("db-type"))
	viper.BindPFlag("database.postgres.connString", f.Lookup("conn-string"))
	viper.BindPFlag("database.gateway.url", f.Lookup("gateway-url"))
	viper.BindPFlag("cache.driver", f.Lookup("cache"))
	viper.BindPFlag("migrate.auto", f.Lookup("auto-migrate"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Migrate.Auto {
		applied, err := a.Migrator().Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("auto-migrate finished", zap.Strings("applied", applied))
	}

	printBanner(cfg)
	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("server gracefully stopped")
	return nil
}

func printBanner(cfg *config.Config) {
	target := logging.MaskDSN(cfg.Database.Postgres.ConnString)
	if cfg.Database.Type == "gateway" {
		target = cfg.Database.Gateway.URL
	}
	metricsAddr := "disabled"
	if cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}

	label := pterm.NewStyle(pterm.FgLightCyan)
	value := pterm.NewStyle(pterm.FgCyan, pterm.Bold)
	lines := [][2]string{
		{"Version", config.Version},
		{"Listen", cfg.Server.Addr},
		{"Base path", cfg.Server.BasePath},
		{"Database", cfg.Database.Type + " " + target},
		{"Cache", cfg.Cache.Driver},
		{"Metrics", metricsAddr},
	}
	var body string
	for i, l := range lines {
		if i > 0 {
			body += "\n"
		}
		body += label.Sprintf("%-10s", l[0]) + value.Sprint(l[1])
	}
	pterm.DefaultBox.
		WithTitle(value.Sprint("pgcrud")).
		WithPadding(1).
		Println(body)
}
