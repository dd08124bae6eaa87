package main

import (
	"context"
	"time"

	"github.com/edgeflare/pgcrud/internal/app"
	"github.com/edgeflare/pgcrud/pkg/db"
	"github.com/edgeflare/pgcrud/pkg/migrate"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *migrate.Migrator) error {
			applied, err := m.Up(ctx)
			for _, id := range applied {
				pterm.Success.Printfln("applied %s", id)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				pterm.Info.Println("database is up to date")
			}
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *migrate.Migrator) error {
			status, err := m.Status(ctx)
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithHasHeader().WithData(statusTable(status)).Render()
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

func withMigrator(ctx context.Context, fn func(context.Context, *migrate.Migrator) error) error {
	conn, err := db.Open(ctx, app.DBConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	m, err := migrate.New(conn, logger)
	if err != nil {
		return err
	}
	return fn(ctx, m)
}

func statusTable(status []migrate.Status) pterm.TableData {
	data := pterm.TableData{{"ID", "Name", "Applied", "Executed At"}}
	for _, s := range status {
		applied, at := "no", "-"
		if s.Applied {
			applied = "yes"
		}
		if s.ExecutedAt != nil {
			at = s.ExecutedAt.Local().Format(time.DateTime)
		}
		data = append(data, []string{s.ID, s.Name, applied, at})
	}
	return data
}
