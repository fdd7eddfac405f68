// cmd/flowplan-migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/ignatij/flowplan/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "flowplan-migrate"}

func migrator(cmd *cobra.Command) (*migrate.Migrate, error) {
	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		// config.Load also picks up .env
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		connStr, err = cfg.DatabaseURL()
		if err != nil {
			return nil, err
		}
	}
	source, _ := cmd.Flags().GetString("source")
	m, err := migrate.New(source, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return m, nil
}

var upCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := migrator(cmd)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the last migration",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := migrator(cmd)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if err := m.Steps(-1); err != nil {
			fmt.Printf("Failed to revert migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Reverted the last migration")
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (optional if db.url or DB_* env vars are set)")
	rootCmd.PersistentFlags().String("source", "file://migrations", "Migrations source URL")
	rootCmd.AddCommand(upCmd, downCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
