package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/PortNumber53/show-association/backend/internal/migrations"
)

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var databaseURL string

	root := &cobra.Command{
		Use:          "dbtool",
		Short:        "Manage the show association database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"),
		"Postgres connection string (defaults to $DATABASE_URL)")

	withDB := func(fn func(db *sql.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			db, err := openDB(databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(db, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(db *sql.DB, _ []string) error {
				log.Printf("Applying migrations...")
				if err := migrations.Up(db); err != nil {
					return err
				}
				log.Printf("Migrations applied successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "fix",
			Short: "Clear a dirty flag left by a failed migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(db *sql.DB, _ []string) error {
				log.Printf("Attempting to fix dirty database...")
				if err := migrations.FixDirtyDatabase(db); err != nil {
					return err
				}
				log.Printf("Database fixed successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the recorded schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(db *sql.DB, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version number: %s", args[0])
				}
				log.Printf("Forcing database version to %d...", v)
				if err := migrations.ForceVersion(db, uint(v)); err != nil {
					return err
				}
				log.Printf("Database version forced to %d", v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: withDB(func(db *sql.DB, _ []string) error {
				st, err := migrations.CurrentStatus(db)
				if err != nil {
					return err
				}
				switch {
				case st.Fresh:
					fmt.Println("no migrations applied")
				case st.Dirty:
					fmt.Printf("version %d (dirty, run `dbtool fix`)\n", st.Version)
				default:
					fmt.Printf("version %d\n", st.Version)
				}
				return nil
			}),
		},
	)
	return root
}

func openDB(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required (or pass --database-url)")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
