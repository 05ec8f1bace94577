package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/cory-johannsen/islemulti/internal/config"
)

var (
	flagDirection  string
	flagSteps      int
	flagMigrations string
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply journal schema migrations",
		Long: `Run the SQL migrations for the session event journal against the
database named in the configuration.

Examples:
  islemulti migrate
  islemulti migrate --direction down --steps 1`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
	cmd.Flags().StringVar(&flagDirection, "direction", "up", "Migration direction: up or down")
	cmd.Flags().IntVar(&flagSteps, "steps", 0, "Number of steps (0 = all)")
	cmd.Flags().StringVar(&flagMigrations, "path", "file://migrations", "Migration source URL")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	start := time.Now()

	if flagDirection != "up" && flagDirection != "down" {
		return fmt.Errorf("invalid direction %q: must be 'up' or 'down'", flagDirection)
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	m, err := migrate.New(flagMigrations, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch {
	case flagDirection == "up" && flagSteps > 0:
		err = m.Steps(flagSteps)
	case flagDirection == "up":
		err = m.Up()
	case flagSteps > 0:
		err = m.Steps(-flagSteps)
	default:
		err = m.Down()
	}

	noChange := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !noChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, _ := m.Version()
	elapsed := time.Since(start)
	out := cmd.OutOrStdout()
	if noChange {
		fmt.Fprintf(out, "no changes (version=%d dirty=%v) [%s]\n", version, dirty, elapsed)
	} else {
		fmt.Fprintf(out, "migrated %s to version=%d dirty=%v [%s]\n", flagDirection, version, dirty, elapsed)
	}
	return nil
}
