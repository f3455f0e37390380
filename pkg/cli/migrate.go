package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tenantdesk/accesskit/pkg/observability"
	"github.com/tenantdesk/accesskit/pkg/schema"
)

func newMigrateCommand() *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
		Run:         runMigrate,
	}

	cmd.Flags.String("database-url", os.Getenv("ACCESSKIT_POSTGRES_URL"), "PostgreSQL connection URL")
	cmd.Flags.Duration("timeout", 2*time.Minute, "Migration timeout")

	return cmd
}

func runMigrate(args []string) error {
	cmd := newMigrateCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	dbURL := cmd.Flags.Lookup("database-url").Value.String()
	if dbURL == "" {
		return fmt.Errorf("database-url is required")
	}
	timeout, err := time.ParseDuration(cmd.Flags.Lookup("timeout").Value.String())
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	cm, err := schema.NewConnectionManager(schema.ConnectionConfig{
		PrimaryURL: dbURL,
		MaxConns:   2,
		MinConns:   1,
		Timeout:    10 * time.Second,
	}, observability.NopLogger())
	if err != nil {
		return err
	}
	defer cm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	applied, err := schema.Migrate(ctx, cm.Primary(), observability.NopLogger())
	if err != nil {
		return err
	}

	logger.WithField("applied", applied).Info("migrations complete")
	return nil
}
