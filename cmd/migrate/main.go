package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "ORDERS_POSTGRES_DSN"
)

type options struct {
	direction string
	steps     int
	dsn       string
}

// migrator описывает операции Store, которые нужны CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
}

func main() {
	if err := app.LoadDotEnv(); err != nil {
		fail("%v", err)
	}

	var opts options
	flag.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.Parse()

	opts, err := resolveOptions(opts, os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// resolveOptions подставляет DSN из окружения и проверяет направление.
func resolveOptions(opts options, getenv func(string) string) (options, error) {
	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return opts, errors.New(envPostgresDSN + " (or -dsn) is required")
	}
	switch opts.direction {
	case "up", "down", "status":
	default:
		return opts, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	if opts.steps < 0 {
		return opts, errors.New("steps must be >= 0")
	}
	return opts, nil
}

func run(ctx context.Context, m migrator, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := m.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := m.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	version, count, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	label := "migration status"
	if opts.direction != "status" {
		label = "migrate " + opts.direction + " ok"
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d\n", label, version, count)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
