package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	migrationsGlob    = "sql/migrations/*.sql"
	migrationLockKey  = int64(20531877)
	migrationTimeout  = 5 * time.Second
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) body(direction migrationDirection) string {
	if direction == migrationDown {
		return m.DownSQL
	}
	return m.UpSQL
}

// MigrationState представляет срез таблицы schema_migrations.
type MigrationState struct {
	Version int64 `db:"version"`
	Applied int   `db:"applied"`
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции, steps<=0 считается одним шагом.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает текущую версию и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var state MigrationState
	if err := s.db.GetContext(queryCtx, &state, `
		SELECT COALESCE(MAX(version), 0) AS version, COUNT(*) AS applied
		FROM schema_migrations
	`); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return state.Version, state.Applied, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	// Advisory lock держится на конкретном соединении, поэтому весь прогон идёт через один conn.
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	plan, err := planMigrations(ctx, conn, migrations, direction, steps)
	if err != nil {
		return err
	}
	for _, m := range plan {
		if err := applyMigration(ctx, conn, m, direction); err != nil {
			return err
		}
	}
	return nil
}

// planMigrations выбирает миграции для прогона: для up берутся неприменённые по возрастанию,
// для down последние применённые по убыванию.
func planMigrations(ctx context.Context, conn *sqlx.Conn, all []migration, direction migrationDirection, steps int) ([]migration, error) {
	var applied []int64
	if err := conn.SelectContext(ctx, &applied, `SELECT version FROM schema_migrations ORDER BY version ASC`); err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	appliedSet := make(map[int64]struct{}, len(applied))
	for _, v := range applied {
		appliedSet[v] = struct{}{}
	}

	var plan []migration
	switch direction {
	case migrationUp:
		for _, m := range all {
			if _, ok := appliedSet[m.Version]; ok {
				continue
			}
			plan = append(plan, m)
		}
	case migrationDown:
		byVersion := make(map[int64]migration, len(all))
		for _, m := range all {
			byVersion[m.Version] = m
		}
		for i := len(applied) - 1; i >= 0; i-- {
			m, ok := byVersion[applied[i]]
			if !ok {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", applied[i])
			}
			plan = append(plan, m)
		}
	default:
		return nil, fmt.Errorf("unsupported migration direction: %s", direction)
	}

	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

func applyMigration(ctx context.Context, conn *sqlx.Conn, m migration, direction migrationDirection) error {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", direction, m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.body(direction)); err != nil {
		return fmt.Errorf("execute %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}

	if direction == migrationUp {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, name, applied_at)
			VALUES ($1, $2, NOW())
		`, m.Version, m.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}
	return nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := filepath.Base(file)
		matches := migrationFilePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := matches[2], migrationDirection(matches[3])

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	return migrations, nil
}
