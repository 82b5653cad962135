// Package db persists call records in PostgreSQL and owns the schema migrations for them.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	migrate "github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// VersionTable records the schema version tern has applied.
const VersionTable = "autoprobe_db_version"

// Migrations returns the embedded migration files rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}

	return sub
}

// Configurator defines the interface for database configuration.
type Configurator interface {
	DatabaseURL() string
}

// Logger is the subset of the observer used while migrating.
type Logger interface {
	Debug(msg string, ephemeralArgs ...any)
	Info(msg string, ephemeralArgs ...any)
	Error(msg string, err error, severity string, ephemeralArgs ...any)
}

// DBMigrator handles database migrations.
type DBMigrator struct {
	context    context.Context
	connection *pgx.Conn
	migrator   *migrate.Migrator
	dbURL      string
	logger     Logger
}

// NewMigrator connects to the configured database and loads the migrations found in files.
func NewMigrator(ctx context.Context, logger Logger, cfg Configurator, files fs.FS) (migrator *DBMigrator, fault error) {
	conn, err := pgx.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	mig, err := migrate.NewMigratorEx(ctx, conn, VersionTable, &migrate.MigratorOptions{DisableTx: false})
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}

	if err := mig.LoadMigrations(files); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("could not load migrations: %w", err)
	}

	m := &DBMigrator{
		context:    ctx,
		connection: conn,
		migrator:   mig,
		dbURL:      cfg.DatabaseURL(),
		logger:     logger,
	}

	mig.OnStart = func(sequence int32, name string, direction string, _ string) {
		m.logger.Info("applying migration", "sequence", sequence, "name", name, "direction", direction)
	}

	return m, nil
}

// Info holds information about the current migration status.
type Info struct {
	Migrations MigrationInfo
}

// MigrationInfo holds information about the migration status.
type MigrationInfo struct {
	CurrentVersion int32
	TargetVersion  int32
	Stages         []Stage
	Summary        string
}

// Stage represents a single migration stage.
type Stage struct {
	Sequence int32
	Name     string
	Migrated bool
}

// ErrInvalidSequenceNumber returns an error indicating an invalid sequence number.
func ErrInvalidSequenceNumber(seq int32) error {
	return fmt.Errorf("provided value '%d' is an invalid sequence number", seq)
}

// GetCurrentVersion retrieves the current migration version from the database.
func (m *DBMigrator) GetCurrentVersion() (currentVersion int32, fault error) {
	return m.migrator.GetCurrentVersion(m.context)
}

// Info describes the loaded migrations against the applied version. A negative target means
// the latest migration.
func (m *DBMigrator) Info(target int32) (information Info, fault error) {
	current, err := m.migrator.GetCurrentVersion(m.context)
	if err != nil {
		return Info{}, fmt.Errorf("could not get current version: %w", err)
	}

	return summarise(m.migrator.Migrations, current, target)
}

func summarise(migrations []*migrate.Migration, current, target int32) (information Info, fault error) {
	if len(migrations) == 0 {
		return Info{}, errors.New("no migrations loaded")
	}

	last := migrations[len(migrations)-1].Sequence
	if target < 0 {
		target = last
	}

	if target > last {
		return Info{}, ErrInvalidSequenceNumber(target)
	}

	i := Info{Migrations: MigrationInfo{CurrentVersion: current, TargetVersion: target}}

	for _, mig := range migrations {
		ind := "  "
		if mig.Sequence == target {
			ind = "> "
		}
		if mig.Sequence == current {
			ind = "@ "
		}

		i.Migrations.Stages = append(i.Migrations.Stages, Stage{
			Sequence: mig.Sequence,
			Name:     mig.Name,
			Migrated: mig.Sequence <= current,
		})
		i.Migrations.Summary += fmt.Sprintf("%2s %3d %s\n", ind, mig.Sequence, mig.Name)
	}

	return i, nil
}

// Migrate migrates the database to the latest version.
func (m *DBMigrator) Migrate() (fault error) {
	if err := m.migrator.Migrate(m.context); err != nil {
		return fmt.Errorf("could not migrate: %w", err)
	}

	return nil
}

// MigrateTo migrates the database up or down to the given sequence number.
func (m *DBMigrator) MigrateTo(sequence int32) (fault error) {
	if err := m.migrator.MigrateTo(m.context, sequence); err != nil {
		return fmt.Errorf("could not migrate to %d: %w", sequence, err)
	}

	return nil
}

// Close releases the migration connection.
func (m *DBMigrator) Close() error {
	return m.connection.Close(m.context)
}

// RunMigrations brings the schema to target, or to the latest version when target is negative.
func RunMigrations(ctx context.Context, logger Logger, cfg Configurator, target int32) (fault error) {
	m, err := NewMigrator(ctx, logger, cfg, Migrations())
	if err != nil {
		return fmt.Errorf("could not create migrator: %w", err)
	}
	defer m.Close()

	info, err := m.Info(target)
	if err != nil {
		return fmt.Errorf("could not get migration info: %w", err)
	}

	logger.Debug("migrations", "summary", info.Migrations.Summary)

	if info.Migrations.CurrentVersion == info.Migrations.TargetVersion {
		return nil
	}

	direction := "upgrade"
	if info.Migrations.CurrentVersion > info.Migrations.TargetVersion {
		direction = "downgrade"
	}

	logger.Info("starting "+direction,
		"from", info.Migrations.CurrentVersion,
		"to", info.Migrations.TargetVersion,
	)

	if err := m.MigrateTo(info.Migrations.TargetVersion); err != nil {
		return fmt.Errorf("could not complete %s from v%d to v%d: %w", direction, info.Migrations.CurrentVersion, info.Migrations.TargetVersion, err)
	}

	return nil
}
