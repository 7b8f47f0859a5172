// Package stores keeps a session-local journal of resource lifecycle
// events and agreement outcomes in SQLite. The journal is read back by the
// status command to show what the session negotiated.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/gridnode/gridnode/pkg/events"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds journal database configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Entry is one journal record.
type Entry struct {
	ID           int64
	At           time.Time
	Event        string
	ResourceKind string
	ResourceID   string
	ProviderID   string
	Detail       string
}

// Journal is the SQLite-backed session journal.
type Journal struct {
	cfg Config
	log zerolog.Logger
	db  *sql.DB
}

// NewJournal creates an unopened journal.
func NewJournal(cfg Config, log zerolog.Logger) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &Journal{
		cfg: cfg,
		log: log.With().Str("component", "journal").Logger(),
	}, nil
}

// Init opens the database, enables WAL mode and runs pending migrations.
func (j *Journal) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", j.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(j.cfg.MaxOpenConns)
	db.SetMaxIdleConns(j.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(j.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	j.db = db

	if err := j.migrate(); err != nil {
		db.Close()
		j.db = nil
		return err
	}
	return nil
}

func (j *Journal) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Record appends one entry. At defaults to now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO journal (at, event, resource_kind, resource_id, provider_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.At, e.Event, e.ResourceKind, e.ResourceID, e.ProviderID, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

// Entries returns the most recent entries, newest first. limit <= 0 returns
// everything.
func (j *Journal) Entries(ctx context.Context, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	query := `SELECT id, at, event, resource_kind, resource_id, provider_id, detail
	          FROM journal ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Event, &e.ResourceKind, &e.ResourceID, &e.ProviderID, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResourceHistory returns all entries for one resource, oldest first.
func (j *Journal) ResourceHistory(ctx context.Context, kind, id string) ([]Entry, error) {
	if j.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, event, resource_kind, resource_id, provider_id, detail
		 FROM journal WHERE resource_kind = ? AND resource_id = ? ORDER BY id ASC`,
		kind, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Event, &e.ResourceKind, &e.ResourceID, &e.ProviderID, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Attach subscribes the journal to the bus and records every resource and
// agreement event until ctx is cancelled. Write failures are logged, never
// surfaced: journaling must not stall negotiation.
func (j *Journal) Attach(ctx context.Context, bus *events.Bus) {
	id, queue := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-queue:
				if !ok {
					return
				}
				entry, ok := entryFor(ev)
				if !ok {
					continue
				}
				if err := j.Record(ctx, entry); err != nil && ctx.Err() == nil {
					j.log.Warn().Err(err).Str("event", ev.EventName()).Msg("journal write failed")
				}
			}
		}
	}()
}

func entryFor(ev events.Event) (Entry, bool) {
	e := Entry{Event: ev.EventName()}

	switch typed := ev.(type) {
	case events.AgreementConfirmed:
		e.ProviderID = typed.ProviderID
	case events.AgreementRejected:
		e.ProviderID = typed.ProviderID
	case events.CollectorFault:
		e.Detail = typed.Error()
		return e, true
	}

	if re, ok := ev.(events.ResourceEvent); ok {
		subject := re.Subject()
		e.ResourceKind = string(subject.Kind())
		e.ResourceID = subject.ID()
		return e, true
	}
	return e, false
}
