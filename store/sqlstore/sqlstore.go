// Package sqlstore provides a database/sql backend for the entity graph.
// SQLite (modernc.org/sqlite) and Postgres (pgx) are supported.
//
// Each entity is one row keyed by ID. The full record is kept as a JSON
// payload; type, simple key and parent are also stored as columns for
// indexing and ad-hoc inspection.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/jacentio/setlist/entity"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var (
	// ErrTxDone is returned when using a transaction after Commit or Abort.
	ErrTxDone = errors.New("sqlstore: transaction already finished")

	// ErrUnknownDriver is returned for drivers other than DriverSQLite and DriverPostgres.
	ErrUnknownDriver = errors.New("sqlstore: unknown driver")

	// ErrInvalidTable is returned when the table name is not a plain identifier.
	ErrInvalidTable = errors.New("sqlstore: invalid table name")
)

// Compile-time contract assertion.
var _ entity.Backend = (*Store)(nil)

// Config configures a Store.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres. Defaults to DriverSQLite.
	Driver string

	// DSN is the data source. For SQLite it is a file path. Defaults to
	// "setlist.db" for SQLite.
	DSN string

	// Table is the entity table name. Defaults to "entities".
	Table string

	// Logger for store events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config for a SQLite file in the working directory.
func DefaultConfig() Config {
	return Config{
		Driver: DriverSQLite,
		DSN:    "setlist.db",
		Table:  "entities",
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) validate() error {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Driver != DriverSQLite && c.Driver != DriverPostgres {
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if c.DSN == "" {
		if c.Driver != DriverSQLite {
			return fmt.Errorf("sqlstore: %s requires a DSN", c.Driver)
		}
		c.DSN = "setlist.db"
	}
	if c.Table == "" {
		c.Table = "entities"
	}
	if !identifier.MatchString(c.Table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, c.Table)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Store is a SQL-backed entity.Backend. One read-write transaction may be
// open at a time.
type Store struct {
	db     *sql.DB
	cfg    Config
	writer sync.Mutex
	q      queries
}

type queries struct {
	upsert, remove, extent, count string
}

// Open opens the database, creating the entity table if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
		if !strings.Contains(dsn, "_pragma") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(5000)"
		}
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	s := &Store{db: db, cfg: cfg, q: buildQueries(cfg.Driver, cfg.Table)}
	if err := s.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	cfg.Logger.Debug("sql store opened", "driver", cfg.Driver, "table", cfg.Table)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Count returns the number of stored entities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	payload := "TEXT"
	if s.cfg.Driver == DriverPostgres {
		payload = "JSONB"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			simple_key TEXT NOT NULL,
			parent_id TEXT,
			payload %s NOT NULL
		)`, s.cfg.Table, payload),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_type_idx ON %s (entity_type)`, s.cfg.Table, s.cfg.Table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table: %w", err)
		}
	}
	return nil
}

func buildQueries(driver, table string) queries {
	q := queries{
		upsert: fmt.Sprintf(`INSERT INTO %s (id, entity_type, simple_key, parent_id, payload) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET entity_type = excluded.entity_type, simple_key = excluded.simple_key,
			parent_id = excluded.parent_id, payload = excluded.payload`, table),
		remove: fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table),
		extent: fmt.Sprintf(`SELECT payload FROM %s WHERE entity_type = ? ORDER BY id`, table),
		count:  fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table),
	}
	if driver == DriverPostgres {
		q.upsert = rebind(q.upsert)
		q.remove = rebind(q.remove)
		q.extent = rebind(q.extent)
	}
	return q
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Begin starts a transaction. ReadWrite transactions block until no other
// read-write transaction is open.
func (s *Store) Begin(ctx context.Context, mode entity.Mode) (entity.Tx, error) {
	if mode == entity.ReadWrite {
		s.writer.Lock()
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if mode == entity.ReadWrite {
			s.writer.Unlock()
		}
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &tx{store: s, tx: sqlTx, mode: mode}, nil
}

type tx struct {
	store *Store
	tx    *sql.Tx
	mode  entity.Mode
	done  bool
}

func (t *tx) writable() error {
	if t.done {
		return ErrTxDone
	}
	if t.mode != entity.ReadWrite {
		return entity.ErrReadOnly
	}
	return nil
}

func (t *tx) Put(ctx context.Context, rec entity.Record) error {
	if err := t.writable(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	var parent any
	if rec.Parent != uuid.Nil {
		parent = rec.Parent.String()
	}
	_, err = t.tx.ExecContext(ctx, t.store.q.upsert, rec.ID.String(), string(rec.Type), rec.SimpleKey, parent, string(payload))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.ID, err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, id entity.ID) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, t.store.q.remove, id.String()); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (t *tx) Extent(ctx context.Context, typ entity.Type) ([]entity.Record, error) {
	if t.done {
		return nil, ErrTxDone
	}
	rows, err := t.tx.QueryContext(ctx, t.store.q.extent, string(typ))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", typ, err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var rec entity.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *tx) Abort(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.release()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *tx) release() {
	if t.mode == entity.ReadWrite {
		t.store.writer.Unlock()
	}
}
