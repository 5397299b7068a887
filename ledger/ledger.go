// Package ledger keeps a SQLite record of every loader artifact produced,
// so an operator can find the key for an artifact from its digest.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested entry doesn't exist.
var ErrNotFound = errors.New("ledger entry not found")

// Entry is one produced artifact.
type Entry struct {
	ID         string
	Name       string
	Mode       string
	Transforms string
	Digest     string
	SourceHash string
	KeyHex     string
	IVHex      string
	Renames    int
	Created    time.Time
}

// Store is a ledger backed by one SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the ledger at path. The directory is created if
// needed.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		mode       TEXT NOT NULL,
		transforms TEXT NOT NULL,
		digest     TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		key_hex    TEXT NOT NULL,
		iv_hex     TEXT NOT NULL,
		renames    INTEGER NOT NULL,
		created    TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS artifacts_digest ON artifacts (digest)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS artifacts_source ON artifacts (source)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// DefaultPath returns $OBFUX_LEDGER, or ~/.obfux/ledger.db.
func DefaultPath() (string, error) {
	if p := os.Getenv("OBFUX_LEDGER"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".obfux", "ledger.db"), nil
}

// Path returns the file the store was opened on.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores e, assigning an ID and creation time when they are unset,
// and returns the stored entry.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Created.IsZero() {
		e.Created = time.Now()
	}
	e.Created = e.Created.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, name, mode, transforms, digest, source, key_hex, iv_hex, renames, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Mode, e.Transforms, e.Digest, e.SourceHash, e.KeyHex, e.IVHex, e.Renames,
		e.Created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("recording artifact: %w", err)
	}
	return e, nil
}

const selectColumns = "SELECT id, name, mode, transforms, digest, source, key_hex, iv_hex, renames, created FROM artifacts"

// Get returns the entry with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectColumns + " ORDER BY created DESC, id"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// FindByDigest returns every entry whose payload digest is digest.
func (s *Store) FindByDigest(ctx context.Context, digest string) ([]Entry, error) {
	return s.query(ctx, selectColumns+" WHERE digest = ? ORDER BY created DESC, id", digest)
}

// FindBySource returns every entry produced from a program with the given
// source hash.
func (s *Store) FindBySource(ctx context.Context, sourceHash string) ([]Entry, error) {
	return s.query(ctx, selectColumns+" WHERE source = ? ORDER BY created DESC, id", sourceHash)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(sc scanner) (Entry, error) {
	var e Entry
	var created string
	err := sc.Scan(&e.ID, &e.Name, &e.Mode, &e.Transforms, &e.Digest, &e.SourceHash, &e.KeyHex, &e.IVHex, &e.Renames, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("reading entry: %w", err)
	}
	e.Created, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing creation time of %s: %w", e.ID, err)
	}
	return e, nil
}
