// Package drop polls partner export locations and turns new or changed
// files into pending uploads. A local SQLite manifest remembers what was
// already fetched (ETag for HTTP, size and mtime for FTP) so polling
// stays cheap and re-runs never re-download an unchanged export.
package drop

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Entry is one remembered fetch: the change signals seen the last time a
// drop file was downloaded.
type Entry struct {
	Location  string
	Name      string
	ETag      string
	Size      int64
	Modified  time.Time
	FetchedAt time.Time
}

// Manifest is the local fetch ledger, keyed by (location, name).
type Manifest struct {
	db *sql.DB
}

const manifestSchema = `
CREATE TABLE IF NOT EXISTS fetched_files (
	location   TEXT NOT NULL,
	name       TEXT NOT NULL,
	etag       TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	modified   DATETIME,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (location, name)
);
`

// OpenManifest opens (creating if needed) the manifest database at the
// given path and configures WAL mode.
func OpenManifest(path string) (*Manifest, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "drop: create manifest dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "drop: open manifest")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "drop: exec %s", pragma)
		}
	}
	if _, err := db.Exec(manifestSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "drop: migrate manifest")
	}
	return &Manifest{db: db}, nil
}

// Close closes the underlying database.
func (m *Manifest) Close() error {
	return m.db.Close()
}

// Lookup returns the remembered entry for a drop file, or nil when the
// file has never been fetched.
func (m *Manifest) Lookup(ctx context.Context, location, name string) (*Entry, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT location, name, etag, size, modified, fetched_at
		 FROM fetched_files WHERE location = ? AND name = ?`,
		location, name,
	)

	var e Entry
	var modified sql.NullTime
	err := row.Scan(&e.Location, &e.Name, &e.ETag, &e.Size, &modified, &e.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "drop: lookup manifest entry")
	}
	if modified.Valid {
		e.Modified = modified.Time
	}
	return &e, nil
}

// Record upserts the change signals for a just-fetched drop file.
func (m *Manifest) Record(ctx context.Context, e Entry) error {
	var modified any
	if !e.Modified.IsZero() {
		modified = e.Modified.UTC()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO fetched_files (location, name, etag, size, modified, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (location, name) DO UPDATE SET
			etag       = excluded.etag,
			size       = excluded.size,
			modified   = excluded.modified,
			fetched_at = excluded.fetched_at`,
		e.Location, e.Name, e.ETag, e.Size, modified, time.Now().UTC(),
	)
	return eris.Wrap(err, "drop: record manifest entry")
}
