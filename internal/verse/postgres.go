package verse

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the verse corpus tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS bible_versions (
    id   SERIAL PRIMARY KEY,
    code VARCHAR(10) NOT NULL UNIQUE,
    name VARCHAR(100) NOT NULL
);

CREATE TABLE IF NOT EXISTS bible_books (
    id           SERIAL PRIMARY KEY,
    name         VARCHAR(50) NOT NULL UNIQUE,
    abbreviation VARCHAR(10)
);

CREATE TABLE IF NOT EXISTS bible_verses (
    id         SERIAL PRIMARY KEY,
    book_id    INTEGER REFERENCES bible_books(id),
    chapter    INTEGER NOT NULL,
    verse      INTEGER NOT NULL,
    version_id INTEGER REFERENCES bible_versions(id),
    text       TEXT NOT NULL,
    UNIQUE(book_id, chapter, verse, version_id)
);

CREATE INDEX IF NOT EXISTS idx_verses_lookup
    ON bible_verses(book_id, chapter, verse, version_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL verse corpus.
//
// Free-form book names are canonicalised via [NormalizeBook] before the
// query, so "first john" and "Song of Songs" resolve without the caller
// needing to know the canonical spelling.
type PostgresStore struct {
	db DB

	// preferredVersion, when non-empty, is the translation code returned
	// when the corpus holds the verse in multiple translations.
	preferredVersion string

	// pool is non-nil only when the store owns its connection pool
	// (created by [Open]); Close releases it.
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresOption is a functional option for [NewPostgresStore] and [Open].
type PostgresOption func(*PostgresStore)

// WithPreferredVersion sets the translation code preferred when a verse
// exists in multiple translations (e.g. "NIV"). When empty, any translation
// may be returned.
func WithPreferredVersion(code string) PostgresOption {
	return func(s *PostgresStore) {
		s.preferredVersion = code
	}
}

// NewPostgresStore creates a [PostgresStore] on an existing connection or
// pool. The caller is responsible for calling [PostgresStore.Migrate] before
// issuing lookups against a fresh database.
func NewPostgresStore(db DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects a new pgx pool to the database at dsn and returns a store
// that owns the pool. Call [PostgresStore.Close] when done.
func Open(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("verse: connect postgres: %w", err)
	}
	s := NewPostgresStore(pool, opts...)
	s.pool = pool
	return s, nil
}

// Close releases the connection pool if the store owns one.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("verse: ping: %w", err)
	}
	return nil
}

// Migrate executes the [Schema] DDL, creating the corpus tables and indexes
// if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("verse: migrate: %w", err)
	}
	return nil
}

// Lookup implements [Store]. The book name is canonicalised first; a name
// that cannot be mapped onto a known book yields (nil, nil) without touching
// the database.
func (s *PostgresStore) Lookup(ctx context.Context, ref Reference) (*Verse, error) {
	if !ref.Valid() {
		return nil, nil
	}
	book, ok := NormalizeBook(ref.Book)
	if !ok {
		return nil, nil
	}

	const query = `
		SELECT b.name || ' ' || v.chapter || ':' || v.verse AS reference,
		       ver.code AS version,
		       v.text
		FROM bible_verses v
		JOIN bible_books b ON v.book_id = b.id
		JOIN bible_versions ver ON v.version_id = ver.id
		WHERE b.name = $1
		  AND v.chapter = $2
		  AND v.verse = $3
		ORDER BY (ver.code = $4) DESC, ver.id
		LIMIT 1`

	var out Verse
	err := s.db.QueryRow(ctx, query, book, ref.Chapter, ref.Verse, s.preferredVersion).
		Scan(&out.Reference, &out.Version, &out.Text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("verse: lookup %s: %w", ref, err)
	}
	return &out, nil
}

// SeedEntry is one verse row for [PostgresStore.Seed].
type SeedEntry struct {
	Book    string
	Chapter int
	Verse   int
	Version string
	Text    string
}

// VersionEntry is one translation row for [PostgresStore.Seed].
type VersionEntry struct {
	Code string
	Name string
}

// Seed inserts translations, the canonical book list, and the given verses.
// Existing rows are left untouched, so Seed is safe to run repeatedly.
func (s *PostgresStore) Seed(ctx context.Context, versions []VersionEntry, verses []SeedEntry) error {
	for _, v := range versions {
		_, err := s.db.Exec(ctx,
			`INSERT INTO bible_versions (code, name) VALUES ($1, $2)
			 ON CONFLICT (code) DO NOTHING`,
			v.Code, v.Name)
		if err != nil {
			return fmt.Errorf("verse: seed version %q: %w", v.Code, err)
		}
	}

	for _, name := range Books {
		_, err := s.db.Exec(ctx,
			`INSERT INTO bible_books (name) VALUES ($1)
			 ON CONFLICT (name) DO NOTHING`,
			name)
		if err != nil {
			return fmt.Errorf("verse: seed book %q: %w", name, err)
		}
	}

	for _, e := range verses {
		_, err := s.db.Exec(ctx,
			`INSERT INTO bible_verses (book_id, chapter, verse, version_id, text)
			 SELECT b.id, $1, $2, v.id, $3
			 FROM bible_books b, bible_versions v
			 WHERE b.name = $4 AND v.code = $5
			 ON CONFLICT DO NOTHING`,
			e.Chapter, e.Verse, e.Text, e.Book, e.Version)
		if err != nil {
			return fmt.Errorf("verse: seed verse %s %d:%d: %w", e.Book, e.Chapter, e.Verse, err)
		}
	}

	return nil
}
