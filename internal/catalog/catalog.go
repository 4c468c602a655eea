// Package catalog mirrors the search index into a SQLite database so the
// library can be queried from the command line.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/entripy63/mix.4st.uk/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Catalog wraps a *sql.DB holding the mixes table. It is safe for concurrent
// use because the underlying *sql.DB is.
type Catalog struct {
	conn   *sql.DB
	logger *logrus.Logger

	searchStmt *sql.Stmt
	countStmt  *sql.Stmt
}

// Open opens (or creates) the catalog at dbPath and makes sure the schema
// exists. Caller should Close() it when finished.
func Open(dbPath string, logger *logrus.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	c := &Catalog{conn: conn, logger: logger}

	if err := c.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := c.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Debug("Catalog opened")
	return c, nil
}

func (c *Catalog) createTables() error {
	mixesTable := `
	CREATE TABLE IF NOT EXISTS mixes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dj TEXT NOT NULL,
		file TEXT NOT NULL,
		name TEXT NOT NULL,
		artist TEXT NOT NULL DEFAULT '',
		genre TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		duration TEXT NOT NULL DEFAULT '',
		audio_file TEXT NOT NULL DEFAULT '',
		peaks_file TEXT NOT NULL DEFAULT '',
		cover_file TEXT NOT NULL DEFAULT '',
		downloads TEXT NOT NULL DEFAULT '[]',
		indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(dj, file)
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_mixes_dj ON mixes(dj);",
		"CREATE INDEX IF NOT EXISTS idx_mixes_artist ON mixes(artist);",
	}

	if _, err := c.conn.Exec(mixesTable); err != nil {
		return err
	}
	for _, index := range indices {
		if _, err := c.conn.Exec(index); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) prepareStatements() error {
	var err error

	c.searchStmt, err = c.conn.Prepare(`
		SELECT dj, file, name, artist, genre, comment, duration, audio_file, peaks_file, cover_file, downloads
		FROM mixes
		WHERE name LIKE ? OR artist LIKE ? OR genre LIKE ? OR comment LIKE ? OR dj LIKE ?
		ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to prepare search statement: %w", err)
	}

	c.countStmt, err = c.conn.Prepare("SELECT COUNT(*) FROM mixes")
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}
	return nil
}

// ReplaceAll swaps the table contents for entries in one transaction, so
// readers see either the old catalog or the new one.
func (c *Catalog) ReplaceAll(entries []models.SearchEntry) (err error) {
	tx, err := c.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("DELETE FROM mixes"); err != nil {
		return fmt.Errorf("failed to clear mixes: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO mixes (dj, file, name, artist, genre, comment, duration, audio_file, peaks_file, cover_file, downloads)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		downloads, merr := json.Marshal(e.Downloads)
		if merr != nil {
			return fmt.Errorf("failed to encode downloads for %s/%s: %w", e.DJ, e.File, merr)
		}
		if e.Downloads == nil {
			downloads = []byte("[]")
		}
		if _, err = stmt.Exec(e.DJ, e.File, e.Name, e.Artist, e.Genre, e.Comment, e.Duration,
			e.AudioFile, e.PeaksFile, e.CoverFile, string(downloads)); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", e.DJ, e.File, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	c.logger.WithField("mixes", len(entries)).Info("Catalog updated")
	return nil
}

// Search performs a simple LIKE-based search over name, artist, genre,
// comment and dj.
func (c *Catalog) Search(query string) ([]models.SearchEntry, error) {
	q := "%" + query + "%"
	rows, err := c.searchStmt.Query(q, q, q, q, q)
	if err != nil {
		c.logger.WithError(err).WithField("query", query).Error("Failed to search mixes")
		return nil, err
	}
	defer rows.Close()
	return scanEntryRows(rows)
}

// Count returns the number of mixes in the catalog
func (c *Catalog) Count() (int, error) {
	var n int
	err := c.countStmt.QueryRow().Scan(&n)
	return n, err
}

// Close closes the prepared statements and the connection
func (c *Catalog) Close() error {
	for _, stmt := range []*sql.Stmt{c.searchStmt, c.countStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				c.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// scanEntryRows scans mix rows into search entries. Callers must have already
// deferred rows.Close().
func scanEntryRows(rows *sql.Rows) ([]models.SearchEntry, error) {
	entries := []models.SearchEntry{}
	for rows.Next() {
		var e models.SearchEntry
		var downloads string
		if err := rows.Scan(&e.DJ, &e.File, &e.Name, &e.Artist, &e.Genre, &e.Comment, &e.Duration,
			&e.AudioFile, &e.PeaksFile, &e.CoverFile, &downloads); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(downloads), &e.Downloads); err != nil {
			return nil, fmt.Errorf("bad downloads for %s/%s: %w", e.DJ, e.File, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
