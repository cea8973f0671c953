package bans

import (
	"database/sql"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const initSQL = `CREATE TABLE IF NOT EXISTS ban (
	addr   VARCHAR(39) PRIMARY KEY NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);`

// SQLite is a ban list persisted in a SQLite file so bans survive restarts.
// Lookups are served from memory; additions are written through.
type SQLite struct {
	db    *sql.DB
	cache *Memory
}

// OpenSQLite opens (creating if needed) the ban database at path and loads
// every entry.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ban database: %w", err)
	}
	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise ban database: %w", err)
	}

	s := &SQLite{db: db, cache: NewMemory()}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) load() error {
	rows, err := s.db.Query(`SELECT addr FROM ban;`)
	if err != nil {
		return fmt.Errorf("failed to read ban database: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			// Hand-edited rows that do not parse are skipped.
			continue
		}
		s.cache.Add(addr)
	}
	return rows.Err()
}

// Banned reports whether addr is on the list.
func (s *SQLite) Banned(addr netip.Addr) bool {
	return s.cache.Banned(addr)
}

// Add puts addr on the list and persists it.
func (s *SQLite) Add(addr netip.Addr) error {
	return s.AddWithReason(addr, "")
}

// AddWithReason persists addr with a free-form note.
func (s *SQLite) AddWithReason(addr netip.Addr, reason string) error {
	addr = addr.Unmap()
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO ban (addr, reason) VALUES (?, ?);`, addr.String(), reason); err != nil {
		return fmt.Errorf("failed to store ban for %s: %w", addr, err)
	}
	return s.cache.Add(addr)
}

// List returns every banned address.
func (s *SQLite) List() []netip.Addr {
	return s.cache.List()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
