// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseFile is the name of the database inside the data directory.
const DatabaseFile = "xpubgraph.db"

// Storage stores the watched wallets and the transaction cache.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// Stats summarises what is stored.
type Stats struct {
	Path         string `json:"path"`
	Wallets      int    `json:"wallets"`
	Transactions int    `json:"transactions"`
	// LastSync is the RFC 3339 time of the last completed sync, or "".
	LastSync string `json:"lastSync,omitempty"`
}

// Stats counts the stored wallets of a network ("" for all) and the cached
// transactions.
func (s *Storage) Stats(network string) (*Stats, error) {
	wallets, err := s.ListWallets(network)
	if err != nil {
		return nil, err
	}
	txCount, err := s.TransactionCount()
	if err != nil {
		return nil, err
	}
	lastSync, err := s.GetSetting(SettingLastSync)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Path:         s.dbPath,
		Wallets:      len(wallets),
		Transactions: txCount,
		LastSync:     lastSync,
	}, nil
}

func (s *Storage) initSchema() error {
	schema := `
	-- Watched wallets, in the order they were added
	CREATE TABLE IF NOT EXISTS wallets (
		xpub TEXT PRIMARY KEY,
		script_type TEXT NOT NULL,
		network TEXT NOT NULL,
		label TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_created ON wallets(created_at);

	-- Transaction cache (verbose Electrum shape, immutable once stored)
	CREATE TABLE IF NOT EXISTS transactions (
		txid TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		block_time INTEGER,
		created_at INTEGER NOT NULL
	);

	-- Settings table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
