package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klingon-exchange/xpubgraph/internal/backend"
)

// SaveTransaction stores a transaction. Cached transactions are immutable,
// so saving an existing txid is a no-op.
func (s *Storage) SaveTransaction(tx *backend.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", tx.TxID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO transactions (txid, data, block_time, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(txid) DO NOTHING
	`, tx.TxID, string(data), tx.Time, time.Now().Unix())
	return err
}

// GetTransaction retrieves a cached transaction. It returns nil, nil if the
// txid is not stored.
func (s *Storage) GetTransaction(txid string) (*backend.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM transactions WHERE txid = ?", txid).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTransaction(txid, data)
}

// ListTransactions returns every cached transaction.
func (s *Storage) ListTransactions() ([]*backend.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT txid, data FROM transactions ORDER BY txid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*backend.Transaction
	for rows.Next() {
		var txid, data string
		if err := rows.Scan(&txid, &data); err != nil {
			return nil, err
		}
		tx, err := decodeTransaction(txid, data)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// DeleteTransaction removes a cached transaction.
func (s *Storage) DeleteTransaction(txid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM transactions WHERE txid = ?", txid)
	return err
}

// TransactionCount returns the number of cached transactions.
func (s *Storage) TransactionCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

func decodeTransaction(txid, data string) (*backend.Transaction, error) {
	var tx backend.Transaction
	if err := json.Unmarshal([]byte(data), &tx); err != nil {
		return nil, fmt.Errorf("corrupt transaction %s: %w", txid, err)
	}
	return &tx, nil
}

// PruneTransactions deletes every cached transaction whose txid is not in
// keep and returns how many were removed.
func (s *Storage) PruneTransactions(keep map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT txid FROM transactions")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[txid] {
			stale = append(stale, txid)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, txid := range stale {
		if _, err := tx.Exec("DELETE FROM transactions WHERE txid = ?", txid); err != nil {
			return 0, fmt.Errorf("failed to delete transaction %s: %w", txid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}
