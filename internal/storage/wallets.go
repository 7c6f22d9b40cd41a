package storage

import (
	"database/sql"
	"time"
)

// WalletRecord is a watched wallet.
type WalletRecord struct {
	Xpub       string    `json:"xpub"`
	ScriptType string    `json:"script_type"`
	Network    string    `json:"network"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveWallet adds a wallet or updates its script type and label. The
// creation time of an existing wallet is kept.
func (s *Storage) SaveWallet(w *WalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO wallets (xpub, script_type, network, label, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(xpub) DO UPDATE SET
			script_type = excluded.script_type,
			network = excluded.network,
			label = excluded.label
	`

	_, err := s.db.Exec(query, w.Xpub, w.ScriptType, w.Network, w.Label, createdAt.UnixNano())
	return err
}

// GetWallet retrieves a wallet. It returns nil, nil if it is not stored.
func (s *Storage) GetWallet(xpub string) (*WalletRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT xpub, script_type, network, label, created_at
		FROM wallets WHERE xpub = ?
	`, xpub)

	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// ListWallets returns the wallets of a network in the order they were
// added. An empty network lists every wallet.
func (s *Storage) ListWallets(network string) ([]*WalletRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT xpub, script_type, network, label, created_at
		FROM wallets
	`
	var args []interface{}
	if network != "" {
		query += " WHERE network = ?"
		args = append(args, network)
	}
	query += " ORDER BY created_at ASC, xpub ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*WalletRecord
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// DeleteWallet removes a wallet. It reports whether a wallet was removed.
func (s *Storage) DeleteWallet(xpub string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM wallets WHERE xpub = ?", xpub)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row rowScanner) (*WalletRecord, error) {
	var w WalletRecord
	var label sql.NullString
	var createdAt int64

	if err := row.Scan(&w.Xpub, &w.ScriptType, &w.Network, &label, &createdAt); err != nil {
		return nil, err
	}
	w.Label = label.String
	w.CreatedAt = time.Unix(0, createdAt)
	return &w, nil
}
