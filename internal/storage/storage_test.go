package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klingon-exchange/xpubgraph/internal/backend"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := New(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, DatabaseFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if store.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", store.Path(), dbPath)
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNewWithTildeExpansion(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")

	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
	if got := expandPath("/tmp/x"); got != "/tmp/x" {
		t.Errorf("expandPath(/tmp/x) = %s", got)
	}
}

func TestStorageSchema(t *testing.T) {
	store := newTestStorage(t)

	for _, table := range []string{"wallets", "transactions", "settings"} {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not found: %v", table, err)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	store, err := New(&Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.SaveWallet(&WalletRecord{Xpub: "xpub1", ScriptType: "p2tr", Network: "mainnet"}); err != nil {
		t.Fatalf("SaveWallet() error = %v", err)
	}
	store.Close()

	store, err = New(&Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer store.Close()

	w, err := store.GetWallet("xpub1")
	if err != nil || w == nil {
		t.Fatalf("GetWallet() after reopen = %v, %v", w, err)
	}
}

func TestWalletCRUD(t *testing.T) {
	store := newTestStorage(t)

	base := time.Unix(1700000000, 0)
	records := []*WalletRecord{
		{Xpub: "xpubB", ScriptType: "p2wpkh", Network: "mainnet", CreatedAt: base},
		{Xpub: "xpubA", ScriptType: "p2tr", Network: "mainnet", Label: "cold", CreatedAt: base.Add(time.Second)},
		{Xpub: "tpubC", ScriptType: "p2pkh", Network: "testnet", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := store.SaveWallet(r); err != nil {
			t.Fatalf("SaveWallet(%s) error = %v", r.Xpub, err)
		}
	}

	got, err := store.GetWallet("xpubA")
	if err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if got.ScriptType != "p2tr" || got.Label != "cold" || !got.CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("GetWallet() = %+v", got)
	}

	missing, err := store.GetWallet("nope")
	if err != nil || missing != nil {
		t.Errorf("GetWallet(missing) = %v, %v, want nil, nil", missing, err)
	}

	mainnet, err := store.ListWallets("mainnet")
	if err != nil {
		t.Fatalf("ListWallets() error = %v", err)
	}
	if len(mainnet) != 2 || mainnet[0].Xpub != "xpubB" || mainnet[1].Xpub != "xpubA" {
		t.Errorf("ListWallets(mainnet) not in creation order: %+v", mainnet)
	}

	all, _ := store.ListWallets("")
	if len(all) != 3 {
		t.Errorf("ListWallets(\"\") = %d wallets, want 3", len(all))
	}

	// Updating keeps the creation time and therefore the order.
	if err := store.SaveWallet(&WalletRecord{Xpub: "xpubB", ScriptType: "p2pkh", Network: "mainnet"}); err != nil {
		t.Fatalf("SaveWallet(update) error = %v", err)
	}
	mainnet, _ = store.ListWallets("mainnet")
	if mainnet[0].Xpub != "xpubB" || mainnet[0].ScriptType != "p2pkh" {
		t.Errorf("updated wallet = %+v", mainnet[0])
	}

	removed, err := store.DeleteWallet("xpubB")
	if err != nil || !removed {
		t.Errorf("DeleteWallet() = %v, %v", removed, err)
	}
	removed, err = store.DeleteWallet("xpubB")
	if err != nil || removed {
		t.Errorf("DeleteWallet(again) = %v, %v", removed, err)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	store := newTestStorage(t)

	tx := &backend.Transaction{
		TxID: "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
		Time: 1231006505,
		Vin:  []backend.TxInput{{Coinbase: "04ffff001d0104"}},
		Vout: []backend.TxOutput{{
			N:     0,
			Value: 50,
			ScriptPubKey: backend.ScriptPubKey{
				Address: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
				Type:    "pubkey",
			},
		}},
	}

	if err := store.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}
	// Immutable: a second save with different content changes nothing.
	changed := *tx
	changed.Time = 1
	if err := store.SaveTransaction(&changed); err != nil {
		t.Fatalf("SaveTransaction(again) error = %v", err)
	}

	got, err := store.GetTransaction(tx.TxID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.Time != tx.Time || len(got.Vout) != 1 || got.Vout[0].Sats() != 5000000000 {
		t.Errorf("GetTransaction() = %+v", got)
	}
	if got.Vout[0].Address() != "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" || !got.Vin[0].IsCoinbase() {
		t.Errorf("decoded fields lost: %+v", got)
	}

	all, err := store.ListTransactions()
	if err != nil || len(all) != 1 {
		t.Fatalf("ListTransactions() = %d, %v", len(all), err)
	}
	if n, _ := store.TransactionCount(); n != 1 {
		t.Errorf("TransactionCount() = %d, want 1", n)
	}

	if err := store.DeleteTransaction(tx.TxID); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	if got, err := store.GetTransaction(tx.TxID); err != nil || got != nil {
		t.Errorf("GetTransaction(deleted) = %v, %v", got, err)
	}
}

func TestSettings(t *testing.T) {
	store := newTestStorage(t)

	if v, err := store.GetSetting(SettingLastSync); err != nil || v != "" {
		t.Errorf("GetSetting(unset) = %q, %v", v, err)
	}
	store.SetSetting(SettingLastSync, "a")
	store.SetSetting(SettingLastSync, "b")
	if v, _ := store.GetSetting(SettingLastSync); v != "b" {
		t.Errorf("GetSetting() = %q, want b", v)
	}
}

func TestPruneTransactions(t *testing.T) {
	store := newTestStorage(t)

	for _, txid := range []string{"aa", "bb", "cc"} {
		if err := store.SaveTransaction(&backend.Transaction{TxID: txid}); err != nil {
			t.Fatalf("SaveTransaction(%s) error = %v", txid, err)
		}
	}

	removed, err := store.PruneTransactions(map[string]bool{"bb": true})
	if err != nil {
		t.Fatalf("PruneTransactions() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("PruneTransactions() removed %d, want 2", removed)
	}
	all, _ := store.ListTransactions()
	if len(all) != 1 || all[0].TxID != "bb" {
		t.Errorf("remaining transactions = %+v, want only bb", all)
	}
}

func TestStats(t *testing.T) {
	store := newTestStorage(t)

	store.SaveWallet(&WalletRecord{Xpub: "xpub1", ScriptType: "p2tr", Network: "mainnet"})
	store.SaveWallet(&WalletRecord{Xpub: "tpub1", ScriptType: "p2tr", Network: "testnet"})
	store.SaveTransaction(&backend.Transaction{TxID: "aa"})
	store.SetSetting(SettingLastSync, "2024-01-01T00:00:00Z")

	stats, err := store.Stats("mainnet")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Wallets != 1 || stats.Transactions != 1 || stats.LastSync != "2024-01-01T00:00:00Z" {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.Path != store.Path() {
		t.Errorf("Stats().Path = %s, want %s", stats.Path, store.Path())
	}
}
