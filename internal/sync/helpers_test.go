package sync

import (
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/chain"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
	"github.com/tyler-smith/go-bip39"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// testWallet returns the account 0 wallet of testMnemonic for a purpose.
func testWallet(t *testing.T, purpose uint32, scriptType chain.AddressType) *wallet.Wallet {
	t.Helper()

	key, err := hdkeychain.NewMaster(bip39.NewSeed(testMnemonic, ""), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("NewMaster() error = %v", err)
	}
	for _, idx := range []uint32{purpose, 0, 0} {
		if key, err = key.Derive(hdkeychain.HardenedKeyStart + idx); err != nil {
			t.Fatalf("Derive() error = %v", err)
		}
	}
	pub, err := key.Neuter()
	if err != nil {
		t.Fatalf("Neuter() error = %v", err)
	}
	w, err := wallet.ParseWallet(pub.String(), scriptType, chain.Mainnet)
	if err != nil {
		t.Fatalf("ParseWallet() error = %v", err)
	}
	return w
}

func txid(n int) string {
	return fmt.Sprintf("%064x", n)
}

func address(t *testing.T, w *wallet.Wallet, c wallet.Chain, index uint32) *wallet.AddressEntry {
	t.Helper()
	e, err := wallet.DeriveAddress(w, c, index)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	return e
}

func output(n uint32, addr string, btc float64) backend.TxOutput {
	return backend.TxOutput{N: n, Value: btc, ScriptPubKey: backend.ScriptPubKey{Address: addr}}
}

func spend(id string, vout uint32) backend.TxInput {
	return backend.TxInput{TxID: id, Vout: vout}
}

func history(ids ...string) []backend.HistoryItem {
	items := make([]backend.HistoryItem, 0, len(ids))
	for i, id := range ids {
		items = append(items, backend.HistoryItem{TxHash: id, Height: int64(800000 + i)})
	}
	return items
}

// answerAll loads every pending entry with an empty history, except those
// listed in active, which get the given txids.
func answerAll(e *Engine, active map[string][]string) Result {
	var events []Event
	e.State().orderedEntries(func(entry *wallet.AddressEntry) {
		if entry.Status != wallet.HistoryPending {
			return
		}
		events = append(events, HistoryReceived{
			ScriptHash: entry.ScriptHash,
			Index:      entry.Index,
			IsChange:   entry.Chain.IsChange(),
			Items:      history(active[entry.Address]...),
		})
	})
	return e.Apply(events...)
}

func countMethod(requests []backend.Request, method string) int {
	n := 0
	for _, r := range requests {
		if r.Method == method {
			n++
		}
	}
	return n
}
