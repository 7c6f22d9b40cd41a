package graph

import (
	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/sync"
	"github.com/klingon-exchange/xpubgraph/pkg/helpers"
)

// Totals summarises the transactions of one wallet. Amounts are in
// satoshis.
type Totals struct {
	Received          int64 `json:"received"`
	Spent             int64 `json:"spent"`
	Fee               int64 `json:"fee"`
	TransactionsCount int   `json:"transactionsCount"`
}

// FormatReceived returns the received amount in BTC.
func (t Totals) FormatReceived() string { return helpers.FormatBTC(t.Received) }

// FormatSpent returns the spent amount in BTC.
func (t Totals) FormatSpent() string { return helpers.FormatBTC(t.Spent) }

// FormatFee returns the fee amount in BTC.
func (t Totals) FormatFee() string { return helpers.FormatBTC(t.Fee) }

// WalletTotals computes the totals of one wallet over the distinct txids of
// its loaded entries.
//
// A transaction spends from the wallet when one of its inputs consumes an
// output paid to a wallet address. Spending transactions add their fee and
// the outputs leaving the wallet, including outputs with no address; other
// transactions add the outputs paid to the wallet.
//
// The fee of a spend that mixes in inputs the wallet cannot resolve counts
// as zero, so Fee is understated for such transactions.
func WalletTotals(snap *sync.Snapshot, xpub string) Totals {
	owned := func(addr string) bool {
		if addr == "" {
			return false
		}
		e, ok := snap.Entry(addr)
		return ok && e.Owner == xpub
	}

	var totals Totals
	seen := make(map[string]bool)
	for _, entry := range snap.WalletEntries(xpub) {
		if !entry.Loaded() {
			continue
		}
		for _, txid := range entry.TxIDs {
			if seen[txid] {
				continue
			}
			seen[txid] = true
			totals.TransactionsCount++

			tx, ok := snap.Transactions[txid]
			if !ok {
				continue
			}

			if spendsFromWallet(tx, snap.Transactions, owned) {
				if fee, ok := TransactionFee(tx, snap.Transactions); ok {
					totals.Fee += fee
				}
				for _, out := range tx.Vout {
					if !owned(out.Address()) {
						totals.Spent += out.Sats()
					}
				}
				continue
			}

			for _, out := range tx.Vout {
				if owned(out.Address()) {
					totals.Received += out.Sats()
				}
			}
		}
	}
	return totals
}

// ComputeTotals returns the totals of every wallet in the snapshot, keyed
// by xpub.
func ComputeTotals(snap *sync.Snapshot) map[string]Totals {
	out := make(map[string]Totals, len(snap.Wallets))
	for _, w := range snap.Wallets {
		out[w.Xpub] = WalletTotals(snap, w.Xpub)
	}
	return out
}

// TransactionFee returns inputs minus outputs of tx. It reports false when
// an input cannot be resolved through txs or the transaction is coinbase.
func TransactionFee(tx *backend.Transaction, txs map[string]*backend.Transaction) (int64, bool) {
	var in int64
	for _, vin := range tx.Vin {
		if vin.IsCoinbase() {
			return 0, false
		}
		prev, ok := txs[vin.TxID]
		if !ok {
			return 0, false
		}
		out, ok := prev.Output(vin.Vout)
		if !ok {
			return 0, false
		}
		in += out.Sats()
	}

	var out int64
	for _, vout := range tx.Vout {
		out += vout.Sats()
	}
	return in - out, true
}

func spendsFromWallet(tx *backend.Transaction, txs map[string]*backend.Transaction, owned func(string) bool) bool {
	for _, vin := range tx.Vin {
		if vin.IsCoinbase() {
			continue
		}
		prev, ok := txs[vin.TxID]
		if !ok {
			continue
		}
		if out, ok := prev.Output(vin.Vout); ok && owned(out.Address()) {
			return true
		}
	}
	return false
}
