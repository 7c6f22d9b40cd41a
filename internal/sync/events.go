package sync

import (
	"fmt"

	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
)

// Event is an input to Reduce.
type Event interface {
	event()
}

// WalletsChanged replaces the wallet set. Wallets not yet present get their
// initial address batch; wallets no longer present are dropped along with
// their addresses and the transactions only they touched.
type WalletsChanged struct {
	Wallets []*wallet.Wallet
}

// HistoryReceived carries the history of one scripthash. Index and
// IsChange are the values echoed back in the request id.
type HistoryReceived struct {
	ScriptHash string
	Index      uint32
	IsChange   bool
	Items      []backend.HistoryItem
}

// TransactionReceived carries one fetched transaction.
type TransactionReceived struct {
	Tx *backend.Transaction
}

// Reconnected reports that connection Generation is up and that requests
// sent on older generations will not be answered. Requests already sent on
// Generation or later are kept.
type Reconnected struct {
	Generation uint64
}

func (WalletsChanged) event()      {}
func (HistoryReceived) event()     {}
func (TransactionReceived) event() {}
func (Reconnected) event()         {}

// DerivationError reports that addresses of one wallet could not be
// derived. Other wallets are unaffected.
type DerivationError struct {
	Xpub string
	Err  error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("wallet %s: %v", shortKey(e.Xpub), e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

func shortKey(xpub string) string {
	if len(xpub) <= 16 {
		return xpub
	}
	return xpub[:8] + "..." + xpub[len(xpub)-8:]
}
