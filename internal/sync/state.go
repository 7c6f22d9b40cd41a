// Package sync discovers the addresses of a set of watch-only wallets and
// loads their transaction history from an Electrum server.
//
// All state changes go through Reduce, one event at a time, on the
// goroutine that owns the State. Session provides that goroutine.
package sync

import (
	"sort"

	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
)

// Frontier is the highest index on one chain seen in a non-empty history.
// It never moves backwards.
type Frontier struct {
	Index  uint32
	Active bool
}

// Raise moves the frontier up to index if it is higher.
func (f *Frontier) Raise(index uint32) {
	if !f.Active || index > f.Index {
		f.Index = index
	}
	f.Active = true
}

type walletState struct {
	wallet   *wallet.Wallet
	frontier [2]Frontier
	// entries per chain, ordered by index and contiguous from 0
	entries [2][]*wallet.AddressEntry
}

func (ws *walletState) derived(c wallet.Chain) uint32 {
	return uint32(len(ws.entries[c]))
}

// State is the sync state of a wallet set.
type State struct {
	wallets map[string]*walletState
	order   []string

	entries      map[string]*wallet.AddressEntry // by address
	byScriptHash map[string]*wallet.AddressEntry

	transactions map[string]*backend.Transaction

	// Newest connection generation seen in a send or a reconnect. Pending
	// history requests (by scripthash) and in-flight txids carry the
	// generation they went out on.
	generation uint64
	pendingOn  map[string]uint64
	inFlight   map[string]uint64
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		wallets:      make(map[string]*walletState),
		entries:      make(map[string]*wallet.AddressEntry),
		byScriptHash: make(map[string]*wallet.AddressEntry),
		transactions: make(map[string]*backend.Transaction),
		pendingOn:    make(map[string]uint64),
		inFlight:     make(map[string]uint64),
	}
}

// Wallets returns the wallets in the order they were added.
func (s *State) Wallets() []*wallet.Wallet {
	out := make([]*wallet.Wallet, 0, len(s.order))
	for _, xpub := range s.order {
		out = append(out, s.wallets[xpub].wallet)
	}
	return out
}

// Entry returns the entry for an address.
func (s *State) Entry(address string) (*wallet.AddressEntry, bool) {
	e, ok := s.entries[address]
	return e, ok
}

// EntryCount returns the number of derived addresses.
func (s *State) EntryCount() int {
	return len(s.entries)
}

// DerivedCount returns the number of addresses derived on a chain.
func (s *State) DerivedCount(xpub string, c wallet.Chain) uint32 {
	ws, ok := s.wallets[xpub]
	if !ok {
		return 0
	}
	return ws.derived(c)
}

// Frontier returns the frontier of a wallet chain.
func (s *State) Frontier(xpub string, c wallet.Chain) (Frontier, bool) {
	ws, ok := s.wallets[xpub]
	if !ok {
		return Frontier{}, false
	}
	return ws.frontier[c], true
}

// Transaction returns a cached transaction.
func (s *State) Transaction(txid string) (*backend.Transaction, bool) {
	tx, ok := s.transactions[txid]
	return tx, ok
}

// TransactionCount returns the number of cached transactions.
func (s *State) TransactionCount() int {
	return len(s.transactions)
}

// AddressesLoaded reports whether every entry has a loaded history. It is
// vacuously true for an empty wallet set.
func (s *State) AddressesLoaded() bool {
	for _, e := range s.entries {
		if !e.Loaded() {
			return false
		}
	}
	return true
}

// TransactionsLoaded reports whether every txid referenced by a loaded
// entry is cached.
func (s *State) TransactionsLoaded() bool {
	for _, e := range s.entries {
		for _, txid := range e.TxIDs {
			if _, ok := s.transactions[txid]; !ok {
				return false
			}
		}
	}
	return true
}

// IsLoading reports whether the state is not yet complete.
func (s *State) IsLoading() bool {
	return !(s.AddressesLoaded() && s.TransactionsLoaded())
}

// orderedEntries walks entries by wallet order, then chain, then index.
func (s *State) orderedEntries(fn func(*wallet.AddressEntry)) {
	for _, xpub := range s.order {
		ws := s.wallets[xpub]
		for c := range ws.entries {
			for _, e := range ws.entries[c] {
				fn(e)
			}
		}
	}
}

// referencedTxIDs returns every txid referenced by an entry, in entry
// order, without duplicates.
func (s *State) referencedTxIDs() []string {
	seen := make(map[string]bool)
	var out []string
	s.orderedEntries(func(e *wallet.AddressEntry) {
		for _, txid := range e.TxIDs {
			if !seen[txid] {
				seen[txid] = true
				out = append(out, txid)
			}
		}
	})
	return out
}

func (s *State) referenced(txid string) bool {
	for _, e := range s.entries {
		for _, id := range e.TxIDs {
			if id == txid {
				return true
			}
		}
	}
	return false
}

// Snapshot copies the state for readers outside the owning goroutine.
// Transactions are shared; they are never mutated once cached.
func (s *State) Snapshot() *Snapshot {
	snap := &Snapshot{
		Wallets:      s.Wallets(),
		Entries:      make([]*wallet.AddressEntry, 0, len(s.entries)),
		Transactions: make(map[string]*backend.Transaction, len(s.transactions)),
		Loading:      s.IsLoading(),
	}
	s.orderedEntries(func(e *wallet.AddressEntry) {
		snap.Entries = append(snap.Entries, e.Clone())
	})
	for txid, tx := range s.transactions {
		snap.Transactions[txid] = tx
	}
	snap.index()
	return snap
}

// Snapshot is a read-only copy of the sync state.
type Snapshot struct {
	Wallets      []*wallet.Wallet
	Entries      []*wallet.AddressEntry
	Transactions map[string]*backend.Transaction
	Loading      bool

	byAddress map[string]*wallet.AddressEntry
}

func (s *Snapshot) index() {
	s.byAddress = make(map[string]*wallet.AddressEntry, len(s.Entries))
	for _, e := range s.Entries {
		s.byAddress[e.Address] = e
	}
}

// Entry returns the entry for an address, if it is tracked.
func (s *Snapshot) Entry(address string) (*wallet.AddressEntry, bool) {
	if s.byAddress == nil {
		s.index()
	}
	e, ok := s.byAddress[address]
	return e, ok
}

// WalletEntries returns the entries owned by a wallet.
func (s *Snapshot) WalletEntries(xpub string) []*wallet.AddressEntry {
	var out []*wallet.AddressEntry
	for _, e := range s.Entries {
		if e.Owner == xpub {
			out = append(out, e)
		}
	}
	return out
}

// TransactionIDs returns the cached txids in sorted order.
func (s *Snapshot) TransactionIDs() []string {
	ids := make([]string, 0, len(s.Transactions))
	for id := range s.Transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
