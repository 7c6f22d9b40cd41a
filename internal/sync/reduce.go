package sync

import (
	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
)

// Outcome describes what one Reduce call changed besides the state itself.
type Outcome struct {
	// Inserted is set when a transaction entered the cache.
	Inserted *backend.Transaction
	// Errors are derivation failures; the state is still consistent.
	Errors []error
}

// Reduce applies one event to the state. Gap-limit discovery runs as part
// of the same call, after the history is merged.
func Reduce(s *State, ev Event, gapLimit uint32) Outcome {
	switch ev := ev.(type) {
	case WalletsChanged:
		return reduceWallets(s, ev, gapLimit)
	case HistoryReceived:
		return reduceHistory(s, ev, gapLimit)
	case TransactionReceived:
		return reduceTransaction(s, ev)
	case Reconnected:
		reduceReconnected(s, ev)
	}
	return Outcome{}
}

func reduceWallets(s *State, ev WalletsChanged, gapLimit uint32) Outcome {
	var out Outcome

	wanted := make(map[string]bool, len(ev.Wallets))
	for _, w := range ev.Wallets {
		if w == nil || wanted[w.Xpub] {
			continue
		}
		wanted[w.Xpub] = true
		if _, ok := s.wallets[w.Xpub]; ok {
			continue
		}
		if err := addWallet(s, w, gapLimit); err != nil {
			out.Errors = append(out.Errors, err)
		}
	}

	var removed []string
	for _, xpub := range s.order {
		if !wanted[xpub] {
			removed = append(removed, xpub)
		}
	}
	if len(removed) > 0 {
		for _, xpub := range removed {
			removeWallet(s, xpub)
		}
		pruneTransactions(s)
	}

	return out
}

// addWallet derives the initial batch on both chains and commits it only
// if both succeed.
func addWallet(s *State, w *wallet.Wallet, gapLimit uint32) error {
	ws := &walletState{wallet: w}
	for _, c := range []wallet.Chain{wallet.ChainReceive, wallet.ChainChange} {
		entries, err := wallet.DeriveAddressRange(w, c, 0, gapLimit)
		if err != nil {
			return &DerivationError{Xpub: w.Xpub, Err: err}
		}
		ws.entries[c] = entries
	}

	s.wallets[w.Xpub] = ws
	s.order = append(s.order, w.Xpub)
	for c := range ws.entries {
		for _, e := range ws.entries[c] {
			s.entries[e.Address] = e
			s.byScriptHash[e.ScriptHash] = e
		}
	}
	return nil
}

func removeWallet(s *State, xpub string) {
	ws, ok := s.wallets[xpub]
	if !ok {
		return
	}
	for c := range ws.entries {
		for _, e := range ws.entries[c] {
			delete(s.entries, e.Address)
			delete(s.byScriptHash, e.ScriptHash)
			delete(s.pendingOn, e.ScriptHash)
		}
	}
	delete(s.wallets, xpub)
	for i, x := range s.order {
		if x == xpub {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// pruneTransactions drops every cached transaction that neither spends
// from nor pays to a tracked address, and forgets in-flight requests no
// remaining entry references.
func pruneTransactions(s *State) {
	var drop []string
	for txid, tx := range s.transactions {
		if !touchesTracked(s, tx) {
			drop = append(drop, txid)
		}
	}
	for _, txid := range drop {
		delete(s.transactions, txid)
	}

	for txid := range s.inFlight {
		if !s.referenced(txid) {
			delete(s.inFlight, txid)
		}
	}
}

func touchesTracked(s *State, tx *backend.Transaction) bool {
	for _, out := range tx.Vout {
		if _, ok := s.entries[out.Address()]; ok {
			return true
		}
	}
	for _, in := range tx.Vin {
		if in.IsCoinbase() {
			continue
		}
		prev, ok := s.transactions[in.TxID]
		if !ok {
			continue
		}
		if out, ok := prev.Output(in.Vout); ok {
			if _, ok := s.entries[out.Address()]; ok {
				return true
			}
		}
	}
	return false
}

func reduceHistory(s *State, ev HistoryReceived, gapLimit uint32) Outcome {
	entry, ok := s.byScriptHash[ev.ScriptHash]
	if !ok {
		// Unknown scripthash: the wallet was removed while the request
		// was in flight.
		return Outcome{}
	}

	seen := make(map[string]bool, len(ev.Items))
	txids := make([]string, 0, len(ev.Items))
	for _, item := range ev.Items {
		if !seen[item.TxHash] {
			seen[item.TxHash] = true
			txids = append(txids, item.TxHash)
		}
	}
	entry.Status = wallet.HistoryLoaded
	entry.TxIDs = txids
	delete(s.pendingOn, entry.ScriptHash)

	ws := s.wallets[entry.Owner]
	if len(txids) > 0 {
		ws.frontier[entry.Chain].Raise(entry.Index)
	}

	var out Outcome
	if err := extend(ws, s, gapLimit); err != nil {
		out.Errors = append(out.Errors, err)
	}
	return out
}

// extend derives the addresses the scanner asks for on both chains.
func extend(ws *walletState, s *State, gapLimit uint32) error {
	for _, c := range []wallet.Chain{wallet.ChainReceive, wallet.ChainChange} {
		start := ws.derived(c)
		n := Missing(start, ws.frontier[c], gapLimit)
		if n == 0 {
			continue
		}
		entries, err := wallet.DeriveAddressRange(ws.wallet, c, start, n)
		if err != nil {
			return &DerivationError{Xpub: ws.wallet.Xpub, Err: err}
		}
		ws.entries[c] = append(ws.entries[c], entries...)
		for _, e := range entries {
			s.entries[e.Address] = e
			s.byScriptHash[e.ScriptHash] = e
		}
	}
	return nil
}

func reduceTransaction(s *State, ev TransactionReceived) Outcome {
	tx := ev.Tx
	if tx == nil {
		return Outcome{}
	}
	if _, ok := s.transactions[tx.TxID]; ok {
		delete(s.inFlight, tx.TxID)
		return Outcome{}
	}
	if _, requested := s.inFlight[tx.TxID]; !requested && !s.referenced(tx.TxID) {
		return Outcome{}
	}
	delete(s.inFlight, tx.TxID)
	s.transactions[tx.TxID] = tx
	return Outcome{Inserted: tx}
}

// reduceReconnected returns requests sent on generations older than
// ev.Generation to the unrequested pool. Frames from the old connection can
// still be queued behind the notice, and requests planned from them may
// already be out on the new connection; those are left alone.
func reduceReconnected(s *State, ev Reconnected) {
	for _, e := range s.entries {
		if e.Status != wallet.HistoryPending {
			continue
		}
		if s.pendingOn[e.ScriptHash] < ev.Generation {
			e.Status = wallet.HistoryUnrequested
			delete(s.pendingOn, e.ScriptHash)
		}
	}
	for txid, gen := range s.inFlight {
		if gen < ev.Generation {
			delete(s.inFlight, txid)
		}
	}
	if ev.Generation > s.generation {
		s.generation = ev.Generation
	}
}

// MarkSent records the connection generation a batch went out on. Requests
// whose answer already arrived, or whose wallet was removed, are skipped.
func MarkSent(s *State, batch []backend.Request, generation uint64) {
	for _, req := range batch {
		id, err := backend.ParseRequestID(req.ID)
		if err != nil {
			continue
		}
		switch id.Method {
		case backend.MethodGetHistory:
			if e, ok := s.byScriptHash[id.ScriptHash]; ok && e.Status == wallet.HistoryPending {
				s.pendingOn[id.ScriptHash] = generation
			}
		case backend.MethodGetTransaction:
			if _, ok := s.inFlight[id.TxID]; ok {
				s.inFlight[id.TxID] = generation
			}
		}
	}
	if generation > s.generation {
		s.generation = generation
	}
}

// Plan marks every unrequested entry pending and returns its history
// request. Once all histories are loaded it also requests, once each, the
// referenced transactions that are neither cached nor in flight. New
// requests are stamped with the newest known generation until MarkSent
// says otherwise.
func Plan(s *State) []backend.Request {
	var requests []backend.Request

	s.orderedEntries(func(e *wallet.AddressEntry) {
		if e.Status != wallet.HistoryUnrequested {
			return
		}
		e.Status = wallet.HistoryPending
		s.pendingOn[e.ScriptHash] = s.generation
		requests = append(requests, backend.HistoryRequest(e.ScriptHash, e.Index, e.Chain.IsChange()))
	})

	if !s.AddressesLoaded() {
		return requests
	}
	for _, txid := range s.referencedTxIDs() {
		if _, ok := s.transactions[txid]; ok {
			continue
		}
		if _, ok := s.inFlight[txid]; ok {
			continue
		}
		s.inFlight[txid] = s.generation
		requests = append(requests, backend.TransactionRequest(txid))
	}
	return requests
}

// Seed fills the transaction cache, e.g. from storage, before syncing.
func Seed(s *State, txs []*backend.Transaction) {
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if _, ok := s.transactions[tx.TxID]; !ok {
			s.transactions[tx.TxID] = tx
		}
	}
}
