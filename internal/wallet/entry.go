package wallet

// HistoryStatus tracks where an address is in the history lookup.
type HistoryStatus int

const (
	// HistoryUnrequested means no request has been sent on the current
	// connection.
	HistoryUnrequested HistoryStatus = iota
	// HistoryPending means a request is in flight.
	HistoryPending
	// HistoryLoaded means TxIDs holds the server's answer, possibly empty.
	HistoryLoaded
)

func (s HistoryStatus) String() string {
	switch s {
	case HistoryPending:
		return "pending"
	case HistoryLoaded:
		return "loaded"
	default:
		return "unrequested"
	}
}

// AddressEntry is one derived address of a wallet together with its
// history state. Address, ScriptHash, Chain, Index and Owner are fixed at
// derivation; Status and TxIDs change as responses arrive.
type AddressEntry struct {
	Address    string
	ScriptHash string
	Chain      Chain
	Index      uint32
	Owner      string

	Status HistoryStatus
	TxIDs  []string
}

// Loaded reports whether the history of the entry is known.
func (e *AddressEntry) Loaded() bool {
	return e.Status == HistoryLoaded
}

// Active reports whether the address has appeared in any transaction.
func (e *AddressEntry) Active() bool {
	return e.Status == HistoryLoaded && len(e.TxIDs) > 0
}

// Clone returns a deep copy of the entry.
func (e *AddressEntry) Clone() *AddressEntry {
	c := *e
	if e.TxIDs != nil {
		c.TxIDs = append([]string(nil), e.TxIDs...)
	}
	return &c
}
