package sync

import (
	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
)

// Result is the effect of applying a batch of events.
type Result struct {
	Requests        []backend.Request
	NewTransactions []*backend.Transaction
	Errors          []error
}

// Engine couples a State with its gap limit. It is not safe for concurrent
// use; Session serialises access.
type Engine struct {
	state    *State
	gapLimit uint32
}

// NewEngine creates an engine. A zero gap limit uses wallet.GapLimit.
func NewEngine(gapLimit uint32) *Engine {
	if gapLimit == 0 {
		gapLimit = wallet.GapLimit
	}
	return &Engine{state: NewState(), gapLimit: gapLimit}
}

// State returns the engine state.
func (e *Engine) State() *State {
	return e.state
}

// GapLimit returns the configured gap limit.
func (e *Engine) GapLimit() uint32 {
	return e.gapLimit
}

// Apply reduces the events in order and then plans the requests the new
// state calls for.
func (e *Engine) Apply(events ...Event) Result {
	var res Result
	for _, ev := range events {
		out := Reduce(e.state, ev, e.gapLimit)
		if out.Inserted != nil {
			res.NewTransactions = append(res.NewTransactions, out.Inserted)
		}
		res.Errors = append(res.Errors, out.Errors...)
	}
	res.Requests = Plan(e.state)
	return res
}

// MarkSent records that a batch of planned requests went out on the given
// connection generation.
func (e *Engine) MarkSent(batch []backend.Request, generation uint64) {
	MarkSent(e.state, batch, generation)
}

// Seed preloads cached transactions.
func (e *Engine) Seed(txs []*backend.Transaction) {
	Seed(e.state, txs)
}

// IsLoading reports whether the state is incomplete.
func (e *Engine) IsLoading() bool {
	return e.state.IsLoading()
}

// Snapshot returns a copy of the state.
func (e *Engine) Snapshot() *Snapshot {
	return e.state.Snapshot()
}
