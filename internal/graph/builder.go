// Package graph turns a loaded sync snapshot into a graph of value flow:
// from each wallet to its receive addresses, and from every address to the
// addresses its spends paid.
package graph

import (
	"encoding/json"

	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/sync"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
)

// NodeKind is the kind of a graph node.
type NodeKind string

const (
	NodeXpub    NodeKind = "xpubNode"
	NodeAddress NodeKind = "addressNode"
)

// AddressType classifies an address node.
type AddressType string

const (
	// AddressXpub is a receive address of the wallet being drawn.
	AddressXpub AddressType = "xpubAddress"
	// AddressChange is a tracked address reached by a spend.
	AddressChange AddressType = "changeAddress"
	// AddressExternal is an address no wallet tracks.
	AddressExternal AddressType = "externalAddress"
)

// Node is a graph node. Xpub nodes are keyed by the extended key, address
// nodes by the address.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"type"`

	Xpub   string  `json:"xpub,omitempty"`
	Totals *Totals `json:"totals,omitempty"`

	Address              string      `json:"address,omitempty"`
	AddressType          AddressType `json:"addressType,omitempty"`
	DerivationPath       string      `json:"derivationPath,omitempty"`
	SpendingTransactions int         `json:"spendingTransactions"`
}

// Edge connects a wallet to its receive address, or an address to an
// address paid by one of its spends. Animated marks an edge into an
// address owned by another wallet.
type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Animated bool   `json:"animated,omitempty"`
}

// EdgeID returns the key of the edge from source to target.
func EdgeID(source, target string) string {
	return source + "-" + target
}

// Graph holds nodes and edges keyed by id, in insertion order.
type Graph struct {
	nodes     map[string]*Node
	edges     map[string]*Edge
	nodeOrder []string
	edgeOrder []string
}

func newGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// addNode inserts n unless a node with the same id exists. It reports
// whether n was inserted.
func (g *Graph) addNode(n *Node) bool {
	if _, ok := g.nodes[n.ID]; ok {
		return false
	}
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return true
}

func (g *Graph) addEdge(e *Edge) {
	if _, ok := g.edges[e.ID]; ok {
		return
	}
	g.edges[e.ID] = e
	g.edgeOrder = append(g.edgeOrder, e.ID)
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns the edge from source to target.
func (g *Graph) Edge(source, target string) (*Edge, bool) {
	e, ok := g.edges[EdgeID(source, target)]
	return e, ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// MarshalJSON encodes the graph as ordered node and edge lists.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Nodes []*Node `json:"nodes"`
		Edges []*Edge `json:"edges"`
	}{g.Nodes(), g.Edges()})
}

// Options controls graph construction.
type Options struct {
	// ShowEmpty draws receive addresses that have no transactions.
	ShowEmpty bool
}

// builder holds the inputs of one Build call.
type builder struct {
	snap     *sync.Snapshot
	opts     Options
	wallets  map[string]*wallet.Wallet
	adjacent map[string]bool
	graph    *Graph
}

// Build builds the graph of every wallet in the snapshot. The snapshot
// should be ready; transactions missing from the cache are skipped.
func Build(snap *sync.Snapshot, opts Options) *Graph {
	b := &builder{
		snap:    snap,
		opts:    opts,
		wallets: make(map[string]*wallet.Wallet, len(snap.Wallets)),
		graph:   newGraph(),
	}
	for _, w := range snap.Wallets {
		b.wallets[w.Xpub] = w
	}
	b.adjacent = b.adjacentAddresses()

	for _, w := range snap.Wallets {
		b.buildWallet(w)
	}
	b.fillDanglingTargets()
	return b.graph
}

// adjacentAddresses returns the receive addresses that were paid by a
// transaction of another wallet.
func (b *builder) adjacentAddresses() map[string]bool {
	adjacent := make(map[string]bool)
	for _, entry := range b.snap.Entries {
		if !entry.Loaded() {
			continue
		}
		for _, txid := range entry.TxIDs {
			tx, ok := b.snap.Transactions[txid]
			if !ok {
				continue
			}
			for _, out := range tx.Vout {
				other, ok := b.snap.Entry(out.Address())
				if !ok || other.Chain.IsChange() || other.Owner == entry.Owner {
					continue
				}
				adjacent[other.Address] = true
			}
		}
	}
	return adjacent
}

func (b *builder) buildWallet(w *wallet.Wallet) {
	totals := WalletTotals(b.snap, w.Xpub)
	b.graph.addNode(&Node{ID: w.Xpub, Kind: NodeXpub, Xpub: w.Xpub, Totals: &totals})

	var roots []*wallet.AddressEntry
	for _, entry := range b.snap.WalletEntries(w.Xpub) {
		if entry.Chain.IsChange() {
			continue
		}
		if !b.opts.ShowEmpty && !entry.Active() {
			continue
		}
		roots = append(roots, entry)

		adjacent := b.adjacent[entry.Address]
		if !adjacent {
			b.graph.addNode(b.addressNode(entry, AddressXpub))
		}
		b.graph.addEdge(&Edge{
			ID:       EdgeID(w.Xpub, entry.Address),
			Source:   w.Xpub,
			Target:   entry.Address,
			Animated: adjacent,
		})
	}

	b.trace(roots)
}

// trace follows spends breadth-first from the roots. Each tracked address
// is expanded at most once.
func (b *builder) trace(roots []*wallet.AddressEntry) {
	visited := make(map[string]bool, len(roots))
	queue := make([]*wallet.AddressEntry, 0, len(roots))
	for _, entry := range roots {
		if !visited[entry.Address] {
			visited[entry.Address] = true
			queue = append(queue, entry)
		}
	}

	for len(queue) > 0 {
		source := queue[0]
		queue = queue[1:]

		for _, tx := range b.spendingTransactions(source) {
			for _, out := range tx.Vout {
				addr := out.Address()
				// Self-payments would loop on the source.
				if addr == "" || addr == source.Address {
					continue
				}

				dest, tracked := b.snap.Entry(addr)
				if tracked {
					b.graph.addNode(b.addressNode(dest, AddressChange))
				} else {
					b.graph.addNode(&Node{ID: addr, Kind: NodeAddress, Address: addr, AddressType: AddressExternal})
				}
				b.graph.addEdge(&Edge{ID: EdgeID(source.Address, addr), Source: source.Address, Target: addr})

				if tracked && !visited[addr] {
					visited[addr] = true
					queue = append(queue, dest)
				}
			}
		}
	}
}

// spendingTransactions returns the transactions of an entry that consume an
// output paid to the entry's address by another of its transactions.
func (b *builder) spendingTransactions(entry *wallet.AddressEntry) []*backend.Transaction {
	var out []*backend.Transaction
	for _, txid := range entry.TxIDs {
		tx, ok := b.snap.Transactions[txid]
		if !ok {
			continue
		}
		if b.spendsFrom(tx, entry) {
			out = append(out, tx)
		}
	}
	return out
}

func (b *builder) spendsFrom(tx *backend.Transaction, entry *wallet.AddressEntry) bool {
	for _, in := range tx.Vin {
		if in.IsCoinbase() || in.TxID == tx.TxID {
			continue
		}
		if !containsTxID(entry.TxIDs, in.TxID) {
			continue
		}
		prev, ok := b.snap.Transactions[in.TxID]
		if !ok {
			continue
		}
		if prevOut, ok := prev.Output(in.Vout); ok && prevOut.Address() == entry.Address {
			return true
		}
	}
	return false
}

func (b *builder) addressNode(entry *wallet.AddressEntry, t AddressType) *Node {
	n := &Node{
		ID:                   entry.Address,
		Kind:                 NodeAddress,
		Address:              entry.Address,
		AddressType:          t,
		SpendingTransactions: len(b.spendingTransactions(entry)),
	}
	if w, ok := b.wallets[entry.Owner]; ok {
		n.DerivationPath = w.DerivationPath(entry.Chain, entry.Index)
	}
	return n
}

// fillDanglingTargets adds a node for every edge target that is a tracked
// address but was never drawn. This happens when a receive address is paid
// by another wallet whose spends do not reach it.
func (b *builder) fillDanglingTargets() {
	for _, e := range b.graph.Edges() {
		if _, ok := b.graph.nodes[e.Target]; ok {
			continue
		}
		if entry, ok := b.snap.Entry(e.Target); ok {
			b.graph.addNode(b.addressNode(entry, AddressChange))
		}
	}
}

func containsTxID(ids []string, txid string) bool {
	for _, id := range ids {
		if id == txid {
			return true
		}
	}
	return false
}
