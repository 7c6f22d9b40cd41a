package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/wallet"
	"github.com/klingon-exchange/xpubgraph/pkg/logging"
)

// Session configuration
const (
	DefaultMaxBatchSize = 100
	eventBuffer         = 16
	errorBuffer         = 32
)

// TxStore persists cached transactions across runs.
type TxStore interface {
	SaveTransaction(tx *backend.Transaction) error
}

// Config configures a Session.
type Config struct {
	GapLimit uint32
	// MaxBatchSize splits request batches; zero uses DefaultMaxBatchSize.
	MaxBatchSize int
	// Store receives every newly cached transaction. Optional.
	Store TxStore
}

// Session runs an Engine against a transport. Every state change happens
// on the goroutine running Run.
type Session struct {
	id        string
	engine    *Engine
	transport backend.Transport
	store     TxStore
	batchSize int
	logger    *logging.Logger

	commands  chan command
	snapshots chan chan *Snapshot
	waits     chan chan *Snapshot
	errs      chan error

	// owned by Run
	waiters []chan *Snapshot
}

// NewSession creates a session over a connected transport.
func NewSession(t backend.Transport, cfg Config) *Session {
	batch := cfg.MaxBatchSize
	if batch <= 0 {
		batch = DefaultMaxBatchSize
	}
	id := uuid.New().String()
	return &Session{
		id:        id,
		engine:    NewEngine(cfg.GapLimit),
		transport: t,
		store:     cfg.Store,
		batchSize: batch,
		logger:    logging.GetDefault().Component("sync").With("session", id[:8]),
		commands:  make(chan command, eventBuffer),
		snapshots: make(chan chan *Snapshot),
		waits:     make(chan chan *Snapshot),
		errs:      make(chan error, errorBuffer),
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string {
	return s.id
}

// Seed preloads cached transactions. It must be called before Run.
func (s *Session) Seed(txs []*backend.Transaction) {
	s.engine.Seed(txs)
	s.logger.Debug("seeded transaction cache", "count", len(txs))
}

// Errors returns derivation errors. Errors are dropped when nobody reads.
func (s *Session) Errors() <-chan error {
	return s.errs
}

type command struct {
	events []Event
	done   chan struct{}
}

// SetWallets replaces the wallet set. It returns once the change is applied
// and the resulting requests are sent.
func (s *Session) SetWallets(ctx context.Context, wallets []*wallet.Wallet) error {
	cmd := command{events: []Event{WalletsChanged{Wallets: wallets}}, done: make(chan struct{})}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot(ctx context.Context) (*Snapshot, error) {
	reply := make(chan *Snapshot, 1)
	select {
	case s.snapshots <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitReady blocks until the state is complete and returns it. There is no
// internal timeout; the context bounds the wait.
func (s *Session) WaitReady(ctx context.Context) (*Snapshot, error) {
	reply := make(chan *Snapshot, 1)
	select {
	case s.waits <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes transport frames and caller events until the context is
// done or the transport gives up.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("sync session started", "gap_limit", s.engine.GapLimit())
	defer s.logger.Info("sync session stopped")

	messages := s.transport.Messages()
	reconnects := s.transport.Reconnects()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-messages:
			if !ok {
				return backend.ErrConnectionLost
			}
			if events := s.decode(msg); len(events) > 0 {
				s.apply(ctx, events...)
			}

		case generation := <-reconnects:
			s.logger.Info("connection re-established, re-issuing unanswered requests", "generation", generation)
			s.apply(ctx, Reconnected{Generation: generation})

		case cmd := <-s.commands:
			s.apply(ctx, cmd.events...)
			close(cmd.done)

		case reply := <-s.snapshots:
			reply <- s.engine.Snapshot()

		case reply := <-s.waits:
			if s.engine.IsLoading() {
				s.waiters = append(s.waiters, reply)
			} else {
				reply <- s.engine.Snapshot()
			}
		}
	}
}

func (s *Session) apply(ctx context.Context, events ...Event) {
	res := s.engine.Apply(events...)

	for _, err := range res.Errors {
		s.logger.Error("address derivation failed", "error", err)
		select {
		case s.errs <- err:
		default:
		}
	}

	if s.store != nil {
		for _, tx := range res.NewTransactions {
			if err := s.store.SaveTransaction(tx); err != nil {
				s.logger.Warn("failed to persist transaction", "txid", tx.TxID, "error", err)
			}
		}
	}

	s.send(ctx, res.Requests)

	if len(s.waiters) > 0 && !s.engine.IsLoading() {
		snap := s.engine.Snapshot()
		for _, w := range s.waiters {
			w <- snap
		}
		s.waiters = nil
		s.logger.Info("sync complete",
			"addresses", s.engine.State().EntryCount(),
			"transactions", s.engine.State().TransactionCount())
	}
}

// send writes requests in batches and tags each with the connection that
// carried it. A failed batch stays pending until the transport reports a
// newer connection.
func (s *Session) send(ctx context.Context, requests []backend.Request) {
	for start := 0; start < len(requests); start += s.batchSize {
		end := start + s.batchSize
		if end > len(requests) {
			end = len(requests)
		}
		batch := requests[start:end]
		generation, err := s.transport.Send(ctx, batch)
		if err != nil {
			s.logger.Warn("failed to send requests", "count", len(batch), "error", err)
			continue
		}
		s.engine.MarkSent(batch, generation)
		s.logger.Debug("sent requests", "count", len(batch), "generation", generation)
	}
}

// decode turns a frame into events. Malformed responses and server errors
// are logged and dropped.
func (s *Session) decode(msg []byte) []Event {
	responses, err := backend.DecodeResponses(msg)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		return nil
	}

	events := make([]Event, 0, len(responses))
	for _, resp := range responses {
		ev, err := responseEvent(resp)
		if err != nil {
			s.logger.Warn("dropping response", "id", resp.ID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

func responseEvent(resp backend.Response) (Event, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	id, err := backend.ParseRequestID(resp.ID)
	if err != nil {
		return nil, err
	}

	switch id.Method {
	case backend.MethodGetHistory:
		items, err := backend.DecodeHistory(resp.Result)
		if err != nil {
			return nil, err
		}
		return HistoryReceived{
			ScriptHash: id.ScriptHash,
			Index:      id.Index,
			IsChange:   id.IsChange,
			Items:      items,
		}, nil

	case backend.MethodGetTransaction:
		tx, err := backend.DecodeTransaction(resp.Result)
		if err != nil {
			return nil, err
		}
		if tx.TxID != id.TxID {
			return nil, fmt.Errorf("%w: asked for %s, got %s", backend.ErrMalformedResponse, id.TxID, tx.TxID)
		}
		return TransactionReceived{Tx: tx}, nil
	}
	return nil, fmt.Errorf("%w: %s", backend.ErrInvalidRequestID, resp.ID)
}
