package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	gosync "sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/checksum0/go-electrum/electrum"
	"github.com/klingon-exchange/xpubgraph/pkg/helpers"
	"github.com/klingon-exchange/xpubgraph/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultElectrumConcurrency bounds parallel calls on one connection.
const DefaultElectrumConcurrency = 8

// ElectrumConfig configures an ElectrumTransport.
type ElectrumConfig struct {
	// Server in "host:port" form, e.g. "electrum.blockstream.info:50002".
	Server      string
	UseTLS      bool
	Params      *chaincfg.Params
	Concurrency int
}

// ElectrumTransport talks to an Electrum server directly and answers each
// request with a frame shaped like the batch responses of the WebSocket
// path, so the sync session sees one protocol.
//
// Transactions are fetched raw and decoded locally; the server's block
// time is not part of the raw encoding and is reported as 0.
type ElectrumTransport struct {
	cfg    ElectrumConfig
	logger *logging.Logger

	mu     gosync.Mutex
	client *electrum.Client

	messages   chan []byte
	reconnects chan uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce gosync.Once
	wg        gosync.WaitGroup
}

var _ Transport = (*ElectrumTransport)(nil)

// NewElectrumTransport creates a direct Electrum transport.
func NewElectrumTransport(cfg ElectrumConfig) *ElectrumTransport {
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultElectrumConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ElectrumTransport{
		cfg:        cfg,
		logger:     logging.GetDefault().Component("electrum"),
		messages:   make(chan []byte, messageBuffer),
		reconnects: make(chan uint64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Connect establishes the connection to the server.
func (e *ElectrumTransport) Connect(ctx context.Context) error {
	var (
		client *electrum.Client
		err    error
	)
	if e.cfg.UseTLS {
		client, err = electrum.NewClientSSL(ctx, e.cfg.Server, &tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	} else {
		client, err = electrum.NewClientTCP(ctx, e.cfg.Server)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	e.logger.Info("connected", "server", e.cfg.Server, "tls", e.cfg.UseTLS)
	return nil
}

// Send dispatches the batch in the background. Each request is answered
// on Messages as a one-element batch. The direct client never redials, so
// every batch goes out on generation 1.
func (e *ElectrumTransport) Send(ctx context.Context, batch []Request) (uint64, error) {
	e.mu.Lock()
	client := e.client
	if client == nil {
		e.mu.Unlock()
		return 0, ErrNotConnected
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		var g errgroup.Group
		g.SetLimit(e.cfg.Concurrency)
		for _, req := range batch {
			req := req
			g.Go(func() error {
				e.deliver(e.handle(client, req))
				return nil
			})
		}
		g.Wait()
	}()
	return 1, nil
}

// Messages returns the channel of response frames.
func (e *ElectrumTransport) Messages() <-chan []byte {
	return e.messages
}

// Reconnects never fires; the direct client does not redial.
func (e *ElectrumTransport) Reconnects() <-chan uint64 {
	return e.reconnects
}

// Close shuts the client down and waits for outstanding calls.
func (e *ElectrumTransport) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.mu.Lock()
		if e.client != nil {
			e.client.Shutdown()
			e.client = nil
		}
		e.mu.Unlock()
		e.wg.Wait()
		close(e.messages)
	})
	return nil
}

func (e *ElectrumTransport) deliver(resp Response) {
	data, err := EncodeResponses([]Response{resp})
	if err != nil {
		e.logger.Error("failed to encode response", "id", resp.ID, "error", err)
		return
	}
	select {
	case e.messages <- data:
	case <-e.ctx.Done():
	}
}

func (e *ElectrumTransport) handle(client *electrum.Client, req Request) Response {
	id, err := ParseRequestID(req.ID)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	var result interface{}
	switch id.Method {
	case MethodGetHistory:
		history, err := client.GetHistory(e.ctx, id.ScriptHash)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		items := make([]HistoryItem, 0, len(history))
		for _, h := range history {
			items = append(items, HistoryItem{TxHash: h.Hash, Height: int64(h.Height)})
		}
		result = items

	case MethodGetTransaction:
		raw, err := client.GetRawTransaction(e.ctx, id.TxID)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		tx, err := DecodeRawTransaction(raw, e.cfg.Params)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		result = tx
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: data}
}

func errorResponse(id string, err error) Response {
	return Response{ID: id, Error: &RPCError{Code: -1, Message: err.Error()}}
}

// DecodeRawTransaction decodes a hex serialized transaction into the
// verbose shape. Output addresses are extracted for the given network;
// scripts without exactly one address get an empty address.
func DecodeRawTransaction(rawHex string, params *chaincfg.Params) (*Transaction, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return TransactionFromMsgTx(&msg, params), nil
}

// TransactionFromMsgTx converts a decoded transaction into the verbose
// shape.
func TransactionFromMsgTx(msg *wire.MsgTx, params *chaincfg.Params) *Transaction {
	tx := &Transaction{
		TxID: msg.TxHash().String(),
		Vin:  make([]TxInput, 0, len(msg.TxIn)),
		Vout: make([]TxOutput, 0, len(msg.TxOut)),
	}

	for _, in := range msg.TxIn {
		prev := in.PreviousOutPoint
		if prev.Hash == (chainhash.Hash{}) && prev.Index == wire.MaxPrevOutIndex {
			tx.Vin = append(tx.Vin, TxInput{Coinbase: hex.EncodeToString(in.SignatureScript)})
			continue
		}
		tx.Vin = append(tx.Vin, TxInput{TxID: prev.Hash.String(), Vout: prev.Index})
	}

	for n, out := range msg.TxOut {
		spk := ScriptPubKey{Hex: hex.EncodeToString(out.PkScript)}
		class, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
		if err == nil {
			spk.Type = class.String()
			if len(addrs) == 1 {
				spk.Address = addrs[0].EncodeAddress()
			}
		}
		tx.Vout = append(tx.Vout, TxOutput{
			N:            uint32(n),
			Value:        helpers.SatsToBTC(out.Value),
			ScriptPubKey: spk,
		})
	}

	return tx
}
