package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func TestTransactionFromMsgTx(t *testing.T) {
	params := &chaincfg.MainNetParams

	addr, err := btcutil.DecodeAddress("bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", params)
	if err != nil {
		t.Fatalf("DecodeAddress() error = %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript() error = %v", err)
	}
	nullData, err := txscript.NullDataScript([]byte("hello"))
	if err != nil {
		t.Fatalf("NullDataScript() error = %v", err)
	}

	prevHash, _ := chainhash.NewHashFromStr(testTxID)
	msg := wire.NewMsgTx(2)
	msg.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, 3), nil, nil))
	msg.AddTxOut(wire.NewTxOut(100000, pkScript))
	msg.AddTxOut(wire.NewTxOut(0, nullData))

	tx := TransactionFromMsgTx(msg, params)

	if tx.TxID != msg.TxHash().String() {
		t.Errorf("TxID = %s, want %s", tx.TxID, msg.TxHash())
	}
	if tx.Time != 0 {
		t.Errorf("Time = %d, want 0", tx.Time)
	}
	if len(tx.Vin) != 1 || tx.Vin[0].TxID != testTxID || tx.Vin[0].Vout != 3 {
		t.Errorf("Vin = %+v", tx.Vin)
	}
	if len(tx.Vout) != 2 {
		t.Fatalf("len(Vout) = %d, want 2", len(tx.Vout))
	}
	if tx.Vout[0].Address() != addr.EncodeAddress() || tx.Vout[0].Sats() != 100000 {
		t.Errorf("Vout[0] = %+v", tx.Vout[0])
	}
	if tx.Vout[1].Address() != "" || tx.Vout[1].N != 1 {
		t.Errorf("Vout[1] = %+v, want no address", tx.Vout[1])
	}
}

func TestTransactionFromMsgTxCoinbase(t *testing.T) {
	msg := wire.NewMsgTx(1)
	msg.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), []byte{0x03, 0x01, 0x02, 0x03}, nil))
	msg.AddTxOut(wire.NewTxOut(5000000000, []byte{txscript.OP_TRUE}))

	tx := TransactionFromMsgTx(msg, &chaincfg.MainNetParams)
	if !tx.Vin[0].IsCoinbase() || tx.Vin[0].Coinbase != "03010203" {
		t.Errorf("Vin[0] = %+v, want coinbase", tx.Vin[0])
	}
}

func TestDecodeRawTransactionErrors(t *testing.T) {
	if _, err := DecodeRawTransaction("zz", &chaincfg.MainNetParams); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := DecodeRawTransaction("0100", &chaincfg.MainNetParams); err == nil {
		t.Error("expected error for truncated transaction")
	}
}

func TestElectrumTransportNotConnected(t *testing.T) {
	tr := NewElectrumTransport(ElectrumConfig{Server: "127.0.0.1:1"})
	_, err := tr.Send(context.Background(), []Request{TransactionRequest(testTxID)})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, ok := <-tr.Messages(); ok {
		t.Error("Messages() should be closed after Close()")
	}
}
