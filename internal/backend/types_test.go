package backend

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeHistory(t *testing.T) {
	items, err := DecodeHistory(json.RawMessage(`[{"tx_hash":"` + testTxID + `","height":100},{"tx_hash":"` + testTxID + `","height":0}]`))
	if err != nil {
		t.Fatalf("DecodeHistory() error = %v", err)
	}
	if len(items) != 2 || items[0].TxHash != testTxID || items[0].Height != 100 {
		t.Errorf("DecodeHistory() = %+v", items)
	}

	empty, err := DecodeHistory(json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("DecodeHistory(null) error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("DecodeHistory(null) = %#v, want empty non-nil", empty)
	}

	bad := []string{
		`{"tx_hash":"x"}`,
		`[{"tx_hash":"abc","height":1}]`,
		`[{"height":1}]`,
	}
	for _, b := range bad {
		if _, err := DecodeHistory(json.RawMessage(b)); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("DecodeHistory(%s) error = %v, want ErrMalformedResponse", b, err)
		}
	}
}

func TestDecodeTransaction(t *testing.T) {
	raw := `{
		"txid": "` + testTxID + `",
		"time": 1700000000,
		"vin": [{"txid": "` + testTxID + `", "vout": 1}],
		"vout": [
			{"n": 0, "value": 0.001, "scriptPubKey": {"address": "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"}},
			{"n": 1, "value": 0.5, "scriptPubKey": {"addresses": ["1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"]}},
			{"n": 2, "value": 0, "scriptPubKey": {"type": "nulldata"}}
		]
	}`
	tx, err := DecodeTransaction(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeTransaction() error = %v", err)
	}
	if tx.TxID != testTxID || tx.Time != 1700000000 {
		t.Errorf("tx = %s at %d", tx.TxID, tx.Time)
	}
	if got := tx.Vout[0].Address(); got != "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu" {
		t.Errorf("Vout[0].Address() = %s", got)
	}
	if got := tx.Vout[1].Address(); got != "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" {
		t.Errorf("Vout[1].Address() = %s", got)
	}
	if got := tx.Vout[2].Address(); got != "" {
		t.Errorf("Vout[2].Address() = %s, want empty", got)
	}
	if got := tx.Vout[0].Sats(); got != 100000 {
		t.Errorf("Vout[0].Sats() = %d, want 100000", got)
	}

	out, ok := tx.Output(1)
	if !ok || out.N != 1 {
		t.Errorf("Output(1) = %+v, %v", out, ok)
	}
	if _, ok := tx.Output(9); ok {
		t.Error("Output(9) should not exist")
	}
}

func TestDecodeTransactionCoinbase(t *testing.T) {
	raw := `{"txid":"` + testTxID + `","vin":[{"coinbase":"04ffff001d","sequence":4294967295}],"vout":[{"n":0,"value":50,"scriptPubKey":{"address":"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"}}]}`
	tx, err := DecodeTransaction(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeTransaction() error = %v", err)
	}
	if !tx.Vin[0].IsCoinbase() {
		t.Error("coinbase input not recognised")
	}
}

func TestDecodeTransactionInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not an object", `[]`},
		{"bad txid", `{"txid":"zz","vin":[{"txid":"` + testTxID + `","vout":0}],"vout":[{"n":0,"value":1}]}`},
		{"no inputs", `{"txid":"` + testTxID + `","vin":[],"vout":[{"n":0,"value":1}]}`},
		{"no outputs", `{"txid":"` + testTxID + `","vin":[{"txid":"` + testTxID + `","vout":0}],"vout":[]}`},
		{"input without txid", `{"txid":"` + testTxID + `","vin":[{"vout":0}],"vout":[{"n":0,"value":1}]}`},
		{"negative value", `{"txid":"` + testTxID + `","vin":[{"txid":"` + testTxID + `","vout":0}],"vout":[{"n":0,"value":-1}]}`},
		{"string value", `{"txid":"` + testTxID + `","vin":[{"txid":"` + testTxID + `","vout":0}],"vout":[{"n":0,"value":"1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeTransaction(json.RawMessage(tt.raw)); !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("DecodeTransaction() error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}
