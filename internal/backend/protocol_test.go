package backend

import (
	"encoding/json"
	"errors"
	"testing"
)

const (
	testScriptHash = "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161"
	testTxID       = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
)

func TestRequestIDs(t *testing.T) {
	id := HistoryRequestID(testScriptHash, 17, true)
	want := "blockchain.scripthash.get_history-" + testScriptHash + "-17-true"
	if id != want {
		t.Errorf("HistoryRequestID() = %s, want %s", id, want)
	}

	parsed, err := ParseRequestID(id)
	if err != nil {
		t.Fatalf("ParseRequestID() error = %v", err)
	}
	if parsed.Method != MethodGetHistory || parsed.ScriptHash != testScriptHash || parsed.Index != 17 || !parsed.IsChange {
		t.Errorf("ParseRequestID() = %+v", parsed)
	}

	txID := TransactionRequestID(testTxID)
	if txID != "blockchain.transaction.get-"+testTxID {
		t.Errorf("TransactionRequestID() = %s", txID)
	}
	parsed, err = ParseRequestID(txID)
	if err != nil {
		t.Fatalf("ParseRequestID() error = %v", err)
	}
	if parsed.Method != MethodGetTransaction || parsed.TxID != testTxID {
		t.Errorf("ParseRequestID() = %+v", parsed)
	}
}

func TestParseRequestIDErrors(t *testing.T) {
	ids := []string{
		"",
		"server.version-1",
		"blockchain.scripthash.get_history-abc-1",
		"blockchain.scripthash.get_history-abc-x-false",
		"blockchain.scripthash.get_history-abc-1-maybe",
		"blockchain.scripthash.get_history--1-false",
		"blockchain.transaction.get",
		"blockchain.transaction.get-",
		"blockchain.transaction.get-a-b",
	}
	for _, id := range ids {
		if _, err := ParseRequestID(id); !errors.Is(err, ErrInvalidRequestID) {
			t.Errorf("ParseRequestID(%q) error = %v, want ErrInvalidRequestID", id, err)
		}
	}
}

func TestRequestConstructors(t *testing.T) {
	h := HistoryRequest(testScriptHash, 3, false)
	if h.Method != MethodGetHistory || len(h.Params) != 1 || h.Params[0] != testScriptHash {
		t.Errorf("HistoryRequest() = %+v", h)
	}

	tx := TransactionRequest(testTxID)
	if tx.Method != MethodGetTransaction || len(tx.Params) != 2 || tx.Params[1] != true {
		t.Errorf("TransactionRequest() = %+v", tx)
	}

	data, err := json.Marshal([]Request{h, tx})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if len(decoded) != 2 || decoded[0]["id"] != h.ID || decoded[1]["method"] != MethodGetTransaction {
		t.Errorf("batch encoding = %s", data)
	}
}

func TestDecodeResponses(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantLen int
		wantErr bool
	}{
		{"batch", `[{"id":"a","result":[]},{"id":"b","result":null}]`, 2, false},
		{"single", `{"jsonrpc":"2.0","id":"a","result":{"x":1}}`, 1, false},
		{"numeric id", `{"id":7,"result":"ok"}`, 1, false},
		{"surrounding whitespace", "  [{\"id\":\"a\",\"result\":[]}]\n", 1, false},
		{"empty", ``, 0, true},
		{"not json", `hello`, 0, true},
		{"missing id", `{"result":[]}`, 0, true},
		{"null id in batch", `[{"id":"a","result":[]},{"id":null,"result":[]}]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResponses([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponses() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error = %v, want ErrMalformedResponse", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestDecodeResponsesErrors(t *testing.T) {
	frame := `[{"id":"a","error":{"code":-32600,"message":"bad request"}},{"id":"b","error":"unknown scripthash"}]`
	got, err := DecodeResponses([]byte(frame))
	if err != nil {
		t.Fatalf("DecodeResponses() error = %v", err)
	}
	if got[0].Error == nil || got[0].Error.Code != -32600 || got[0].Error.Message != "bad request" {
		t.Errorf("object error = %+v", got[0].Error)
	}
	if got[1].Error == nil || got[1].Error.Message != "unknown scripthash" {
		t.Errorf("string error = %+v", got[1].Error)
	}
	if got[0].Error.Error() != "electrum error -32600: bad request" {
		t.Errorf("Error() = %s", got[0].Error.Error())
	}
}

func TestEncodeResponses(t *testing.T) {
	data, err := EncodeResponses([]Response{{ID: "a", Result: json.RawMessage(`[]`)}})
	if err != nil {
		t.Fatalf("EncodeResponses() error = %v", err)
	}
	got, err := DecodeResponses(data)
	if err != nil {
		t.Fatalf("DecodeResponses() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" || string(got[0].Result) != "[]" {
		t.Errorf("decoded = %+v", got)
	}
}

func TestParseType(t *testing.T) {
	if typ, err := ParseType(""); err != nil || typ != TypeWebSocket {
		t.Errorf("ParseType(\"\") = %s, %v", typ, err)
	}
	if typ, err := ParseType("TCP"); err != nil || typ != TypeElectrum {
		t.Errorf("ParseType(TCP) = %s, %v", typ, err)
	}
	if _, err := ParseType("http"); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("ParseType(http) error = %v", err)
	}
}
