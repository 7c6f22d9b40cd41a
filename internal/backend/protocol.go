package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Electrum methods used by the sync engine.
const (
	MethodGetHistory     = "blockchain.scripthash.get_history"
	MethodGetTransaction = "blockchain.transaction.get"
)

// Request is a JSON-RPC request as sent in a batch.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// HistoryRequest builds a get_history request for a scripthash. The index
// and chain of the address are carried in the id so that the response can
// be placed without a lookup table.
func HistoryRequest(scriptHash string, index uint32, isChange bool) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      HistoryRequestID(scriptHash, index, isChange),
		Method:  MethodGetHistory,
		Params:  []interface{}{scriptHash},
	}
}

// TransactionRequest builds a verbose transaction.get request.
func TransactionRequest(txid string) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      TransactionRequestID(txid),
		Method:  MethodGetTransaction,
		Params:  []interface{}{txid, true},
	}
}

// HistoryRequestID returns "<method>-<scripthash>-<index>-<isChange>".
func HistoryRequestID(scriptHash string, index uint32, isChange bool) string {
	return MethodGetHistory + "-" + scriptHash + "-" + strconv.FormatUint(uint64(index), 10) + "-" + strconv.FormatBool(isChange)
}

// TransactionRequestID returns "<method>-<txid>".
func TransactionRequestID(txid string) string {
	return MethodGetTransaction + "-" + txid
}

// RequestID is a parsed correlation id.
type RequestID struct {
	Method string

	// Set for history requests.
	ScriptHash string
	Index      uint32
	IsChange   bool

	// Set for transaction requests.
	TxID string
}

// ParseRequestID splits a correlation id back into its parts.
func ParseRequestID(id string) (RequestID, error) {
	parts := strings.Split(id, "-")
	switch parts[0] {
	case MethodGetHistory:
		if len(parts) != 4 || parts[1] == "" {
			return RequestID{}, fmt.Errorf("%w: %q", ErrInvalidRequestID, id)
		}
		index, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return RequestID{}, fmt.Errorf("%w: bad index in %q", ErrInvalidRequestID, id)
		}
		isChange, err := strconv.ParseBool(parts[3])
		if err != nil {
			return RequestID{}, fmt.Errorf("%w: bad chain flag in %q", ErrInvalidRequestID, id)
		}
		return RequestID{
			Method:     MethodGetHistory,
			ScriptHash: parts[1],
			Index:      uint32(index),
			IsChange:   isChange,
		}, nil

	case MethodGetTransaction:
		if len(parts) != 2 || parts[1] == "" {
			return RequestID{}, fmt.Errorf("%w: %q", ErrInvalidRequestID, id)
		}
		return RequestID{Method: MethodGetTransaction, TxID: parts[1]}, nil

	default:
		return RequestID{}, fmt.Errorf("%w: unknown method in %q", ErrInvalidRequestID, id)
	}
}

// RPCError is an error returned by the server. Electrum servers send either
// a {code, message} object or a bare string.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

// UnmarshalJSON accepts both error encodings.
func (e *RPCError) UnmarshalJSON(data []byte) error {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		e.Code = 0
		e.Message = msg
		return nil
	}
	type plain RPCError
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = RPCError(p)
	return nil
}

// Response is one JSON-RPC response.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type rawResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// DecodeResponses decodes a frame holding either a single response or a
// batch. Frames that are not JSON, and responses without an id, are
// rejected as a whole.
func DecodeResponses(data []byte) ([]Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedResponse)
	}

	var raws []rawResponse
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	} else {
		var r rawResponse
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		raws = []rawResponse{r}
	}

	responses := make([]Response, 0, len(raws))
	for _, r := range raws {
		id, err := decodeID(r.ID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, Response{ID: id, Result: r.Result, Error: r.Error})
	}
	return responses, nil
}

// EncodeResponses encodes responses as a batch frame.
func EncodeResponses(responses []Response) ([]byte, error) {
	return json.Marshal(responses)
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing id", ErrMalformedResponse)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	// Numeric ids never match ours but are kept so the caller can log them.
	return string(raw), nil
}
