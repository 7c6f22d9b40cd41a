package backend

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/klingon-exchange/xpubgraph/pkg/helpers"
)

// HistoryItem is one entry of a get_history result. Height is 0 or -1 for
// mempool transactions.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// Transaction is the verbose transaction shape returned by
// blockchain.transaction.get. Only the fields the graph needs are kept.
type Transaction struct {
	TxID string     `json:"txid"`
	Time int64      `json:"time,omitempty"`
	Vin  []TxInput  `json:"vin"`
	Vout []TxOutput `json:"vout"`
}

// TxInput references a previous output. TxID is empty for coinbase inputs.
type TxInput struct {
	TxID     string `json:"txid,omitempty"`
	Vout     uint32 `json:"vout"`
	Coinbase string `json:"coinbase,omitempty"`
}

// IsCoinbase reports whether the input creates new coins.
func (in TxInput) IsCoinbase() bool {
	return in.TxID == ""
}

// TxOutput is one output. Value is in BTC as reported by the server.
type TxOutput struct {
	N            uint32       `json:"n"`
	Value        float64      `json:"value"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// ScriptPubKey holds the decoded address of an output. Older servers
// report a one-element Addresses list instead of Address.
type ScriptPubKey struct {
	Address   string   `json:"address,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
	Hex       string   `json:"hex,omitempty"`
	Type      string   `json:"type,omitempty"`
}

// Address returns the output address, or "" when the script has none.
func (o TxOutput) Address() string {
	if o.ScriptPubKey.Address != "" {
		return o.ScriptPubKey.Address
	}
	if len(o.ScriptPubKey.Addresses) == 1 {
		return o.ScriptPubKey.Addresses[0]
	}
	return ""
}

// Sats returns the output value in satoshis.
func (o TxOutput) Sats() int64 {
	return helpers.BTCToSats(o.Value)
}

// Output returns the output with index n.
func (tx *Transaction) Output(n uint32) (TxOutput, bool) {
	// Outputs are ordered by n in practice; fall back to a scan otherwise.
	if int(n) < len(tx.Vout) && tx.Vout[n].N == n {
		return tx.Vout[n], true
	}
	for _, out := range tx.Vout {
		if out.N == n {
			return out, true
		}
	}
	return TxOutput{}, false
}

// DecodeHistory validates and decodes a get_history result. A null result
// decodes to an empty, non-nil history.
func DecodeHistory(result json.RawMessage) ([]HistoryItem, error) {
	var items []HistoryItem
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrMalformedResponse, err)
	}
	if items == nil {
		items = []HistoryItem{}
	}
	for i, item := range items {
		if err := validateTxID(item.TxHash); err != nil {
			return nil, fmt.Errorf("%w: history item %d: %v", ErrMalformedResponse, i, err)
		}
	}
	return items, nil
}

// DecodeTransaction validates and decodes a verbose transaction.get result.
func DecodeTransaction(result json.RawMessage) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("%w: transaction: %v", ErrMalformedResponse, err)
	}
	if err := validateTxID(tx.TxID); err != nil {
		return nil, fmt.Errorf("%w: transaction: %v", ErrMalformedResponse, err)
	}
	if len(tx.Vin) == 0 || len(tx.Vout) == 0 {
		return nil, fmt.Errorf("%w: transaction %s has no inputs or outputs", ErrMalformedResponse, tx.TxID)
	}
	for i, in := range tx.Vin {
		if in.TxID == "" {
			if in.Coinbase == "" {
				return nil, fmt.Errorf("%w: transaction %s input %d has no txid", ErrMalformedResponse, tx.TxID, i)
			}
			continue
		}
		if err := validateTxID(in.TxID); err != nil {
			return nil, fmt.Errorf("%w: transaction %s input %d: %v", ErrMalformedResponse, tx.TxID, i, err)
		}
	}
	for i, out := range tx.Vout {
		if out.Value < 0 {
			return nil, fmt.Errorf("%w: transaction %s output %d has negative value", ErrMalformedResponse, tx.TxID, i)
		}
	}
	return &tx, nil
}

func validateTxID(txid string) error {
	if len(txid) != chainhash.MaxHashStringSize {
		return fmt.Errorf("txid %q has wrong length", txid)
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return fmt.Errorf("txid %q: %v", txid, err)
	}
	return nil
}
