package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/klingon-exchange/xpubgraph/internal/chain"
	"github.com/klingon-exchange/xpubgraph/pkg/helpers"
)

// DeriveAddress derives the address at chain/index under the wallet's
// account key. The result is a fresh, unrequested entry.
func DeriveAddress(w *Wallet, c Chain, index uint32) (*AddressEntry, error) {
	if c != ChainReceive && c != ChainChange {
		return nil, fmt.Errorf("%w: invalid chain %d", ErrDerivation, c)
	}

	child, err := w.branches[c].Derive(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%d: %v", ErrDerivation, c, index, err)
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get public key: %v", ErrDerivation, err)
	}

	addr, err := addressForKey(pubKey, w.ScriptType, w.params.ChainCfg())
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build output script: %v", ErrDerivation, err)
	}

	return &AddressEntry{
		Address:    addr.EncodeAddress(),
		ScriptHash: ScriptHash(script),
		Chain:      c,
		Index:      index,
		Owner:      w.Xpub,
	}, nil
}

// DeriveAddressRange derives limit consecutive addresses starting at start.
// A zero limit derives GapLimit addresses.
func DeriveAddressRange(w *Wallet, c Chain, start, limit uint32) ([]*AddressEntry, error) {
	if limit == 0 {
		limit = GapLimit
	}
	entries := make([]*AddressEntry, 0, limit)
	for i := start; i < start+limit; i++ {
		entry, err := DeriveAddress(w, c, i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ScriptHash returns the Electrum scripthash of an output script: the
// SHA-256 digest, byte-reversed, hex encoded.
func ScriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	return hex.EncodeToString(helpers.ReverseBytes(sum[:]))
}

// AddressScriptHash decodes an address and returns its scripthash.
func AddressScriptHash(address string, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", fmt.Errorf("failed to create script: %w", err)
	}
	return ScriptHash(script), nil
}

func addressForKey(pubKey *btcec.PublicKey, scriptType chain.AddressType, params *chaincfg.Params) (btcutil.Address, error) {
	switch scriptType {
	case chain.AddressP2PKH:
		return deriveP2PKH(pubKey, params)
	case chain.AddressP2WPKH:
		return deriveP2WPKH(pubKey, params)
	case chain.AddressP2TR:
		return deriveP2TR(pubKey, params)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScriptType, scriptType)
	}
}

// deriveP2PKH derives a legacy P2PKH address (1...).
func deriveP2PKH(pubKey *btcec.PublicKey, params *chaincfg.Params) (btcutil.Address, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create P2PKH address: %v", ErrDerivation, err)
	}
	return addr, nil
}

// deriveP2WPKH derives a native SegWit address (bc1q...).
func deriveP2WPKH(pubKey *btcec.PublicKey, params *chaincfg.Params) (btcutil.Address, error) {
	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create P2WPKH address: %v", ErrDerivation, err)
	}
	return addr, nil
}

// deriveP2TR derives a BIP86 key-path Taproot address (bc1p...). The
// derived key is the internal key, tweaked with an empty script tree.
func deriveP2TR(pubKey *btcec.PublicKey, params *chaincfg.Params) (btcutil.Address, error) {
	outputKey := txscript.ComputeTaprootKeyNoScript(pubKey)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Taproot address: %v", ErrDerivation, err)
	}
	return addr, nil
}
