// Package wallet parses watch-only extended public keys and derives the
// addresses, output scripts and Electrum scripthashes under them.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/klingon-exchange/xpubgraph/internal/chain"
)

// GapLimit is the number of consecutive unused addresses scanned past the
// last active one on each chain.
const GapLimit = 20

// DefaultExtendedKey is the demo wallet seeded when the default wallet is
// enabled and no wallets are stored.
const DefaultExtendedKey = "xpub6CDmLSu45NuhjezGYMCF6jSL8BX46xFeLDCqn4dUKcdNMuKJMWtpfj9K12C3MZ9WedceiA4uKz5EXrNrFuHhyxgGnpcJGhJpEMBkRfXz7FL"

// DefaultScriptType is the script type of DefaultExtendedKey.
const DefaultScriptType = chain.AddressP2TR

var (
	ErrInvalidExtendedKey    = errors.New("invalid extended public key")
	ErrPrivateKey            = errors.New("extended private keys are not accepted")
	ErrUnsupportedScriptType = errors.New("unsupported script type")
	ErrDerivation            = errors.New("address derivation failed")
)

// Chain is the BIP44 change level: 0 for receive, 1 for change.
type Chain uint32

const (
	ChainReceive Chain = 0
	ChainChange  Chain = 1
)

// IsChange reports whether c is the internal (change) chain.
func (c Chain) IsChange() bool {
	return c == ChainChange
}

func (c Chain) String() string {
	if c == ChainChange {
		return "change"
	}
	return "receive"
}

// Wallet is a watch-only account identified by its extended public key.
// It is immutable once parsed.
type Wallet struct {
	// Xpub is the key re-encoded with the network's canonical public
	// version (xpub or tpub). It is the wallet's identity.
	Xpub       string
	ScriptType chain.AddressType
	Network    chain.Network

	params   *chain.Params
	branches [2]*hdkeychain.ExtendedKey
}

// ParseWallet validates an extended public key for the given network and
// script type. SLIP-132 encodings (ypub, zpub, upub, vpub) are accepted and
// normalised, so one account key yields one wallet whatever its prefix.
func ParseWallet(extendedKey string, scriptType chain.AddressType, network chain.Network) (*Wallet, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	if _, ok := chain.Purposes[scriptType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScriptType, scriptType)
	}

	key, err := hdkeychain.NewKeyFromString(strings.TrimSpace(extendedKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtendedKey, err)
	}

	var version [4]byte
	copy(version[:], key.Version())
	if _, ok := params.PrivateKeyVersions[version]; ok || key.IsPrivate() {
		return nil, ErrPrivateKey
	}
	if _, ok := params.PublicKeyVersions[version]; !ok {
		return nil, fmt.Errorf("%w: version %x is not valid on %s", ErrInvalidExtendedKey, version, network)
	}

	normalized, err := key.CloneWithVersion(params.HDPublicKeyID[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExtendedKey, err)
	}

	w := &Wallet{
		Xpub:       normalized.String(),
		ScriptType: scriptType,
		Network:    network,
		params:     params,
	}
	for _, c := range []Chain{ChainReceive, ChainChange} {
		branch, err := normalized.Derive(uint32(c))
		if err != nil {
			return nil, fmt.Errorf("%w: %s branch: %v", ErrDerivation, c, err)
		}
		w.branches[c] = branch
	}

	return w, nil
}

// Params returns the network parameters of the wallet.
func (w *Wallet) Params() *chain.Params {
	return w.params
}

// DerivationPath returns the display derivation path of an address of this
// wallet, assuming account 0.
func (w *Wallet) DerivationPath(c Chain, index uint32) string {
	return w.params.DerivationPathString(w.ScriptType, 0, uint32(c), index)
}

// NormalizeExtendedKey re-encodes an extended public key with the canonical
// public version of the network without building a wallet.
func NormalizeExtendedKey(extendedKey string, network chain.Network) (string, error) {
	w, err := ParseWallet(extendedKey, chain.AddressP2PKH, network)
	if err != nil {
		return "", err
	}
	return w.Xpub, nil
}
