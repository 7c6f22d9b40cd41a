// Package chain defines Bitcoin network parameters, extended key versions
// and derivation path bases for the supported script types.
package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network represents a Bitcoin network.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// AddressType represents the single-key output script template of a wallet.
type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"  // Legacy (1...)
	AddressP2WPKH AddressType = "p2wpkh" // Native SegWit (bc1q...)
	AddressP2TR   AddressType = "p2tr"   // Taproot, BIP86 key path (bc1p...)
)

// Purposes maps each address type to its BIP43 purpose.
var Purposes = map[AddressType]uint32{
	AddressP2PKH:  44,
	AddressP2WPKH: 84,
	AddressP2TR:   86,
}

// Params contains all parameters for a network.
type Params struct {
	Name    string
	Network Network

	// BIP44 coin type (0 mainnet, 1 for test networks)
	CoinType uint32

	PubKeyHashAddrID byte
	ScriptHashAddrID byte
	Bech32HRP        string

	// HDPublicKeyID is the canonical extended public key version (xpub/tpub).
	// Keys serialized with any of PublicKeyVersions are re-encoded with it.
	HDPublicKeyID     [4]byte
	PublicKeyVersions map[[4]byte]string

	// PrivateKeyVersions are recognised only to be rejected.
	PrivateKeyVersions map[[4]byte]string

	DefaultAddressType AddressType

	net *chaincfg.Params
}

// ChainCfg returns the btcd chain parameters used for address encoding.
func (p *Params) ChainCfg() *chaincfg.Params {
	return p.net
}

// Purpose returns the BIP43 purpose for an address type, falling back to 44.
func (p *Params) Purpose(t AddressType) uint32 {
	if purpose, ok := Purposes[t]; ok {
		return purpose
	}
	return 44
}

// DerivationPathString returns the full derivation path of an address.
// Format: m/purpose'/coin'/account'/change/index
func (p *Params) DerivationPathString(t AddressType, account, change, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", p.Purpose(t), p.CoinType, account, change, index)
}

// AccountPathString returns the hardened account path, e.g. m/84'/0'/0'.
func (p *Params) AccountPathString(t AddressType, account uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'", p.Purpose(t), p.CoinType, account)
}

var registry = make(map[Network]*Params)

// Register adds network params to the registry.
func Register(params *Params) {
	registry[params.Network] = params
}

// Get returns the params for a network.
func Get(network Network) (*Params, bool) {
	params, ok := registry[network]
	return params, ok
}

// MustGet returns the params for a network and panics if it is unknown.
func MustGet(network Network) *Params {
	params, ok := Get(network)
	if !ok {
		panic("chain: unknown network " + string(network))
	}
	return params
}

// ParseNetwork parses a network name. "testnet3" is accepted as an alias.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mainnet", "main", "bitcoin":
		return Mainnet, nil
	case "testnet", "testnet3", "test":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	default:
		return "", fmt.Errorf("unknown network %q", s)
	}
}

// ParseAddressType parses an address type name case-insensitively.
func ParseAddressType(s string) (AddressType, error) {
	t := AddressType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Purposes[t]; !ok {
		return "", fmt.Errorf("unsupported address type %q", s)
	}
	return t, nil
}

// List returns all registered networks in name order.
func List() []Network {
	networks := make([]Network, 0, len(registry))
	for n := range registry {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}
