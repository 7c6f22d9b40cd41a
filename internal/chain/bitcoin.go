package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	Register(&Params{
		Name:     "Bitcoin",
		Network:  Mainnet,
		CoinType: 0,

		PubKeyHashAddrID: 0x00, // 1...
		ScriptHashAddrID: 0x05, // 3...
		Bech32HRP:        "bc",

		HDPublicKeyID: [4]byte{0x04, 0x88, 0xb2, 0x1e}, // xpub
		PublicKeyVersions: map[[4]byte]string{
			{0x04, 0x88, 0xb2, 0x1e}: "xpub",
			{0x04, 0x9d, 0x7c, 0xb2}: "ypub",
			{0x04, 0xb2, 0x47, 0x46}: "zpub",
		},
		PrivateKeyVersions: map[[4]byte]string{
			{0x04, 0x88, 0xad, 0xe4}: "xprv",
			{0x04, 0x9d, 0x78, 0x78}: "yprv",
			{0x04, 0xb2, 0x43, 0x0c}: "zprv",
		},

		DefaultAddressType: AddressP2TR,
		net:                &chaincfg.MainNetParams,
	})

	Register(&Params{
		Name:     "Bitcoin Testnet",
		Network:  Testnet,
		CoinType: 1,

		PubKeyHashAddrID: 0x6f, // m or n
		ScriptHashAddrID: 0xc4, // 2...
		Bech32HRP:        "tb",

		HDPublicKeyID:      testPublicKeyID,
		PublicKeyVersions:  testPublicKeyVersions,
		PrivateKeyVersions: testPrivateKeyVersions,

		DefaultAddressType: AddressP2TR,
		net:                &chaincfg.TestNet3Params,
	})

	Register(&Params{
		Name:     "Bitcoin Regtest",
		Network:  Regtest,
		CoinType: 1,

		PubKeyHashAddrID: 0x6f,
		ScriptHashAddrID: 0xc4,
		Bech32HRP:        "bcrt",

		HDPublicKeyID:      testPublicKeyID,
		PublicKeyVersions:  testPublicKeyVersions,
		PrivateKeyVersions: testPrivateKeyVersions,

		DefaultAddressType: AddressP2TR,
		net:                &chaincfg.RegressionNetParams,
	})
}

// Test networks share tpub/upub/vpub.
var (
	testPublicKeyID = [4]byte{0x04, 0x35, 0x87, 0xcf}

	testPublicKeyVersions = map[[4]byte]string{
		{0x04, 0x35, 0x87, 0xcf}: "tpub",
		{0x04, 0x4a, 0x52, 0x62}: "upub",
		{0x04, 0x5f, 0x1c, 0xf6}: "vpub",
	}
	testPrivateKeyVersions = map[[4]byte]string{
		{0x04, 0x35, 0x83, 0x94}: "tprv",
		{0x04, 0x4a, 0x4e, 0x28}: "uprv",
		{0x04, 0x5f, 0x18, 0xbc}: "vprv",
	}
)
