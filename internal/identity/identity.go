// Package identity derives an oracle's node address and ledger address from
// its secp256k1 key.
package identity

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
)

// NodeAddressPrefix starts every native node address
const NodeAddressPrefix = "0xai_"

// Key is an oracle's signing key
type Key struct {
	private *ecdsa.PrivateKey
}

// FromHex parses a hex encoded private key, with or without 0x
func FromHex(hexKey string) (*Key, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "identity", "private key is empty")
	}

	private, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "identity", "invalid private key")
	}
	return &Key{private: private}, nil
}

// Generate creates a fresh random key
func Generate() (*Key, error) {
	private, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "identity", "failed to generate key")
	}
	return &Key{private: private}, nil
}

// Private returns the ECDSA key used to sign ledger transactions
func (k *Key) Private() *ecdsa.PrivateKey {
	return k.private
}

// NodeAddress returns the native address of this key
func (k *Key) NodeAddress() string {
	return NodeAddress(&k.private.PublicKey)
}

// ChainAddress returns the ledger address of this key
func (k *Key) ChainAddress() common.Address {
	return crypto.PubkeyToAddress(k.private.PublicKey)
}

// Oracle returns the identity the coordination loop runs under
func (k *Key) Oracle() oracle.Identity {
	return oracle.Identity{
		NodeAddress:  k.NodeAddress(),
		ChainAddress: k.ChainAddress().Hex(),
	}
}

// NodeAddress encodes a public key as 0xai_ followed by the base64url form
// of its compressed encoding.
func NodeAddress(pub *ecdsa.PublicKey) string {
	return NodeAddressPrefix + base64.URLEncoding.EncodeToString(crypto.CompressPubkey(pub))
}

// PublicKey decodes a native node address
func PublicKey(nodeAddress string) (*ecdsa.PublicKey, error) {
	encoded, ok := strings.CutPrefix(nodeAddress, NodeAddressPrefix)
	if !ok {
		return nil, errors.New(errors.ErrorTypeValidation, "node_address", "missing 0xai_ prefix").
			WithContext("node_address", nodeAddress)
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "node_address", "invalid base64").
			WithContext("node_address", nodeAddress)
	}

	pub, err := crypto.DecompressPubkey(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "node_address", "invalid public key").
			WithContext("node_address", nodeAddress)
	}
	return pub, nil
}

// EthAddress maps a native node address to its checksummed ledger address
func EthAddress(nodeAddress string) (string, error) {
	pub, err := PublicKey(nodeAddress)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// String implements fmt.Stringer without exposing the key
func (k *Key) String() string {
	return fmt.Sprintf("Key(%s)", k.ChainAddress().Hex())
}
