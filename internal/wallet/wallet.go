// Package wallet turns daemon-derived key material into chain accounts.
//
// The plain constructors use the leading 32 bytes as the private key. The
// Secure variants hash the complete material with SHA-256 first and should be
// preferred for anything derived from a TLS key.
package wallet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/aspect-build/teeguest/internal/logx"
)

const seedLen = 32

var ErrKeyTooShort = errors.New("key material too short")

// EthereumAccount is a secp256k1 account.
type EthereumAccount struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// NewEthereumAccount uses the first 32 bytes of key as the private scalar.
func NewEthereumAccount(key []byte) (*EthereumAccount, error) {
	if len(key) < seedLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrKeyTooShort, len(key), seedLen)
	}
	if len(key) > seedLen {
		logx.Warnf("wallet: using the first %d of %d key bytes; prefer NewEthereumAccountSecure", seedLen, len(key))
	}
	return ethereumFromScalar(key[:seedLen])
}

// NewEthereumAccountSecure uses SHA-256 of the whole key as the private
// scalar.
func NewEthereumAccountSecure(key []byte) (*EthereumAccount, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrKeyTooShort)
	}
	sum := sha256.Sum256(key)
	return ethereumFromScalar(sum[:])
}

func ethereumFromScalar(scalar []byte) (*EthereumAccount, error) {
	priv, err := crypto.ToECDSA(scalar)
	if err != nil {
		return nil, fmt.Errorf("secp256k1 key: %w", err)
	}
	return &EthereumAccount{
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}, nil
}

// SignMessage signs msg with the EIP-191 personal-message prefix and returns
// the 65-byte [R || S || V] signature.
func (a *EthereumAccount) SignMessage(msg []byte) ([]byte, error) {
	return crypto.Sign(accounts.TextHash(msg), a.PrivateKey)
}

// PrivateKeyHex returns the scalar as 0x-prefixed hex.
func (a *EthereumAccount) PrivateKeyHex() string {
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(a.PrivateKey))
}

// Ed25519Keypair is a seed-derived Ed25519 key as used by Solana.
type Ed25519Keypair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NewEd25519Keypair uses the first 32 bytes of key as the seed.
func NewEd25519Keypair(key []byte) (*Ed25519Keypair, error) {
	if len(key) < seedLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrKeyTooShort, len(key), seedLen)
	}
	if len(key) > seedLen {
		logx.Warnf("wallet: using the first %d of %d key bytes; prefer NewEd25519KeypairSecure", seedLen, len(key))
	}
	return ed25519FromSeed(key[:seedLen]), nil
}

// NewEd25519KeypairSecure uses SHA-256 of the whole key as the seed.
func NewEd25519KeypairSecure(key []byte) (*Ed25519Keypair, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrKeyTooShort)
	}
	sum := sha256.Sum256(key)
	return ed25519FromSeed(sum[:]), nil
}

func ed25519FromSeed(seed []byte) *Ed25519Keypair {
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Keypair{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}
}

func (k *Ed25519Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.PrivateKey, msg)
}
