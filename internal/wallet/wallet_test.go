package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarOne() []byte {
	k := make([]byte, 32)
	k[31] = 1
	return k
}

func TestEthereumAccountKnownAddress(t *testing.T) {
	acct, err := NewEthereumAccount(scalarOne())
	require.NoError(t, err)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", acct.Address.Hex())
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000001", acct.PrivateKeyHex())
}

func TestEthereumAccountUsesLeadingBytes(t *testing.T) {
	long := append(scalarOne(), bytes.Repeat([]byte{0xff}, 32)...)
	acct, err := NewEthereumAccount(long)
	require.NoError(t, err)
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", acct.Address.Hex())

	_, err = NewEthereumAccount(make([]byte, 16))
	require.ErrorIs(t, err, ErrKeyTooShort)
}

func TestEthereumAccountSecure(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 121)
	acct, err := NewEthereumAccountSecure(key)
	require.NoError(t, err)

	sum := sha256.Sum256(key)
	want, err := crypto.ToECDSA(sum[:])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(want.PublicKey), acct.Address)

	plain, err := NewEthereumAccount(key)
	require.NoError(t, err)
	assert.NotEqual(t, plain.Address, acct.Address)

	_, err = NewEthereumAccountSecure(nil)
	require.ErrorIs(t, err, ErrKeyTooShort)
}

func TestEthereumSignMessageRecovers(t *testing.T) {
	acct, err := NewEthereumAccountSecure([]byte("derived key material"))
	require.NoError(t, err)

	msg := []byte("attested hello")
	sig, err := acct.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, acct.Address, crypto.PubkeyToAddress(*pub))
}

func TestEd25519Keypair(t *testing.T) {
	seed := bytes.Repeat([]byte{3}, 32)
	kp, err := NewEd25519Keypair(append(seed, 9, 9, 9))
	require.NoError(t, err)
	assert.Equal(t, ed25519.NewKeyFromSeed(seed).Public(), kp.PublicKey)

	sig := kp.Sign([]byte("msg"))
	assert.True(t, ed25519.Verify(kp.PublicKey, []byte("msg"), sig))

	_, err = NewEd25519Keypair(seed[:31])
	require.ErrorIs(t, err, ErrKeyTooShort)
}

func TestEd25519KeypairSecure(t *testing.T) {
	key := []byte("short but hashed")
	kp, err := NewEd25519KeypairSecure(key)
	require.NoError(t, err)
	sum := sha256.Sum256(key)
	assert.Equal(t, ed25519.NewKeyFromSeed(sum[:]).Public(), kp.PublicKey)
}
