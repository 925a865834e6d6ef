package secretstore

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func openMemory(t *testing.T) *WalletStore {
	t.Helper()
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWalletStore_PutAndResolve(t *testing.T) {
	s := openMemory(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	addr, err := s.PutPrivateKey(key)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	got, err := s.PrivateKey(addr)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, crypto.FromECDSA(key), crypto.FromECDSA(got))

	addrs, err := s.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr}, addrs)
}

func TestWalletStore_MissingAndDeleted(t *testing.T) {
	s := openMemory(t)

	got, err := s.PrivateKey(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	assert.Nil(t, got)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr, err := s.PutPrivateKey(key)
	require.NoError(t, err)
	require.NoError(t, s.DeletePrivateKey(addr))

	got, err = s.PrivateKey(addr)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	k1, a1, err := DeriveKey(testMnemonic, "")
	require.NoError(t, err)
	k2, a2, err := DeriveKey(testMnemonic, DefaultDerivationPath)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, crypto.PubkeyToAddress(k1.PublicKey), a1)
	assert.Equal(t, crypto.FromECDSA(k1), crypto.FromECDSA(k2))

	_, _, err = DeriveKey("", "")
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	b, err := ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = ParseKey("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Len(t, b, 32)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}
