package ltapi

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignSessionID_RecoversSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sid := uuid.New()

	sig, err := SignSessionID(key, sid, nil)
	require.NoError(t, err)

	addr, err := RecoverSessionIDSigner(sid, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

func TestSignSessionID_FreshNoncePerSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sid := uuid.New()

	a, err := SignSessionID(key, sid, nil)
	require.NoError(t, err)
	b, err := SignSessionID(key, sid, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSignSessionID_WrongSessionDoesNotRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sig, err := SignSessionID(key, uuid.New(), bytes.NewReader(make([]byte, NonceSize)))
	require.NoError(t, err)

	addr, err := RecoverSessionIDSigner(uuid.New(), sig)
	if err == nil {
		assert.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), addr)
	}
}

func TestRecoverSessionIDSigner_Malformed(t *testing.T) {
	_, err := RecoverSessionIDSigner(uuid.New(), "nonsense")
	assert.Error(t, err)
	_, err = RecoverSessionIDSigner(uuid.New(), "00:0x00")
	assert.Error(t, err)
}

func TestSignSessionID_NilKey(t *testing.T) {
	_, err := SignSessionID(nil, uuid.New(), nil)
	assert.Error(t, err)
}
