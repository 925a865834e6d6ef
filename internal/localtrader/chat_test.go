package localtrader

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/localtrader/pkg/ltapi"
)

func TestChatMessageEncryptionKey_MatchesPeerDerivation(t *testing.T) {
	env := newTestEnv(t)
	local, _ := env.withTrader(t)
	peer, err := crypto.GenerateKey()
	require.NoError(t, err)
	tsID := uuid.New()

	got, err := env.m.ChatMessageEncryptionKey(&peer.PublicKey, tsID)
	require.NoError(t, err)
	want, err := ltapi.DeriveChatMessageEncryptionKey(peer, &local.PublicKey, tsID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChatMessageEncryptionKey_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	peer, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = env.m.ChatMessageEncryptionKey(&peer.PublicKey, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, addr := env.withTrader(t)
	env.wallet.remove(addr)
	_, err = env.m.ChatMessageEncryptionKey(&peer.PublicKey, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidOperation)
	_, ok := env.m.LocalTraderAddress()
	assert.False(t, ok, "missing key clears the identity")
}
