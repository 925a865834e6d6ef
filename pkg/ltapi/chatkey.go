package ltapi

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ChatKeySize 聊天加密密钥长度（字节）
const ChatKeySize = 32

// ChatMessageEncryptionKey 交易双方在某个交易会话内共享的聊天加密密钥
type ChatMessageEncryptionKey [ChatKeySize]byte

// DeriveChatMessageEncryptionKey 本方私钥与对方公钥做 secp256k1 ECDH，再与交易会话 ID 一起哈希
// 双方各自用自己的私钥和对方公钥得到同一个密钥；不同交易会话的密钥互不相同
func DeriveChatMessageEncryptionKey(local *ecdsa.PrivateKey, peer *ecdsa.PublicKey, tradeSessionID uuid.UUID) (ChatMessageEncryptionKey, error) {
	var out ChatMessageEncryptionKey
	if local == nil {
		return out, errors.New("私钥为空")
	}
	if peer == nil || peer.X == nil || peer.Y == nil || !crypto.S256().IsOnCurve(peer.X, peer.Y) {
		return out, errors.New("对方公钥无效")
	}

	shared, err := ecies.ImportECDSA(local).GenerateShared(ecies.ImportECDSAPublic(peer), ChatKeySize, 0)
	if err != nil {
		return out, errors.Wrap(err, "ECDH 失败")
	}
	copy(out[:], crypto.Keccak256(shared, tradeSessionID[:]))
	return out, nil
}
