package localtrader

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/google/uuid"

	"github.com/betbot/localtrader/pkg/ltapi"
)

// ChatMessageEncryptionKey 与对方交易员在指定交易会话中聊天使用的加密密钥
// 私钥通过钱包记录解析；私钥已不存在时按惰性失效规则清除本地身份
func (m *Manager) ChatMessageEncryptionKey(peer *ecdsa.PublicKey, tradeSessionID uuid.UUID) (ltapi.ChatMessageEncryptionKey, error) {
	var zero ltapi.ChatMessageEncryptionKey
	address, ok := m.LocalTraderAddress()
	if !ok {
		return zero, fmt.Errorf("%w: 没有本地交易员", ErrInvalidOperation)
	}
	key, err := m.wallet.PrivateKey(address)
	if err != nil {
		return zero, fmt.Errorf("读取交易员私钥失败: %w", err)
	}
	if key == nil {
		if _, err := m.unsetLocalTraderAccountIf(address); err != nil {
			settingsLog.Errorf("❌ 清除本地身份失败: %v", err)
		}
		return zero, fmt.Errorf("%w: 钱包中没有 %s 的私钥", ErrInvalidOperation, address.Hex())
	}
	return ltapi.DeriveChatMessageEncryptionKey(key, peer, tradeSessionID)
}
