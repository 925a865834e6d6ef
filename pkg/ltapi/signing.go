package ltapi

import (
	"crypto/ecdsa"
	"crypto/rand"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NonceSize 每次签名使用的随机数长度（字节）
const NonceSize = 16

// SignSessionID 用交易员私钥对会话 ID 签名
// 每次签名都混入新的随机数，同一会话的两次签名结果不同
// 返回格式: <nonce hex>:<0x 签名 hex>
func SignSessionID(key *ecdsa.PrivateKey, sessionID uuid.UUID, rnd io.Reader) (string, error) {
	if key == nil {
		return "", errors.New("私钥为空")
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return "", errors.Wrap(err, "生成随机数失败")
	}

	sig, err := crypto.Sign(sessionDigest(sessionID, nonce), key)
	if err != nil {
		return "", errors.Wrap(err, "签名失败")
	}
	return common.Bytes2Hex(nonce) + ":0x" + common.Bytes2Hex(sig), nil
}

// RecoverSessionIDSigner 从签名恢复签名者地址
func RecoverSessionIDSigner(sessionID uuid.UUID, signature string) (common.Address, error) {
	nonceHex, sigHex, ok := strings.Cut(signature, ":")
	if !ok {
		return common.Address{}, errors.New("签名格式错误")
	}
	nonce := common.FromHex(nonceHex)
	if len(nonce) != NonceSize {
		return common.Address{}, errors.Errorf("随机数长度错误: %d", len(nonce))
	}
	sig := common.FromHex(sigHex)
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Errorf("签名长度错误: %d", len(sig))
	}

	pub, err := crypto.SigToPub(sessionDigest(sessionID, nonce), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "恢复公钥失败")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PublicKeyHex 返回未压缩公钥的十六进制表示
func PublicKeyHex(key *ecdsa.PrivateKey) string {
	return "0x" + common.Bytes2Hex(crypto.FromECDSAPub(&key.PublicKey))
}

func sessionDigest(sessionID uuid.UUID, nonce []byte) []byte {
	return crypto.Keccak256(sessionID[:], nonce)
}
