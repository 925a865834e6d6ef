package secretstore

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// DefaultDerivationPath is the first account of the standard Ethereum path.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// DeriveKey derives the trader key for mnemonic at derivationPath.
func DeriveKey(mnemonic, derivationPath string) (*ecdsa.PrivateKey, common.Address, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	derivationPath = strings.TrimSpace(derivationPath)
	if mnemonic == "" {
		return nil, common.Address{}, fmt.Errorf("mnemonic is required")
	}
	if derivationPath == "" {
		derivationPath = DefaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid derivation_path: %w", err)
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive failed: %w", err)
	}
	key, err := w.PrivateKey(acct)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("private key failed: %w", err)
	}
	return key, acct.Address, nil
}

// ImportMnemonic derives the key and stores it, returning the trader address.
func (s *WalletStore) ImportMnemonic(mnemonic, derivationPath string) (common.Address, error) {
	key, _, err := DeriveKey(mnemonic, derivationPath)
	if err != nil {
		return common.Address{}, err
	}
	return s.PutPrivateKey(key)
}
