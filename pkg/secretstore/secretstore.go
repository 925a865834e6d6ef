package secretstore

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const walletPrefix = "wallet/"

// WalletStore is an encrypted-at-rest wallet record store (Badger).
// Each record maps a lower-case address to the hex private key that controls it.
// Note: encryption is provided by Badger options (value log + key registry), not by this wrapper.
type WalletStore struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; if nil, DB is opened without encryption (not recommended)
	ReadOnly      bool
	InMemory      bool // tests only; Path is ignored
}

func Open(opts OpenOptions) (*WalletStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("secretstore: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &WalletStore{db: db}, nil
}

func (s *WalletStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func recordKey(address common.Address) []byte {
	return []byte(walletPrefix + strings.ToLower(address.Hex()))
}

// PutPrivateKey stores the key under its derived address and returns that address.
func (s *WalletStore) PutPrivateKey(key *ecdsa.PrivateKey) (common.Address, error) {
	if s == nil || s.db == nil {
		return common.Address{}, errors.New("secretstore: not opened")
	}
	if key == nil {
		return common.Address{}, errors.New("secretstore: key is nil")
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	v := []byte(hex.EncodeToString(crypto.FromECDSA(key)))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(address), v)
	})
	if err != nil {
		return common.Address{}, err
	}
	return address, nil
}

// PrivateKey resolves the private key for address.
// Returns (nil, nil) when the record is missing; err only for storage or decode failures.
func (s *WalletStore) PrivateKey(address common.Address) (*ecdsa.PrivateKey, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("secretstore: not opened")
	}
	var raw string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(address))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			raw = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("secretstore: decode key for %s: %w", address.Hex(), err)
	}
	return key, nil
}

// DeletePrivateKey removes the record; missing records are not an error.
func (s *WalletStore) DeletePrivateKey(address common.Address) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(address))
	})
}

// Addresses lists every address holding a key, sorted.
func (s *WalletStore) Addresses() ([]common.Address, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("secretstore: not opened")
	}
	var out []common.Address
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(walletPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := strings.TrimPrefix(string(it.Item().Key()), walletPrefix)
			if common.IsHexAddress(k) {
				out = append(out, common.HexToAddress(k))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out, nil
}

// ParseKey expects 32 bytes (base64 or hex). Returns nil if input is empty.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) == 32 {
			return b, nil
		}
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
