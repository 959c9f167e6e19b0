package cache

import (
	"fmt"

	"github.com/and161185/prefsync/internal/crypto/cachecrypto"
)

// SealedStore wraps a Store and encrypts every value at rest. The logical key
// is used as AAD so a blob copied under another key fails to open.
type SealedStore struct {
	inner Store
	key   []byte
}

var _ Store = (*SealedStore)(nil)

// NewSealedStore derives the sealing key from secret and a salt persisted in
// the inner store on first use.
func NewSealedStore(inner Store, secret []byte) (*SealedStore, error) {
	const saltKey = "sealSalt"
	salt, ok, err := inner.Get(saltKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		salt, err = cachecrypto.Rand(cachecrypto.SaltLen)
		if err != nil {
			return nil, err
		}
		if err := inner.Set(saltKey, salt); err != nil {
			return nil, err
		}
	}
	return &SealedStore{inner: inner, key: cachecrypto.DeriveKey(secret, salt)}, nil
}

func (s *SealedStore) Get(key string) ([]byte, bool, error) {
	blob, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	pt, err := cachecrypto.Open(s.key, []byte(key), blob)
	if err != nil {
		return nil, false, fmt.Errorf("unseal %s: %w", key, err)
	}
	return pt, true, nil
}

func (s *SealedStore) Set(key string, value []byte) error {
	blob, err := cachecrypto.Seal(s.key, []byte(key), value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.Set(key, blob)
}
