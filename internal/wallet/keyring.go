// Package wallet derives the service's signing keys from a BIP-39 mnemonic.
package wallet

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/payflow/internal/config"
)

// Keyring holds the seed and the keys derived from it so far. It implements
// the signer used by the transaction submitter.
type Keyring struct {
	seed []byte

	mu      sync.RWMutex
	byIndex map[uint32]solana.PublicKey
	keys    map[solana.PublicKey]solana.PrivateKey
}

// NewKeyring builds a keyring from a mnemonic.
func NewKeyring(mnemonic string) (*Keyring, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	seed, err := MnemonicToSeed(mnemonic)
	if err != nil {
		return nil, err
	}
	return &Keyring{
		seed:    seed,
		byIndex: make(map[uint32]solana.PublicKey),
		keys:    make(map[solana.PublicKey]solana.PrivateKey),
	}, nil
}

// LoadKeyring reads the mnemonic at path and builds a keyring.
func LoadKeyring(path string) (*Keyring, error) {
	mnemonic, err := ReadMnemonicFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewKeyring(mnemonic)
}

// Account derives (once) and returns the public key at index.
func (k *Keyring) Account(index uint32) (solana.PublicKey, error) {
	k.mu.RLock()
	pub, ok := k.byIndex[index]
	k.mu.RUnlock()
	if ok {
		return pub, nil
	}

	priv, err := DeriveKey(k.seed, index)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", config.ErrKeyDerivation, err)
	}
	pub = priv.PublicKey()

	k.mu.Lock()
	k.byIndex[index] = pub
	k.keys[pub] = priv
	k.mu.Unlock()

	slog.Debug("derived account", "index", index, "path", DerivationPath(index), "address", pub.String())
	return pub, nil
}

// PrivateKey returns the key for pub if it was derived by this keyring.
func (k *Keyring) PrivateKey(pub solana.PublicKey) (*solana.PrivateKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	priv, ok := k.keys[pub]
	if !ok {
		return nil, false
	}
	return &priv, true
}
