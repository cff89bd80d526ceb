// Package keyring is a local ed25519 key store. The service signs a request
// on behalf of an address only when it holds that address's private key;
// possession of the key is the only authorization this system implements.
package keyring

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/ahmadzakiakmal/agroforward/ledger"
)

// Keyring maps ledger addresses to their signing keys.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivKey
}

// New creates an empty keyring.
func New() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PrivKey)}
}

// Generate creates a fresh key and returns its address.
func (k *Keyring) Generate() string {
	priv := ed25519.GenPrivKey()
	addr := ledger.AddressOf(priv.PubKey().(ed25519.PubKey))

	k.mu.Lock()
	k.keys[addr] = priv
	k.mu.Unlock()
	return addr
}

// Add registers an existing key and returns its address.
func (k *Keyring) Add(priv ed25519.PrivKey) string {
	addr := ledger.AddressOf(priv.PubKey().(ed25519.PubKey))

	k.mu.Lock()
	k.keys[addr] = priv
	k.mu.Unlock()
	return addr
}

// Get returns the key for an address, if held.
func (k *Keyring) Get(addr string) (ed25519.PrivKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	priv, ok := k.keys[addr]
	return priv, ok
}

// Addresses lists held addresses in stable order.
func (k *Keyring) Addresses() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	addrs := make([]string, 0, len(k.keys))
	for addr := range k.keys {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Save writes the keyring to path as JSON, address to base64 key. File mode
// 0600: the file is the sole credential.
func (k *Keyring) Save(path string) error {
	k.mu.RLock()
	encoded := make(map[string]string, len(k.keys))
	for addr, priv := range k.keys {
		encoded[addr] = base64.StdEncoding.EncodeToString(priv.Bytes())
	}
	k.mu.RUnlock()

	bz, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode keyring: %w", err)
	}
	if err := os.WriteFile(path, bz, 0o600); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

// Load reads a keyring written by Save.
func Load(path string) (*Keyring, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	var encoded map[string]string
	if err := json.Unmarshal(bz, &encoded); err != nil {
		return nil, fmt.Errorf("failed to decode keyring: %w", err)
	}

	k := New()
	for addr, b64 := range encoded {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode key for %s: %w", addr, err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid key length for %s", addr)
		}
		priv := ed25519.PrivKey(raw)
		if got := ledger.AddressOf(priv.PubKey().(ed25519.PubKey)); got != addr {
			return nil, fmt.Errorf("key for %s derives address %s", addr, got)
		}
		k.keys[addr] = priv
	}
	return k, nil
}

// LoadOrCreate loads path if it exists, otherwise generates devAccounts keys
// and persists them.
func LoadOrCreate(path string, devAccounts int) (*Keyring, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	k := New()
	for range devAccounts {
		k.Generate()
	}
	if err := k.Save(path); err != nil {
		return nil, err
	}
	return k, nil
}
