package keyring

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/agroforward/ledger"
)

func TestGenerateAndGet(t *testing.T) {
	k := New()
	addr := k.Generate()
	require.NotEmpty(t, addr)

	priv, ok := k.Get(addr)
	require.True(t, ok)
	assert.Equal(t, addr, ledger.AddressOf(priv.PubKey().(ed25519.PubKey)))

	_, ok = k.Get("unknown")
	assert.False(t, ok)
}

func TestAddressesSorted(t *testing.T) {
	k := New()
	for range 5 {
		k.Generate()
	}
	addrs := k.Addresses()
	require.Len(t, addrs, 5)
	for i := 1; i < len(addrs); i++ {
		assert.Less(t, addrs[i-1], addrs[i])
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")

	k := New()
	a1 := k.Generate()
	a2 := k.Generate()
	require.NoError(t, k.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a1, a2}, loaded.Addresses())

	// Signing with a reloaded key produces the same address binding.
	priv, ok := loaded.Get(a1)
	require.True(t, ok)
	assert.Equal(t, a1, ledger.AddressOf(priv.PubKey().(ed25519.PubKey)))
}

func TestLoadRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("{"), 0o600))
	_, err := Load(badJSON)
	assert.Error(t, err)

	shortKey := filepath.Join(dir, "short.json")
	require.NoError(t, os.WriteFile(shortKey, []byte(`{"ADDR":"AAAA"}`), 0o600))
	_, err = Load(shortKey)
	assert.Error(t, err)
}

func TestLoadRejectsAddressMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")

	// A valid key filed under an address it does not derive.
	priv := ed25519.GenPrivKey()
	entry := fmt.Sprintf(`{"%s":"%s"}`,
		strings.Repeat("0", 40),
		base64.StdEncoding.EncodeToString(priv.Bytes()))
	require.NoError(t, os.WriteFile(path, []byte(entry), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")

	k, err := LoadOrCreate(path, 3)
	require.NoError(t, err)
	assert.Len(t, k.Addresses(), 3)

	// A second call loads the same accounts instead of generating new ones.
	again, err := LoadOrCreate(path, 3)
	require.NoError(t, err)
	assert.Equal(t, k.Addresses(), again.Addresses())
}
