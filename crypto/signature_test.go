package crypto

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestRecoverSignerRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	hash := ethcrypto.Keccak256Hash([]byte("kernel"))

	sig, err := Sign(hash, key)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	require.Contains(t, []byte{27, 28}, sig[64])

	signer, ok := RecoverSigner(hash, sig)
	require.True(t, ok)
	require.Equal(t, key.Address(), signer)

	// 0/1 recovery ids are normalised.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	signer, ok = RecoverSigner(hash, raw)
	require.True(t, ok)
	require.Equal(t, key.Address(), signer)
}

func TestRecoverSignerRejectsMalformedInput(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	hash := ethcrypto.Keccak256Hash([]byte("position"))
	sig, err := Sign(hash, key)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     nil,
		"short":     sig[:64],
		"long":      append(append([]byte(nil), sig...), 0x00),
		"bad v 29":  withV(sig, 29),
		"bad v 2":   withV(sig, 2),
		"zero r s":  withV(make([]byte, SignatureLength), 27),
		"v 255 max": withV(sig, 255),
	}
	for name, candidate := range cases {
		t.Run(name, func(t *testing.T) {
			signer, ok := RecoverSigner(hash, candidate)
			require.False(t, ok)
			require.Equal(t, common.Address{}, signer)
		})
	}
}

func TestIsSignedByAcceptsRawAndPrefixed(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	other, err := GeneratePrivateKey()
	require.NoError(t, err)
	hash := ethcrypto.Keccak256Hash([]byte("approval"))

	raw, err := Sign(hash, key)
	require.NoError(t, err)
	prefixed, err := SignPrefixed(hash, key)
	require.NoError(t, err)

	require.True(t, IsSignedBy(key.Address(), hash, raw))
	require.True(t, IsSignedBy(key.Address(), hash, prefixed))
	require.False(t, IsSignedBy(other.Address(), hash, raw))
	require.False(t, IsSignedBy(other.Address(), hash, prefixed))
	require.False(t, IsSignedBy(common.Address{}, hash, raw))
	require.False(t, IsSignedBy(key.Address(), ethcrypto.Keccak256Hash([]byte("other")), raw))
}

func TestAddressParsing(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.Address()

	fromHex, err := ParseAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, fromHex)

	encoded := Bech32(addr)
	require.Contains(t, encoded, AddressHRP+"1")
	fromBech, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, fromBech)

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "wrangler.json")

	require.NoError(t, SaveToKeystoreWithParams(path, key, "secret", LightKeystore))

	addr, err := KeystoreAddress(path)
	require.NoError(t, err)
	require.Equal(t, key.Address(), addr)

	loaded, err := LoadFromKeystore(path, "secret")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func withV(sig []byte, v byte) []byte {
	out := append([]byte(nil), sig...)
	out[64] = v
	return out
}
