package cryptobox

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPassphrase = []byte("kek-for-tests")
	fixtureOnce    sync.Once
	fixtureA       *KeyPair
	fixtureB       *KeyPair
	fixtureErr     error
)

func testManager() *KeyManager {
	return NewKeyManager(WithRSABits(2048), WithKDF(KDFParams{Time: 1, Memory: 64, Threads: 1}))
}

// fixtures shares two key pairs across tests; RSA generation dominates runtime.
func fixtures(t *testing.T) (*KeyPair, *KeyPair) {
	t.Helper()
	fixtureOnce.Do(func() {
		km := testManager()
		fixtureA, fixtureErr = km.GenerateKeyPair(testPassphrase)
		if fixtureErr != nil {
			return
		}
		fixtureB, fixtureErr = km.GenerateKeyPair(testPassphrase)
	})
	require.NoError(t, fixtureErr)
	return fixtureA, fixtureB
}

func TestKeyManagerDefaults(t *testing.T) {
	km := NewKeyManager(WithRSABits(1024))
	assert.Equal(t, DefaultRSABits, km.Bits(), "bits below the minimum are ignored")
	assert.Equal(t, 2048, NewKeyManager(WithRSABits(2048)).Bits())
}

func TestGenerateKeyPairSealsPrivateKey(t *testing.T) {
	kp, _ := fixtures(t)

	pub, err := ParsePublicKey(kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, 2048, pub.N.BitLen())

	assert.Contains(t, string(kp.PrivateKey), sealedKeyPEMType)
	assert.NotContains(t, string(kp.PrivateKey), "BEGIN PRIVATE KEY")

	priv, err := OpenPrivateKey(kp.PrivateKey, testPassphrase)
	require.NoError(t, err)
	assert.True(t, priv.PublicKey.Equal(pub))

	_, err = OpenPrivateKey(kp.PrivateKey, []byte("wrong"))
	assert.ErrorIs(t, err, ErrKeyUnwrap)
}

func TestGenerateKeyPairRequiresPassphrase(t *testing.T) {
	_, err := testManager().GenerateKeyPair(nil)
	assert.ErrorIs(t, err, ErrKeyGeneration)
}

func TestOpenPrivateKeyRejectsCorruptBlob(t *testing.T) {
	kp, _ := fixtures(t)
	block, _ := pem.Decode(kp.PrivateKey)
	require.NotNil(t, block)

	block.Bytes[len(block.Bytes)/2] ^= 0x01
	_, err := OpenPrivateKey(pem.EncodeToMemory(block), testPassphrase)
	assert.ErrorIs(t, err, ErrKeyUnwrap)

	_, err = OpenPrivateKey([]byte("not pem"), testPassphrase)
	assert.ErrorIs(t, err, ErrKeyUnwrap)
}

func TestGenerateSymmetricKeyIsFresh(t *testing.T) {
	a, err := GenerateSymmetricKey()
	require.NoError(t, err)
	b, err := GenerateSymmetricKey()
	require.NoError(t, err)

	assert.Len(t, a.Key, SymmetricKeySize)
	assert.Len(t, a.IV, IVSize)
	assert.NotEqual(t, a.Key, b.Key)
	assert.NotEqual(t, a.IV, b.IV)
}

func TestGenerateSymmetricKeyWithoutRandomness(t *testing.T) {
	restore := UseRandom(iotest.ErrReader(errors.New("entropy unavailable")))
	defer restore()

	_, err := GenerateSymmetricKey()
	assert.ErrorIs(t, err, ErrKeyGeneration)
}

func TestEncryptDecryptMessage(t *testing.T) {
	for _, plaintext := range [][]byte{{}, []byte("hello"), bytes.Repeat([]byte("x"), 4096)} {
		key, err := GenerateSymmetricKey()
		require.NoError(t, err)

		env, err := EncryptMessage(plaintext, key)
		require.NoError(t, err)
		assert.Len(t, env.Tag, TagSize)
		assert.Equal(t, key.IV, env.Nonce)

		out, err := DecryptMessage(env, key.Key)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, out))
	}
}

func TestDecryptMessageFailsClosedOnAnyBitFlip(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	env, err := EncryptMessage([]byte("hello"), key)
	require.NoError(t, err)

	flip := func(field []byte) {
		for i := range field {
			for bit := 0; bit < 8; bit++ {
				field[i] ^= 1 << bit
				out, err := DecryptMessage(env, key.Key)
				require.ErrorIs(t, err, ErrAuthentication, "byte %d bit %d", i, bit)
				require.Nil(t, out)
				field[i] ^= 1 << bit
			}
		}
	}
	flip(env.Ciphertext)
	flip(env.Nonce)
	flip(env.Tag)

	_, err = DecryptMessage(env, key.Key)
	require.NoError(t, err, "envelope restored after flips")
}

func TestDecryptMessageWrongKey(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	other, err := GenerateSymmetricKey()
	require.NoError(t, err)

	env, err := EncryptMessage([]byte("hello"), key)
	require.NoError(t, err)
	_, err = DecryptMessage(env, other.Key)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestSplitEnvelopeRoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	env, err := EncryptMessage([]byte("split me"), key)
	require.NoError(t, err)

	back, err := SplitEnvelope(env.Nonce, env.Sealed())
	require.NoError(t, err)
	assert.Equal(t, env, back)

	_, err = SplitEnvelope(env.Nonce, []byte("short"))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestWrapUnwrapKey(t *testing.T) {
	a, b := fixtures(t)
	pubA, err := ParsePublicKey(a.PublicKey)
	require.NoError(t, err)

	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	wrapped, err := WrapKey(key, pubA)
	require.NoError(t, err)

	got, err := UnwrapKey(wrapped, a.PrivateKey, testPassphrase)
	require.NoError(t, err)
	assert.Equal(t, key.Key, got)

	_, err = UnwrapKey(wrapped, b.PrivateKey, testPassphrase)
	assert.ErrorIs(t, err, ErrKeyUnwrap, "wrong private key must not yield a key")

	_, err = UnwrapKey(wrapped, a.PrivateKey, []byte("nope"))
	assert.ErrorIs(t, err, ErrKeyUnwrap)
}

func TestParsePublicKeyRejectsWeakOrForeignKeys(t *testing.T) {
	_, err := ParsePublicKey([]byte("garbage"))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	weak, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&weak.PublicKey)
	require.NoError(t, err)
	_, err = ParsePublicKey(pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: der}))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}
