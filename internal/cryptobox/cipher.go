package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Envelope is the output of EncryptMessage. Sealed joins ciphertext and tag,
// which is the form persisted next to the nonce.
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

func (e Envelope) Sealed() []byte {
	out := make([]byte, 0, len(e.Ciphertext)+len(e.Tag))
	out = append(out, e.Ciphertext...)
	return append(out, e.Tag...)
}

// SplitEnvelope rebuilds an Envelope from a persisted nonce and ct||tag.
func SplitEnvelope(nonce, sealed []byte) (Envelope, error) {
	if len(sealed) < TagSize {
		return Envelope{}, fmt.Errorf("%w: ciphertext shorter than tag", ErrAuthentication)
	}
	cut := len(sealed) - TagSize
	return Envelope{
		Ciphertext: append([]byte(nil), sealed[:cut]...),
		Nonce:      append([]byte(nil), nonce...),
		Tag:        append([]byte(nil), sealed[cut:]...),
	}, nil
}

// EncryptMessage seals plaintext with AES-256-GCM using key.IV as the nonce.
func EncryptMessage(plaintext []byte, key SymmetricKey) (Envelope, error) {
	if len(key.IV) != IVSize {
		return Envelope{}, fmt.Errorf("%w: iv must be %d bytes", ErrInvalidKey, IVSize)
	}
	aead, err := messageAEAD(key.Key)
	if err != nil {
		return Envelope{}, err
	}
	sealed := aead.Seal(nil, key.IV, plaintext, nil)
	cut := len(sealed) - TagSize
	return Envelope{
		Ciphertext: sealed[:cut],
		Nonce:      append([]byte(nil), key.IV...),
		Tag:        sealed[cut:],
	}, nil
}

// DecryptMessage verifies and opens env. Any tampering with ciphertext, nonce
// or tag, or a wrong key, fails with ErrAuthentication and no plaintext.
func DecryptMessage(env Envelope, key []byte) ([]byte, error) {
	if len(env.Nonce) != IVSize || len(env.Tag) != TagSize {
		return nil, ErrAuthentication
	}
	aead, err := messageAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Sealed(), nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// WrapKey encrypts the symmetric key bytes to the recipient with RSA-OAEP
// (SHA-256). The IV is not secret and travels separately.
func WrapKey(key SymmetricKey, recipient *rsa.PublicKey) ([]byte, error) {
	if len(key.Key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidKey, SymmetricKeySize)
	}
	if recipient == nil {
		return nil, ErrInvalidPublicKey
	}
	return rsa.EncryptOAEP(sha256.New(), randomSource(), recipient, key.Key, nil)
}

// UnwrapKey opens the sealed private key with passphrase and unwraps the
// message key. Passphrase mismatch and corrupted input give ErrKeyUnwrap.
func UnwrapKey(wrapped, sealedPrivateKey, passphrase []byte) ([]byte, error) {
	priv, err := OpenPrivateKey(sealedPrivateKey, passphrase)
	if err != nil {
		return nil, err
	}
	return UnwrapKeyWith(priv, wrapped)
}

// UnwrapKeyWith unwraps with an already opened private key, so a history read
// pays the passphrase KDF once rather than per message.
func UnwrapKeyWith(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrKeyUnwrap
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, ErrKeyUnwrap
	}
	if len(key) != SymmetricKeySize {
		zero(key)
		return nil, ErrKeyUnwrap
	}
	return key, nil
}

func messageAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidKey, SymmetricKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}
