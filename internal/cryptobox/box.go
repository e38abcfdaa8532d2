package cryptobox

import (
	"crypto/rsa"
	"fmt"
)

// Sealed is what gets persisted for one message. The three fields are only
// meaningful together with the recipient's private key.
type Sealed struct {
	Ciphertext []byte // ct || tag
	WrappedKey []byte
	IV         []byte
}

// EncryptForSend runs the send path: fresh symmetric key, AEAD over the
// plaintext, key wrapped to the recipient. The sender keeps no copy.
func EncryptForSend(plaintext, recipientPublicKey []byte) (Sealed, error) {
	pub, err := ParsePublicKey(recipientPublicKey)
	if err != nil {
		return Sealed{}, err
	}
	return EncryptTo(plaintext, pub)
}

func EncryptTo(plaintext []byte, recipient *rsa.PublicKey) (Sealed, error) {
	key, err := GenerateSymmetricKey()
	if err != nil {
		return Sealed{}, err
	}
	defer key.Zero()

	env, err := EncryptMessage(plaintext, key)
	if err != nil {
		return Sealed{}, err
	}
	wrapped, err := WrapKey(key, recipient)
	if err != nil {
		return Sealed{}, fmt.Errorf("wrap key: %w", err)
	}
	return Sealed{
		Ciphertext: env.Sealed(),
		WrappedKey: wrapped,
		IV:         env.Nonce,
	}, nil
}

// DecryptForReceive runs the receive path with the caller's sealed private
// key and passphrase.
func DecryptForReceive(s Sealed, ownPrivateKey, passphrase []byte) ([]byte, error) {
	priv, err := OpenPrivateKey(ownPrivateKey, passphrase)
	if err != nil {
		return nil, err
	}
	return DecryptWith(priv, s)
}

func DecryptWith(priv *rsa.PrivateKey, s Sealed) ([]byte, error) {
	key, err := UnwrapKeyWith(priv, s.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer zero(key)
	env, err := SplitEnvelope(s.IV, s.Ciphertext)
	if err != nil {
		return nil, err
	}
	return DecryptMessage(env, key)
}
