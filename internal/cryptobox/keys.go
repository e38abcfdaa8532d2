package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	DefaultRSABits = 4096
	MinRSABits     = 2048

	SymmetricKeySize = 32
	IVSize           = 16
	TagSize          = 16

	publicKeyPEMType = "PUBLIC KEY"
	sealedKeyPEMType = "BAZAAR ENCRYPTED PRIVATE KEY"
	kdfArgon2id      = "argon2id"
	saltSize         = 16
)

// KDFParams are the argon2id costs used to turn a passphrase into the
// key-encryption-key protecting a private key at rest. They are written into
// the sealed PEM headers so a key stays readable after defaults change.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

func DefaultKDF() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 1}
}

func (p KDFParams) valid() bool {
	return p.Time >= 1 && p.Time <= 16 && p.Memory >= 8 && p.Memory <= 1<<20 && p.Threads >= 1
}

// KeyPair is a PEM public key plus the passphrase-sealed private key.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// SymmetricKey is the per-message AES-256 key and GCM nonce.
type SymmetricKey struct {
	Key []byte
	IV  []byte
}

// Zero wipes the key bytes in place.
func (k SymmetricKey) Zero() {
	zero(k.Key)
}

type KeyManager struct {
	bits int
	kdf  KDFParams
}

type Option func(*KeyManager)

func WithRSABits(bits int) Option {
	return func(m *KeyManager) {
		if bits >= MinRSABits {
			m.bits = bits
		}
	}
}

func WithKDF(p KDFParams) Option {
	return func(m *KeyManager) {
		if p.valid() {
			m.kdf = p
		}
	}
}

func NewKeyManager(opts ...Option) *KeyManager {
	m := &KeyManager{bits: DefaultRSABits, kdf: DefaultKDF()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *KeyManager) Bits() int { return m.bits }

// GenerateKeyPair creates an RSA key pair. The private key is exported as
// PKCS#8 and sealed under a key derived from passphrase; the passphrase is an
// operational secret supplied by the caller.
func (m *KeyManager) GenerateKeyPair(passphrase []byte) (*KeyPair, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyGeneration)
	}
	priv, err := rsa.GenerateKey(randomSource(), m.bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	sealed, err := sealPrivateKey(priv, passphrase, m.kdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return &KeyPair{
		PublicKey:  pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: pubDER}),
		PrivateKey: sealed,
	}, nil
}

// GenerateSymmetricKey returns a fresh key and nonce on every call, so a
// nonce is never reused under the same key.
func GenerateSymmetricKey() (SymmetricKey, error) {
	k := SymmetricKey{Key: make([]byte, SymmetricKeySize), IV: make([]byte, IVSize)}
	if err := readRandom(k.Key); err != nil {
		return SymmetricKey{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	if err := readRandom(k.IV); err != nil {
		zero(k.Key)
		return SymmetricKey{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return k, nil
}

// ParsePublicKey decodes a PEM PKIX RSA public key of at least MinRSABits.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicKeyPEMType {
		return nil, fmt.Errorf("%w: expected %q PEM block", ErrInvalidPublicKey, publicKeyPEMType)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
	}
	if pub.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("%w: %d-bit modulus is too small", ErrInvalidPublicKey, pub.N.BitLen())
	}
	return pub, nil
}

// OpenPrivateKey unseals a private key produced by GenerateKeyPair. A wrong
// passphrase and a corrupted blob both yield ErrKeyUnwrap.
func OpenPrivateKey(sealed, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(sealed)
	if block == nil || block.Type != sealedKeyPEMType {
		return nil, fmt.Errorf("%w: expected %q PEM block", ErrKeyUnwrap, sealedKeyPEMType)
	}
	if block.Headers["KDF"] != kdfArgon2id {
		return nil, fmt.Errorf("%w: unsupported kdf %q", ErrKeyUnwrap, block.Headers["KDF"])
	}
	var params KDFParams
	if _, err := fmt.Sscanf(block.Headers["KDF-Params"], "t=%d,m=%d,p=%d", &params.Time, &params.Memory, &params.Threads); err != nil || !params.valid() {
		return nil, fmt.Errorf("%w: bad kdf parameters", ErrKeyUnwrap)
	}
	salt, err := base64.StdEncoding.DecodeString(block.Headers["Salt"])
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("%w: bad salt", ErrKeyUnwrap)
	}
	nonce, err := base64.StdEncoding.DecodeString(block.Headers["Nonce"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce", ErrKeyUnwrap)
	}

	aead, err := kekAEAD(passphrase, salt, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnwrap, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce", ErrKeyUnwrap)
	}
	der, err := aead.Open(nil, nonce, block.Bytes, []byte(sealedKeyPEMType))
	if err != nil {
		return nil, ErrKeyUnwrap
	}
	defer zero(der)

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnwrap, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrKeyUnwrap)
	}
	return priv, nil
}

func sealPrivateKey(priv *rsa.PrivateKey, passphrase []byte, params KDFParams) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	defer zero(der)

	salt := make([]byte, saltSize)
	if err := readRandom(salt); err != nil {
		return nil, err
	}
	aead, err := kekAEAD(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if err := readRandom(nonce); err != nil {
		return nil, err
	}
	block := &pem.Block{
		Type: sealedKeyPEMType,
		Headers: map[string]string{
			"KDF":        kdfArgon2id,
			"KDF-Params": fmt.Sprintf("t=%d,m=%d,p=%d", params.Time, params.Memory, params.Threads),
			"Salt":       base64.StdEncoding.EncodeToString(salt),
			"Nonce":      base64.StdEncoding.EncodeToString(nonce),
		},
		Bytes: aead.Seal(nil, nonce, der, []byte(sealedKeyPEMType)),
	}
	return pem.EncodeToMemory(block), nil
}

func kekAEAD(passphrase, salt []byte, params KDFParams) (cipher.AEAD, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	kek := argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, 32)
	defer zero(kek)
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
