package cryptobox

import "errors"

var (
	ErrKeyGeneration    = errors.New("cryptobox: key generation failed")
	ErrAuthentication   = errors.New("cryptobox: message authentication failed")
	ErrKeyUnwrap        = errors.New("cryptobox: key unwrap failed")
	ErrInvalidPublicKey = errors.New("cryptobox: invalid public key")
	ErrInvalidKey       = errors.New("cryptobox: invalid symmetric key")
)
