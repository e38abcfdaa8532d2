package service

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("not a participant")

	// ErrRecipientKeyMissing is recoverable: the caller may generate the
	// recipient's key pair once and retry.
	ErrRecipientKeyMissing = errors.New("recipient has no public key")
	// ErrKeyConflict means a different key is already stored for the user.
	ErrKeyConflict = errors.New("a different key is already registered")
	// ErrNoServerCustody means the server does not hold the user's private key.
	ErrNoServerCustody = errors.New("private key is not held by the server")
)
