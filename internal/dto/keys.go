package dto

import "time"

type PublicKeyResponse struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
	Custody   string `json:"custody"`
	Generated bool   `json:"generated,omitempty"`
}

type RegisterKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

type OwnKeyResponse struct {
	UserID    string    `json:"userId"`
	PublicKey string    `json:"publicKey"`
	Custody   string    `json:"custody"`
	CreatedAt time.Time `json:"createdAt"`
	// EncryptedPrivateKey is only present for server custody and stays sealed.
	EncryptedPrivateKey string `json:"encryptedPrivateKey,omitempty"`
}
