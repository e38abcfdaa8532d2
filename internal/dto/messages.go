package dto

import "time"

// SendMessageRequest carries either a client-encrypted triple or a plaintext
// the server encrypts for the peer. Byte fields are base64 in JSON.
type SendMessageRequest struct {
	Ciphertext []byte `json:"ciphertext,omitempty"`
	WrappedKey []byte `json:"wrappedKey,omitempty"`
	IV         []byte `json:"iv,omitempty"`

	Plaintext *string `json:"plaintext,omitempty"`

	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	TTLSeconds *int64     `json:"ttlSeconds,omitempty"`
	Type       string     `json:"type,omitempty"`
}

type MessageResponse struct {
	ID           string     `json:"id"`
	SenderID     string     `json:"senderId"`
	ReceiverID   string     `json:"receiverId"`
	Type         string     `json:"type"`
	Ciphertext   []byte     `json:"ciphertext"`
	WrappedKey   []byte     `json:"wrappedKey"`
	IV           []byte     `json:"iv"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	SelfDestruct bool       `json:"selfDestruct"`

	// Set only on server-side decrypted reads.
	Plaintext *string `json:"plaintext,omitempty"`
	Outgoing  bool    `json:"outgoing,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type HistoryResponse struct {
	PeerID   string            `json:"peerId"`
	Messages []MessageResponse `json:"messages"`
}

type ConversationResponse struct {
	PeerID        string    `json:"peerId"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Messages      int64     `json:"messages"`
}

type ConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

type DeleteMessageResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type DeleteUserDataResponse struct {
	Deleted map[string]int64 `json:"deleted"`
}
