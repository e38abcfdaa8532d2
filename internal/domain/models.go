package domain

import (
	"time"

	"github.com/google/uuid"
)

type Custody string

const (
	// CustodyServer: the server generated the pair and holds the private key
	// sealed under its key-encryption-key.
	CustodyServer Custody = "server"
	// CustodyClient: the client registered only its public key.
	CustodyClient Custody = "client"
)

type MessageKind string

const (
	KindInquiry MessageKind = "INQUIRY"
	KindOffer   MessageKind = "OFFER"
	KindOrder   MessageKind = "ORDER"
	KindSystem  MessageKind = "SYSTEM"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindInquiry, KindOffer, KindOrder, KindSystem:
		return true
	}
	return false
}

// UserKey holds one user's key pair. UserID is the primary key, which is what
// makes the conditional insert in the store a compare-and-set.
type UserKey struct {
	UserID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	PublicKey           string    `gorm:"type:text;not null"`
	EncryptedPrivateKey string    `gorm:"type:text"`
	Custody             Custody   `gorm:"type:varchar(16);not null"`
	CreatedAt           time.Time `gorm:"not null"`
}

// Message is one encrypted message. Rows are hard-deleted on expiry.
type Message struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey"`
	SenderID   uuid.UUID   `gorm:"type:uuid;not null;index:idx_messages_pair,priority:1"`
	ReceiverID uuid.UUID   `gorm:"type:uuid;not null;index:idx_messages_pair,priority:2"`
	Kind       MessageKind `gorm:"type:varchar(16);not null"`
	Ciphertext []byte      `gorm:"not null"`
	WrappedKey []byte      `gorm:"not null"`
	IV         []byte      `gorm:"not null"`
	CreatedAt  time.Time   `gorm:"not null;index:idx_messages_pair,priority:3"`
	ExpiresAt  *time.Time  `gorm:"index"`
}

func (m Message) SelfDestructing() bool { return m.ExpiresAt != nil }

// Expired reports whether the message is past its expiry at now.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}
