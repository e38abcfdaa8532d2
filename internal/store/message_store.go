package store

import (
	"context"
	"sort"
	"time"

	"bazaar/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	return m.db.WithContext(ctx).Create(msg).Error
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

func (m *MessageStore) pair(userID, otherID uuid.UUID) *gorm.DB {
	return m.db.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userID, otherID, otherID, userID,
	)
}

// Between returns the conversation between two users oldest first. With
// notExpiredOnly set, rows whose expiry is at or before now are left out even
// if the sweep has not removed them yet.
func (m *MessageStore) Between(ctx context.Context, userID, otherID uuid.UUID, notExpiredOnly bool, now time.Time) ([]domain.Message, error) {
	tx := m.pair(userID, otherID).WithContext(ctx)
	if notExpiredOnly {
		tx = tx.Where("expires_at IS NULL OR expires_at > ?", now.UTC())
	}
	var msgs []domain.Message
	if err := tx.Order("created_at asc, id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Since returns live messages of the pair created at or after since. Callers
// polling with the last seen timestamp must drop ids they already delivered.
func (m *MessageStore) Since(ctx context.Context, userID, otherID uuid.UUID, since, now time.Time) ([]domain.Message, error) {
	var msgs []domain.Message
	err := m.pair(userID, otherID).WithContext(ctx).
		Where("created_at >= ?", since.UTC()).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Delete hard-deletes one message and reports how many rows went away.
func (m *MessageStore) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	tx := m.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	return tx.RowsAffected, tx.Error
}

// DeleteIfExpired removes the message only if it carries an expiry at or
// before now. A row whose expiry was pushed out or that has none survives.
func (m *MessageStore) DeleteIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	tx := m.db.WithContext(ctx).
		Where("id = ? AND expires_at IS NOT NULL AND expires_at <= ?", id, now.UTC()).
		Delete(&domain.Message{})
	return tx.RowsAffected, tx.Error
}

// DeleteExpiredBefore removes every message whose expiry is at or before now
// in one statement. Permanent messages are never matched.
func (m *MessageStore) DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	tx := m.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Delete(&domain.Message{})
	return tx.RowsAffected, tx.Error
}

// Conversation summarises the live messages between a user and one peer.
type Conversation struct {
	PeerID        uuid.UUID
	LastMessageAt time.Time
	Messages      int64
}

type conversationRow struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	CreatedAt  time.Time
}

// Conversations lists the peers userID has live messages with, most recent
// first.
func (m *MessageStore) Conversations(ctx context.Context, userID uuid.UUID, now time.Time) ([]Conversation, error) {
	var rows []conversationRow
	err := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("sender_id, receiver_id, created_at").
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byPeer := map[uuid.UUID]*Conversation{}
	for _, r := range rows {
		peer := r.ReceiverID
		if r.ReceiverID == userID {
			peer = r.SenderID
		}
		c, ok := byPeer[peer]
		if !ok {
			c = &Conversation{PeerID: peer}
			byPeer[peer] = c
		}
		c.Messages++
		if r.CreatedAt.After(c.LastMessageAt) {
			c.LastMessageAt = r.CreatedAt
		}
	}

	out := make([]Conversation, 0, len(byPeer))
	for _, c := range byPeer {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].PeerID.String() < out[j].PeerID.String()
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}
