package store

import (
	"context"

	"bazaar/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeleteUserData removes the user's key record and every message they sent or
// received, returning counts of affected resources captured before deletion.
func (s *Store) DeleteUserData(ctx context.Context, userID uuid.UUID) (map[string]int64, error) {
	deleted := map[string]int64{}

	err := s.WithTx(ctx, func(tx *Store) error {
		db := tx.DB.WithContext(ctx)

		count := func(label string, query *gorm.DB) error {
			var total int64
			if err := query.Count(&total).Error; err != nil {
				return err
			}
			deleted[label] = total
			return nil
		}

		if err := count("keys", db.Model(&domain.UserKey{}).Where("user_id = ?", userID)); err != nil {
			return err
		}
		if err := count("messagesSent", db.Model(&domain.Message{}).Where("sender_id = ?", userID)); err != nil {
			return err
		}
		if err := count("messagesReceived", db.Model(&domain.Message{}).Where("receiver_id = ? AND sender_id <> ?", userID, userID)); err != nil {
			return err
		}

		if err := db.Where("sender_id = ? OR receiver_id = ?", userID, userID).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		return db.Where("user_id = ?", userID).Delete(&domain.UserKey{}).Error
	})

	return deleted, err
}
