package store

import (
	"context"

	"bazaar/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserKeyStore struct{ db *gorm.DB }

func (s *Store) UserKeys() *UserKeyStore { return &UserKeyStore{db: s.DB} }

func (u *UserKeyStore) Get(ctx context.Context, userID uuid.UUID) (*domain.UserKey, error) {
	var key domain.UserKey
	if err := u.db.WithContext(ctx).First(&key, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

// PublicKey returns the stored public key and whether one exists.
func (u *UserKeyStore) PublicKey(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	var keys []string
	err := u.db.WithContext(ctx).
		Model(&domain.UserKey{}).
		Where("user_id = ?", userID).
		Limit(1).
		Pluck("public_key", &keys).Error
	if err != nil {
		return "", false, err
	}
	if len(keys) == 0 {
		return "", false, nil
	}
	return keys[0], true, nil
}

// SetIfAbsent inserts key only when the user has none. It reports true when
// this call stored the key and false when another key was already present;
// an existing key is never overwritten.
func (u *UserKeyStore) SetIfAbsent(ctx context.Context, key domain.UserKey) (bool, error) {
	tx := u.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&key)
	if tx.Error != nil {
		if isUniqueViolation(tx.Error) {
			return false, nil
		}
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (u *UserKeyStore) Delete(ctx context.Context, userID uuid.UUID) (int64, error) {
	tx := u.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.UserKey{})
	return tx.RowsAffected, tx.Error
}
