package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bazaar/internal/cryptobox"
	"bazaar/internal/domain"
	"bazaar/internal/dto"
	"bazaar/internal/observability/metrics"
	"bazaar/internal/store"

	"github.com/google/uuid"
)

type KeyService struct {
	store *store.Store
	keys  *cryptobox.KeyManager
	kek   []byte
	now   func() time.Time
}

// NewKeyService wires the key store to a key manager. kek seals every
// server-held private key and is not retained by callers.
func NewKeyService(st *store.Store, km *cryptobox.KeyManager, kek []byte) *KeyService {
	return &KeyService{
		store: st,
		keys:  km,
		kek:   append([]byte(nil), kek...),
		now:   time.Now,
	}
}

// PublicKey returns the stored public key or ErrRecipientKeyMissing.
func (s *KeyService) PublicKey(ctx context.Context, userID uuid.UUID) (string, error) {
	pub, ok, err := s.store.UserKeys().PublicKey(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrRecipientKeyMissing
	}
	return pub, nil
}

// GetOrCreatePublicKey returns the user's public key, lazily generating a
// server-custody pair when none exists.
func (s *KeyService) GetOrCreatePublicKey(ctx context.Context, userID uuid.UUID) (dto.PublicKeyResponse, error) {
	if userID == uuid.Nil {
		return dto.PublicKeyResponse{}, fmt.Errorf("%w: invalid userId", ErrInvalidRequest)
	}
	key, err := s.store.UserKeys().Get(ctx, userID)
	if err == nil {
		return publicKeyResponse(*key, false), nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return dto.PublicKeyResponse{}, err
	}

	created, generated, err := s.EnsureKey(ctx, userID)
	if err != nil {
		return dto.PublicKeyResponse{}, err
	}
	return publicKeyResponse(created, generated), nil
}

// EnsureKey generates a key pair and stores it only if the user still has
// none. When another writer got there first the stored key wins and is
// returned with generated=false.
func (s *KeyService) EnsureKey(ctx context.Context, userID uuid.UUID) (domain.UserKey, bool, error) {
	kp, err := s.keys.GenerateKeyPair(s.kek)
	if err != nil {
		metrics.KeyPairsGeneratedTotal.WithLabelValues("error").Inc()
		return domain.UserKey{}, false, err
	}
	metrics.KeyPairsGeneratedTotal.WithLabelValues("ok").Inc()

	key := domain.UserKey{
		UserID:              userID,
		PublicKey:           string(kp.PublicKey),
		EncryptedPrivateKey: string(kp.PrivateKey),
		Custody:             domain.CustodyServer,
		CreatedAt:           s.now().UTC().Truncate(time.Microsecond),
	}
	won, err := s.store.UserKeys().SetIfAbsent(ctx, key)
	if err != nil {
		return domain.UserKey{}, false, err
	}
	if won {
		metrics.PublicKeyRacesTotal.WithLabelValues("won").Inc()
		slog.Default().Info("generated key pair", "user_id", userID, "bits", s.keys.Bits())
		return key, true, nil
	}

	metrics.PublicKeyRacesTotal.WithLabelValues("lost").Inc()
	slog.Default().Info("key pair already present, discarding generated pair", "user_id", userID)
	existing, err := s.store.UserKeys().Get(ctx, userID)
	if err != nil {
		return domain.UserKey{}, false, err
	}
	return *existing, false, nil
}

// RegisterPublicKey stores a client-generated public key. Re-registering the
// same key is a no-op; a different key is refused with ErrKeyConflict.
func (s *KeyService) RegisterPublicKey(ctx context.Context, userID uuid.UUID, req dto.RegisterKeyRequest) (dto.OwnKeyResponse, bool, error) {
	pub, err := cryptobox.ParsePublicKey([]byte(req.PublicKey))
	if err != nil {
		return dto.OwnKeyResponse{}, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	key := domain.UserKey{
		UserID:    userID,
		PublicKey: req.PublicKey,
		Custody:   domain.CustodyClient,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	won, err := s.store.UserKeys().SetIfAbsent(ctx, key)
	if err != nil {
		return dto.OwnKeyResponse{}, false, err
	}
	if won {
		metrics.PublicKeyRacesTotal.WithLabelValues("won").Inc()
		return ownKeyResponse(key), true, nil
	}

	existing, err := s.store.UserKeys().Get(ctx, userID)
	if err != nil {
		return dto.OwnKeyResponse{}, false, err
	}
	if current, err := cryptobox.ParsePublicKey([]byte(existing.PublicKey)); err == nil && current.Equal(pub) {
		return ownKeyResponse(*existing), false, nil
	}
	metrics.PublicKeyRacesTotal.WithLabelValues("conflict").Inc()
	return dto.OwnKeyResponse{}, false, ErrKeyConflict
}

func (s *KeyService) OwnKey(ctx context.Context, userID uuid.UUID) (dto.OwnKeyResponse, error) {
	key, err := s.store.UserKeys().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.OwnKeyResponse{}, ErrNotFound
		}
		return dto.OwnKeyResponse{}, err
	}
	return ownKeyResponse(*key), nil
}

// PrivateKey opens the user's server-held private key.
func (s *KeyService) PrivateKey(ctx context.Context, userID uuid.UUID) (*rsa.PrivateKey, error) {
	key, err := s.store.UserKeys().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if key.Custody != domain.CustodyServer || key.EncryptedPrivateKey == "" {
		return nil, ErrNoServerCustody
	}
	return cryptobox.OpenPrivateKey([]byte(key.EncryptedPrivateKey), s.kek)
}

func publicKeyResponse(k domain.UserKey, generated bool) dto.PublicKeyResponse {
	return dto.PublicKeyResponse{
		UserID:    k.UserID.String(),
		PublicKey: k.PublicKey,
		Custody:   string(k.Custody),
		Generated: generated,
	}
}

func ownKeyResponse(k domain.UserKey) dto.OwnKeyResponse {
	resp := dto.OwnKeyResponse{
		UserID:    k.UserID.String(),
		PublicKey: k.PublicKey,
		Custody:   string(k.Custody),
		CreatedAt: k.CreatedAt,
	}
	if k.Custody == domain.CustodyServer {
		resp.EncryptedPrivateKey = k.EncryptedPrivateKey
	}
	return resp
}
