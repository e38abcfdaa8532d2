package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bazaar/internal/cryptobox"
	"bazaar/internal/domain"
	"bazaar/internal/dto"
	"bazaar/internal/observability/metrics"
	"bazaar/internal/store"

	"github.com/google/uuid"
)

const defaultMaxTTL = 7 * 24 * time.Hour

// Scheduler is told about every self-destructing message after it is stored.
type Scheduler interface {
	Schedule(id uuid.UUID, expiresAt time.Time)
}

type MessageConfig struct {
	// MaxTTL caps how far in the future a message may expire.
	MaxTTL time.Duration
	// DefaultTTL applies when the sender gives no expiry. Zero keeps such
	// messages permanent.
	DefaultTTL time.Duration
}

type MessageService struct {
	store     *store.Store
	keys      *KeyService
	scheduler Scheduler
	cfg       MessageConfig
	now       func() time.Time
}

func NewMessageService(st *store.Store, keys *KeyService, sched Scheduler, cfg MessageConfig) *MessageService {
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = defaultMaxTTL
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		cfg.DefaultTTL = cfg.MaxTTL
	}
	return &MessageService{store: st, keys: keys, scheduler: sched, cfg: cfg, now: time.Now}
}

// Send stores one message from senderID to peerID. A plaintext request is
// encrypted here for the peer's public key; otherwise the client-encrypted
// triple is stored as given.
func (s *MessageService) Send(ctx context.Context, senderID, peerID uuid.UUID, req dto.SendMessageRequest) (dto.MessageResponse, error) {
	if senderID == uuid.Nil || peerID == uuid.Nil {
		return dto.MessageResponse{}, fmt.Errorf("%w: invalid participant id", ErrInvalidRequest)
	}
	if senderID == peerID {
		return dto.MessageResponse{}, fmt.Errorf("%w: cannot message yourself", ErrInvalidRequest)
	}

	kind := domain.KindInquiry
	if req.Type != "" {
		kind = domain.MessageKind(req.Type)
	}
	if !kind.Valid() {
		return dto.MessageResponse{}, fmt.Errorf("%w: unknown message type %q", ErrInvalidRequest, req.Type)
	}

	expiresAt, err := s.expiryFor(req)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	var (
		sealed cryptobox.Sealed
		mode   string
	)
	if req.Plaintext != nil {
		if len(req.Ciphertext) > 0 || len(req.WrappedKey) > 0 || len(req.IV) > 0 {
			return dto.MessageResponse{}, fmt.Errorf("%w: send either plaintext or ciphertext", ErrInvalidRequest)
		}
		sealed, err = s.encryptFor(ctx, peerID, []byte(*req.Plaintext))
		if err != nil {
			return dto.MessageResponse{}, err
		}
		mode = "server"
	} else {
		if len(req.Ciphertext) < cryptobox.TagSize || len(req.WrappedKey) == 0 || len(req.IV) != cryptobox.IVSize {
			return dto.MessageResponse{}, fmt.Errorf("%w: ciphertext, wrappedKey and a %d-byte iv are required", ErrInvalidRequest, cryptobox.IVSize)
		}
		sealed = cryptobox.Sealed{Ciphertext: req.Ciphertext, WrappedKey: req.WrappedKey, IV: req.IV}
		mode = "client"
	}

	msg := domain.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: peerID,
		Kind:       kind,
		Ciphertext: sealed.Ciphertext,
		WrappedKey: sealed.WrappedKey,
		IV:         sealed.IV,
		CreatedAt:  s.now().UTC().Truncate(time.Microsecond),
		ExpiresAt:  expiresAt,
	}
	if err := s.store.Messages().Create(ctx, &msg); err != nil {
		return dto.MessageResponse{}, err
	}

	metrics.MessagesStoredTotal.WithLabelValues(mode, strconv.FormatBool(msg.SelfDestructing())).Inc()
	metrics.MessagesCiphertextBytes.Observe(float64(len(msg.Ciphertext)))

	if msg.ExpiresAt != nil && s.scheduler != nil {
		s.scheduler.Schedule(msg.ID, *msg.ExpiresAt)
	}
	return toMessageResponse(msg), nil
}

// encryptFor runs the send path against the peer's stored public key. A
// missing key is generated once and the lookup retried; nothing else retries.
func (s *MessageService) encryptFor(ctx context.Context, peerID uuid.UUID, plaintext []byte) (cryptobox.Sealed, error) {
	pub, err := s.keys.PublicKey(ctx, peerID)
	if errors.Is(err, ErrRecipientKeyMissing) {
		if _, _, err := s.keys.EnsureKey(ctx, peerID); err != nil {
			return cryptobox.Sealed{}, err
		}
		pub, err = s.keys.PublicKey(ctx, peerID)
	}
	if err != nil {
		return cryptobox.Sealed{}, err
	}
	return cryptobox.EncryptForSend(plaintext, []byte(pub))
}

func (s *MessageService) expiryFor(req dto.SendMessageRequest) (*time.Time, error) {
	now := s.now().UTC()
	var at time.Time
	switch {
	case req.ExpiresAt != nil && req.TTLSeconds != nil:
		return nil, fmt.Errorf("%w: give expiresAt or ttlSeconds, not both", ErrInvalidRequest)
	case req.ExpiresAt != nil:
		at = req.ExpiresAt.UTC()
		if !at.After(now) {
			return nil, fmt.Errorf("%w: expiresAt must be in the future", ErrInvalidRequest)
		}
	case req.TTLSeconds != nil:
		ttl := *req.TTLSeconds
		if ttl <= 0 {
			return nil, fmt.Errorf("%w: ttlSeconds must be positive", ErrInvalidRequest)
		}
		if ttl > int64(s.cfg.MaxTTL/time.Second) {
			at = now.Add(s.cfg.MaxTTL)
		} else {
			at = now.Add(time.Duration(ttl) * time.Second)
		}
	case s.cfg.DefaultTTL > 0:
		at = now.Add(s.cfg.DefaultTTL)
	default:
		return nil, nil
	}
	if at.Sub(now) > s.cfg.MaxTTL {
		at = now.Add(s.cfg.MaxTTL)
	}
	at = at.Truncate(time.Microsecond)
	return &at, nil
}

// History returns the live ciphertext history between userID and peerID.
func (s *MessageService) History(ctx context.Context, userID, peerID uuid.UUID) (dto.HistoryResponse, error) {
	msgs, err := s.store.Messages().Between(ctx, userID, peerID, true, s.now())
	if err != nil {
		return dto.HistoryResponse{}, err
	}
	metrics.MessageHistoryFetchedTotal.WithLabelValues("ciphertext").Inc()

	resp := dto.HistoryResponse{PeerID: peerID.String(), Messages: make([]dto.MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	return resp, nil
}

// ReadDecrypted is History with server-side decryption of incoming messages.
// It requires the server to hold the caller's private key. A message that
// fails to decrypt is returned with an error marker, never dropped.
func (s *MessageService) ReadDecrypted(ctx context.Context, userID, peerID uuid.UUID) (dto.HistoryResponse, error) {
	msgs, err := s.store.Messages().Between(ctx, userID, peerID, true, s.now())
	if err != nil {
		return dto.HistoryResponse{}, err
	}
	metrics.MessageHistoryFetchedTotal.WithLabelValues("decrypted").Inc()

	var (
		priv    *rsa.PrivateKey
		privErr error
		opened  bool
	)
	resp := dto.HistoryResponse{PeerID: peerID.String(), Messages: make([]dto.MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		out := toMessageResponse(m)
		if m.SenderID == userID {
			out.Outgoing = true
			resp.Messages = append(resp.Messages, out)
			continue
		}

		if !opened {
			opened = true
			priv, privErr = s.keys.PrivateKey(ctx, userID)
			switch {
			case errors.Is(privErr, ErrNotFound), errors.Is(privErr, ErrNoServerCustody):
				return dto.HistoryResponse{}, ErrNoServerCustody
			case privErr != nil && !errors.Is(privErr, cryptobox.ErrKeyUnwrap):
				return dto.HistoryResponse{}, privErr
			case privErr != nil:
				slog.Default().Error("stored private key could not be opened", "user_id", userID, "error", privErr)
			}
		}

		if privErr != nil {
			metrics.DecryptFailuresTotal.WithLabelValues("private_key").Inc()
			out.Error = "failed to decrypt"
		} else if plain, err := cryptobox.DecryptWith(priv, sealedOf(m)); err != nil {
			metrics.DecryptFailuresTotal.WithLabelValues(failureReason(err)).Inc()
			slog.Default().Warn("message failed to decrypt", "message_id", m.ID, "error", err)
			out.Error = "failed to decrypt"
		} else {
			text := string(plain)
			out.Plaintext = &text
		}
		resp.Messages = append(resp.Messages, out)
	}
	return resp, nil
}

// Since returns live messages of the pair created at or after since.
func (s *MessageService) Since(ctx context.Context, userID, peerID uuid.UUID, since time.Time) ([]dto.MessageResponse, error) {
	msgs, err := s.store.Messages().Since(ctx, userID, peerID, since, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]dto.MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out, nil
}

// Delete burns a message immediately. Only its sender or receiver may do so.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) (dto.DeleteMessageResponse, error) {
	msg, err := s.store.Messages().Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.DeleteMessageResponse{}, ErrNotFound
		}
		return dto.DeleteMessageResponse{}, err
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return dto.DeleteMessageResponse{}, ErrNotParticipant
	}
	n, err := s.store.Messages().Delete(ctx, messageID)
	if err != nil {
		return dto.DeleteMessageResponse{}, err
	}
	return dto.DeleteMessageResponse{ID: messageID.String(), Deleted: n > 0}, nil
}

func (s *MessageService) Conversations(ctx context.Context, userID uuid.UUID) (dto.ConversationsResponse, error) {
	convs, err := s.store.Messages().Conversations(ctx, userID, s.now())
	if err != nil {
		return dto.ConversationsResponse{}, err
	}
	resp := dto.ConversationsResponse{Conversations: make([]dto.ConversationResponse, 0, len(convs))}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, dto.ConversationResponse{
			PeerID:        c.PeerID.String(),
			LastMessageAt: c.LastMessageAt.UTC(),
			Messages:      c.Messages,
		})
	}
	return resp, nil
}

// DeleteUserData erases the caller's key record and all their messages.
func (s *MessageService) DeleteUserData(ctx context.Context, userID uuid.UUID) (dto.DeleteUserDataResponse, error) {
	deleted, err := s.store.DeleteUserData(ctx, userID)
	if err != nil {
		return dto.DeleteUserDataResponse{}, err
	}
	slog.Default().Info("user data deleted", "user_id", userID, "deleted", deleted)
	return dto.DeleteUserDataResponse{Deleted: deleted}, nil
}

func sealedOf(m domain.Message) cryptobox.Sealed {
	return cryptobox.Sealed{Ciphertext: m.Ciphertext, WrappedKey: m.WrappedKey, IV: m.IV}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, cryptobox.ErrKeyUnwrap):
		return "unwrap"
	case errors.Is(err, cryptobox.ErrAuthentication):
		return "authentication"
	default:
		return "other"
	}
}

func toMessageResponse(m domain.Message) dto.MessageResponse {
	resp := dto.MessageResponse{
		ID:           m.ID.String(),
		SenderID:     m.SenderID.String(),
		ReceiverID:   m.ReceiverID.String(),
		Type:         string(m.Kind),
		Ciphertext:   m.Ciphertext,
		WrappedKey:   m.WrappedKey,
		IV:           m.IV,
		CreatedAt:    m.CreatedAt.UTC(),
		SelfDestruct: m.SelfDestructing(),
	}
	if m.ExpiresAt != nil {
		at := m.ExpiresAt.UTC()
		resp.ExpiresAt = &at
	}
	return resp
}
