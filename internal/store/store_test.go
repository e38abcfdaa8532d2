package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"bazaar/internal/db/dbtest"
	"bazaar/internal/domain"
	"bazaar/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(dbtest.Open(t))
	require.NoError(t, st.AutoMigrate(context.Background()))
	return st
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func newMessage(from, to uuid.UUID, createdAt time.Time, expiresAt *time.Time) *domain.Message {
	return &domain.Message{
		SenderID:   from,
		ReceiverID: to,
		Kind:       domain.KindInquiry,
		Ciphertext: []byte("ct"),
		WrappedKey: []byte("wk"),
		IV:         []byte("iv"),
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}
}

func TestSetIfAbsentKeepsFirstKey(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_, ok, err := st.UserKeys().PublicKey(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	won, err := st.UserKeys().SetIfAbsent(ctx, domain.UserKey{UserID: userID, PublicKey: "first", Custody: domain.CustodyClient, CreatedAt: now()})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = st.UserKeys().SetIfAbsent(ctx, domain.UserKey{UserID: userID, PublicKey: "second", Custody: domain.CustodyClient, CreatedAt: now()})
	require.NoError(t, err)
	assert.False(t, won)

	pub, ok, err := st.UserKeys().PublicKey(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", pub)
}

func TestSetIfAbsentConcurrentWritersOneWinner(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()

	const writers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner string
		wins   int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			won, err := st.UserKeys().SetIfAbsent(ctx, domain.UserKey{UserID: userID, PublicKey: key, Custody: domain.CustodyServer, CreatedAt: now()})
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				winner = key
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	pub, ok, err := st.UserKeys().PublicKey(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, winner, pub)
}

func TestBetweenOrdersAndFiltersExpired(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	base := now().Add(-time.Minute)
	past := base.Add(30 * time.Second)
	future := base.Add(time.Hour)

	msgs := []*domain.Message{
		newMessage(a, b, base, nil),
		newMessage(b, a, base.Add(time.Second), &future),
		newMessage(a, b, base.Add(2*time.Second), &past),
		newMessage(a, c, base.Add(3*time.Second), nil),
	}
	for _, m := range msgs {
		require.NoError(t, st.Messages().Create(ctx, m))
	}

	all, err := st.Messages().Between(ctx, a, b, false, now())
	require.NoError(t, err)
	require.Len(t, all, 3)

	live, err := st.Messages().Between(ctx, b, a, true, now())
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, msgs[0].ID, live[0].ID)
	assert.Equal(t, msgs[1].ID, live[1].ID)
	assert.Equal(t, []byte("wk"), live[0].WrappedKey)
}

func TestDeleteExpiredBeforeIsIdempotent(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	past := now().Add(-time.Second)
	future := now().Add(time.Hour)

	permanent := newMessage(a, b, now(), nil)
	expired := newMessage(a, b, now(), &past)
	pending := newMessage(b, a, now(), &future)
	for _, m := range []*domain.Message{permanent, expired, pending} {
		require.NoError(t, st.Messages().Create(ctx, m))
	}

	n, err := st.Messages().DeleteExpiredBefore(ctx, now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = st.Messages().DeleteExpiredBefore(ctx, now())
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 3; i++ {
		_, err = st.Messages().DeleteExpiredBefore(ctx, now().Add(24*time.Hour*365))
		require.NoError(t, err)
	}
	got, err := st.Messages().Get(ctx, permanent.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)

	_, err = st.Messages().Get(ctx, expired.ID)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestDeleteIfExpiredOnlyRemovesDueRows(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	future := now().Add(time.Minute)

	msg := newMessage(a, b, now(), &future)
	perm := newMessage(a, b, now(), nil)
	require.NoError(t, st.Messages().Create(ctx, msg))
	require.NoError(t, st.Messages().Create(ctx, perm))

	n, err := st.Messages().DeleteIfExpired(ctx, msg.ID, now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = st.Messages().DeleteIfExpired(ctx, perm.ID, now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = st.Messages().DeleteIfExpired(ctx, msg.ID, future)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConversationsNewestFirst(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	me, vendor, buyer := uuid.New(), uuid.New(), uuid.New()
	base := now().Add(-time.Hour)

	require.NoError(t, st.Messages().Create(ctx, newMessage(me, vendor, base, nil)))
	require.NoError(t, st.Messages().Create(ctx, newMessage(vendor, me, base.Add(time.Minute), nil)))
	require.NoError(t, st.Messages().Create(ctx, newMessage(buyer, me, base.Add(2*time.Minute), nil)))

	convs, err := st.Messages().Conversations(ctx, me, now())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, buyer, convs[0].PeerID)
	assert.Equal(t, int64(1), convs[0].Messages)
	assert.Equal(t, vendor, convs[1].PeerID)
	assert.Equal(t, int64(2), convs[1].Messages)
	assert.True(t, convs[1].LastMessageAt.Equal(base.Add(time.Minute)))
}

func TestDeleteUserData(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	me, peer := uuid.New(), uuid.New()

	_, err := st.UserKeys().SetIfAbsent(ctx, domain.UserKey{UserID: me, PublicKey: "pk", Custody: domain.CustodyClient, CreatedAt: now()})
	require.NoError(t, err)
	_, err = st.UserKeys().SetIfAbsent(ctx, domain.UserKey{UserID: peer, PublicKey: "pk2", Custody: domain.CustodyClient, CreatedAt: now()})
	require.NoError(t, err)
	require.NoError(t, st.Messages().Create(ctx, newMessage(me, peer, now(), nil)))
	require.NoError(t, st.Messages().Create(ctx, newMessage(peer, me, now(), nil)))
	require.NoError(t, st.Messages().Create(ctx, newMessage(peer, uuid.New(), now(), nil)))

	counts, err := st.DeleteUserData(ctx, me)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"keys": 1, "messagesSent": 1, "messagesReceived": 1}, counts)

	_, err = st.UserKeys().Get(ctx, me)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
	_, ok, err := st.UserKeys().PublicKey(ctx, peer)
	require.NoError(t, err)
	assert.True(t, ok)

	convs, err := st.Messages().Conversations(ctx, peer, now())
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}
