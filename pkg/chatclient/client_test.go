package chatclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bazaar/internal/authz"
	"bazaar/internal/cryptobox"
	"bazaar/internal/db/dbtest"
	"bazaar/internal/jwtsigner"
	"bazaar/internal/service"
	"bazaar/internal/store"
	transport "bazaar/internal/transport/http"
	"bazaar/pkg/chatclient"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

var fastKDF = cryptobox.KDFParams{Time: 1, Memory: 64, Threads: 1}

func newServer(t *testing.T) (*httptest.Server, *jwtsigner.Signer) {
	t.Helper()
	st := store.New(dbtest.Open(t))
	require.NoError(t, st.AutoMigrate(context.Background()))

	km := cryptobox.NewKeyManager(cryptobox.WithRSABits(2048), cryptobox.WithKDF(fastKDF))
	keys := service.NewKeyService(st, km, []byte("client-test-kek"))
	msgs := service.NewMessageService(st, keys, nil, service.MessageConfig{})

	srv := httptest.NewServer(transport.NewRouter(transport.Options{
		Keys:              keys,
		Messages:          msgs,
		Auth:              authz.NewHMACValidator(secret, "").Middleware,
		RateLimitRequests: 1000,
	}))
	t.Cleanup(srv.Close)

	signer, err := jwtsigner.NewHMAC([]byte(secret), "")
	require.NoError(t, err)
	return srv, signer
}

func clientFor(t *testing.T, srv *httptest.Server, s *jwtsigner.Signer, user uuid.UUID) *chatclient.Client {
	t.Helper()
	tok, err := s.SignUser(user, time.Hour)
	require.NoError(t, err)
	return chatclient.New(srv.URL+"/", tok, chatclient.WithHTTPClient(srv.Client()))
}

func TestEndToEndClientCustody(t *testing.T) {
	srv, signer := newServer(t)
	ctx := context.Background()
	buyer, vendor := uuid.New(), uuid.New()
	passphrase := []byte("vendor laptop")

	kp, err := cryptobox.NewKeyManager(cryptobox.WithRSABits(2048), cryptobox.WithKDF(fastKDF)).GenerateKeyPair(passphrase)
	require.NoError(t, err)

	vc := clientFor(t, srv, signer, vendor)
	own, err := vc.RegisterKey(ctx, kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "client", own.Custody)

	bc := clientFor(t, srv, signer, buyer)
	sent, err := bc.SendEncrypted(ctx, vendor, []byte("is the lamp still available?"), "INQUIRY", 90*time.Second)
	require.NoError(t, err)
	assert.True(t, sent.SelfDestruct)

	hist, err := vc.History(ctx, buyer, false)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	plain, err := chatclient.Open(hist.Messages[0], kp.PrivateKey, passphrase)
	require.NoError(t, err)
	assert.Equal(t, "is the lamp still available?", string(plain))

	_, err = vc.History(ctx, buyer, true)
	var apiErr *chatclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	convs, err := bc.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, vendor.String(), convs.Conversations[0].PeerID)

	del, err := bc.DeleteMessage(ctx, uuid.MustParse(sent.ID))
	require.NoError(t, err)
	assert.True(t, del.Deleted)
}

func TestServerCustodyRoundTrip(t *testing.T) {
	srv, signer := newServer(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	text := "order confirmed"
	_, err := clientFor(t, srv, signer, a).Send(ctx, b, chatclient.PlaintextRequest(text, "ORDER"))
	require.NoError(t, err)

	bc := clientFor(t, srv, signer, b)
	hist, err := bc.History(ctx, a, true)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	require.NotNil(t, hist.Messages[0].Plaintext)
	assert.Equal(t, text, *hist.Messages[0].Plaintext)
	assert.Equal(t, "ORDER", hist.Messages[0].Type)

	res, err := bc.DeleteMyData(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted["keys"])
}

func TestUnauthenticatedCallsSurfaceAPIError(t *testing.T) {
	srv, _ := newServer(t)
	_, err := chatclient.New(srv.URL, "", chatclient.WithHTTPClient(srv.Client())).Conversations(context.Background())

	var apiErr *chatclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "missing token", apiErr.Message)
}
