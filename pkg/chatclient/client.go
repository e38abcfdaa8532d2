// Package chatclient is a small HTTP client for the chat API. It can encrypt
// on the caller's side so the server only ever sees ciphertext.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bazaar/internal/cryptobox"
	"bazaar/internal/dto"

	"github.com/google/uuid"
)

const DefaultBaseURL = "http://localhost:8080"

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: normalizeBaseURL(baseURL),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) PublicKey(ctx context.Context, userID uuid.UUID) (dto.PublicKeyResponse, error) {
	var out dto.PublicKeyResponse
	err := c.do(ctx, http.MethodGet, "/v1/users/"+userID.String()+"/public-key", nil, &out)
	return out, err
}

// RegisterKey publishes a client-held public key for the caller.
func (c *Client) RegisterKey(ctx context.Context, publicKeyPEM []byte) (dto.OwnKeyResponse, error) {
	var out dto.OwnKeyResponse
	err := c.do(ctx, http.MethodPut, "/v1/keys/me", dto.RegisterKeyRequest{PublicKey: string(publicKeyPEM)}, &out)
	return out, err
}

func (c *Client) OwnKey(ctx context.Context) (dto.OwnKeyResponse, error) {
	var out dto.OwnKeyResponse
	err := c.do(ctx, http.MethodGet, "/v1/keys/me", nil, &out)
	return out, err
}

func (c *Client) Send(ctx context.Context, peerID uuid.UUID, req dto.SendMessageRequest) (dto.MessageResponse, error) {
	var out dto.MessageResponse
	err := c.do(ctx, http.MethodPost, "/v1/chats/"+peerID.String()+"/messages", req, &out)
	return out, err
}

// PlaintextRequest asks the server to encrypt text for the peer.
func PlaintextRequest(text, kind string) dto.SendMessageRequest {
	return dto.SendMessageRequest{Plaintext: &text, Type: kind}
}

// SendEncrypted fetches the peer's public key, seals plaintext locally and
// posts only the ciphertext triple. A ttl of zero sends a persistent message.
func (c *Client) SendEncrypted(ctx context.Context, peerID uuid.UUID, plaintext []byte, kind string, ttl time.Duration) (dto.MessageResponse, error) {
	pub, err := c.PublicKey(ctx, peerID)
	if err != nil {
		return dto.MessageResponse{}, fmt.Errorf("fetch public key: %w", err)
	}
	sealed, err := cryptobox.EncryptForSend(plaintext, []byte(pub.PublicKey))
	if err != nil {
		return dto.MessageResponse{}, fmt.Errorf("encrypt: %w", err)
	}
	req := dto.SendMessageRequest{
		Ciphertext: sealed.Ciphertext,
		WrappedKey: sealed.WrappedKey,
		IV:         sealed.IV,
		Type:       kind,
	}
	if ttl > 0 {
		secs := int64(ttl.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		req.TTLSeconds = &secs
	}
	return c.Send(ctx, peerID, req)
}

// History lists the conversation with peerID. With decrypt set the server
// opens each message with the caller's server-held key.
func (c *Client) History(ctx context.Context, peerID uuid.UUID, decrypt bool) (dto.HistoryResponse, error) {
	path := "/v1/chats/" + peerID.String() + "/messages"
	if decrypt {
		path += "?" + url.Values{"decrypt": {"true"}}.Encode()
	}
	var out dto.HistoryResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Conversations(ctx context.Context) (dto.ConversationsResponse, error) {
	var out dto.ConversationsResponse
	err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID uuid.UUID) (dto.DeleteMessageResponse, error) {
	var out dto.DeleteMessageResponse
	err := c.do(ctx, http.MethodDelete, "/v1/messages/"+messageID.String(), nil, &out)
	return out, err
}

func (c *Client) DeleteMyData(ctx context.Context) (dto.DeleteUserDataResponse, error) {
	var out dto.DeleteUserDataResponse
	err := c.do(ctx, http.MethodDelete, "/v1/me/data", nil, &out)
	return out, err
}

// Open decrypts a fetched message with a locally held sealed private key.
func Open(m dto.MessageResponse, sealedPrivateKey, passphrase []byte) ([]byte, error) {
	return cryptobox.DecryptForReceive(cryptobox.Sealed{
		Ciphertext: m.Ciphertext,
		WrappedKey: m.WrappedKey,
		IV:         m.IV,
	}, sealedPrivateKey, passphrase)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func normalizeBaseURL(in string) string {
	return strings.TrimRight(strings.TrimSpace(in), "/")
}
