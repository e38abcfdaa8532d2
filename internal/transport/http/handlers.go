package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"bazaar/internal/authz"
	"bazaar/internal/cryptobox"
	"bazaar/internal/dto"
	"bazaar/internal/httpx"
	obsmw "bazaar/internal/observability/middleware"
	"bazaar/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	res, err := h.keys.GetOrCreatePublicKey(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "public key lookup failed")
		return
	}
	if res.Generated {
		obsmw.Logger(r.Context()).Info("public key generated on demand", "user_id", userID)
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req dto.RegisterKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, created, err := h.keys.RegisterPublicKey(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err, "public key registration failed")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		obsmw.Logger(r.Context()).Info("client public key registered", "user_id", userID)
	}
	httpx.WriteJSON(w, status, res)
}

func (h *Handler) handleOwnKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	res, err := h.keys.OwnKey(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "own key lookup failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	peerID, ok := pathUUID(w, r, "peerID")
	if !ok {
		return
	}
	var req dto.SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.msgs.Send(r.Context(), userID, peerID, req)
	if err != nil {
		writeServiceError(w, r, err, "send failed")
		return
	}
	obsmw.Logger(r.Context()).Info("message stored",
		"message_id", res.ID,
		"sender_id", userID,
		"receiver_id", peerID,
		"self_destruct", res.SelfDestruct,
	)
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	peerID, ok := pathUUID(w, r, "peerID")
	if !ok {
		return
	}
	decrypt := false
	if v := r.URL.Query().Get("decrypt"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid decrypt flag")
			return
		}
		decrypt = b
	}

	var (
		res dto.HistoryResponse
		err error
	)
	if decrypt {
		res, err = h.msgs.ReadDecrypted(r.Context(), userID, peerID)
	} else {
		res, err = h.msgs.History(r.Context(), userID, peerID)
	}
	if err != nil {
		writeServiceError(w, r, err, "history fetch failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	res, err := h.msgs.Conversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "conversations fetch failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	messageID, ok := pathUUID(w, r, "messageID")
	if !ok {
		return
	}
	res, err := h.msgs.Delete(r.Context(), userID, messageID)
	if err != nil {
		writeServiceError(w, r, err, "message delete failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDeleteMyData(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	res, err := h.msgs.DeleteUserData(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "user data delete failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := authz.UserIDFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		obsmw.Logger(r.Context()).Warn("request decode failed", "error", err)
		return false
	}
	return true
}

// writeServiceError maps service and crypto errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	body := "internal error"
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status, body = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		status, body = http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrNotParticipant):
		status, body = http.StatusForbidden, "not a participant"
	case errors.Is(err, service.ErrKeyConflict):
		status, body = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrNoServerCustody):
		status, body = http.StatusConflict, err.Error()
	case errors.Is(err, cryptobox.ErrKeyGeneration):
		body = "key generation failed"
	}

	log := obsmw.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err)
	} else {
		log.Warn(msg, "error", err, "status", status)
	}
	httpx.WriteError(w, status, body)
}
