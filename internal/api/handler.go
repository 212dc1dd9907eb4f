package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/circuitbreaker"
	"github.com/lalithlochan/orderpulse/internal/notify"
	"github.com/lalithlochan/orderpulse/internal/transport"
)

// NotificationStore is the notification list the API exposes.
type NotificationStore interface {
	List() []notify.Notification
	Get(id string) (notify.Notification, bool)
	MarkRead(ctx context.Context, id string) bool
	MarkAllRead(ctx context.Context)
	Remove(ctx context.Context, id string) bool
	Clear(ctx context.Context)
	UnreadCount(exclude ...notify.Category) int
	UnreadCountOf(include ...notify.Category) int
}

// RoomDirectory lists the rooms known to the session.
type RoomDirectory interface {
	Rooms() []backend.Room
	Room(id string) (backend.Room, bool)
}

// Chat sends messages and reports connection state.
type Chat interface {
	SendMessage(roomID, content, receiverID string) bool
	State() transport.State
	SubscribedRooms() []string
}

// SendMessageRequest is the body of POST /v1/rooms/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// UnreadResponse carries the badge counts.
type UnreadResponse struct {
	Total    int `json:"total"`
	Orders   int `json:"orders"`
	Messages int `json:"messages"`
}

// ConnectionResponse describes the transport and backend health.
type ConnectionResponse struct {
	State    string                 `json:"state"`
	UserID   string                 `json:"user_id"`
	Rooms    []string               `json:"subscribed_rooms"`
	Breakers []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	store    NotificationStore
	rooms    RoomDirectory
	chat     Chat
	userID   string
	breakers []*circuitbreaker.CircuitBreaker
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, store NotificationStore, rooms RoomDirectory, chat Chat, userID string, breakers ...*circuitbreaker.CircuitBreaker) *Handler {
	return &Handler{
		logger:   logger,
		store:    store,
		rooms:    rooms,
		chat:     chat,
		userID:   userID,
		breakers: breakers,
	}
}

// Routes mounts the /v1 endpoints on r. sendLimits wrap the message send
// endpoint only.
func (h *Handler) Routes(r chi.Router, sendLimits ...func(http.Handler) http.Handler) {
	r.Get("/notifications", h.ListNotifications)
	r.Delete("/notifications", h.ClearNotifications)
	r.Get("/notifications/unread", h.UnreadCounts)
	r.Post("/notifications/read", h.MarkAllRead)
	r.Post("/notifications/{id}/read", h.MarkRead)
	r.Delete("/notifications/{id}", h.DeleteNotification)

	r.Get("/rooms", h.ListRooms)
	r.With(sendLimits...).Post("/rooms/{id}/messages", h.SendMessage)
	r.Get("/connection", h.ConnectionStatus)
}

// ListNotifications handles GET /v1/notifications?category=x&unread=true&limit=20
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := notify.MaxNotifications
	if limitStr := q.Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = min(l, notify.MaxNotifications)
	}

	var categories []notify.Category
	if raw := q.Get("category"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			categories = append(categories, notify.Category(strings.TrimSpace(c)))
		}
	}
	unreadOnly := q.Get("unread") == "true"

	items := make([]notify.Notification, 0)
	for _, n := range h.store.List() {
		if unreadOnly && n.Read {
			continue
		}
		if len(categories) > 0 && !containsCategory(categories, n.Category) {
			continue
		}
		items = append(items, n)
		if len(items) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   items,
		"count":  len(items),
		"unread": h.store.UnreadCount(),
	})
}

// UnreadCounts handles GET /v1/notifications/unread
func (h *Handler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UnreadResponse{
		Total:    h.store.UnreadCount(),
		Orders:   h.store.UnreadCount(notify.NonOrderCategories...),
		Messages: h.store.UnreadCountOf(notify.CategoryMessageReceived),
	})
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing notification ID", "")
		return
	}

	if !h.store.MarkRead(r.Context(), id) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /v1/notifications/read
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	h.store.MarkAllRead(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing notification ID", "")
		return
	}

	if !h.store.Remove(r.Context(), id) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}

	h.logger.Info("notification removed", zap.String("notification_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ClearNotifications handles DELETE /v1/notifications
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	h.store.Clear(r.Context())
	h.logger.Info("notifications cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ListRooms handles GET /v1/rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.rooms.Rooms()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  rooms,
		"count": len(rooms),
	})
}

// SendMessage handles POST /v1/rooms/{id}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing content", "content must not be empty")
		return
	}

	room, ok := h.rooms.Room(roomID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Room not found", "")
		return
	}

	receiver := room.Counterpart(h.userID)
	if !h.chat.SendMessage(roomID, req.Content, receiver) {
		h.writeError(w, http.StatusServiceUnavailable, "not_connected", "Chat unavailable",
			"the real-time connection is "+h.chat.State().String())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"room_id":     roomID,
		"receiver_id": receiver,
	})
}

// ConnectionStatus handles GET /v1/connection
func (h *Handler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	resp := ConnectionResponse{
		State:  h.chat.State().String(),
		UserID: h.userID,
		Rooms:  h.chat.SubscribedRooms(),
	}
	for _, b := range h.breakers {
		resp.Breakers = append(resp.Breakers, b.Stats())
	}
	writeJSON(w, http.StatusOK, resp)
}

func containsCategory(list []notify.Category, c notify.Category) bool {
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
