// Package websocket pushes record changes to signed-in users. Each
// connection is bound to the profile of the principal that opened it and
// only receives events about that profile's records.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
	maxReadBytes = 512
)

// Event describes a change to a record the receiver takes part in.
type Event struct {
	Type       string    `json:"type"`
	RecordType string    `json:"record_type"`
	RecordID   string    `json:"record_id"`
	Status     string    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Client is one open connection.
type Client struct {
	ID        string
	ProfileID uuid.UUID
	Send      chan []byte
}

// Hub tracks connections by profile id.
type Hub struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]map[*Client]struct{}
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		profiles: make(map[uuid.UUID]map[*Client]struct{}),
		logger:   logger.With().Str("component", "live").Logger(),
		now:      time.Now,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.profiles[client.ProfileID] == nil {
		h.profiles[client.ProfileID] = make(map[*Client]struct{})
	}
	h.profiles[client.ProfileID][client] = struct{}{}
}

// Unregister removes the client and closes its Send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.profiles[client.ProfileID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.profiles, client.ProfileID)
	}
	close(client.Send)
}

// Publish delivers ev to every connection of the given profiles. Slow
// clients whose buffer is full miss the event rather than block the caller.
func (h *Hub) Publish(_ context.Context, ev Event, profileIDs ...uuid.UUID) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("live event not encoded")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[uuid.UUID]bool, len(profileIDs))
	for _, id := range profileIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		for client := range h.profiles[id] {
			select {
			case client.Send <- data:
			default:
				h.logger.Debug().Str("client_id", client.ID).Msg("live event dropped, buffer full")
			}
		}
	}
}

// Close disconnects every client. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.profiles {
		for client := range set {
			close(client.Send)
		}
		delete(h.profiles, id)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.profiles {
		n += len(set)
	}
	return n
}

func (h *Hub) ProfileCount(id uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.profiles[id])
}

// Handler upgrades authenticated requests to a live feed.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections from the given browser origins. Requests
// without an Origin header (non-browser clients) are always accepted.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/live", h.Connect)
}

// Connect is open to patients and doctors. Admins take part in no
// appointment or bill and have nothing to follow.
func (h *Handler) Connect(c echo.Context) error {
	p := auth.CurrentPrincipal(c)
	if p == nil {
		return apperr.HTTPError(apperr.Unauthenticated(string(auth.ReasonUnauthenticated), "authentication required"))
	}
	if (p.Role != auth.RolePatient && p.Role != auth.RoleDoctor) || p.ProfileID == uuid.Nil {
		return apperr.HTTPError(apperr.Denied(string(auth.ReasonRoleNotPermitted)))
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		return nil
	}

	client := &Client{ID: uuid.NewString(), ProfileID: p.ProfileID, Send: make(chan []byte, sendBuffer)}
	h.hub.Register(client)
	h.hub.logger.Debug().Str("client_id", client.ID).Str("user_id", p.UserID.String()).Msg("live feed opened")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump only watches for the peer going away; clients never choose what
// they receive.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	ws.SetReadLimit(maxReadBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
