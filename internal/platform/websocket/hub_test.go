package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/auth"
)

func newClient(profileID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), ProfileID: profileID, Send: make(chan []byte, sendBuffer)}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func TestHub_PublishReachesOnlyNamedProfiles(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	patient, doctor, stranger := uuid.New(), uuid.New(), uuid.New()
	pc, dc, sc := newClient(patient), newClient(doctor), newClient(stranger)
	hub.Register(pc)
	hub.Register(dc)
	hub.Register(sc)

	hub.Publish(context.Background(), Event{Type: "appointment.status", RecordType: "appointment", RecordID: "a1", Status: "Confirmed"}, patient, doctor)

	if ev := receive(t, pc); ev.Status != "Confirmed" || ev.Timestamp.IsZero() {
		t.Errorf("unexpected patient event %+v", ev)
	}
	if ev := receive(t, dc); ev.RecordID != "a1" {
		t.Errorf("unexpected doctor event %+v", ev)
	}
	select {
	case <-sc.Send:
		t.Error("unrelated profile must not receive the event")
	default:
	}
}

func TestHub_PublishDeduplicatesProfiles(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	c := newClient(id)
	hub.Register(c)

	hub.Publish(context.Background(), Event{Type: "bill.issued"}, id, id, uuid.Nil)
	receive(t, c)
	select {
	case <-c.Send:
		t.Error("event delivered twice")
	default:
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	c := &Client{ID: "slow", ProfileID: id, Send: make(chan []byte, 1)}
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(context.Background(), Event{Type: "bill.issued"}, id)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client buffer")
	}
}

func TestHub_UnregisterClosesOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	c := newClient(id)
	hub.Register(c)
	if hub.ProfileCount(id) != 1 {
		t.Fatalf("expected 1 connection, got %d", hub.ProfileCount(id))
	}

	hub.Unregister(c)
	hub.Unregister(c)
	if _, ok := <-c.Send; ok {
		t.Error("send channel should be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestHub_CloseDisconnectsAll(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b := newClient(uuid.New()), newClient(uuid.New())
	hub.Register(a)
	hub.Register(b)

	hub.Close()
	hub.Unregister(a)
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
	if _, ok := <-b.Send; ok {
		t.Error("send channel should be closed")
	}
}

func TestHub_ConcurrentRegisterPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	id := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient(id)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), Event{Type: "appointment.booked"}, id)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestHandler_Connect_RequiresPrincipal(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/live", nil)
	err := h.Connect(echo.New().NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_Connect_AdminDenied(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/live", nil)
	admin := &auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin, ProfileID: uuid.New()}
	req = req.WithContext(auth.WithPrincipal(req.Context(), admin))
	err := h.Connect(echo.New().NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, []string{"http://localhost:3000"})
	patient := &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient, ProfileID: uuid.New()}

	e := echo.New()
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), patient)))
			return next(c)
		}
	})
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/live"

	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.ProfileCount(patient.ProfileID) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ProfileCount(patient.ProfileID) != 1 {
		t.Fatal("connection was not bound to the patient's profile")
	}

	hub.Publish(context.Background(), Event{Type: "bill.paid", RecordType: "bill", RecordID: "b1"}, patient.ProfileID)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Type != "bill.paid" || got.RecordID != "b1" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	handler := NewHandler(NewHub(zerolog.Nop()), []string{"http://localhost:3000"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/live", nil)
	req.Header.Set("Origin", "http://evil.example")
	if handler.upgrader.CheckOrigin(req) {
		t.Error("foreign origin must be rejected")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if !handler.upgrader.CheckOrigin(req) {
		t.Error("configured origin must be accepted")
	}
}
