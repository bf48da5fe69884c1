package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/methodiva/littleLetters/models"
)

func TestDecodePacket(t *testing.T) {
	if _, err := decodePacket([]byte{0, 1}); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("Expected ErrShortBuffer for a short header, got %v", err)
	}
	if _, err := decodePacket([]byte{0, 1, 0, 5, 'a'}); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("Expected ErrShortBuffer for a truncated body, got %v", err)
	}

	p, err := decodePacket([]byte{0x01, 0x2d, 0, 2, 'h', 'i', 'x'})
	if err != nil {
		t.Fatalf("decodePacket failed: %v", err)
	}
	if p.MsgID != MsgTypeGameEvent || string(p.Data) != "hi" || p.Length != 2 {
		t.Errorf("Unexpected packet %+v", p)
	}
}

func TestHTTPTransport_Send(t *testing.T) {
	var got models.Request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"not your turn"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, time.Second)
	status, body, err := tr.Send(context.Background(), models.Request{
		EventType: models.RequestPlayChance,
		DeviceID:  "dev-a",
		GameID:    "g1",
		Chances:   models.IntPtr(0),
	}, "tok")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if status != http.StatusConflict || !strings.Contains(string(body), "not your turn") {
		t.Errorf("Unexpected response %d %s", status, body)
	}
	if auth != "Bearer tok" {
		t.Errorf("Expected bearer token, got %q", auth)
	}
	if got.EventType != models.RequestPlayChance || got.Chances == nil || *got.Chances != 0 {
		t.Errorf("Unexpected request on the wire %+v", got)
	}
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, _, err := NewHTTPTransport(url, time.Second).Send(context.Background(), models.Request{}, ""); err == nil {
		t.Error("Expected an error for a closed server")
	}
}

func TestWSEventChannel_ReceivesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authSeen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authSeen <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConnection(ws)
		defer conn.Close()
		conn.Send(MsgTypeHeartbeat, nil)
		conn.Send(MsgTypeGameEvent, []byte(`{"gameId":"g1","eventType":"gameOver"}`))
		// wait for the heartbeat reply or the client going away
		conn.ReadPacket()
		conn.ReadPacket()
	}))
	defer srv.Close()

	ch := NewWSEventChannel("ws" + strings.TrimPrefix(srv.URL, "http"))
	payloads := make(chan []byte, 1)
	lost := make(chan error, 1)
	if err := ch.Subscribe(context.Background(), "tok", func(p []byte) { payloads <- p }, func(err error) { lost <- err }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := ch.Subscribe(context.Background(), "tok", func([]byte) {}, nil); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("Expected ErrAlreadySubscribed, got %v", err)
	}

	if got := <-authSeen; got != "Bearer tok" {
		t.Errorf("Expected bearer token on handshake, got %q", got)
	}
	select {
	case p := <-payloads:
		if !strings.Contains(string(p), `"gameOver"`) {
			t.Errorf("Unexpected payload %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}

	if err := ch.Close(); err != nil {
		t.Logf("Close returned %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	select {
	case err := <-lost:
		t.Errorf("Expected Close not to report a lost channel, got %v", err)
	default:
	}
}

func TestWSEventChannel_ReportsDropAndResubscribes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConnection(ws)
		conn.Send(MsgTypeGameEvent, []byte(`{"gameId":"g1","eventType":"wordPlayed"}`))
		conn.Close()
	}))
	defer srv.Close()

	ch := NewWSEventChannel("ws" + strings.TrimPrefix(srv.URL, "http"))
	defer ch.Close()
	payloads := make(chan []byte, 2)
	lost := make(chan error, 2)
	subscribe := func() {
		t.Helper()
		err := ch.Subscribe(context.Background(), "tok", func(p []byte) { payloads <- p }, func(err error) { lost <- err })
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		subscribe()
		select {
		case <-payloads:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: timed out waiting for event", i)
		}
		select {
		case err := <-lost:
			if err == nil {
				t.Errorf("round %d: expected the read error, got nil", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: expected the drop to be reported", i)
		}
	}
}

func TestWSConnection_SendTooLarge(t *testing.T) {
	c := &WSConnection{}
	if err := c.Send(MsgTypeGameEvent, make([]byte, 70000)); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("Expected ErrPacketTooLarge, got %v", err)
	}
}
