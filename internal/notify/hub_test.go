package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/facewatch/facewatch/internal/logger"
)

func startTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logger.NewNopLogger())
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Stop(ctx)
	})
	return hub
}

func dialTestClient(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		hub.Register(conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Wait for the register to land in the broadcast loop.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatal("Client never registered")
	}
	return conn
}

func TestHub_BroadcastsAlert(t *testing.T) {
	hub := startTestHub(t)
	conn := dialTestClient(t, hub)

	sent := NewAlert{
		StreamID:      3,
		Count:         2,
		ImagePath:     "stream3_20260831_120000.jpg",
		MaxConfidence: 0.97,
		Timestamp:     time.Now(),
	}
	hub.PublishAlert(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if env.Event != EventNewAlert {
		t.Errorf("Expected event %q, got %q", EventNewAlert, env.Event)
	}
	if env.ID == "" {
		t.Error("Envelope should carry a message ID")
	}

	data, _ := json.Marshal(env.Data)
	var got NewAlert
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Failed to decode alert payload: %v", err)
	}
	if got.StreamID != 3 || got.Count != 2 || got.MaxConfidence != 0.97 {
		t.Errorf("Alert payload mismatch: %+v", got)
	}
	if got.ImagePath != sent.ImagePath {
		t.Errorf("Expected image path %q, got %q", sent.ImagePath, got.ImagePath)
	}
}

func TestHub_PublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := startTestHub(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.PublishFPS(FPSUpdate{StreamID: 1, FPS: 14.9})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publishing without subscribers blocked")
	}
}

func TestHub_BroadcastDropsBrokenClient(t *testing.T) {
	hub := startTestHub(t)

	serverConns := make(chan *websocket.Conn, 2)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		serverConns <- conn
		hub.Register(conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	dial()
	healthy := dial()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 2 {
		t.Fatal("Clients never registered")
	}

	// Kill the first client's server-side connection so the next
	// broadcast write to it fails.
	broken := <-serverConns
	broken.Close()

	hub.PublishFPS(FPSUpdate{StreamID: 1, FPS: 12.5})

	healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := healthy.ReadMessage(); err != nil {
		t.Fatalf("Healthy client should still receive broadcasts: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("Broken client should be dropped, have %d clients", hub.ClientCount())
	}
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	hub := startTestHub(t)
	conn := dialTestClient(t, hub)

	hub.Unregister(conn)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Error("Client should be removed after Unregister")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(logger.NewNopLogger())
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	conn := dialTestClient(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hub.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop hub: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Reads should fail after the hub closes the connection")
	}
}
