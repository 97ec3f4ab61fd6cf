package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tablevox/vox-order/pkg/core"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSocketConnQueuedFramesFlushAfterDial(t *testing.T) {
	received := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q", got)
		}
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer srv.Close()

	conn := NewSocketConn(SocketConfig{URL: wsURL(srv), Secret: "sekrit"})
	defer conn.Close()

	// Frames sent before the dial must be buffered, then flushed in order.
	for _, payload := range []string{"a", "b", "c"} {
		if err := conn.Send([]byte(payload)); err != nil {
			t.Fatalf("Send before dial: %v", err)
		}
	}
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("server received %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %q", want)
		}
	}

	if err := conn.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestSocketConnDeliversInboundFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		// Keep the connection up until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := NewSocketConn(SocketConfig{URL: wsURL(srv), Secret: "s"})
	defer conn.Close()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case data := <-conn.Frames():
		if !strings.Contains(string(data), "session.created") {
			t.Fatalf("unexpected frame %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func TestSocketConnReportsDrop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close() // immediate drop
	}))
	defer srv.Close()

	conn := NewSocketConn(SocketConfig{URL: wsURL(srv), Secret: "s"})
	defer conn.Close()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case status := <-conn.StatusChanges():
			if status == StatusDisconnected {
				// Audio written after the drop is discarded silently.
				if err := conn.WriteAudio(make([]byte, 640), 20*time.Millisecond); err != nil {
					t.Fatalf("WriteAudio after drop = %v, want nil", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no disconnect status after server drop")
		}
	}
}

func TestSocketConnRejectedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	conn := NewSocketConn(SocketConfig{URL: wsURL(srv), Secret: "expired"})
	defer conn.Close()

	err := conn.Connect(context.Background())
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Code != core.CodeCredentialExpired {
		t.Fatalf("Connect = %v, want credential_expired", err)
	}
	if core.IsRetryable(err) {
		t.Fatal("credential rejection must not be retryable")
	}
}
