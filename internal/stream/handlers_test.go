package stream

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

// queryAuth stands in for the JWT middleware: ?user= becomes the user id.
func queryAuth(c *fiber.Ctx) error {
	if user := c.Query("user"); user != "" {
		c.Locals("user_id", user)
	}
	return c.Next()
}

func serve(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, queryAuth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String() + "/stream/ws"
}

func waitForClient(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Clients(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client for %s never registered", userID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil), queryAuth)

	req := httptest.NewRequest(http.MethodGet, "/stream/ws?user=user-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 for non-websocket request, got %d", resp.StatusCode)
	}
}

func TestStreamHandlersRejectAnonymousDial(t *testing.T) {
	hub := NewHub(nil)
	url := serve(t, hub)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatalf("expected anonymous dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
	if hub.Clients("") != 0 {
		t.Fatalf("anonymous client must not be registered")
	}
}

func TestStreamHandlersWebsocketBroadcast(t *testing.T) {
	hub := NewHub(nil)
	conn, _, err := websocket.DefaultDialer.Dial(serve(t, hub)+"?user=user-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	waitForClient(t, hub, "user-1")
	hub.Broadcast("user-2", []byte("not yours"))
	hub.Broadcast("user-1", []byte("hello"))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("unexpected message %q", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("client")); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func TestStreamHandlersWebsocketCloseUnregisters(t *testing.T) {
	hub := NewHub(nil)
	conn, _, err := websocket.DefaultDialer.Dial(serve(t, hub)+"?user=user-3", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	waitForClient(t, hub, "user-3")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients("user-3") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("closed client still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Broadcast("user-3", []byte("ping"))
}
