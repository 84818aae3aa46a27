package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestWSConnectionCarriesJSONRPC(t *testing.T) {
	upgrader := websocket.Upgrader{}
	got := make(chan string, 1)
	ids := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		mc, err := newWSTransport(conn).Connect(context.Background())
		if err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		defer mc.Close()
		ids <- mc.SessionID()

		msg, err := mc.Read(context.Background())
		if err != nil {
			t.Errorf("read: %v", err)
			return
		}
		data, err := jsonrpc.EncodeMessage(msg)
		if err != nil {
			t.Errorf("encode: %v", err)
			return
		}
		got <- string(data)

		if err := mc.Write(context.Background(), msg); err != nil {
			t.Errorf("write: %v", err)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		return conn
	}

	conn := dial()
	defer conn.Close()
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	select {
	case s := <-got:
		if !strings.Contains(s, `"ping"`) {
			t.Fatalf("unexpected decoded message %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never decoded the request")
	}
	// The echoed frame comes back over the same socket.
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !strings.Contains(string(data), `"ping"`) {
		t.Fatalf("unexpected echo %s", data)
	}

	// A second connection gets a distinct session id.
	conn2 := dial()
	defer conn2.Close()
	if err := conn2.WriteMessage(websocket.BinaryMessage, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	<-got

	id1, id2 := <-ids, <-ids
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("want distinct session ids per connection, got %q and %q", id1, id2)
	}
}

var _ mcp.Transport = (*wsTransport)(nil)
