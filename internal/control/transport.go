package control

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meeting-agent-lab/internal/logging"
)

// wsTransport bridges one accepted websocket to the MCP SDK's transport
// interface so the server can speak JSON-RPC over it. Each connection gets
// its own session id so concurrent control clients stay distinguishable in
// the logs.
type wsTransport struct{ conn *websocket.Conn }

func newWSTransport(conn *websocket.Conn) mcp.Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	c := &wsConnection{conn: t.conn, sessionID: uuid.NewString()}
	logging.Debugw("control: client connected", "mcp_session", c.sessionID, "remote", t.conn.RemoteAddr().String())
	return c, nil
}

type wsConnection struct {
	conn      *websocket.Conn
	sessionID string
}

func (c *wsConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logging.Debugw("control: client disconnected", "mcp_session", c.sessionID)
		}
		return nil, err
	}
	return jsonrpc.DecodeMessage(data)
}

func (c *wsConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConnection) Close() error      { return c.conn.Close() }
func (c *wsConnection) SessionID() string { return c.sessionID }
