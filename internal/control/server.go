// Package control exposes the agent's operations as MCP tools over a
// websocket endpoint, for operator tooling and automation that speaks the
// protocol instead of plain HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meeting-agent-lab/internal/logging"
	"github.com/meeting-agent-lab/internal/meeting"
)

type Server struct {
	orch     *meeting.Orchestrator
	mcp      *sdk.Server
	upgrader websocket.Upgrader
}

func NewServer(orch *meeting.Orchestrator) *Server {
	s := &Server{orch: orch}
	s.mcp = sdk.NewServer(&sdk.Implementation{Name: "meeting-agent", Version: "1.0.0"}, nil)
	s.registerTools()
	return s
}

type joinArgs struct {
	MeetingURL         string `json:"meeting_url"`
	SessionID          string `json:"session_id,omitempty"`
	HostEmail          string `json:"host_email,omitempty"`
	MaxDurationMinutes int    `json:"max_duration_minutes,omitempty"`
}

type leaveArgs struct {
	SessionID string `json:"session_id"`
}

type statusArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "join_meeting", Description: "join a meeting and start recording"},
		func(ctx context.Context, req *sdk.CallToolRequest, args joinArgs) (*sdk.CallToolResult, any, error) {
			res, err := s.orch.Join(ctx, meeting.JoinRequest{
				MeetingURL:  args.MeetingURL,
				SessionID:   args.SessionID,
				HostEmail:   args.HostEmail,
				MaxDuration: time.Duration(args.MaxDurationMinutes) * time.Minute,
			})
			if err != nil {
				return nil, nil, err
			}
			return textResult(res)
		})

	sdk.AddTool(s.mcp, &sdk.Tool{Name: "leave_meeting", Description: "leave a meeting and finalize the session"},
		func(ctx context.Context, req *sdk.CallToolRequest, args leaveArgs) (*sdk.CallToolResult, any, error) {
			if err := s.orch.Leave(ctx, args.SessionID); err != nil {
				if errors.Is(err, meeting.ErrSessionNotFound) {
					return nil, nil, fmt.Errorf("session %s not found", args.SessionID)
				}
				return nil, nil, err
			}
			return textResult(map[string]bool{"success": true})
		})

	sdk.AddTool(s.mcp, &sdk.Tool{Name: "session_status", Description: "report one session's lifecycle state"},
		func(ctx context.Context, req *sdk.CallToolRequest, args statusArgs) (*sdk.CallToolResult, any, error) {
			snap, err := s.orch.Status(args.SessionID)
			if err != nil {
				return nil, nil, fmt.Errorf("session %s not found", args.SessionID)
			}
			return textResult(snap)
		})

	sdk.AddTool(s.mcp, &sdk.Tool{Name: "pool_stats", Description: "report execution context pool occupancy"},
		func(ctx context.Context, req *sdk.CallToolRequest, args struct{}) (*sdk.CallToolResult, any, error) {
			return textResult(s.orch.PoolStats())
		})
}

func textResult(v interface{}) (*sdk.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(data)}},
	}, nil, nil
}

// ServeWS upgrades the request and binds the MCP server to the socket. Each
// connection gets its own session; the handler returns immediately and the
// session runs until the peer disconnects.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("control: ws upgrade failed", "err", err)
		return
	}
	t := newWSTransport(conn)
	go func() {
		session, err := s.mcp.Connect(context.Background(), t, nil)
		if err != nil {
			logging.Warnw("control: mcp connect failed", "err", err)
			_ = conn.Close()
			return
		}
		if err := session.Wait(); err != nil {
			logging.Debugw("control: mcp session ended", "err", err)
		}
	}()
}
