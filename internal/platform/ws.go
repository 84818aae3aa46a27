package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meeting-agent-lab/internal/logging"
)

// HarnessRuntime drives execution contexts hosted by the headless browser
// harness. Context lifecycle goes over plain HTTP; each session gets its own
// websocket channel carrying JSON commands, replies, and SDK events.
type HarnessRuntime struct {
	baseURL string
	token   string
	client  *http.Client
	dialer  *websocket.Dialer
}

// NewHarnessRuntime builds a runtime for the harness at baseURL. token is an
// optional bearer token included on every control call.
func NewHarnessRuntime(baseURL, token string) *HarnessRuntime {
	return &HarnessRuntime{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		dialer:  websocket.DefaultDialer,
	}
}

type launchResponse struct {
	ContextID string `json:"context_id"`
}

// Launch asks the harness to start a fresh isolated browser context.
func (r *HarnessRuntime) Launch(ctx context.Context) (ExecContext, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/contexts", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("harness launch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("harness launch: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out launchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("harness launch: decode response: %w", err)
	}
	if out.ContextID == "" {
		return nil, fmt.Errorf("harness launch: empty context_id")
	}
	logging.Infow("harness: context launched", "context_id", out.ContextID)
	return &harnessContext{runtime: r, id: out.ContextID}, nil
}

type harnessContext struct {
	runtime *HarnessRuntime
	id      string
}

func (c *harnessContext) ID() string { return c.id }

// NewSession dials the per-session websocket channel on the harness.
func (c *harnessContext) NewSession(ctx context.Context, sessionID string) (Session, error) {
	u, err := url.Parse(c.runtime.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/contexts/" + c.id + "/sessions/" + sessionID + "/channel"

	hdr := http.Header{}
	if c.runtime.token != "" {
		hdr.Set("Authorization", "Bearer "+c.runtime.token)
	}
	conn, _, err := c.runtime.dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		return nil, fmt.Errorf("harness session dial: %w", err)
	}

	s := &harnessSession{
		conn:      conn,
		sessionID: sessionID,
		pending:   make(map[int64]chan callReply),
		signals:   make(chan Signal, 16),
		roster:    make(map[string]string),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Close tears the context down on the harness side. Sessions hosted by the
// context are force-closed by the harness; their websockets will error out
// and each session's read loop exits on its own.
func (c *harnessContext) Close(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.runtime.baseURL+"/contexts/"+c.id, nil)
	if err != nil {
		return err
	}
	if c.runtime.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.runtime.token)
	}
	resp, err := c.runtime.client.Do(req)
	if err != nil {
		return fmt.Errorf("harness context close: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("harness context close: status=%d", resp.StatusCode)
	}
	return nil
}

// wire frames. A command carries ID+Method; the matching reply echoes the ID.
// Event frames have no ID and are demultiplexed into the signal channel.
type commandFrame struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type inboundFrame struct {
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type callReply struct {
	result json.RawMessage
	err    error
}

type harnessSession struct {
	conn      *websocket.Conn
	sessionID string

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan callReply
	roster  map[string]string
	closed  bool

	signals chan Signal
	done    chan struct{}
}

func (s *harnessSession) readLoop() {
	defer func() {
		s.mu.Lock()
		for id, ch := range s.pending {
			ch <- callReply{err: fmt.Errorf("session channel closed")}
			delete(s.pending, id)
		}
		s.mu.Unlock()
		close(s.signals)
		close(s.done)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				logging.Debugw("harness session: read loop ended", "session_id", s.sessionID, "err", err)
			}
			return
		}
		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			logging.Warnw("harness session: bad frame", "session_id", s.sessionID, "err", err)
			continue
		}
		if f.ID != nil {
			s.mu.Lock()
			ch, ok := s.pending[*f.ID]
			if ok {
				delete(s.pending, *f.ID)
			}
			s.mu.Unlock()
			if !ok {
				logging.Debugw("harness session: reply for unknown call", "session_id", s.sessionID, "id", *f.ID)
				continue
			}
			if f.Error != "" {
				ch <- callReply{err: fmt.Errorf("%s", f.Error)}
			} else {
				ch <- callReply{result: f.Result}
			}
			continue
		}
		s.handleEvent(f.Event, f.Params)
	}
}

func (s *harnessSession) handleEvent(event string, params json.RawMessage) {
	var sig Signal
	switch event {
	case "admitted":
		sig = Signal{Kind: SignalAdmitted}
	case "media-ready":
		var p struct {
			Stream string `json:"stream"`
		}
		_ = json.Unmarshal(params, &p)
		sig = Signal{Kind: SignalMediaReady, Stream: p.Stream}
	case "media-stopped":
		var p struct {
			Stream string `json:"stream"`
		}
		_ = json.Unmarshal(params, &p)
		sig = Signal{Kind: SignalMediaStopped, Stream: p.Stream}
	case "meeting-ended":
		sig = Signal{Kind: SignalMeetingEnded}
	case "error":
		var p struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(params, &p)
		sig = Signal{Kind: SignalError, Reason: p.Reason}
	case "roster":
		var p struct {
			Participants []Participant `json:"participants"`
		}
		if err := json.Unmarshal(params, &p); err == nil {
			s.mu.Lock()
			for _, m := range p.Participants {
				if m.ID != "" && m.Name != "" {
					s.roster[m.ID] = m.Name
				}
			}
			s.mu.Unlock()
		}
		return
	default:
		logging.Debugw("harness session: unknown event", "session_id", s.sessionID, "event", event)
		return
	}
	select {
	case s.signals <- sig:
	default:
		logging.Warnw("harness session: dropping signal; channel full", "session_id", s.sessionID, "kind", sig.Kind.String())
	}
}

// call sends one command and waits for its reply or ctx expiry.
func (s *harnessSession) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	id := s.nextID.Add(1)
	ch := make(chan callReply, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session closed")
	}
	s.pending[id] = ch
	s.mu.Unlock()

	b, err := json.Marshal(commandFrame{ID: id, Method: method, Params: raw})
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, b)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case reply := <-ch:
		if reply.err != nil {
			return nil, fmt.Errorf("%s: %w", method, reply.err)
		}
		return reply.result, nil
	}
}

func (s *harnessSession) Connect(ctx context.Context) error {
	_, err := s.call(ctx, "connect", nil)
	return err
}

func (s *harnessSession) Join(ctx context.Context, meetingURL string) (JoinOutcome, error) {
	res, err := s.call(ctx, "join", map[string]string{"meeting_url": meetingURL})
	if err != nil {
		return JoinOutcome{}, err
	}
	var out struct {
		InLobby bool `json:"in_lobby"`
	}
	if len(res) > 0 {
		if err := json.Unmarshal(res, &out); err != nil {
			return JoinOutcome{}, fmt.Errorf("join: decode result: %w", err)
		}
	}
	return JoinOutcome{InLobby: out.InLobby}, nil
}

func (s *harnessSession) AddMedia(ctx context.Context) error {
	_, err := s.call(ctx, "add_media", nil)
	return err
}

func (s *harnessSession) StartCapture(ctx context.Context) error {
	_, err := s.call(ctx, "start_capture", nil)
	return err
}

func (s *harnessSession) StopCapture(ctx context.Context) ([]byte, error) {
	res, err := s.call(ctx, "stop_capture", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("stop_capture: decode result: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(out.Payload)
	if err != nil {
		return nil, fmt.Errorf("stop_capture: decode payload: %w", err)
	}
	return data, nil
}

func (s *harnessSession) ActiveSpeakers(ctx context.Context) ([]Participant, error) {
	res, err := s.call(ctx, "active_speakers", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Speakers []Participant `json:"speakers"`
	}
	if len(res) > 0 {
		if err := json.Unmarshal(res, &out); err != nil {
			return nil, fmt.Errorf("active_speakers: decode result: %w", err)
		}
	}
	// Seed the roster from whatever the SDK reports alongside the ids.
	s.mu.Lock()
	for _, m := range out.Speakers {
		if m.ID != "" && m.Name != "" {
			s.roster[m.ID] = m.Name
		}
	}
	s.mu.Unlock()
	return out.Speakers, nil
}

func (s *harnessSession) ParticipantName(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster[id]
}

func (s *harnessSession) Screenshot(ctx context.Context) ([]byte, error) {
	res, err := s.call(ctx, "screenshot", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("screenshot: decode result: %w", err)
	}
	return base64.StdEncoding.DecodeString(out.Payload)
}

func (s *harnessSession) Leave(ctx context.Context) error {
	_, err := s.call(ctx, "leave", nil)
	return err
}

func (s *harnessSession) Signals() <-chan Signal { return s.signals }

func (s *harnessSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	err := s.conn.Close()
	<-s.done
	return err
}
