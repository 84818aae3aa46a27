// Package backend is the HTTP client for the collaborating backend service:
// session registration/resume, audio chunk upload, speaker events, screenshot
// upload, and session status patches. Every call is single-attempt with a
// bounded timeout; retry policy belongs to callers that want one.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ChunkUpload is one canonical-format audio segment bound for storage.
type ChunkUpload struct {
	SessionID string
	Sequence  int64
	HostEmail string
	StartedAt time.Time
	EndedAt   time.Time
	WAV       []byte
}

// SpeakerEventUpload is one debounced speaker-started event.
type SpeakerEventUpload struct {
	SessionID  string
	MemberID   string
	MemberName string
	StartedAt  time.Time
}

// ScreenshotUpload is one screen-share capture tied to an audio chunk.
type ScreenshotUpload struct {
	SessionID  string
	Sequence   int64
	CapturedAt time.Time
	PNG        []byte
}

type registerResponse struct {
	SessionID         string `json:"session_id"`
	LastChunkSequence int64  `json:"last_chunk_sequence"`
}

// RegisterSession registers (or resumes) a session and returns the highest
// chunk sequence number the backend has persisted for it, 0 if none. The
// delivery sequencer continues from that value so a restarted session never
// collides with previously stored chunks.
func (c *Client) RegisterSession(ctx context.Context, sessionID string) (int64, error) {
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	resp, err := c.doJSON(ctx, "POST", "/api/sessions/register", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("register session: status=%d", resp.StatusCode)
	}
	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("register session: decode response: %w", err)
	}
	return out.LastChunkSequence, nil
}

// UploadChunk posts one audio chunk as a multipart form. Field names match
// the backend's chunk endpoint: meeting_id, chunk_id, host_email plus the
// segment's wall-clock bounds and the WAV payload as audio_file.
func (c *Client) UploadChunk(ctx context.Context, chunk ChunkUpload) error {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	_ = w.WriteField("meeting_id", chunk.SessionID)
	_ = w.WriteField("chunk_id", strconv.FormatInt(chunk.Sequence, 10))
	if chunk.HostEmail != "" {
		_ = w.WriteField("host_email", chunk.HostEmail)
	}
	_ = w.WriteField("started_at", chunk.StartedAt.UTC().Format(time.RFC3339Nano))
	_ = w.WriteField("ended_at", chunk.EndedAt.UTC().Format(time.RFC3339Nano))
	fw, err := w.CreateFormFile("audio_file", fmt.Sprintf("chunk_%d.wav", chunk.Sequence))
	if err != nil {
		return err
	}
	if _, err := fw.Write(chunk.WAV); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	resp, err := c.do(ctx, "POST", "/api/audio/chunk", buf.Bytes(), w.FormDataContentType())
	if err != nil {
		return fmt.Errorf("upload chunk seq=%d: %w", chunk.Sequence, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload chunk seq=%d: status=%d body=%s", chunk.Sequence, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// PostSpeakerEvent records a confirmed speaker-started event.
func (c *Client) PostSpeakerEvent(ctx context.Context, ev SpeakerEventUpload) error {
	body, _ := json.Marshal(map[string]interface{}{
		"meeting_id":         ev.SessionID,
		"member_id":          ev.MemberID,
		"member_name":        ev.MemberName,
		"speaker_started_at": ev.StartedAt.UTC().Format(time.RFC3339Nano),
	})
	resp, err := c.doJSON(ctx, "POST", "/api/events/speaker-started", body)
	if err != nil {
		return fmt.Errorf("speaker event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("speaker event: status=%d", resp.StatusCode)
	}
	return nil
}

// UploadScreenshot posts one screen-share PNG tied to a chunk sequence.
func (c *Client) UploadScreenshot(ctx context.Context, shot ScreenshotUpload) error {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	_ = w.WriteField("meeting_id", shot.SessionID)
	_ = w.WriteField("chunk_id", strconv.FormatInt(shot.Sequence, 10))
	_ = w.WriteField("captured_at", shot.CapturedAt.UTC().Format(time.RFC3339Nano))
	fw, err := w.CreateFormFile("screenshot_file", fmt.Sprintf("capture_%d.png", shot.Sequence))
	if err != nil {
		return err
	}
	if _, err := fw.Write(shot.PNG); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	resp, err := c.do(ctx, "POST", "/api/screenshots/capture", buf.Bytes(), w.FormDataContentType())
	if err != nil {
		return fmt.Errorf("upload screenshot seq=%d: %w", shot.Sequence, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload screenshot seq=%d: status=%d", shot.Sequence, resp.StatusCode)
	}
	return nil
}

// UpdateStatus patches the session's active flag; leaveTime, when non-nil,
// records when the agent left.
func (c *Client) UpdateStatus(ctx context.Context, sessionID string, active bool, leaveTime *time.Time) error {
	payload := map[string]interface{}{"is_active": active}
	if leaveTime != nil {
		payload["actual_leave_time"] = leaveTime.UTC().Format(time.RFC3339Nano)
	}
	body, _ := json.Marshal(payload)
	resp, err := c.doJSON(ctx, "PATCH", "/api/meetings/"+sessionID+"/status", body)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("update status: status=%d", resp.StatusCode)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	return c.do(ctx, method, path, body, "application/json")
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}
