// Package meeting contains the core of the agent runner: the execution-context
// pool, the per-session lifecycle orchestrator, the audio segmentation
// pipeline with its delivery sequencer, and the speaker-event aggregator.
package meeting

import (
	"context"
	"time"

	"github.com/meeting-agent-lab/internal/backend"
)

// State is a session's lifecycle position. Transitions are driven by the
// orchestrator; Failed is reachable from every non-terminal state.
type State int

const (
	StateAllocating State = iota
	StateConnecting
	StateJoining
	StateLobbyWait
	StateMediaEstablishing
	StateActive
	StateTerminating
	StateReleased
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAllocating:
		return "allocating"
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateLobbyWait:
		return "lobby-wait"
	case StateMediaEstablishing:
		return "media-establishing"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateReleased:
		return "released"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// JoinRequest asks the orchestrator to put an agent into a meeting.
// SessionID is optional; one is generated when empty. MaxDuration of zero
// means the configured default (which may itself be unlimited).
type JoinRequest struct {
	MeetingURL  string
	SessionID   string
	HostEmail   string
	MaxDuration time.Duration
}

// JoinResult is returned to the control surface. InLobby means the agent is
// waiting for host admission; media capture starts after admission.
type JoinResult struct {
	SessionID string `json:"session_id"`
	InLobby   bool   `json:"in_lobby"`
	SlotIndex int    `json:"slot_index"`
}

// Snapshot is a point-in-time view of one session.
type Snapshot struct {
	SessionID  string    `json:"session_id"`
	MeetingURL string    `json:"meeting_url"`
	State      string    `json:"state"`
	InLobby    bool      `json:"in_lobby"`
	SlotIndex  int       `json:"slot_index"`
	StartedAt  time.Time `json:"started_at"`
}

// SpeakerEvent is one debounced "speaker started" observation.
type SpeakerEvent struct {
	SessionID   string
	SpeakerID   string
	DisplayName string
	StartedAt   time.Time
}

// ContextStats is the occupancy of one execution context.
type ContextStats struct {
	Index     int    `json:"index"`
	ContextID string `json:"context_id"`
	Occupied  int    `json:"occupied"`
	Capacity  int    `json:"capacity"`
}

// PoolStats is an on-demand occupancy report; never persisted.
type PoolStats struct {
	ContextsLaunched int            `json:"contexts_launched"`
	SlotsPerContext  int            `json:"slots_per_context"`
	TotalCapacity    int            `json:"total_capacity"`
	OccupiedSlots    int            `json:"occupied_slots"`
	Contexts         []ContextStats `json:"contexts"`
}

// Gateway is the backend boundary the core talks to. *backend.Client
// implements it; tests substitute fakes.
type Gateway interface {
	RegisterSession(ctx context.Context, sessionID string) (int64, error)
	UploadChunk(ctx context.Context, chunk backend.ChunkUpload) error
	PostSpeakerEvent(ctx context.Context, ev backend.SpeakerEventUpload) error
	UploadScreenshot(ctx context.Context, shot backend.ScreenshotUpload) error
	UpdateStatus(ctx context.Context, sessionID string, active bool, leaveTime *time.Time) error
}
