// Package platform defines the narrow interface the core drives the hosted
// conferencing SDK through. Only this package knows how execution contexts
// are actually hosted; everything above it (pool, orchestrator, pipelines)
// sees opaque contexts, sessions, and signals.
package platform

import "context"

// Runtime launches isolated execution contexts. Each context is a sandbox
// capable of hosting several concurrent meeting sessions.
type Runtime interface {
	Launch(ctx context.Context) (ExecContext, error)
}

// ExecContext is one isolated sandbox instance.
type ExecContext interface {
	ID() string
	NewSession(ctx context.Context, sessionID string) (Session, error)
	Close(ctx context.Context) error
}

// SignalKind enumerates the asynchronous signals the hosted SDK emits.
type SignalKind int

const (
	SignalAdmitted SignalKind = iota
	SignalMediaReady
	SignalMediaStopped
	SignalMeetingEnded
	SignalError
)

func (k SignalKind) String() string {
	switch k {
	case SignalAdmitted:
		return "admitted"
	case SignalMediaReady:
		return "media-ready"
	case SignalMediaStopped:
		return "media-stopped"
	case SignalMeetingEnded:
		return "meeting-ended"
	case SignalError:
		return "error"
	}
	return "unknown"
}

// Signal is one asynchronous event from the hosted SDK. Stream identifies
// the media stream type for media signals ("audio", "screen"). Reason is
// populated for error signals.
type Signal struct {
	Kind   SignalKind
	Stream string
	Reason string
}

// Participant identifies a meeting member. Name is best-effort and may be
// empty when the roster has not resolved it yet.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// JoinOutcome reports the result of a join request. InLobby means the agent
// is waiting for host admission; a SignalAdmitted follows when the host
// lets it in.
type JoinOutcome struct {
	InLobby bool
}

// Session is one meeting participation inside an execution context. All
// methods that talk to the hosted SDK take a context and respect its
// deadline; Signals delivers the SDK's asynchronous events until Close.
type Session interface {
	// Connect initializes and authenticates the hosted SDK.
	Connect(ctx context.Context) error
	// Join requests entry into the meeting. A lobby outcome is not an error.
	Join(ctx context.Context, meetingURL string) (JoinOutcome, error)
	// AddMedia attaches the audio (and optional screen-share) streams.
	// Readiness arrives asynchronously as SignalMediaReady.
	AddMedia(ctx context.Context) error

	// StartCapture begins accumulating audio into a fresh capture unit.
	StartCapture(ctx context.Context) error
	// StopCapture finalizes the current capture unit and returns its
	// compressed, framed payload.
	StopCapture(ctx context.Context) ([]byte, error)

	// ActiveSpeakers reports the SDK's current active-speaker candidates,
	// most confident first. An empty slice means silence.
	ActiveSpeakers(ctx context.Context) ([]Participant, error)
	// ParticipantName resolves a display name from the cached roster.
	// Returns "" when unknown.
	ParticipantName(id string) string

	// Screenshot captures the current screen-share surface as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Leave exits the meeting. Safe to call on an already-ended session.
	Leave(ctx context.Context) error

	Signals() <-chan Signal
	Close() error
}
