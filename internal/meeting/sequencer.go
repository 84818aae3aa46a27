package meeting

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/meeting-agent-lab/internal/backend"
	"github.com/meeting-agent-lab/internal/logging"
)

// Sequencer owns a session's chunk numbering and the handoff to the backend.
// Numbering resumes across restarts: the counter starts at the highest
// sequence the backend has persisted, so a restarted session continues the
// same logical stream instead of colliding at 1.
type Sequencer struct {
	sessionID string
	gw        Gateway
	counter   atomic.Int64
}

// NewSequencer registers the session with the backend and seeds the counter
// from the last persisted sequence number (0 when the session is new).
func NewSequencer(ctx context.Context, gw Gateway, sessionID string) (*Sequencer, error) {
	last, err := gw.RegisterSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resume sequence for session %s: %w", sessionID, err)
	}
	s := &Sequencer{sessionID: sessionID, gw: gw}
	s.counter.Store(last)
	if last > 0 {
		logging.Infow("sequencer: resuming", "session_id", sessionID, "last_sequence", last)
	}
	return s, nil
}

// Next atomically assigns the next sequence number. The pipeline is the only
// producer, one chunk in flight at a time, so numbers are strictly
// increasing with no duplicates.
func (s *Sequencer) Next() int64 {
	return s.counter.Add(1)
}

// Deliver sends one chunk to the backend. There is no local durable queue:
// a failure is logged and the chunk is dropped, a deliberate trade of
// guaranteed delivery for simplicity and bounded memory.
func (s *Sequencer) Deliver(ctx context.Context, chunk backend.ChunkUpload) error {
	if err := s.gw.UploadChunk(ctx, chunk); err != nil {
		logging.Warnw("sequencer: chunk delivery failed; dropping",
			"session_id", s.sessionID, "sequence", chunk.Sequence, "bytes", len(chunk.WAV), "err", err)
		return err
	}
	logging.Debugw("sequencer: chunk delivered", "session_id", s.sessionID, "sequence", chunk.Sequence, "bytes", len(chunk.WAV))
	return nil
}
