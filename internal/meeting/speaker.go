package meeting

import (
	"context"
	"sync"
	"time"

	"github.com/meeting-agent-lab/internal/logging"
)

// SpeakerSource is the slice of the platform session the poll loop reads.
type SpeakerSource interface {
	ActiveSpeakers(ctx context.Context) ([]string, error)
	ParticipantName(id string) string
}

// Aggregator debounces raw active-speaker observations into confirmed
// speaker-started events. Raw signals are noisy: brief cross-talk flips the
// candidate, and momentary gaps drop it entirely. A confirmation timer
// suppresses candidates that do not hold the floor long enough, and a
// separate silence timer keeps a short gap from clearing a speaker who is
// still talking.
type Aggregator struct {
	sessionID string
	confirm   time.Duration
	silence   time.Duration
	resolve   func(id string) string
	emit      func(ev SpeakerEvent)

	mu           sync.Mutex
	closed       bool
	current      string
	startedAt    time.Time
	confirmTimer *time.Timer
	confirmGen   int
	silenceTimer *time.Timer
	silenceGen   int
}

func NewAggregator(sessionID string, confirm, silence time.Duration, resolve func(id string) string, emit func(ev SpeakerEvent)) *Aggregator {
	return &Aggregator{
		sessionID: sessionID,
		confirm:   confirm,
		silence:   silence,
		resolve:   resolve,
		emit:      emit,
	}
}

// Observe processes one raw observation. Only the first candidate matters;
// the platform reports candidates loudest-first.
func (a *Aggregator) Observe(candidates []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	a.cancelSilenceLocked()

	if len(candidates) == 0 {
		if a.current != "" && a.silenceTimer == nil {
			a.silenceGen++
			gen := a.silenceGen
			a.silenceTimer = time.AfterFunc(a.silence, func() { a.silenceFired(gen) })
		}
		return
	}

	candidate := candidates[0]
	if candidate == a.current {
		return
	}

	a.cancelConfirmLocked()
	a.current = candidate
	a.startedAt = time.Now()
	a.confirmGen++
	gen := a.confirmGen
	started := a.startedAt
	a.confirmTimer = time.AfterFunc(a.confirm, func() { a.confirmFired(gen, candidate, started) })
}

func (a *Aggregator) confirmFired(gen int, candidate string, started time.Time) {
	a.mu.Lock()
	if a.closed || gen != a.confirmGen || a.current != candidate {
		a.mu.Unlock()
		return
	}
	a.confirmTimer = nil
	a.mu.Unlock()

	name := ""
	if a.resolve != nil {
		name = a.resolve(candidate)
	}
	logging.Debugw("speaker: confirmed", "session_id", a.sessionID, "speaker_id", candidate, "name", name)
	a.emit(SpeakerEvent{
		SessionID:   a.sessionID,
		SpeakerID:   candidate,
		DisplayName: name,
		StartedAt:   started,
	})
}

func (a *Aggregator) silenceFired(gen int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || gen != a.silenceGen {
		return
	}
	a.silenceTimer = nil
	a.current = ""
	a.cancelConfirmLocked()
}

func (a *Aggregator) cancelConfirmLocked() {
	if a.confirmTimer != nil {
		a.confirmTimer.Stop()
		a.confirmTimer = nil
	}
	a.confirmGen++
}

func (a *Aggregator) cancelSilenceLocked() {
	if a.silenceTimer != nil {
		a.silenceTimer.Stop()
		a.silenceTimer = nil
	}
	a.silenceGen++
}

// Close stops both timers; no events are emitted afterward.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.cancelConfirmLocked()
	a.cancelSilenceLocked()
	a.current = ""
}

// RunPoll feeds the aggregator from the session's active-speaker query at a
// fixed interval until ctx is cancelled. The conferencing surface is opaque,
// so polling at a bounded, explicit rate is the only observation channel.
func (a *Aggregator) RunPoll(ctx context.Context, src SpeakerSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Close()
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, interval)
			ids, err := src.ActiveSpeakers(callCtx)
			cancel()
			if err != nil {
				logging.Debugw("speaker: poll failed", "session_id", a.sessionID, "err", err)
				continue
			}
			a.Observe(ids)
		}
	}
}
