package meeting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meeting-agent-lab/internal/backend"
	"github.com/meeting-agent-lab/internal/logging"
	"github.com/meeting-agent-lab/internal/platform"
	"github.com/meeting-agent-lab/internal/transcode"
)

// OrchestratorOptions bounds the external operations a session performs.
type OrchestratorOptions struct {
	JoinTimeout        time.Duration
	MediaTimeout       time.Duration
	Segment            time.Duration
	SpeakerConfirm     time.Duration
	SpeakerSilence     time.Duration
	SpeakerPoll        time.Duration
	Screenshots        bool
	DefaultMaxDuration time.Duration
}

// Orchestrator drives each session through its lifecycle: allocate a slot,
// connect, join (possibly via the lobby), establish media, run the capture
// and speaker loops, and tear everything down exactly once on any exit path.
type Orchestrator struct {
	pool       *Pool
	gw         Gateway
	transcoder transcode.Transcoder
	opts       OrchestratorOptions

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id         string
	meetingURL string
	hostEmail  string
	startedAt  time.Time
	maxDur     time.Duration

	slot *Slot
	ps   platform.Session

	cancel context.CancelFunc
	pipeWG sync.WaitGroup
	once   sync.Once

	mu         sync.Mutex
	state      State
	inLobby    bool
	terminated bool
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	logging.Infow("session: state", "session_id", s.id, "state", st.String())
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	if s.slot != nil {
		idx = s.slot.Index()
	}
	return Snapshot{
		SessionID:  s.id,
		MeetingURL: s.meetingURL,
		State:      s.state.String(),
		InLobby:    s.inLobby,
		SlotIndex:  idx,
		StartedAt:  s.startedAt,
	}
}

func NewOrchestrator(pool *Pool, gw Gateway, tr transcode.Transcoder, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		pool:       pool,
		gw:         gw,
		transcoder: tr,
		opts:       opts,
		sessions:   make(map[string]*session),
	}
}

// Join puts an agent into a meeting. It returns once the session is Active,
// or immediately with InLobby set when the host has not yet admitted the
// agent; activation then continues in the background. Any failure before
// Active releases the slot and tears down partial state before returning.
func (o *Orchestrator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	maxDur := req.MaxDuration
	if maxDur == 0 {
		maxDur = o.opts.DefaultMaxDuration
	}

	s := &session{
		id:         id,
		meetingURL: req.MeetingURL,
		hostEmail:  req.HostEmail,
		startedAt:  time.Now(),
		maxDur:     maxDur,
		state:      StateAllocating,
	}

	o.mu.Lock()
	if _, dup := o.sessions[id]; dup {
		o.mu.Unlock()
		return JoinResult{}, fmt.Errorf("session %s already exists", id)
	}
	o.sessions[id] = s
	o.mu.Unlock()

	res, err := o.join(ctx, s)
	if err != nil {
		o.mu.Lock()
		delete(o.sessions, id)
		o.mu.Unlock()
		return JoinResult{}, err
	}
	return res, nil
}

func (o *Orchestrator) join(ctx context.Context, s *session) (JoinResult, error) {
	slot, err := o.pool.Acquire(ctx)
	if err != nil {
		return JoinResult{}, err
	}
	s.mu.Lock()
	s.slot = slot
	s.mu.Unlock()

	fail := func(reason string, err error) (JoinResult, error) {
		if s.ps != nil {
			_ = s.ps.Close()
		}
		slot.Release()
		s.setState(StateFailed)
		return JoinResult{}, &JoinError{Reason: reason, Err: err}
	}

	ps, err := slot.Context().NewSession(ctx, s.id)
	if err != nil {
		return fail("create platform session", err)
	}
	s.mu.Lock()
	s.ps = ps
	s.mu.Unlock()

	s.setState(StateConnecting)
	connCtx, cancel := context.WithTimeout(ctx, o.opts.JoinTimeout)
	err = ps.Connect(connCtx)
	cancel()
	if err != nil {
		return fail("connect", err)
	}

	s.setState(StateJoining)
	joinCtx, cancel := context.WithTimeout(ctx, o.opts.JoinTimeout)
	outcome, err := ps.Join(joinCtx, s.meetingURL)
	cancel()
	if err != nil {
		return fail("join", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = sessCancel
	terminated := s.terminated
	s.mu.Unlock()
	// A leave that raced the in-flight join may have consumed the teardown
	// before there was anything to cancel. Nothing may start past this point;
	// the caller gets an error, not a session that is already gone.
	if terminated {
		sessCancel()
		return fail("session ended during join", nil)
	}

	if outcome.InLobby {
		s.mu.Lock()
		s.inLobby = true
		s.mu.Unlock()
		s.setState(StateLobbyWait)
		go o.awaitAdmission(sessCtx, s)
		return JoinResult{SessionID: s.id, InLobby: true, SlotIndex: slot.Index()}, nil
	}

	if err := o.establish(ctx, s); err != nil {
		sessCancel()
		return fail("establish media", err)
	}
	if err := o.activate(sessCtx, s); err != nil {
		sessCancel()
		return fail("backend registration failed", err)
	}
	return JoinResult{SessionID: s.id, InLobby: false, SlotIndex: slot.Index()}, nil
}

// awaitAdmission blocks in the lobby until the host admits the agent, then
// completes activation. Meeting end or an error signal while waiting
// terminates the session the same way an explicit leave would.
func (o *Orchestrator) awaitAdmission(sessCtx context.Context, s *session) {
	for {
		select {
		case <-sessCtx.Done():
			return
		case sig, ok := <-s.ps.Signals():
			if !ok {
				o.terminate(s, "signal channel closed", StateFailed)
				return
			}
			switch sig.Kind {
			case platform.SignalAdmitted:
				s.mu.Lock()
				s.inLobby = false
				s.mu.Unlock()
				logging.Infow("session: admitted from lobby", "session_id", s.id)
				estCtx, cancel := context.WithTimeout(sessCtx, o.opts.MediaTimeout)
				err := o.establish(estCtx, s)
				cancel()
				if err != nil {
					logging.Errorw("session: activation after admission failed", "session_id", s.id, "err", err)
					o.terminate(s, "media establishment failed", StateFailed)
					return
				}
				if err := o.activate(sessCtx, s); err != nil {
					logging.Errorw("session: activation after admission failed", "session_id", s.id, "err", err)
					o.terminate(s, "backend registration failed", StateFailed)
					return
				}
				return
			case platform.SignalMeetingEnded:
				o.terminate(s, "meeting ended while in lobby", StateReleased)
				return
			case platform.SignalError:
				o.terminate(s, "platform error in lobby: "+sig.Reason, StateFailed)
				return
			}
		}
	}
}

// establish attaches media and waits for the audio stream to come up.
func (o *Orchestrator) establish(ctx context.Context, s *session) error {
	s.setState(StateMediaEstablishing)
	addCtx, cancel := context.WithTimeout(ctx, o.opts.MediaTimeout)
	err := s.ps.AddMedia(addCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("add media: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.opts.MediaTimeout)
	defer cancel()
	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("media readiness: %w", waitCtx.Err())
		case sig, ok := <-s.ps.Signals():
			if !ok {
				return fmt.Errorf("signal channel closed before media ready")
			}
			switch sig.Kind {
			case platform.SignalMediaReady:
				if sig.Stream == "audio" || sig.Stream == "" {
					return nil
				}
			case platform.SignalMeetingEnded:
				return fmt.Errorf("meeting ended before media ready")
			case platform.SignalError:
				return fmt.Errorf("platform error before media ready: %s", sig.Reason)
			}
		}
	}
}

// activate registers the sequencer and starts the session's three loops:
// audio segmentation, speaker polling, and signal watching. An error means
// the session never reached Active; cleanup is the caller's job.
func (o *Orchestrator) activate(sessCtx context.Context, s *session) error {
	seq, err := NewSequencer(sessCtx, o.gw, s.id)
	if err != nil {
		return err
	}

	pipe := NewPipeline(s.id, s.hostEmail, s.ps, o.transcoder, seq, o.gw, o.opts.Segment, o.opts.Screenshots)
	agg := NewAggregator(s.id, o.opts.SpeakerConfirm, o.opts.SpeakerSilence, s.ps.ParticipantName, o.emitSpeaker)

	s.pipeWG.Add(2)
	go func() {
		err := pipe.Run(sessCtx)
		s.pipeWG.Done()
		// Capture that never started is media loss; end the session the way
		// a media-stopped signal would.
		if err != nil && sessCtx.Err() == nil {
			o.terminate(s, "audio capture failed", StateFailed)
		}
	}()
	go func() {
		defer s.pipeWG.Done()
		agg.RunPoll(sessCtx, speakerSource{s.ps}, o.opts.SpeakerPoll)
	}()
	go o.watch(sessCtx, s)

	s.setState(StateActive)
	return nil
}

// watch reacts to terminal platform signals and the session's duration cap.
// Platform-initiated endings run the same cleanup path as an explicit leave.
func (o *Orchestrator) watch(sessCtx context.Context, s *session) {
	var durC <-chan time.Time
	if s.maxDur > 0 {
		t := time.NewTimer(s.maxDur)
		defer t.Stop()
		durC = t.C
	}
	for {
		select {
		case <-sessCtx.Done():
			return
		case <-durC:
			logging.Infow("session: max duration reached", "session_id", s.id, "max", s.maxDur.String())
			o.terminate(s, "max duration reached", StateReleased)
			return
		case sig, ok := <-s.ps.Signals():
			if !ok {
				o.terminate(s, "signal channel closed", StateFailed)
				return
			}
			switch sig.Kind {
			case platform.SignalMeetingEnded:
				o.terminate(s, "meeting ended", StateReleased)
				return
			case platform.SignalMediaStopped:
				o.terminate(s, "media stopped", StateReleased)
				return
			case platform.SignalError:
				o.terminate(s, "platform error: "+sig.Reason, StateFailed)
				return
			}
		}
	}
}

// Leave ends a session on request. Unknown ids return ErrSessionNotFound;
// a session already tearing down is left to finish.
func (o *Orchestrator) Leave(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	o.terminate(s, "leave requested", StateReleased)
	return nil
}

// terminate runs the full teardown exactly once: stop the loops, tell the
// backend the meeting is over, leave, close the platform session, release the
// slot. Every step runs even when an earlier one fails.
func (o *Orchestrator) terminate(s *session, reason string, final State) {
	s.once.Do(func() {
		s.mu.Lock()
		s.terminated = true
		cancel := s.cancel
		ps := s.ps
		slot := s.slot
		s.mu.Unlock()

		s.setState(StateTerminating)
		logging.Infow("session: terminating", "session_id", s.id, "reason", reason)

		if cancel != nil {
			cancel()
		}
		s.pipeWG.Wait()

		cleanCtx, cancel2 := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel2()

		now := time.Now().UTC()
		if err := o.gw.UpdateStatus(cleanCtx, s.id, false, &now); err != nil {
			logging.Warnw("session: backend status update failed", "session_id", s.id, "err", err)
		}
		if ps != nil {
			if err := ps.Leave(cleanCtx); err != nil {
				logging.Warnw("session: leave failed", "session_id", s.id, "err", err)
			}
			if err := ps.Close(); err != nil {
				logging.Warnw("session: platform session close failed", "session_id", s.id, "err", err)
			}
		}
		if slot != nil {
			slot.Release()
		}

		o.mu.Lock()
		delete(o.sessions, s.id)
		o.mu.Unlock()

		s.setState(final)
	})
}

// Status returns a point-in-time view of one session.
func (o *Orchestrator) Status(sessionID string) (Snapshot, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// Sessions lists every live session.
func (o *Orchestrator) Sessions() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Snapshot, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// PoolStats reports current pool occupancy.
func (o *Orchestrator) PoolStats() PoolStats { return o.pool.Stats() }

// Shutdown terminates every live session, then tears the pool down.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	live := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		live = append(live, s)
	}
	o.mu.Unlock()

	for _, s := range live {
		o.terminate(s, "shutdown", StateReleased)
	}
	o.pool.Shutdown(ctx)
}

func (o *Orchestrator) emitSpeaker(ev SpeakerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := o.gw.PostSpeakerEvent(ctx, backend.SpeakerEventUpload{
		SessionID:  ev.SessionID,
		MemberID:   ev.SpeakerID,
		MemberName: ev.DisplayName,
		StartedAt:  ev.StartedAt,
	})
	if err != nil {
		logging.Warnw("session: speaker event delivery failed; dropping",
			"session_id", ev.SessionID, "speaker_id", ev.SpeakerID, "err", err)
	}
}

// speakerSource adapts the platform session to the aggregator's view.
type speakerSource struct {
	ps platform.Session
}

func (s speakerSource) ActiveSpeakers(ctx context.Context) ([]string, error) {
	parts, err := s.ps.ActiveSpeakers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s speakerSource) ParticipantName(id string) string { return s.ps.ParticipantName(id) }
