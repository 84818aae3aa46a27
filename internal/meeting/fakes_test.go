package meeting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meeting-agent-lab/internal/backend"
	"github.com/meeting-agent-lab/internal/platform"
)

// fakeRuntime launches fakeContexts and counts launches.
type fakeRuntime struct {
	mu          sync.Mutex
	launches    int
	failWith    error
	launchDelay time.Duration
	newSession  func(sessionID string) *fakeSession
}

func (r *fakeRuntime) Launch(ctx context.Context) (platform.ExecContext, error) {
	r.mu.Lock()
	failWith := r.failWith
	delay := r.launchDelay
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if failWith != nil {
		return nil, failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches++
	return &fakeContext{id: fmt.Sprintf("ctx-%d", r.launches), newSession: r.newSession}, nil
}

func (r *fakeRuntime) launchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

type fakeContext struct {
	id     string
	mu     sync.Mutex
	closed bool

	newSession func(sessionID string) *fakeSession
}

func (c *fakeContext) ID() string { return c.id }

func (c *fakeContext) NewSession(ctx context.Context, sessionID string) (platform.Session, error) {
	if c.newSession != nil {
		return c.newSession(sessionID), nil
	}
	return newFakeSession(), nil
}

func (c *fakeContext) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// fakeSession is a scriptable platform session. AddMedia pushes a media-ready
// signal so the establishment wait completes without a real harness.
type fakeSession struct {
	signals chan platform.Signal

	// connectHold, when set, blocks Connect until the channel closes.
	connectHold chan struct{}

	mu            sync.Mutex
	connectErr    error
	joinErr       error
	startErr      error
	inLobby       bool
	payload       []byte
	speakers      []platform.Participant
	names         map[string]string
	leaveCalled   bool
	closeCalled   bool
	startCount    int
	stopCount     int
	suppressMedia bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		signals: make(chan platform.Signal, 16),
		payload: []byte("opus-frames"),
		names:   map[string]string{},
	}
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	hold := s.connectHold
	err := s.connectErr
	s.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return err
}

func (s *fakeSession) Join(ctx context.Context, meetingURL string) (platform.JoinOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		return platform.JoinOutcome{}, s.joinErr
	}
	return platform.JoinOutcome{InLobby: s.inLobby}, nil
}

func (s *fakeSession) AddMedia(ctx context.Context) error {
	s.mu.Lock()
	suppress := s.suppressMedia
	s.mu.Unlock()
	if !suppress {
		s.signals <- platform.Signal{Kind: platform.SignalMediaReady, Stream: "audio"}
	}
	return nil
}

func (s *fakeSession) StartCapture(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCount++
	return s.startErr
}

func (s *fakeSession) StopCapture(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.stopCount++
	p := s.payload
	s.mu.Unlock()
	return p, nil
}

func (s *fakeSession) ActiveSpeakers(ctx context.Context) ([]platform.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakers, nil
}

func (s *fakeSession) ParticipantName(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[id]
}

func (s *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (s *fakeSession) Leave(ctx context.Context) error {
	s.mu.Lock()
	s.leaveCalled = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Signals() <-chan platform.Signal { return s.signals }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closeCalled = true
	s.mu.Unlock()
	return nil
}

// fakeGateway records every backend interaction.
type fakeGateway struct {
	mu            sync.Mutex
	lastSequence  int64
	registerErr   error
	uploadErr     error
	statusErr     error
	chunks        []backend.ChunkUpload
	speakerEvents []backend.SpeakerEventUpload
	screenshots   []backend.ScreenshotUpload
	statusCalls   []bool
}

func (g *fakeGateway) RegisterSession(ctx context.Context, sessionID string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.registerErr != nil {
		return 0, g.registerErr
	}
	return g.lastSequence, nil
}

func (g *fakeGateway) UploadChunk(ctx context.Context, chunk backend.ChunkUpload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.uploadErr != nil {
		return g.uploadErr
	}
	g.chunks = append(g.chunks, chunk)
	return nil
}

func (g *fakeGateway) PostSpeakerEvent(ctx context.Context, ev backend.SpeakerEventUpload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speakerEvents = append(g.speakerEvents, ev)
	return nil
}

func (g *fakeGateway) UploadScreenshot(ctx context.Context, shot backend.ScreenshotUpload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.screenshots = append(g.screenshots, shot)
	return nil
}

func (g *fakeGateway) UpdateStatus(ctx context.Context, sessionID string, active bool, leaveTime *time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls = append(g.statusCalls, active)
	return g.statusErr
}

func (g *fakeGateway) chunkSequences() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, 0, len(g.chunks))
	for _, c := range g.chunks {
		out = append(out, c.Sequence)
	}
	return out
}

// fakeTranscoder passes payloads through, failing on ones marked bad.
type fakeTranscoder struct {
	failOn string
}

func (t *fakeTranscoder) Transcode(payload []byte) ([]byte, error) {
	if t.failOn != "" && string(payload) == t.failOn {
		return nil, fmt.Errorf("corrupt segment")
	}
	return append([]byte("wav:"), payload...), nil
}
