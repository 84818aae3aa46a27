package meeting

import (
	"context"
	"fmt"
	"time"

	"github.com/meeting-agent-lab/internal/backend"
	"github.com/meeting-agent-lab/internal/logging"
	"github.com/meeting-agent-lab/internal/transcode"
)

// CaptureSource is the slice of the platform session the pipeline drives.
type CaptureSource interface {
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Pipeline turns a session's continuous media stream into fixed-duration
// canonical chunks. Each cycle stops the current capture unit, immediately
// starts the next one so no audio is lost between segments, then transcodes
// and hands off the finished segment.
type Pipeline struct {
	sessionID   string
	hostEmail   string
	source      CaptureSource
	transcoder  transcode.Transcoder
	seq         *Sequencer
	gw          Gateway
	segment     time.Duration
	screenshots bool
	callTimeout time.Duration
}

func NewPipeline(sessionID, hostEmail string, source CaptureSource, tr transcode.Transcoder, seq *Sequencer, gw Gateway, segment time.Duration, screenshots bool) *Pipeline {
	return &Pipeline{
		sessionID:   sessionID,
		hostEmail:   hostEmail,
		source:      source,
		transcoder:  tr,
		seq:         seq,
		gw:          gw,
		segment:     segment,
		screenshots: screenshots,
		callTimeout: 15 * time.Second,
	}
}

// Run executes the segmentation loop until ctx is cancelled. The partial
// segment in flight at cancellation is discarded, never emitted. A non-nil
// error means capture never started and no audio will ever flow.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.StartCapture(ctx); err != nil {
		logging.Errorw("pipeline: initial capture start failed", "session_id", p.sessionID, "err", err)
		return fmt.Errorf("start capture: %w", err)
	}
	logging.Infow("pipeline: started", "session_id", p.sessionID, "segment", p.segment.String())

	ticker := time.NewTicker(p.segment)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Release the capture unit on the harness side; the partial
			// payload is discarded.
			stopCtx, cancel := context.WithTimeout(context.Background(), p.callTimeout)
			if _, err := p.source.StopCapture(stopCtx); err != nil {
				logging.Debugw("pipeline: final capture stop failed", "session_id", p.sessionID, "err", err)
			}
			cancel()
			logging.Infow("pipeline: stopped", "session_id", p.sessionID)
			return nil
		case <-ticker.C:
			p.rotate(ctx)
		}
	}
}

// rotate closes out one segment and ships it.
func (p *Pipeline) rotate(ctx context.Context) {
	end := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	payload, err := p.source.StopCapture(callCtx)
	cancel()

	// Restart capture before any processing so the next segment loses
	// nothing while we transcode this one.
	startCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	if serr := p.source.StartCapture(startCtx); serr != nil {
		logging.Errorw("pipeline: capture restart failed", "session_id", p.sessionID, "err", serr)
	}
	cancel()

	if err != nil {
		logging.Warnw("pipeline: capture stop failed; segment lost", "session_id", p.sessionID, "err", err)
		return
	}

	// The sequence number is assigned before transcoding. A transcode
	// failure therefore leaves a permanent, visible gap in the sequence
	// rather than silently reusing the number.
	seqNum := p.seq.Next()
	wav, err := p.transcoder.Transcode(payload)
	if err != nil {
		logging.Warnw("pipeline: transcode failed; dropping segment",
			"session_id", p.sessionID, "sequence", seqNum, "payload_bytes", len(payload), "err", err)
		return
	}

	chunk := backend.ChunkUpload{
		SessionID: p.sessionID,
		Sequence:  seqNum,
		HostEmail: p.hostEmail,
		StartedAt: end.Add(-p.segment),
		EndedAt:   end,
		WAV:       wav,
	}
	deliverCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	_ = p.seq.Deliver(deliverCtx, chunk)
	cancel()

	if p.screenshots {
		p.captureScreenshot(ctx, seqNum, end)
	}
}

// captureScreenshot grabs the screen-share surface for this segment and
// uploads it under the chunk's sequence number. Best-effort on both sides.
func (p *Pipeline) captureScreenshot(ctx context.Context, seqNum int64, capturedAt time.Time) {
	shotCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	png, err := p.source.Screenshot(shotCtx)
	if err != nil {
		logging.Debugw("pipeline: screenshot capture failed", "session_id", p.sessionID, "sequence", seqNum, "err", err)
		return
	}
	if len(png) == 0 {
		return
	}
	if err := p.gw.UploadScreenshot(shotCtx, backend.ScreenshotUpload{
		SessionID:  p.sessionID,
		Sequence:   seqNum,
		CapturedAt: capturedAt,
		PNG:        png,
	}); err != nil {
		logging.Warnw("pipeline: screenshot upload failed; dropping", "session_id", p.sessionID, "sequence", seqNum, "err", err)
	}
}
