package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meeting-agent-lab/internal/backend"
	"github.com/meeting-agent-lab/internal/config"
	"github.com/meeting-agent-lab/internal/control"
	"github.com/meeting-agent-lab/internal/httpapi"
	"github.com/meeting-agent-lab/internal/logging"
	"github.com/meeting-agent-lab/internal/meeting"
	"github.com/meeting-agent-lab/internal/platform"
	"github.com/meeting-agent-lab/internal/transcode"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "agent",
		Short: "Meeting recording agent",
		Long:  "Joins conference meetings inside sandboxed execution contexts, records audio in fixed segments, and streams chunks plus speaker events to the notes backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	sugar := logging.Init()
	if sugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		sugar = l.Sugar()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw := backend.NewClient(cfg.BackendURL, cfg.BackendToken)
	runtime := platform.NewHarnessRuntime(cfg.HarnessURL, cfg.HarnessToken)
	pool := meeting.NewPool(runtime, cfg.MaxContexts, cfg.SlotsPerContext, cfg.LaunchTimeout)
	tr := transcode.NewOpusTranscoder(cfg.SampleRate, cfg.Channels)

	orch := meeting.NewOrchestrator(pool, gw, tr, meeting.OrchestratorOptions{
		JoinTimeout:        cfg.JoinTimeout,
		MediaTimeout:       cfg.MediaTimeout,
		Segment:            cfg.SegmentDuration(),
		SpeakerConfirm:     time.Duration(cfg.SpeakerConfirmMs) * time.Millisecond,
		SpeakerSilence:     time.Duration(cfg.SpeakerSilenceMs) * time.Millisecond,
		SpeakerPoll:        time.Duration(cfg.SpeakerPollMs) * time.Millisecond,
		Screenshots:        cfg.ScreenshotsEnabled,
		DefaultMaxDuration: time.Duration(cfg.MaxDurationMinutes) * time.Minute,
	})

	api := httpapi.NewServer(orch)
	ctl := control.NewServer(orch)

	mux := http.NewServeMux()
	mux.Handle("/", api)
	mux.HandleFunc("/mcp/ws", ctl.ServeWS)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("control surface listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Optional dedicated MCP listener; tooling that cannot share the control
	// port connects here instead.
	if cfg.MCPListenAddr != "" {
		mcpMux := http.NewServeMux()
		mcpMux.HandleFunc("/mcp/ws", ctl.ServeWS)
		go func() {
			sugar.Infow("mcp listening", "addr", cfg.MCPListenAddr)
			if err := http.ListenAndServe(cfg.MCPListenAddr, mcpMux); err != nil {
				sugar.Warnw("mcp listener exited", "err", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		sugar.Infow("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		sugar.Errorw("http server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Sessions first so every chunk in flight is finalized before the pool
	// tears contexts down.
	orch.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("http shutdown error", "err", err)
	}

	if l := zap.L(); l != nil {
		_ = l.Sync()
	}
	sugar.Info("shutdown complete")
	return nil
}
