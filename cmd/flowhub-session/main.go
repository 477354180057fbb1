// Command flowhub-session runs a live voice session against a learning
// module from the terminal: microphone in, agent audio out, finalized
// transcripts appended to the module's context through the hub API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stuartw843/flow-learning-hub/internal/config"
	"github.com/stuartw843/flow-learning-hub/internal/session"
	"github.com/stuartw843/flow-learning-hub/internal/transcript"
	"github.com/stuartw843/flow-learning-hub/pkg/audio"
	"github.com/stuartw843/flow-learning-hub/pkg/audio/capture"
	"github.com/stuartw843/flow-learning-hub/pkg/audio/playback"
	"github.com/stuartw843/flow-learning-hub/pkg/provider/voice/wsagent"
)

// stopTimeout bounds session teardown, including the final transcript
// flush.
const stopTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	serverURL := flag.String("server", "http://localhost:8080", "base URL of the hub server")
	moduleID := flag.Int64("module", 0, "ID of the learning module to start a session for")
	deviceName := flag.String("device", "", "capture device name (default: interactive selection)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *moduleID == 0 {
		fmt.Fprintln(os.Stderr, "flowhub-session: -module is required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowhub-session: %v\n", err)
		return 1
	}
	if cfg.Agent.WSURL == "" {
		fmt.Fprintln(os.Stderr, "flowhub-session: agent.ws_url is not configured")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Fetch the module ──────────────────────────────────────────────────────
	api := newAPIClient(*serverURL)
	mod, err := api.GetModule(ctx, *moduleID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowhub-session: %v\n", err)
		return 1
	}
	fmt.Printf("Module: %s\n", mod.Title)

	// ── Microphone ────────────────────────────────────────────────────────────
	captureCtx, err := capture.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowhub-session: audio subsystem: %v\n", err)
		return 1
	}
	defer captureCtx.Close()

	dev, err := selectDevice(captureCtx, pickDeviceName(*deviceName, cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowhub-session: %v\n", err)
		return 1
	}

	// ── Session controller ────────────────────────────────────────────────────
	// Tokens come from the hub's proxy endpoint; the agent API key never
	// reaches this process.
	provider := wsagent.New(*serverURL+"/api/voice/token", cfg.Agent.WSURL)

	var schedOpts []playback.Option
	if cfg.Session.LookaheadMillis > 0 {
		schedOpts = append(schedOpts, playback.WithLookahead(time.Duration(cfg.Session.LookaheadMillis)*time.Millisecond))
	}
	var trOpts []transcript.Option
	if cfg.Session.DebounceMillis > 0 {
		trOpts = append(trOpts, transcript.WithDebounce(time.Duration(cfg.Session.DebounceMillis)*time.Millisecond))
	}

	ctrl, err := session.New(session.Config{
		Provider: provider,
		Capture:  captureCtx,
		Store:    api,
		NewSink: func() (playback.Sink, error) {
			return playback.NewDeviceSink(audio.DefaultSampleRate)
		},
		TemplateID: cfg.Agent.TemplateID,
		Device:     dev,
		OnError: func(message string) {
			fmt.Fprintf(os.Stderr, "\nsession error: %s\n", message)
		},
		SchedulerOptions:  schedOpts,
		TranscriptOptions: trOpts,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowhub-session: %v\n", err)
		return 1
	}

	if err := ctrl.Start(ctx, mod); err != nil {
		fmt.Fprintf(os.Stderr, "flowhub-session: start session: %v\n", err)
		return 1
	}

	fmt.Println("Session active. Speak into the microphone; Ctrl+C to end.")
	<-ctx.Done()
	fmt.Println("\nEnding session…")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := ctrl.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "flowhub-session: stop session: %v\n", err)
		return 1
	}
	fmt.Println("Session ended.")
	return 0
}

// pickDeviceName prefers the CLI flag over the config file.
func pickDeviceName(flagName string, cfg *config.Config) string {
	if flagName != "" {
		return flagName
	}
	return cfg.Session.CaptureDevice
}
