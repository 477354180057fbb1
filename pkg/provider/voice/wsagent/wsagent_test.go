package wsagent_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/stuartw843/flow-learning-hub/pkg/audio"
	"github.com/stuartw843/flow-learning-hub/pkg/provider/voice"
	"github.com/stuartw843/flow-learning-hub/pkg/provider/voice/wsagent"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startAgentServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test
// finishes.
func startAgentServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// tokenServer serves the credential endpoint with a fixed handler.
func tokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// connect dials the test agent server and returns an open session.
func connect(t *testing.T, srv *httptest.Server, cfg voice.SessionConfig) voice.SessionHandle {
	t.Helper()
	p := wsagent.New("http://unused.invalid/token", wsURL(srv))
	handle, err := p.Connect(context.Background(), "tok", cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return handle
}

// ── AcquireToken ──────────────────────────────────────────────────────────────

func TestAcquireToken_ReturnsToken(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s; want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"abc123"}`))
	})

	p := wsagent.New(srv.URL, "ws://unused.invalid")
	token, err := p.AcquireToken(context.Background())
	if err != nil {
		t.Fatalf("AcquireToken: %v", err)
	}
	if token != "abc123" {
		t.Errorf("token = %q; want abc123", token)
	}
}

func TestAcquireToken_SendsAPIKey(t *testing.T) {
	t.Parallel()

	authHeader := make(chan string, 1)
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"token":"t"}`))
	})

	p := wsagent.New(srv.URL, "ws://unused.invalid", wsagent.WithAPIKey("my-secret"))
	if _, err := p.AcquireToken(context.Background()); err != nil {
		t.Fatalf("AcquireToken: %v", err)
	}

	select {
	case auth := <-authHeader:
		if auth != "Bearer my-secret" {
			t.Errorf("Authorization = %q; want Bearer my-secret", auth)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestAcquireToken_ErrorCombinesStatusAndDetails(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"details":"quota exceeded"}`))
	})

	p := wsagent.New(srv.URL, "ws://unused.invalid")
	_, err := p.AcquireToken(context.Background())
	if err == nil {
		t.Fatal("expected error for 403 response, got nil")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should carry the HTTP status, got: %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error should carry the details body, got: %v", err)
	}
}

func TestAcquireToken_ErrorWithoutDetailsBody(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	p := wsagent.New(srv.URL, "ws://unused.invalid")
	_, err := p.AcquireToken(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should carry the HTTP status, got: %v", err)
	}
}

func TestAcquireToken_MissingTokenField(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	p := wsagent.New(srv.URL, "ws://unused.invalid")
	if _, err := p.AcquireToken(context.Background()); err == nil {
		t.Fatal("expected error for response without token, got nil")
	}
}

func TestAcquireToken_CancelledContext(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	p := wsagent.New(srv.URL, "ws://unused.invalid")
	_, err := p.AcquireToken(ctx)
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSessionStart(t *testing.T) {
	t.Parallel()

	type startMsg struct {
		Type   string `json:"type"`
		Config struct {
			TemplateID        string `json:"templateId"`
			TemplateVariables struct {
				Context string `json:"context"`
				Persona string `json:"persona"`
				Style   string `json:"style"`
			} `json:"templateVariables"`
		} `json:"config"`
		AudioFormat struct {
			Type       string `json:"type"`
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
		} `json:"audioFormat"`
	}

	received := make(chan startMsg, 1)
	authHeader := make(chan string, 1)

	srv := startAgentServer(t, func(conn *websocket.Conn, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		var msg startMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := wsagent.New("http://unused.invalid/token", wsURL(srv))
	handle, err := p.Connect(context.Background(), "session-token", voice.SessionConfig{
		TemplateID: "flow-v1",
		Context:    "Photosynthesis basics.",
		Persona:    "Patient tutor",
		Style:      "Socratic",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case auth := <-authHeader:
		if auth != "Bearer session-token" {
			t.Errorf("Authorization = %q; want Bearer session-token", auth)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for dial")
	}

	select {
	case msg := <-received:
		if msg.Type != "session.start" {
			t.Errorf("type = %q; want session.start", msg.Type)
		}
		if msg.Config.TemplateID != "flow-v1" {
			t.Errorf("templateId = %q; want flow-v1", msg.Config.TemplateID)
		}
		if msg.Config.TemplateVariables.Context != "Photosynthesis basics." {
			t.Errorf("context = %q", msg.Config.TemplateVariables.Context)
		}
		if msg.Config.TemplateVariables.Persona != "Patient tutor" {
			t.Errorf("persona = %q", msg.Config.TemplateVariables.Persona)
		}
		if msg.AudioFormat.Encoding != "pcm_s16le" {
			t.Errorf("encoding = %q; want pcm_s16le", msg.AudioFormat.Encoding)
		}
		if msg.AudioFormat.SampleRate != audio.DefaultSampleRate {
			t.Errorf("sampleRate = %d; want %d", msg.AudioFormat.SampleRate, audio.DefaultSampleRate)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.start")
	}
}

// ── SendAudio ─────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesPCM16(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}

	audioMsg := make(chan appendMsg, 1)

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.start

		var msg appendMsg
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	defer handle.Close()

	frame := audio.NewFrame([]int16{100, -200, 300}, audio.DefaultSampleRate)
	if err := handle.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		if msg.Type != "audio.append" {
			t.Errorf("type = %q; want audio.append", msg.Type)
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		got, err := audio.FrameFromBytes(pcm, audio.DefaultSampleRate)
		if err != nil {
			t.Fatalf("FrameFromBytes: %v", err)
		}
		want := []int16{100, -200, 300}
		for i := range want {
			if got.Samples[i] != want[i] {
				t.Errorf("sample %d: got %d, want %d", i, got.Samples[i], want[i])
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio.append")
	}
}

func TestSendAudio_AfterClose_SilentlyDropped(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	_ = handle.Close()

	// Capture can emit a trailing frame after teardown; that must not be
	// treated as an error.
	frame := audio.NewFrame([]int16{1, 2, 3}, audio.DefaultSampleRate)
	if err := handle.SendAudio(frame); err != nil {
		t.Errorf("SendAudio after Close = %v; want nil (silent drop)", err)
	}
}

// ── Inbound events ────────────────────────────────────────────────────────────

func TestAudio_DeliversDecodedFrames(t *testing.T) {
	t.Parallel()

	wantFrame := audio.NewFrame([]int16{1000, -1000, 500}, audio.DefaultSampleRate)
	encoded := base64.StdEncoding.EncodeToString(wantFrame.Bytes())

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "audio.delta", "audio": encoded})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	defer handle.Close()

	select {
	case frame, ok := <-handle.Audio():
		if !ok {
			t.Fatal("Audio channel closed unexpectedly")
		}
		if len(frame.Samples) != 3 {
			t.Fatalf("got %d samples, want 3", len(frame.Samples))
		}
		for i := range wantFrame.Samples {
			if frame.Samples[i] != wantFrame.Samples[i] {
				t.Errorf("sample %d: got %d, want %d", i, frame.Samples[i], wantFrame.Samples[i])
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio frame")
	}
}

func TestTranscripts_InterimAndFinal(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "transcript", "text": "hell", "isFinal": false})
		writeJSON(t, conn, map[string]any{"type": "transcript", "text": "hello there", "isFinal": true})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	defer handle.Close()

	want := []voice.Transcript{
		{Text: "hell", Final: false},
		{Text: "hello there", Final: true},
	}
	for i, w := range want {
		select {
		case tr, ok := <-handle.Transcripts():
			if !ok {
				t.Fatal("Transcripts channel closed unexpectedly")
			}
			if tr != w {
				t.Errorf("transcript %d = %+v; want %+v", i, tr, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for transcript %d", i)
		}
	}
}

func TestOnError_InvokesHandler(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		writeJSON(t, conn, map[string]any{"type": "error", "message": "rate limited"})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	defer handle.Close()

	msgCh := make(chan string, 1)
	handle.OnError(func(message string) {
		msgCh <- message
	})

	select {
	case msg := <-msgCh:
		if msg != "rate limited" {
			t.Errorf("message = %q; want rate limited", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestUnparseableEvent_Skipped(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("not json"))
		writeJSON(t, conn, map[string]any{"type": "transcript", "text": "still alive", "isFinal": true})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	defer handle.Close()

	select {
	case tr := <-handle.Transcripts():
		if tr.Text != "still alive" {
			t.Errorf("text = %q; want still alive", tr.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout: garbage event wedged the receive loop")
	}
}

// ── Close and Err ─────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventChannels(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	_ = handle.Close()

	for _, ch := range []string{"audio", "transcripts"} {
		switch ch {
		case "audio":
			select {
			case _, open := <-handle.Audio():
				if open {
					t.Error("Audio channel should be closed after Close()")
				}
			case <-time.After(3 * time.Second):
				t.Fatal("timeout waiting for Audio channel to close")
			}
		case "transcripts":
			select {
			case _, open := <-handle.Transcripts():
				if open {
					t.Error("Transcripts channel should be closed after Close()")
				}
			case <-time.After(3 * time.Second):
				t.Fatal("timeout waiting for Transcripts channel to close")
			}
		}
	}
}

func TestErr_NilAfterCleanClose(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, voice.SessionConfig{})
	_ = handle.Close()

	// Wait for the receive loop to finish.
	select {
	case <-handle.Audio():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}

	if err := handle.Err(); err != nil {
		t.Errorf("Err() after clean Close = %v; want nil", err)
	}
}

func TestErr_SetOnServerDisconnect(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		// Abnormal close: the agent drops the session.
		conn.Close(websocket.StatusInternalError, "agent failure")
	})

	handle := connect(t, srv, voice.SessionConfig{})
	defer handle.Close()

	// The audio channel closes when the receive loop exits.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, open := <-handle.Audio():
			if !open {
				if err := handle.Err(); err == nil {
					t.Error("Err() should be non-nil after server disconnect")
				}
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for disconnect")
		}
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)

		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	handle := connect(t, srv, voice.SessionConfig{})
	defer handle.Close()

	frame := audio.NewFrame([]int16{1, 2, 3, 4}, audio.DefaultSampleRate)

	const goroutines = 8
	const framesPerGoroutine = 16

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range framesPerGoroutine {
				_ = handle.SendAudio(frame)
			}
		})
	}
	wg.Wait()
}
