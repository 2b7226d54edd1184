package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/app"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/config"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/forward"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/forward/mock"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/pending"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/persist"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/savestore"
)

// testConfig returns defaults that listen on a random local port without
// autosave.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Persistence.Autosave = ""
	cfg.Persistence.Slot = "test"
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newStore(t *testing.T) *savestore.FileStore {
	t.Helper()
	s, err := savestore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func newApp(t *testing.T, cfg *config.Config, store savestore.Store, fwd forward.Forwarder, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithStore(store),
		app.WithForwarder(fwd),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestNew_RestoresSavedSlot(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	state, err := persist.EncodeState(pending.Snapshot{
		42: {{SpeakerText: "Where to?", SpeakerName: "Player", ResponseText: "Whiterun.", ResponderName: "Lydia", Timestamp: 2}},
	})
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	if err := store.Put(context.Background(), "test", state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	a := newApp(t, testConfig(), store, &mock.Forwarder{})
	got := a.Engine().PendingSnapshot()[42]
	if len(got) != 1 || got[0].ResponseText != "Whiterun." {
		t.Errorf("restored = %+v", got)
	}
}

func TestNew_MalformedSlotStartsEmpty(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	if err := store.Put(context.Background(), "test", []byte("not a save")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	a := newApp(t, testConfig(), store, &mock.Forwarder{})
	if snap := a.Engine().PendingSnapshot(); len(snap) != 0 {
		t.Errorf("pending = %v, want empty", snap)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"bad slot", func(c *config.Config) { c.Persistence.Slot = "../escape" }},
		{"bad autosave", func(c *config.Config) { c.Persistence.Autosave = "every tuesday" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tc.modify(cfg)
			_, err := app.New(context.Background(), cfg,
				app.WithStore(newStore(t)),
				app.WithForwarder(&mock.Forwarder{}),
				app.WithMetrics(testMetrics(t)),
			)
			if err == nil {
				t.Fatal("New() succeeded, want error")
			}
		})
	}
}

func TestApp_RunServesAndShutdownSaves(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	fwd := &mock.Forwarder{Delivered: make(chan forward.Message, 4)}
	a := newApp(t, testConfig(), store, fwd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Run did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	base := "http://" + a.Addr().String()

	post := func(path, body string) {
		t.Helper()
		resp, err := http.Post(base+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			t.Fatalf("POST %s: status %d", path, resp.StatusCode)
		}
	}

	// Buffered while no session is active.
	post("/v1/utterances", `{"speakerText":"Where to?","responderId":42,"responderName":"Lydia","responseFragments":["Whiterun is close by."],"timestamp":1}`)
	// Joining replays through the dispatcher.
	post("/v1/session/participants/42", "")
	select {
	case msg := <-fwd.Delivered:
		if msg.Kind != forward.KindReplay || msg.CharacterName != "Lydia" {
			t.Errorf("delivered = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("replay not delivered")
	}

	// A line from someone outside the session is forwarded and retained.
	post("/v1/utterances", `{"speakerText":"Any work?","responderId":7,"responderName":"Faendal","responseFragments":["Perhaps you could help me."],"timestamp":2}`)
	select {
	case <-fwd.Delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("live line not delivered")
	}

	resp, err := http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}

	saved, err := store.Get(context.Background(), "test")
	if err != nil {
		t.Fatalf("Get saved slot: %v", err)
	}
	snap, err := persist.DecodeState(saved)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if _, ok := snap[42]; ok {
		t.Error("flushed participant still saved")
	}
	if got := snap[7]; len(got) != 1 || got[0].ResponderName != "Faendal" {
		t.Errorf("saved lines for 7 = %+v", got)
	}
}

func TestApp_HotReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("server:\n  log_level: info\n")

	level := new(slog.LevelVar)
	a := newApp(t, testConfig(), newStore(t), &mock.Forwarder{},
		app.WithConfigPath(path),
		app.WithLevel(level),
	)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	write("server:\n  log_level: debug\ndialogue:\n  FilterShortReplies: false\n  NPCNamesToIgnore: [Nazeem]\n")

	deadline := time.Now().Add(5 * time.Second)
	for level.Level() != slog.LevelDebug || a.Engine().Settings().Rules.FilterShortReplies {
		if time.Now().After(deadline) {
			t.Fatalf("reload not applied: level=%v settings=%+v", level.Level(), a.Engine().Settings())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := a.Engine().Settings().IgnoreNames; len(got) != 1 || got[0] != "Nazeem" {
		t.Errorf("IgnoreNames = %v", got)
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()
	d := config.Default().Dialogue
	d.DebugLogVanillaDialogue = true
	d.NPCNamesToIgnore = []string{"Nazeem"}

	s := app.Settings(d)
	if !s.Enabled || !s.Debug || !s.RetainNonParticipantLines {
		t.Errorf("flags = %+v", s)
	}
	if s.Rules.MinWordCount != 4 || !s.Rules.FilterShortReplies || !s.Rules.FilterNonUniqueGreetings {
		t.Errorf("rules = %+v", s.Rules)
	}
	if len(s.IgnoreNames) != 1 || s.PlayerName != dialogue.DefaultSpeakerName {
		t.Errorf("names = %v / %q", s.IgnoreNames, s.PlayerName)
	}
}
