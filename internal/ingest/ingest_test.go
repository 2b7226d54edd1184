package ingest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/capture"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/forward"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/forward/mock"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/ingest"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/savestore"
)

type fixture struct {
	srv    *httptest.Server
	engine *capture.Engine
	fwd    *mock.Forwarder
	hub    *ingest.Hub
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

func newFixture(t *testing.T, withSlot bool) *fixture {
	t.Helper()
	m := testMetrics(t)
	fwd := &mock.Forwarder{}
	hub := ingest.NewHub()
	e := capture.New(
		capture.WithForwarder(fwd),
		capture.WithNotifier(hub),
		capture.WithMetrics(m),
		capture.WithSettings(capture.Settings{Enabled: true, RetainNonParticipantLines: true}),
	)

	opts := []ingest.Option{ingest.WithHub(hub)}
	if withSlot {
		fs, err := savestore.NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}
		opts = append(opts, ingest.WithSlot(savestore.NewSlot(fs, "test", m)))
	}

	mux := http.NewServeMux()
	ingest.NewServer(e, opts...).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, engine: e, fwd: fwd, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, b)
	}
}

const lydiaLine = `{"speakerText":"Where to?","responderId":42,"responderName":"Lydia","responseFragments":["Whiterun."],"timestamp":8}`

func TestServer_BufferThenFlush(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	expectStatus(t, f.do(t, http.MethodPost, "/v1/utterances", lydiaLine), http.StatusAccepted)
	if got := len(f.engine.PendingSnapshot()[42]); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/v1/session/participants/42", ""), http.StatusNoContent)

	msgs := f.fwd.Messages()
	if len(msgs) != 1 {
		t.Fatalf("forwarded %d messages, want 1", len(msgs))
	}
	if msgs[0].Kind != forward.KindReplay || msgs[0].Text != "Player: Where to?; Lydia: Whiterun." {
		t.Errorf("message = %+v", msgs[0])
	}
	if snap := f.engine.PendingSnapshot(); len(snap) != 0 {
		t.Errorf("pending after join = %v, want empty", snap)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	expectStatus(t, f.do(t, http.MethodPut, "/v1/session", `{"participants":[42,7]}`), http.StatusNoContent)
	if !f.engine.SessionActive() {
		t.Fatal("session not active after snapshot")
	}
	expectStatus(t, f.do(t, http.MethodPost, "/v1/utterances", lydiaLine), http.StatusAccepted)
	if msgs := f.fwd.Messages(); len(msgs) != 1 || msgs[0].Kind != forward.KindLive {
		t.Fatalf("messages = %+v, want one live message", msgs)
	}

	expectStatus(t, f.do(t, http.MethodDelete, "/v1/session/participants/7", ""), http.StatusNoContent)
	if got := f.engine.SessionParticipants(); len(got) != 1 || got[0] != 42 {
		t.Errorf("participants = %v, want [42]", got)
	}
	expectStatus(t, f.do(t, http.MethodDelete, "/v1/session", ""), http.StatusNoContent)
	if f.engine.SessionActive() {
		t.Error("session still active after end")
	}
}

func TestServer_BadRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed utterance", http.MethodPost, "/v1/utterances", `{"speakerText":`, http.StatusBadRequest},
		{"negative id", http.MethodPost, "/v1/session/participants/-1", "", http.StatusBadRequest},
		{"non-numeric id", http.MethodDelete, "/v1/session/participants/lydia", "", http.StatusBadRequest},
		{"session not an object", http.MethodPut, "/v1/session", `[1,2]`, http.StatusBadRequest},
		{"malformed state", http.MethodPut, "/v1/state", `{"42":[{"playerQuery":3}]}`, http.StatusBadRequest},
		{"save without slot", http.MethodPost, "/v1/save", "", http.StatusServiceUnavailable},
		{"load without slot", http.MethodPost, "/v1/load", "", http.StatusServiceUnavailable},
		{"wrong method", http.MethodGet, "/v1/utterances", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, tc.method, tc.path, tc.body)
			expectStatus(t, resp, tc.want)
		})
	}
}

func TestServer_SourceUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	expectStatus(t, f.do(t, http.MethodPost, "/v1/source/unavailable", `{"reason":"quest script missing"}`), http.StatusNoContent)
	if !f.engine.Degraded() {
		t.Fatal("engine not degraded")
	}
	expectStatus(t, f.do(t, http.MethodPost, "/v1/session/participants/42", ""), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodPost, "/v1/utterances", lydiaLine), http.StatusAccepted)
	if msgs := f.fwd.Messages(); len(msgs) != 0 {
		t.Errorf("forwarded %d messages while degraded, want 0", len(msgs))
	}
	if got := len(f.engine.PendingSnapshot()[42]); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
}

func TestServer_PendingAndState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	expectStatus(t, f.do(t, http.MethodPost, "/v1/utterances", lydiaLine), http.StatusAccepted)

	resp := f.do(t, http.MethodGet, "/v1/pending", "")
	expectStatus(t, resp, http.StatusOK)
	var pending map[string][]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if got := pending["42"]; len(got) != 1 || got[0]["npcResponse"] != "Whiterun." {
		t.Errorf("pending = %v", pending)
	}

	resp = f.do(t, http.MethodGet, "/v1/state", "")
	expectStatus(t, resp, http.StatusOK)
	state, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}

	expectStatus(t, f.do(t, http.MethodDelete, "/v1/state", ""), http.StatusNoContent)
	if snap := f.engine.PendingSnapshot(); len(snap) != 0 {
		t.Fatalf("pending after revert = %v, want empty", snap)
	}

	req, _ := http.NewRequest(http.MethodPut, f.srv.URL+"/v1/state", bytes.NewReader(state))
	put, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT state: %v", err)
	}
	_ = put.Body.Close()
	expectStatus(t, put, http.StatusNoContent)
	if got := len(f.engine.PendingSnapshot()[42]); got != 1 {
		t.Errorf("pending after restore = %d, want 1", got)
	}

	// A body without a history record is refused and keeps the lines.
	req, _ = http.NewRequest(http.MethodPut, f.srv.URL+"/v1/state", http.NoBody)
	put, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT empty state: %v", err)
	}
	_ = put.Body.Close()
	expectStatus(t, put, http.StatusUnprocessableEntity)
	if got := len(f.engine.PendingSnapshot()[42]); got != 1 {
		t.Errorf("pending after empty PUT = %d, want 1", got)
	}
}

func TestServer_SaveLoadSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	expectStatus(t, f.do(t, http.MethodPost, "/v1/load", ""), http.StatusNotFound)

	expectStatus(t, f.do(t, http.MethodPost, "/v1/utterances", lydiaLine), http.StatusAccepted)
	expectStatus(t, f.do(t, http.MethodPost, "/v1/save", ""), http.StatusOK)

	f.engine.Revert(context.Background())
	expectStatus(t, f.do(t, http.MethodPost, "/v1/load", ""), http.StatusOK)

	got := f.engine.PendingSnapshot()[dialogue.ParticipantID(42)]
	if len(got) != 1 || got[0].ResponseText != "Whiterun." {
		t.Errorf("restored = %+v", got)
	}
}
