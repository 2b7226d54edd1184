package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/resilience"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "engine", Check: ok}, {Name: "save_slot", Check: ok}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"engine": "ok", "save_slot": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "engine", Check: ok},
				{Name: "save_slot", Check: func(context.Context) error { return errors.New("disk full") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"engine": "ok", "save_slot": "fail: disk full"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tc.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			body := decode(t, rec)
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	var running atomic.Int32
	both := make(chan struct{})
	wait := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (checks serialised?)", rec.Code, http.StatusOK)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if err := Ping("slot", pingFunc(func(context.Context) error { return errors.New("gone") })).Check(ctx); err == nil {
		t.Error("Ping checker passed for failing pinger")
	}

	var degraded atomic.Bool
	flag := Flag("engine", "degraded", degraded.Load)
	if err := flag.Check(ctx); err != nil {
		t.Errorf("Flag checker failed while healthy: %v", err)
	}
	degraded.Store(true)
	if err := flag.Check(ctx); err == nil || err.Error() != "degraded" {
		t.Errorf("Flag checker = %v, want degraded", err)
	}

	cb := resilience.NewBreaker(resilience.Config{
		Name:         "mantella",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	check := Breaker(cb)
	if check.Name != "breaker_mantella" {
		t.Errorf("Name = %q", check.Name)
	}
	if err := check.Check(ctx); err != nil {
		t.Errorf("closed breaker reported %v", err)
	}
	_ = cb.Do(ctx, func(context.Context) error { return errors.New("refused") })
	if err := check.Check(ctx); err == nil {
		t.Error("open breaker reported healthy")
	}
}
