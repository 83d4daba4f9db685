package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", ok))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Statuses(t *testing.T) {
	failing := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checkers map[string]Checker
		want     Status
		code     int
	}{
		{
			name:     "no checkers",
			checkers: nil,
			want:     StatusHealthy,
			code:     http.StatusOK,
		},
		{
			name: "optional dependency down",
			checkers: map[string]Checker{
				"storage": NewSimpleChecker("storage", ok),
				"cache":   NewOptionalChecker("cache", failing),
			},
			want: StatusDegraded,
			code: http.StatusOK,
		},
		{
			name: "required dependency down",
			checkers: map[string]Checker{
				"storage": NewSimpleChecker("storage", failing),
				"cache":   NewOptionalChecker("cache", failing),
			},
			want: StatusUnhealthy,
			code: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("test")
			for name, checker := range tt.checkers {
				handler.RegisterChecker(name, checker)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			var response Response
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatal(err)
			}
			if response.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, response.Status)
			}
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("unexpected liveness response %d %q", w.Code, w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", ok))
	handler.RegisterChecker("cache", NewOptionalChecker("cache", func(context.Context) error {
		return errors.New("redis down")
	}))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ready" {
		t.Errorf("degraded service must stay ready, got %d %q", w.Code, w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("kafka", NewSimpleChecker("kafka", func(context.Context) error {
		return errors.New("not ready")
	}))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("expected body 'not ready', got %s", w.Body.String())
	}
}

func TestSimpleChecker(t *testing.T) {
	checker := NewSimpleChecker("test", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check(context.Background())

	if check.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", check.Status)
	}
	if check.DurationMs < 10 {
		t.Errorf("expected duration >= 10ms, got %dms", check.DurationMs)
	}
}

func TestSimpleChecker_Error(t *testing.T) {
	check := NewSimpleChecker("test", func(context.Context) error {
		return errors.New("test error")
	}).Check(context.Background())

	if check.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", check.Status)
	}
	if check.Message != "test error" {
		t.Errorf("expected message 'test error', got %s", check.Message)
	}
}

func TestEvaluate_TimeoutPropagates(t *testing.T) {
	handler := NewHandler("test")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewSimpleChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	overall, checks := handler.Evaluate(context.Background())
	if overall != StatusUnhealthy {
		t.Fatalf("expected unhealthy after timeout, got %s", overall)
	}
	if checks["slow"].Message != context.DeadlineExceeded.Error() {
		t.Fatalf("unexpected message %q", checks["slow"].Message)
	}
}

func TestNames(t *testing.T) {
	handler := NewHandler("test")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", ok))
	handler.RegisterChecker("cache", NewSimpleChecker("cache", ok))

	names := handler.Names()
	if len(names) != 2 || names[0] != "cache" || names[1] != "storage" {
		t.Fatalf("unexpected names %v", names)
	}
}
