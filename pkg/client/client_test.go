package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chaosmonkey/internal/api"
	"chaosmonkey/internal/chaos"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(&Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		Retry:          RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestRetriesOnUnavailable(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "busy"})
			return
		}
		writeJSON(w, http.StatusOK, api.ListExperimentsResponse{
			Experiments: []api.ExperimentView{{Name: "hang", Kind: chaos.KindProcessHang}},
			Count:       1,
		})
	}))

	exps, err := c.Experiments(context.Background())
	if err != nil {
		t.Fatalf("Experiments failed: %v", err)
	}
	if len(exps) != 1 || calls.Load() != 3 {
		t.Errorf("Expected success on third call, got %d experiments after %d calls", len(exps), calls.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "result not found: x", Code: 404})
	}))

	_, err := c.Result(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "result not found: x" {
		t.Fatalf("Expected 404 APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single call, got %d", calls.Load())
	}
}

func TestTriggerDecodesRejection(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Query().Get("force") != "true" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL)
		}
		writeJSON(w, http.StatusConflict, api.TriggerResponse{RunID: "r1", State: chaos.StateRejected, Reason: "target busy"})
	}))

	resp, err := c.Trigger(context.Background(), "latency", true)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if resp.State != chaos.StateRejected || resp.Reason != "target busy" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestTriggerNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "scheduler stopped"})
	}))

	if _, err := c.Trigger(context.Background(), "hang", false); err == nil {
		t.Fatal("Expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected trigger to be sent once, got %d", calls.Load())
	}
}

func TestAbortSendsReason(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.AbortRequest
		json.NewDecoder(r.Body).Decode(&req)
		if r.URL.Path != "/api/v1/runs/abc/abort" || req.Reason != "enough" {
			t.Errorf("Unexpected abort request %s %+v", r.URL.Path, req)
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
	}))

	if err := c.Abort(context.Background(), "abc", "enough"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
}

func TestSamplesQuery(t *testing.T) {
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("target") != "host" || q.Get("since") != "2024-05-01T12:00:00Z" {
			t.Errorf("Unexpected query %v", q)
		}
		writeJSON(w, http.StatusOK, api.SamplesResponse{Samples: []chaos.HealthSample{{CPUPercent: 12}}, Count: 1})
	}))

	samples, err := c.Samples(context.Background(), "host", since)
	if err != nil || len(samples) != 1 || samples[0].CPUPercent != 12 {
		t.Errorf("Unexpected samples %+v (%v)", samples, err)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	if d := p.delay(0); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", d)
	}
	if d := p.delay(2); d != 400*time.Millisecond {
		t.Errorf("Expected 400ms, got %v", d)
	}
	if d := p.delay(10); d != time.Second {
		t.Errorf("Expected cap at 1s, got %v", d)
	}

	p.Jitter = true
	for i := 0; i < 100; i++ {
		if d := p.delay(1); d < 150*time.Millisecond || d > 250*time.Millisecond {
			t.Fatalf("Jittered delay out of range: %v", d)
		}
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(&Config{BaseURL: "localhost:8090"}); err == nil {
		t.Error("Expected invalid URL to fail")
	}
	if _, err := NewClient(nil); err != nil {
		t.Errorf("Expected defaults to work: %v", err)
	}
}
