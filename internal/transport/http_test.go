package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowlinehq/flowline/pkg/api"
)

func newTestHTTP(t *testing.T, handler http.Handler) *HTTP {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr := NewHTTP(HTTPConfig{
		BaseURL: srv.URL,
		APIKey:  "fl-test-key",
		Timeout: 2 * time.Second,
	})
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestHTTP_RegisterFlow(t *testing.T) {
	var got map[string]any

	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/flows" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer fl-test-key" {
			t.Errorf("missing bearer token, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "flow-9"})
	}))

	payload := api.FlowPayload{
		Name:        "Daily Sales ETL",
		Description: "extract and load",
		Tags:        map[string]string{"team": "data"},
		Tasks: []api.TaskPayload{
			{Name: "extract", EstimatedTime: 1500, CrucialPass: true},
		},
	}

	id, err := tr.RegisterFlow(context.Background(), payload, true, "production")
	if err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}
	if id != "flow-9" {
		t.Fatalf("expected id flow-9, got %q", id)
	}

	if got["name"] != "Daily Sales ETL" {
		t.Fatalf("body name wrong: %v", got["name"])
	}
	if got["autoTrigger"] != true {
		t.Fatalf("autoTrigger not sent: %v", got["autoTrigger"])
	}
	if got["autoTriggerConfig"] != "production" {
		t.Fatalf("autoTriggerConfig not sent: %v", got["autoTriggerConfig"])
	}
	tasks, ok := got["tasks"].([]any)
	if !ok || len(tasks) != 1 {
		t.Fatalf("tasks not sent: %v", got["tasks"])
	}
	task := tasks[0].(map[string]any)
	if task["estimatedTime"] != float64(1500) {
		t.Fatalf("estimatedTime must be integer milliseconds, got %v", task["estimatedTime"])
	}
	if task["crucialPass"] != true {
		t.Fatalf("crucialPass not sent: %v", task["crucialPass"])
	}
}

func TestHTTP_RegisterFlowBackendError(t *testing.T) {
	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "duplicate", "message": "flow exists"})
	}))

	_, err := tr.RegisterFlow(context.Background(), api.FlowPayload{Name: "X"}, false, "")
	if err == nil {
		t.Fatalf("expected backend error")
	}
	if got := err.Error(); !strings.Contains(got, "flow exists") || !strings.Contains(got, "register flow") {
		t.Fatalf("error lost context: %v", got)
	}
}

func TestHTTP_SendLog(t *testing.T) {
	var got map[string]string

	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/flows/run-1/logs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))

	if err := tr.SendLog(context.Background(), "run-1", "Initializing flow execution..."); err != nil {
		t.Fatalf("SendLog failed: %v", err)
	}
	if got["log"] != "Initializing flow execution..." {
		t.Fatalf("log body wrong: %v", got)
	}
}

func TestHTTP_UpdateTaskState(t *testing.T) {
	var got map[string]any

	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/runs/run-1/tasks/2/state" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))

	progress := 42
	err := tr.UpdateTaskState(context.Background(), "run-1", 2, api.TaskStateUpdate{
		State:    api.TaskRunning,
		Progress: &progress,
	})
	if err != nil {
		t.Fatalf("UpdateTaskState failed: %v", err)
	}

	if got["state"] != "RUNNING" {
		t.Fatalf("state wrong: %v", got["state"])
	}
	if got["progress"] != float64(42) {
		t.Fatalf("progress wrong: %v", got["progress"])
	}
	if _, present := got["durationMs"]; present {
		t.Fatalf("nil duration must be omitted from the body: %v", got)
	}
	if _, present := got["result"]; present {
		t.Fatalf("nil result must be omitted from the body: %v", got)
	}
}

func TestHTTP_PollExecutionRequest(t *testing.T) {
	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/execution-requests" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"run_id":        "run-7",
			"flow_name":     "Nightly Sync",
			"configuration": "production",
		})
	}))

	req, err := tr.PollExecutionRequest(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("PollExecutionRequest failed: %v", err)
	}
	if req == nil || req.RunID != "run-7" || req.FlowName != "Nightly Sync" || req.Configuration != "production" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestHTTP_PollExecutionRequestIdle(t *testing.T) {
	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The backend answers 200 with an empty object when nothing is
		// pending.
		_, _ = w.Write([]byte("{}"))
	}))

	req, err := tr.PollExecutionRequest(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("idle poll must not error: %v", err)
	}
	if req != nil {
		t.Fatalf("idle poll must yield nil, got %+v", req)
	}
}

func TestHTTP_PollExecutionRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	start := time.Now()
	req, err := tr.PollExecutionRequest(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("poll deadline is the idle case, not an error: %v", err)
	}
	if req != nil {
		t.Fatalf("expected no request, got %+v", req)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("poll did not respect its deadline: %v", elapsed)
	}
}

func TestHTTP_PollExecutionRequestCancelled(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tr.PollExecutionRequest(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("caller cancellation must surface, got %v", err)
	}
}

func TestHTTP_Heartbeat(t *testing.T) {
	beats := 0
	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/heartbeat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		beats++
	}))

	if err := tr.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if beats != 1 {
		t.Fatalf("expected one heartbeat, got %d", beats)
	}
}

func TestHTTP_StartAndCompleteRun(t *testing.T) {
	var startBody map[string]string
	var completeBody map[string]int

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/engine/run/flow-9", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&startBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"runId": "run-77"})
	})
	mux.HandleFunc("POST /api/runs/run-77/complete", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&completeBody)
	})

	tr := newTestHTTP(t, mux)

	runID, err := tr.StartRun(context.Background(), "flow-9", "production")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if runID != "run-77" {
		t.Fatalf("expected run-77, got %q", runID)
	}
	if startBody["configuration"] != "production" {
		t.Fatalf("configuration not sent: %v", startBody)
	}

	if err := tr.CompleteRun(context.Background(), "run-77", 3); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	if completeBody["taskCount"] != 3 {
		t.Fatalf("taskCount not sent: %v", completeBody)
	}
}

func TestHTTP_StartRunNoID(t *testing.T) {
	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))

	_, err := tr.StartRun(context.Background(), "flow-9", "production")
	if err == nil || !strings.Contains(err.Error(), "no run id") {
		t.Fatalf("expected missing run id error, got %v", err)
	}
}

func TestHTTP_ReportEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/run-77/report", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":        "report-run-77",
			"run_id":    "run-77",
			"flow_name": "Daily Sales ETL",
			"status":    "COMPLETED",
		})
	})
	mux.HandleFunc("GET /api/reports/report-run-77/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("rendered report"))
	})

	tr := newTestHTTP(t, mux)

	rep, err := tr.FetchReport(context.Background(), "run-77")
	if err != nil {
		t.Fatalf("FetchReport failed: %v", err)
	}
	if rep.ID != "report-run-77" || rep.FlowName != "Daily Sales ETL" {
		t.Fatalf("unexpected report: %+v", rep)
	}

	data, err := tr.DownloadReport(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("DownloadReport failed: %v", err)
	}
	if string(data) != "rendered report" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestHTTP_Closed(t *testing.T) {
	tr := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request may reach the server after Close")
	}))

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close must be idempotent: %v", err)
	}

	if err := tr.SendLog(context.Background(), "r", "m"); !errors.Is(err, api.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if _, err := tr.PollExecutionRequest(context.Background(), time.Second); !errors.Is(err, api.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if _, err := tr.RegisterFlow(context.Background(), api.FlowPayload{}, false, ""); !errors.Is(err, api.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}
