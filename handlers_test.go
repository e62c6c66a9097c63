package main

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/robustpgo/pgo"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func handlerTestConfig() *pgo.Config {
	return &pgo.Config{Graphs: []pgo.GraphConfig{
		{ID: "robot", Color: "#3366CC", Strategy: pgo.StrategyConfig{Name: pgo.StrategyGate, Quiet: true}},
		{ID: "idle", Strategy: pgo.StrategyConfig{Quiet: true}},
	}}
}

// populatedHandler returns a server whose "robot" graph holds a line of five
// poses and one rejected loop closure, and whose "idle" graph is empty.
func populatedHandler(t *testing.T) (http.Handler, *pgo.Fleet) {
	t.Helper()
	cfg := handlerTestConfig()
	fleet, err := pgo.NewFleet(cfg.Graphs, nil)
	if err != nil {
		t.Fatalf("NewFleet: %v", err)
	}
	p, _ := fleet.Get("robot")
	for _, b := range []pgo.Batch{lineBatch(0, 4, true), outlierBatch()} {
		if _, err := p.Process(t.Context(), b); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	return newHTTPServer(fleet, cfg), fleet
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /health and /graphs
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	handler, _ := populatedHandler(t)
	w := get(t, handler, "/health")

	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Status string   `json:"status"`
		Graphs int      `json:"graphs"`
		Halted []string `json:"halted"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode /health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Graphs != 2 {
		t.Errorf("graphs = %d, want 2", body.Graphs)
	}
	if len(body.Halted) != 0 {
		t.Errorf("halted = %v, want none", body.Halted)
	}
}

func TestHealth_ReportsHaltedGraph(t *testing.T) {
	handler, fleet := populatedHandler(t)
	idle, _ := fleet.Get("idle")
	if _, err := idle.Process(t.Context(), outlierBatch()); err == nil {
		t.Fatal("expected contract violation")
	}

	w := get(t, handler, "/health")
	var body struct {
		Status string   `json:"status"`
		Halted []string `json:"halted"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode /health response: %v", err)
	}
	if body.Status != "halted" {
		t.Errorf("status = %q, want halted", body.Status)
	}
	if len(body.Halted) != 1 || body.Halted[0] != "idle" {
		t.Errorf("halted = %v, want [idle]", body.Halted)
	}
}

func TestGraphs(t *testing.T) {
	handler, _ := populatedHandler(t)
	w := get(t, handler, "/graphs")
	if w.Code != http.StatusOK {
		t.Fatalf("/graphs status = %d", w.Code)
	}

	var body []graphStatus
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 2 || body[0].ID != "idle" || body[1].ID != "robot" {
		t.Fatalf("unexpected graphs: %+v", body)
	}
	robot := body[1]
	if robot.Stats.Constraints != 4 || robot.Stats.Variables != 5 {
		t.Errorf("robot stats = %+v", robot.Stats)
	}
	if robot.Last == nil || robot.Last.Seq != 2 || robot.Last.Rejected != 1 {
		t.Errorf("robot last = %+v", robot.Last)
	}
	if body[0].Last != nil {
		t.Error("idle graph should have no last result")
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- per-graph endpoints
// ---------------------------------------------------------------------------

func TestEstimateJSON(t *testing.T) {
	handler, _ := populatedHandler(t)
	w := get(t, handler, "/graphs/robot/estimate.json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	est := pgo.NewEstimate()
	if err := json.NewDecoder(w.Body).Decode(est); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(est.Graph) != 4 || est.Values.Len() != 5 {
		t.Errorf("estimate = %d constraints, %d variables", len(est.Graph), est.Values.Len())
	}
}

func TestRejectedJSON(t *testing.T) {
	handler, _ := populatedHandler(t)

	w := get(t, handler, "/graphs/robot/rejected.json")
	var rejected []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&rejected); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rejected) != 1 {
		t.Errorf("rejected = %d entries, want 1", len(rejected))
	}

	w = get(t, handler, "/graphs/idle/rejected.json")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("idle rejected = %s, want []", w.Body.String())
	}
}

func TestUnknownGraph_404(t *testing.T) {
	handler, _ := populatedHandler(t)
	for _, path := range []string{
		"/graphs/ghost/estimate.json",
		"/graphs/ghost/rejected.json",
		"/graphs/ghost/trajectory.geojson",
		"/graphs/ghost/graph.svg",
		"/graphs/ghost/graph.png",
	} {
		t.Run(path, func(t *testing.T) {
			if w := get(t, handler, path); w.Code != http.StatusNotFound {
				t.Errorf("%s status = %d, want 404", path, w.Code)
			}
		})
	}
}

func TestTrajectoryGeoJSON(t *testing.T) {
	handler, _ := populatedHandler(t)

	countKind := func(body []byte, kind string) int {
		var fc struct {
			Features []struct {
				Properties map[string]any `json:"properties"`
			} `json:"features"`
		}
		if err := json.Unmarshal(body, &fc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		n := 0
		for _, f := range fc.Features {
			if f.Properties["kind"] == kind {
				n++
			}
		}
		return n
	}

	w := get(t, handler, "/graphs/robot/trajectory.geojson")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if n := countKind(w.Body.Bytes(), "loop_closure"); n != 0 {
		t.Errorf("loop closures without ?rejected = %d, want 0", n)
	}

	w = get(t, handler, "/graphs/robot/trajectory.geojson?rejected=1")
	if n := countKind(w.Body.Bytes(), "loop_closure"); n != 1 {
		t.Errorf("loop closures with ?rejected=1 = %d, want 1", n)
	}
}

func TestGraphSVG(t *testing.T) {
	handler, _ := populatedHandler(t)
	w := get(t, handler, "/graphs/robot/graph.svg")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<svg") {
		t.Error("expected SVG body")
	}
}

func TestGraphPNG(t *testing.T) {
	handler, _ := populatedHandler(t)
	w := get(t, handler, "/graphs/robot/graph.png")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if _, err := png.Decode(w.Body); err != nil {
		t.Errorf("invalid PNG: %v", err)
	}
}

func TestRenders_EmptyGraph_503(t *testing.T) {
	handler, _ := populatedHandler(t)
	for _, path := range []string{"/graphs/idle/graph.svg", "/graphs/idle/graph.png"} {
		if w := get(t, handler, path); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	handler, _ := populatedHandler(t)
	w := get(t, handler, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"robustpgo_admission_total", "robustpgo_constraints_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in /metrics output", name)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := populatedHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/graphs/robot/estimate.json", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}
}

func TestColorFor(t *testing.T) {
	cfg := handlerTestConfig()
	if got := colorFor(cfg, "robot"); got != "#3366CC" {
		t.Errorf("colorFor(robot) = %q", got)
	}
	if got := colorFor(cfg, "idle"); got != "" {
		t.Errorf("colorFor(idle) = %q, want empty", got)
	}
	if got := colorFor(nil, "robot"); got != "" {
		t.Errorf("colorFor(nil config) = %q, want empty", got)
	}
}
