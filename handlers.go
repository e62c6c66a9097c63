package main

import (
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/kwv/robustpgo/pgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// graphStatus is the per-graph entry of /health and /graphs
type graphStatus struct {
	ID     string      `json:"id"`
	Stats  pgo.Stats   `json:"stats"`
	Last   *pgo.Result `json:"last,omitempty"`
	Halted string      `json:"halted,omitempty"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(fleet *pgo.Fleet, config *pgo.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		var halted []string
		for _, id := range fleet.IDs() {
			p, _ := fleet.Get(id)
			if p.Halted() != nil {
				halted = append(halted, id)
			}
		}
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Graphs    int       `json:"graphs"`
			Halted    []string  `json:"halted,omitempty"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Graphs:    len(fleet.IDs()),
			Halted:    halted,
		}
		if len(halted) > 0 {
			status.Status = "halted"
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("GET /graphs", func(w http.ResponseWriter, r *http.Request) {
		out := make([]graphStatus, 0, len(fleet.IDs()))
		for _, id := range fleet.IDs() {
			p, _ := fleet.Get(id)
			out = append(out, statusOf(p))
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("GET /graphs/{id}/estimate.json", func(w http.ResponseWriter, r *http.Request) {
		p, ok := pipelineFor(fleet, w, r)
		if !ok {
			return
		}
		writeJSON(w, p.Snapshot())
	})

	mux.HandleFunc("GET /graphs/{id}/rejected.json", func(w http.ResponseWriter, r *http.Request) {
		p, ok := pipelineFor(fleet, w, r)
		if !ok {
			return
		}
		rejected := p.Rejections()
		if rejected == nil {
			rejected = []pgo.Rejection{}
		}
		writeJSON(w, rejected)
	})

	// ?rejected=1 adds rejected loop closures as features
	mux.HandleFunc("GET /graphs/{id}/trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		p, ok := pipelineFor(fleet, w, r)
		if !ok {
			return
		}
		opts := pgo.GeoJSONOptions{IncludeRejected: r.URL.Query().Get("rejected") == "1"}
		var rejected []pgo.Rejection
		if opts.IncludeRejected {
			rejected = p.Rejections()
		}
		data, err := pgo.MarshalEstimateGeoJSON(p.Snapshot(), rejected, opts)
		if err != nil {
			http.Error(w, "Failed to encode GeoJSON", http.StatusInternalServerError)
			log.Printf("Error encoding GeoJSON for %s: %v", p.ID(), err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing GeoJSON response: %v", err)
		}
	})

	mux.HandleFunc("GET /graphs/{id}/graph.svg", func(w http.ResponseWriter, r *http.Request) {
		p, ok := pipelineFor(fleet, w, r)
		if !ok {
			return
		}
		est := p.Snapshot()
		if est.Values.Len() == 0 {
			http.Error(w, "No poses available", http.StatusServiceUnavailable)
			return
		}
		renderer := pgo.NewVectorRenderer(est, p.Rejections())
		renderer.Color = colorFor(config, p.ID())
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering SVG for %s: %v", p.ID(), err)
		}
	})

	mux.HandleFunc("GET /graphs/{id}/graph.png", func(w http.ResponseWriter, r *http.Request) {
		p, ok := pipelineFor(fleet, w, r)
		if !ok {
			return
		}
		est := p.Snapshot()
		if est.Values.Len() == 0 {
			http.Error(w, "No poses available", http.StatusServiceUnavailable)
			return
		}
		renderer := pgo.NewGraphRenderer(est, p.Rejections())
		renderer.Color = colorFor(config, p.ID())
		renderer.Title = p.ID()
		img := renderer.Render()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding graph PNG: %v", err)
		}
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func pipelineFor(fleet *pgo.Fleet, w http.ResponseWriter, r *http.Request) (*pgo.Pipeline, bool) {
	id := r.PathValue("id")
	p, ok := fleet.Get(id)
	if !ok {
		http.Error(w, "Unknown graph: "+id, http.StatusNotFound)
		return nil, false
	}
	return p, true
}

func statusOf(p *pgo.Pipeline) graphStatus {
	s := graphStatus{ID: p.ID(), Stats: p.Snapshot().Stats()}
	if res, ok := p.Last(); ok {
		s.Last = &res
	}
	if err := p.Halted(); err != nil {
		s.Halted = err.Error()
	}
	return s
}

func colorFor(config *pgo.Config, id string) string {
	if config == nil {
		return ""
	}
	if g := config.GetGraphByID(id); g != nil {
		return g.Color
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
