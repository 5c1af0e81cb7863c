package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kwv/isomesh/contour"
	"github.com/paulmach/orb/geojson"
)

// maxRequestBytes bounds POST /contours bodies
const maxRequestBytes = 16 << 20

// contourRequest is the POST /contours body. points may be a JSON array of
// station objects or a GeoJSON point FeatureCollection.
type contourRequest struct {
	Points      json.RawMessage      `json:"points"`
	Breaks      []float64            `json:"breaks"`
	ClipFeature json.RawMessage      `json:"clpFeature,omitempty"`
	ValueField  string               `json:"valueField,omitempty"`
	GridOptions *contour.GridOptions `json:"gridOptions,omitempty"`
	Neighbors   int                  `json:"neighbors,omitempty"`
	Metric      string               `json:"metric,omitempty"`
}

// toRequest validates the body and converts it into a pipeline request.
// Unset fields fall back to the service config.
func (cr contourRequest) toRequest(config *contour.Config) (contour.Request, error) {
	points, err := contour.ParseObservations(cr.Points)
	if err != nil {
		return contour.Request{}, err
	}

	req := config.Request(points)
	if cr.Breaks != nil {
		req.Breaks = cr.Breaks
	}
	if cr.ValueField != "" {
		req.ValueField = cr.ValueField
	}
	if cr.GridOptions != nil {
		desc := cr.GridOptions.Description()
		req.Grid = &desc
	}
	if cr.Neighbors != 0 {
		req.Neighbors = cr.Neighbors
	}
	if cr.Metric != "" {
		req.Metric = cr.Metric
	}

	if raw := bytes.TrimSpace(cr.ClipFeature); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		clip, err := contour.ParseClipFeature(raw)
		if err != nil {
			return contour.Request{}, err
		}
		req.Clip = clip
	}
	return req, nil
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *contour.StateTracker, config *contour.Config, pipeline contour.Pipeline, clip *geojson.Feature) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", instrument("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status          string    `json:"status"`
			Timestamp       time.Time `json:"timestamp"`
			HasObservations bool      `json:"hasObservations"`
			HasResult       bool      `json:"hasResult"`
			Sources         []string  `json:"sources"`
		}{
			Status:          "ok",
			Timestamp:       time.Now(),
			HasObservations: stateTracker.HasObservations(),
			HasResult:       stateTracker.GetResult() != nil,
			Sources:         stateTracker.SourceIDs(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	}))

	// On-demand interpolation
	mux.HandleFunc("/contours", instrument("/contours", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body contourRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err := dec.Decode(&body); err != nil {
			http.Error(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}

		req, err := body.toRequest(config)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		start := time.Now()
		result, err := pipeline.Run(r.Context(), req)
		features := 0
		if result != nil {
			features = len(result.Features.Features)
		}
		observeRun("http", start, features, err)
		if err != nil {
			if errors.Is(err, contour.ErrInvalidInput) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			log.Printf("Error running pipeline for HTTP request: %v", err)
			http.Error(w, "Contouring failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, result)
	}))

	mux.HandleFunc("/contours.geojson", instrument("/contours.geojson", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.GetResult()
		if result == nil || result.Features == nil {
			http.Error(w, "No contours available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		writeJSON(w, result.Features)
	}))

	mux.HandleFunc("/grid.json", instrument("/grid.json", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.GetResult()
		if result == nil || result.Grid == nil {
			http.Error(w, "No grid available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, result.Grid)
	}))

	mux.HandleFunc("/contours.svg", instrument("/contours.svg", func(w http.ResponseWriter, r *http.Request) {
		renderer, ok := vectorRendererFor(w, stateTracker, config, clip)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering contours SVG: %v", err)
		}
	}))

	mux.HandleFunc("/contours.png", instrument("/contours.png", func(w http.ResponseWriter, r *http.Request) {
		renderer, ok := vectorRendererFor(w, stateTracker, config, clip)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("Error rendering contours PNG: %v", err)
		}
	}))

	mux.HandleFunc("/grid.png", instrument("/grid.png", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.GetResult()
		if result == nil || result.Grid == nil {
			http.Error(w, "No grid available", http.StatusServiceUnavailable)
			return
		}
		renderer := contour.NewGridRenderer(result.Grid, config.Render.Width)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.WritePNG(w); err != nil {
			log.Printf("Error encoding grid PNG: %v", err)
		}
	}))

	mux.Handle("/metrics", metricsHandler())

	return mux
}

// vectorRendererFor builds a renderer for the latest result, or answers 503
func vectorRendererFor(w http.ResponseWriter, stateTracker *contour.StateTracker, config *contour.Config, clip *geojson.Feature) (*contour.VectorRenderer, bool) {
	result := stateTracker.GetResult()
	if result == nil || result.Features == nil {
		http.Error(w, "No contours available", http.StatusServiceUnavailable)
		return nil, false
	}
	renderer := contour.NewVectorRenderer(result, config)
	renderer.Clip = clip
	renderer.Stations = stateTracker.AllObservations()
	return renderer, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
