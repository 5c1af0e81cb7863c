package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/isomesh/contour"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// testConfig covers the unit square with a 3x3 grid and one break at 5
func testConfig() *contour.Config {
	config := contour.DefaultConfig()
	config.Grid = contour.GridDescription{
		Columns:     3,
		Rows:        3,
		XResolution: 0.5,
		YResolution: 0.5,
		XMin:        0,
		XMax:        1,
		YMin:        0,
		YMax:        1,
	}
	config.Breaks = []float64{5}
	return config
}

func cornerObservations() []contour.Observation {
	mk := func(lon, lat, v float64) contour.Observation {
		return contour.Observation{Lon: lon, Lat: lat, Fields: map[string]float64{"tempvalue": v}}
	}
	return []contour.Observation{mk(0, 0, 0), mk(1, 0, 0), mk(0, 1, 10), mk(1, 1, 10)}
}

// populatedTracker returns a StateTracker with one source and a computed result
func populatedTracker(t *testing.T) *contour.StateTracker {
	t.Helper()
	st := contour.NewStateTracker()
	st.UpdateObservations("corners", cornerObservations())
	_, err := st.Recompute(context.Background(), contour.Pipeline{}, testConfig(), nil)
	require.NoError(t, err)
	return st
}

func serve(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const cornersJSON = `[
	{"lon": 0, "lat": 0, "tempvalue": 0},
	{"lon": 1, "lat": 0, "tempvalue": 0},
	{"lon": 0, "lat": 1, "tempvalue": 10},
	{"lon": 1, "lat": 1, "tempvalue": 10}
]`

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), testConfig(), contour.Pipeline{}, nil)

	w := serve(h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, true, status["hasObservations"])
	assert.Equal(t, true, status["hasResult"])
	assert.Equal(t, []interface{}{"corners"}, status["sources"])
}

// ---------------------------------------------------------------------------
// POST /contours
// ---------------------------------------------------------------------------

func TestContoursEndpoint(t *testing.T) {
	h := newHTTPServer(contour.NewStateTracker(), testConfig(), contour.Pipeline{}, nil)

	body := `{"points": ` + cornersJSON + `, "breaks": [5, 100]}`
	w := serve(h, http.MethodPost, "/contours", []byte(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var r contour.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	require.NotNil(t, r.Grid)
	assert.Equal(t, 3, r.Grid.Columns)
	require.Len(t, r.Features.Features, 1)
	assert.Equal(t, 5.0, r.Features.Features[0].Properties[contour.ValueProperty])
}

func TestContoursEndpoint_GridOptionsAndClip(t *testing.T) {
	h := newHTTPServer(contour.NewStateTracker(), testConfig(), contour.Pipeline{}, nil)

	body := `{
		"points": ` + cornersJSON + `,
		"breaks": [5],
		"gridOptions": {"xStart": 0, "xEnd": 1, "yStart": 1, "yEnd": 0, "xDelta": 0.25, "yDelta": -0.25, "xSize": 5, "ySize": 5},
		"clpFeature": {"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0.5,0],[0.5,2],[0,2],[0,0]]]}}
	}`
	w := serve(h, http.MethodPost, "/contours", []byte(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var r contour.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	assert.Equal(t, 5, r.Grid.Columns)
	assert.Equal(t, -0.25, r.Grid.YResolution)
	require.NotEmpty(t, r.Features.Features)
	for _, f := range r.Features.Features {
		assert.LessOrEqual(t, f.Geometry.Bound().Max[0], 0.5+1e-9)
		assert.Equal(t, 5.0, f.Properties[contour.ValueProperty])
	}
}

func TestContoursEndpoint_GeoJSONPoints(t *testing.T) {
	h := newHTTPServer(contour.NewStateTracker(), testConfig(), contour.Pipeline{}, nil)

	body := `{"points": {"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]}, "properties": {"rh": 40}},
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 1]}, "properties": {"rh": 90}}
	]}, "valueField": "rh", "breaks": [60], "metric": "s2", "neighbors": 1}`
	w := serve(h, http.MethodPost, "/contours", []byte(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var r contour.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	lo, hi, ok := r.Grid.Range()
	require.True(t, ok)
	assert.InDelta(t, 40.0, lo, 1e-9)
	assert.InDelta(t, 90.0, hi, 1e-9)
}

func TestContoursEndpoint_Errors(t *testing.T) {
	h := newHTTPServer(contour.NewStateTracker(), testConfig(), contour.Pipeline{MaxCells: 100}, nil)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{name: "wrong method", method: http.MethodGet, want: http.StatusMethodNotAllowed},
		{name: "broken json", method: http.MethodPost, body: `{"points": [`, want: http.StatusBadRequest},
		{name: "bad observation", method: http.MethodPost, body: `{"points": [{"lon": 1}]}`, want: http.StatusBadRequest},
		{name: "bad clip", method: http.MethodPost, body: `{"points": [], "clpFeature": {"type": "Point", "coordinates": [0, 0]}}`, want: http.StatusBadRequest},
		{name: "unknown metric", method: http.MethodPost, body: `{"points": [], "metric": "taxicab"}`, want: http.StatusBadRequest},
		{
			name:   "grid too large",
			method: http.MethodPost,
			body:   `{"points": [], "gridOptions": {"xStart": 0, "xEnd": 1, "yStart": 0, "yEnd": 1, "xDelta": 0.01, "yDelta": 0.01, "xSize": 101, "ySize": 101}}`,
			want:   http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, tt.method, "/contours", []byte(tt.body))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestContourRequest_Defaults(t *testing.T) {
	config := testConfig()
	cr := contourRequest{Points: json.RawMessage(cornersJSON)}

	req, err := cr.toRequest(config)
	require.NoError(t, err)
	assert.Len(t, req.Points, 4)
	assert.Equal(t, config.Breaks, req.Breaks)
	assert.Equal(t, config.ValueField, req.ValueField)
	assert.Equal(t, config.Grid, *req.Grid)
	assert.Nil(t, req.Clip)

	cr.ClipFeature = json.RawMessage("null")
	req, err = cr.toRequest(config)
	require.NoError(t, err)
	assert.Nil(t, req.Clip)
}

// ---------------------------------------------------------------------------
// latest result endpoints
// ---------------------------------------------------------------------------

func TestLatestEndpoints_NoResult(t *testing.T) {
	h := newHTTPServer(contour.NewStateTracker(), testConfig(), contour.Pipeline{}, nil)

	for _, path := range []string{"/contours.geojson", "/grid.json", "/contours.svg", "/contours.png", "/grid.png"} {
		t.Run(path, func(t *testing.T) {
			w := serve(h, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		})
	}
}

func TestLatestEndpoints(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), testConfig(), contour.Pipeline{}, nil)

	tests := []struct {
		path        string
		contentType string
		check       func(t *testing.T, body []byte)
	}{
		{
			path:        "/contours.geojson",
			contentType: "application/geo+json",
			check: func(t *testing.T, body []byte) {
				fc, err := geojson.UnmarshalFeatureCollection(body)
				require.NoError(t, err)
				assert.Len(t, fc.Features, 1)
			},
		},
		{
			path:        "/grid.json",
			contentType: "application/json",
			check: func(t *testing.T, body []byte) {
				var g map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &g))
				assert.Equal(t, 3.0, g["m"])
				assert.Len(t, g["grid"], 9)
			},
		},
		{
			path:        "/contours.svg",
			contentType: "image/svg+xml",
			check: func(t *testing.T, body []byte) {
				assert.True(t, strings.Contains(string(body), "<svg"))
			},
		},
		{
			path:        "/grid.png",
			contentType: "image/png",
			check: func(t *testing.T, body []byte) {
				assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(h, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			tt.check(t, w.Body.Bytes())
		})
	}
}

// ---------------------------------------------------------------------------
// /metrics
// ---------------------------------------------------------------------------

func TestMetricsEndpoint(t *testing.T) {
	h := newHTTPServer(contour.NewStateTracker(), testConfig(), contour.Pipeline{}, nil)

	_ = serve(h, http.MethodPost, "/contours", []byte(`{"points": `+cornersJSON+`}`))
	w := serve(h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "isomesh_pipeline_runs_total")
	assert.Contains(t, body, "isomesh_http_requests_total")
	assert.Contains(t, body, `path="/contours"`)
}
