package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunOnce() error               { m.called["RunOnce"] = true; return m.err }
func (m *mockApp) RunRender() error             { m.called["RunRender"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Once",
			args:           []string{"--points", "obs.json", "--breaks", "0,10,20", "--value-field", "rh"},
			expectedCalled: "RunOnce",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.PointsFile != "obs.json" {
					t.Errorf("expected PointsFile obs.json, got %s", opts.PointsFile)
				}
				if opts.Breaks != "0,10,20" {
					t.Errorf("expected Breaks 0,10,20, got %s", opts.Breaks)
				}
				if opts.ValueField != "rh" {
					t.Errorf("expected ValueField rh, got %s", opts.ValueField)
				}
				if opts.Format != "geojson" {
					t.Errorf("expected default Format geojson, got %s", opts.Format)
				}
				if opts.OutputFile != "-" {
					t.Errorf("expected default OutputFile -, got %s", opts.OutputFile)
				}
			},
		},
		{
			name:           "OnceGridFormat",
			args:           []string{"--points", "-", "--format", "grid", "--output", "grid.json", "--clip", "cq.geojson"},
			expectedCalled: "RunOnce",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Format != "grid" {
					t.Errorf("expected Format grid, got %s", opts.Format)
				}
				if opts.ClipFile != "cq.geojson" {
					t.Errorf("expected ClipFile cq.geojson, got %s", opts.ClipFile)
				}
			},
		},
		{
			name:           "RenderSVG",
			args:           []string{"--points", "obs.json", "--format", "svg"},
			expectedCalled: "RunRender",
		},
		{
			name:           "RenderRaster",
			args:           []string{"--points", "obs.json", "--format", "raster"},
			expectedCalled: "RunRender",
		},
		{
			name:           "HTTPService",
			args:           []string{"--http", "--http-port", "9090", "--result-cache", "/tmp/result.json"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode {
					t.Error("expected HttpMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
				if opts.ResultCache != "/tmp/result.json" {
					t.Errorf("expected ResultCache /tmp/result.json, got %s", opts.ResultCache)
				}
			},
		},
		{
			name:           "MQTTServiceWinsOverPoints",
			args:           []string{"--mqtt", "--points", "obs.json", "--config", "alt.yaml"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.ConfigFile != "alt.yaml" {
					t.Errorf("expected ConfigFile alt.yaml, got %s", opts.ConfigFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called, got %v", tt.expectedCalled, app.called)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_PropagatesModeError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("no such file")
	var out bytes.Buffer

	err := run([]string{"--points", "missing.json"}, &out, app)
	if err == nil || !strings.Contains(err.Error(), "no such file") {
		t.Errorf("expected mode error, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of isomesh") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--kriging"}, &out, app); err == nil {
		t.Error("expected error for unknown flag")
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "isomesh version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "--points FILE") {
		t.Errorf("expected usage hints, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected no mode to run, got %v", app.called)
	}
}

func TestIsRenderFormat(t *testing.T) {
	for _, f := range []string{"svg", "png", "raster"} {
		if !isRenderFormat(f) {
			t.Errorf("expected %s to be a render format", f)
		}
	}
	for _, f := range []string{"geojson", "grid", "result", ""} {
		if isRenderFormat(f) {
			t.Errorf("expected %s not to be a render format", f)
		}
	}
}

func TestMain_Execute(t *testing.T) {
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
