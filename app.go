package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/isomesh/contour"
	"github.com/paulmach/orb/geojson"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *contour.Config
	StateTracker *contour.StateTracker
	MQTTClient   *contour.MQTTClient
	Publisher    *contour.Publisher
	Pipeline     contour.Pipeline
	Clip         *geojson.Feature

	// CLI flags
	ConfigFile  string
	PointsFile  string
	Breaks      string
	ClipFile    string
	ValueField  string
	OutputFile  string
	Format      string
	ResultCache string
	HttpPort    int
	MqttMode    bool
	HttpMode    bool

	// Stdin is read when PointsFile is "-"
	Stdin io.Reader
	// Stdout is written when OutputFile is "-"
	Stdout io.Writer

	refreshMu sync.Mutex
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: contour.NewStateTracker(),
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.PointsFile = opts.PointsFile
	a.Breaks = opts.Breaks
	a.ClipFile = opts.ClipFile
	a.ValueField = opts.ValueField
	a.OutputFile = opts.OutputFile
	a.Format = opts.Format
	a.ResultCache = opts.ResultCache
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// LoadConfiguration loads the config file, falling back to DefaultConfig
// when the default path does not exist, then applies flag overrides and
// loads the clip boundary.
func (a *App) LoadConfiguration() error {
	config, err := contour.LoadConfig(a.ConfigFile)
	if err != nil {
		if _, statErr := os.Stat(a.ConfigFile); !os.IsNotExist(statErr) || a.ConfigFile != "config.yaml" {
			return fmt.Errorf("loading config: %w", err)
		}
		log.Printf("No %s found, using defaults", a.ConfigFile)
		config = contour.DefaultConfig()
	} else {
		log.Printf("Loaded config from %s", a.ConfigFile)
	}

	if a.Breaks != "" {
		breaks, err := parseBreaks(a.Breaks)
		if err != nil {
			return err
		}
		config.Breaks = breaks
	}
	if a.ValueField != "" {
		config.ValueField = a.ValueField
	}
	if a.ClipFile != "" {
		config.ClipFile = a.ClipFile
	}

	if config.ClipFile != "" {
		clip, err := contour.ParseClipFile(config.ClipFile)
		if err != nil {
			return fmt.Errorf("loading clip boundary: %w", err)
		}
		a.Clip = clip
		log.Printf("Loaded clip boundary from %s", config.ClipFile)
	}

	a.Config = config
	return nil
}

// parseBreaks parses "0,5,10" into thresholds
func parseBreaks(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	breaks := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid break %q: %w", p, err)
		}
		breaks = append(breaks, v)
	}
	return breaks, nil
}

// compute reads the points file and runs the pipeline once
func (a *App) compute() (*contour.Result, []contour.Observation, error) {
	if err := a.LoadConfiguration(); err != nil {
		return nil, nil, err
	}

	var data []byte
	var err error
	if a.PointsFile == "-" {
		data, err = io.ReadAll(a.Stdin)
	} else {
		data, err = os.ReadFile(a.PointsFile)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading points: %w", err)
	}

	points, err := contour.DecodeObservations(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding points: %w", err)
	}
	log.Printf("Loaded %d observations from %s", len(points), a.PointsFile)

	req := a.Config.Request(points)
	req.Clip = a.Clip

	start := time.Now()
	result, err := a.Pipeline.Run(context.Background(), req)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Interpolated %dx%d grid and %d contour features in %v",
		result.Grid.Columns, result.Grid.Rows, len(result.Features.Features), time.Since(start))
	return result, points, nil
}

// withOutput opens the output file, or stdout for "-"
func (a *App) withOutput(write func(io.Writer) error) error {
	if a.OutputFile == "" || a.OutputFile == "-" {
		return write(a.Stdout)
	}
	f, err := os.Create(a.OutputFile)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	log.Printf("Wrote %s", a.OutputFile)
	return nil
}

// RunOnce contours the points file and writes GeoJSON, the grid, or both
func (a *App) RunOnce() error {
	result, _, err := a.compute()
	if err != nil {
		return err
	}

	var v interface{}
	switch a.Format {
	case "", "geojson":
		v = result.Features
	case "grid":
		v = result.Grid
	case "result":
		v = result
	default:
		return fmt.Errorf("unknown format %q", a.Format)
	}

	return a.withOutput(func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// RunRender contours the points file and writes an image
func (a *App) RunRender() error {
	result, points, err := a.compute()
	if err != nil {
		return err
	}

	return a.withOutput(func(w io.Writer) error {
		switch a.Format {
		case "raster":
			return contour.NewGridRenderer(result.Grid, a.Config.Render.Width).WritePNG(w)
		case "svg", "png":
			renderer := contour.NewVectorRenderer(result, a.Config)
			renderer.Clip = a.Clip
			renderer.Stations = points
			if a.Format == "svg" {
				return renderer.RenderToSVG(w)
			}
			return renderer.RenderToPNG(w)
		default:
			return fmt.Errorf("unknown render format %q", a.Format)
		}
	})
}

// handleObservations is the MQTT and poller callback
func (a *App) handleObservations(ctx context.Context, trigger string) contour.ObservationHandler {
	return func(sourceID string, obs []contour.Observation, err error) {
		if err != nil {
			ingestErrors.WithLabelValues(sourceID).Inc()
			log.Printf("Error receiving observations for %s: %v", sourceID, err)
			return
		}
		observationsIngested.WithLabelValues(sourceID).Add(float64(len(obs)))
		a.StateTracker.UpdateObservations(sourceID, obs)
		log.Printf("%s: %d observations", sourceID, len(obs))
		a.refresh(ctx, trigger)
	}
}

// refresh recomputes the result from every source and publishes it
func (a *App) refresh(ctx context.Context, trigger string) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	start := time.Now()
	result, err := a.StateTracker.Recompute(ctx, a.Pipeline, a.Config, a.Clip)
	features := 0
	if result != nil {
		features = len(result.Features.Features)
	}
	observeRun(trigger, start, features, err)
	if err != nil {
		log.Printf("Error recomputing contours: %v", err)
		return
	}
	log.Printf("Recomputed %d contour features in %v", features, time.Since(start))

	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(result, a.StateTracker.SourceIDs()); err != nil {
			log.Printf("Error publishing contours: %v", err)
		}
	}
}

// pollSource fetches one HTTP source now and then every interval until ctx ends
func (a *App) pollSource(ctx context.Context, source contour.SourceConfig, interval time.Duration, opts ...contour.FetchOption) {
	handler := a.handleObservations(ctx, "poll")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		obs, err := contour.FetchObservations(ctx, *source.ApiURL, opts...)
		if ctx.Err() != nil {
			return
		}
		handler(source.ID, obs, err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunService runs the MQTT subscriber, the HTTP pollers and the HTTP server
// until interrupted
func (a *App) RunService() error {
	fmt.Println("Starting isomesh service...")

	if err := a.LoadConfiguration(); err != nil {
		return err
	}
	config := a.Config

	if a.ResultCache != "" {
		a.StateTracker = contour.NewStateTrackerWithCache(a.ResultCache)
		if a.StateTracker.GetResult() != nil {
			log.Printf("Loaded cached result from %s", a.ResultCache)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.MqttMode {
		mqttClient, err := contour.InitMQTT(config, a.handleObservations(ctx, "mqtt"))
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured")
		}
		a.MQTTClient = mqttClient
		a.Publisher = contour.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		fmt.Println("MQTT contour publisher initialized")
	}

	interval := config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	for _, source := range config.PollSources() {
		log.Printf("Polling %s every %v (%s)", source.ID, interval, *source.ApiURL)
		go a.pollSource(ctx, source, interval)
	}

	if a.HttpMode {
		handler := newHTTPServer(a.StateTracker, config, a.Pipeline, a.Clip)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")
	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, sc := range config.Sources {
			if sc.Topic != "" {
				fmt.Printf("    - %s (%s)\n", sc.Topic, sc.ID)
			}
		}
		fmt.Printf("  Publishing to: %s/contours and %s/grid\n", a.Publisher.Prefix(), a.Publisher.Prefix())
	}
	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET  /health           - Health check")
		fmt.Println("  POST /contours         - Interpolate and contour a request body")
		fmt.Println("  GET  /contours.geojson - Latest contours")
		fmt.Println("  GET  /grid.json        - Latest grid")
		fmt.Println("  GET  /contours.svg     - Latest contours as SVG")
		fmt.Println("  GET  /contours.png     - Latest contours as PNG")
		fmt.Println("  GET  /grid.png         - Latest grid as a color raster")
		fmt.Println("  GET  /metrics          - Prometheus metrics")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down service...")
	cancel()
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}
