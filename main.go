package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command-line flags
type AppOptions struct {
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
}

// AppRunner is the part of App that run drives
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunOnce() error
	RunRender() error
	RunService() error
}

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("isomesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.PointsFile, "points", "", "Observation file (JSON array or GeoJSON points); '-' reads stdin")
	fs.StringVar(&opts.Breaks, "breaks", "", "Comma-separated contour thresholds (overrides config)")
	fs.StringVar(&opts.ClipFile, "clip", "", "GeoJSON clip boundary (overrides config)")
	fs.StringVar(&opts.ValueField, "value-field", "", "Observation field to interpolate (overrides config)")
	fs.StringVar(&opts.OutputFile, "output", "-", "Output file; '-' writes stdout")
	fs.StringVar(&opts.Format, "format", "geojson", "Output format: geojson, grid, result, svg, png, or raster")
	fs.StringVar(&opts.ResultCache, "result-cache", "", "Persist the latest service result to this file")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Subscribe to source topics and publish contours")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the HTTP API")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "isomesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	case opts.PointsFile != "" && isRenderFormat(opts.Format):
		return app.RunRender()
	case opts.PointsFile != "":
		return app.RunOnce()
	}

	fmt.Fprintln(out, "Use --points FILE to contour observations once")
	fmt.Fprintln(out, "Use --points FILE --format svg|png|raster to render them")
	fmt.Fprintln(out, "Use --mqtt and/or --http to run the service")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - grid, breaks, sources and MQTT settings")
	fmt.Fprintln(out, "  .env        - MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME, MQTT_PASSWORD, MQTT_PUBLISH_PREFIX")
	return nil
}

func isRenderFormat(format string) bool {
	switch format {
	case "svg", "png", "raster":
		return true
	default:
		return false
	}
}
