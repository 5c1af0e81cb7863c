package contour

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig defines an observation source from the config file.
// A source is fed either by an MQTT topic, by polling an HTTP API, or both.
type SourceConfig struct {
	ID     string  `yaml:"id" json:"id"`
	Topic  string  `yaml:"topic,omitempty" json:"topic,omitempty"`
	ApiURL *string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// RenderConfig holds output image settings
type RenderConfig struct {
	Width            int     `yaml:"width,omitempty" json:"width,omitempty"`                       // Raster width in pixels (default 800)
	Height           int     `yaml:"height,omitempty" json:"height,omitempty"`                     // Raster height in pixels (default 600)
	VectorResolution float64 `yaml:"vectorResolution,omitempty" json:"vectorResolution,omitempty"` // Vector PNG DPI (default 300)
	Padding          float64 `yaml:"padding,omitempty" json:"padding,omitempty"`                   // Margin around the map in pixels (default 20)
}

// Config represents the full configuration file
type Config struct {
	MQTT         MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Grid         GridDescription `yaml:"grid" json:"grid"`
	ValueField   string          `yaml:"valueField,omitempty" json:"valueField,omitempty"`
	Neighbors    int             `yaml:"neighbors,omitempty" json:"neighbors,omitempty"`
	Metric       string          `yaml:"metric,omitempty" json:"metric,omitempty"`
	Breaks       []float64       `yaml:"breaks" json:"breaks"`
	ClipFile     string          `yaml:"clipFile,omitempty" json:"clipFile,omitempty"`
	Sources      []SourceConfig  `yaml:"sources,omitempty" json:"sources,omitempty"`
	PollInterval time.Duration   `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"` // HTTP source poll period (default 5m)
	Render       RenderConfig    `yaml:"render,omitempty" json:"render,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			PublishPrefix: "isomesh",
			ClientID:      "isomesh",
		},
		Grid:         DefaultGridDescription(),
		ValueField:   DefaultValueField,
		Neighbors:    DefaultNeighbors,
		Metric:       "haversine",
		Breaks:       []float64{0, 5, 10, 15, 20, 25, 30, 35},
		PollInterval: 5 * time.Minute,
		Render: RenderConfig{
			Width:            800,
			Height:           600,
			VectorResolution: 300,
			Padding:          20,
		},
	}
}

// LoadConfig loads the configuration from a YAML file. Keys missing from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the fields LoadConfig cannot default
func (c *Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	if c.Neighbors < 0 {
		return fmt.Errorf("neighbors must not be negative, got %d", c.Neighbors)
	}
	if _, err := MetricByName(c.Metric); err != nil {
		return err
	}
	for i, b := range c.Breaks {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("breaks[%d] is not finite", i)
		}
	}

	needsBroker := false
	for i, sc := range c.Sources {
		if sc.ID == "" {
			return fmt.Errorf("source[%d].id is required", i)
		}
		if sc.Topic == "" && sc.ApiURL == nil {
			return fmt.Errorf("source[%d] needs a topic or apiUrl for %s", i, sc.ID)
		}
		if sc.Topic != "" {
			needsBroker = true
		}
	}
	if needsBroker && c.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.broker is required when sources use topics")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetSourceByID finds a source by its ID
func (c *Config) GetSourceByID(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

// PollSources returns the sources that are fetched over HTTP
func (c *Config) PollSources() []SourceConfig {
	var out []SourceConfig
	for _, sc := range c.Sources {
		if sc.ApiURL != nil && *sc.ApiURL != "" {
			out = append(out, sc)
		}
	}
	return out
}

// Request builds a pipeline request for the given observations
func (c *Config) Request(points []Observation) Request {
	grid := c.Grid
	return Request{
		Points:     points,
		Breaks:     c.Breaks,
		ValueField: c.ValueField,
		Grid:       &grid,
		Neighbors:  c.Neighbors,
		Metric:     c.Metric,
	}
}
