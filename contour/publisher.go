package contour

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// GridSummary is the small retained message published next to the contours
type GridSummary struct {
	Rows      int       `json:"m"`
	Columns   int       `json:"n"`
	XLim      []float64 `json:"xlim"`
	YLim      []float64 `json:"ylim"`
	ZLim      []float64 `json:"zlim"`
	NoData    int       `json:"noData"`
	Features  int       `json:"features"`
	Sources   []string  `json:"sources,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Summarize builds the summary of a pipeline result
func Summarize(r *Result, sources []string) GridSummary {
	s := GridSummary{
		ZLim:      []float64{},
		Sources:   sources,
		Timestamp: time.Now().Unix(),
	}
	if r.Grid != nil {
		g := r.Grid
		s.Rows, s.Columns = g.Rows, g.Columns
		s.XLim = []float64{g.XMin, g.XMax}
		s.YLim = []float64{g.YMin, g.YMax}
		if lo, hi, ok := g.Range(); ok {
			s.ZLim = []float64{lo, hi}
		}
		for i := range g.Values {
			if !g.Valid(i) {
				s.NoData++
			}
		}
	}
	if r.Features != nil {
		s.Features = len(r.Features.Features)
	}
	return s
}

// Publisher publishes pipeline results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *GridSummary
	mu            sync.RWMutex
}

// NewPublisher creates a result publisher. The topic prefix comes from
// MQTT_PUBLISH_PREFIX, then prefix, then "isomesh".
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: envOr("MQTT_PUBLISH_PREFIX", prefix, "isomesh"),
		qos:           0,
		retain:        true,
	}
}

// Prefix returns the topic prefix in use
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishResult publishes the FeatureCollection to {prefix}/contours and
// the grid summary to {prefix}/grid
func (p *Publisher) PublishResult(r *Result, sources []string) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if r == nil || r.Features == nil {
		return fmt.Errorf("no result to publish")
	}

	payload, err := r.Features.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling contours: %w", err)
	}
	if err := p.publish(p.publishPrefix+"/contours", payload); err != nil {
		log.Printf("Error publishing contours: %v", err)
		return err
	}

	summary := Summarize(r, sources)
	payload, err = json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling grid summary: %w", err)
	}
	if err := p.publish(p.publishPrefix+"/grid", payload); err != nil {
		log.Printf("Error publishing grid summary: %v", err)
		return err
	}

	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()

	log.Printf("Published %d contour features (%dx%d grid)", summary.Features, summary.Columns, summary.Rows)
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastSummary returns the most recently published summary
func (p *Publisher) LastSummary() (GridSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return GridSummary{}, false
	}
	return *p.last, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
