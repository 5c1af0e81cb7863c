package contour

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
)

// SourceSnapshot is the latest batch of observations from one source
type SourceSnapshot struct {
	SourceID     string        `json:"sourceId"`
	Observations []Observation `json:"observations"`
	Timestamp    time.Time     `json:"timestamp"`
}

// StateTracker holds the latest observations per source and the latest
// pipeline result for the HTTP endpoints and the publisher
type StateTracker struct {
	mu        sync.RWMutex
	sources   map[string]*SourceSnapshot
	result    *Result
	updated   time.Time
	cachePath string // path to the result cache file; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{
		sources: make(map[string]*SourceSnapshot),
	}
}

// NewStateTrackerWithCache creates a state tracker that persists the latest
// result to cachePath. A readable cache is loaded on creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := NewStateTracker()
	st.cachePath = cachePath
	if cachePath != "" {
		if r, err := LoadResult(cachePath); err == nil {
			st.result = r
		}
	}
	return st
}

// UpdateObservations replaces the observations for a source
func (st *StateTracker) UpdateObservations(sourceID string, obs []Observation) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sources[sourceID] = &SourceSnapshot{
		SourceID:     sourceID,
		Observations: obs,
		Timestamp:    time.Now(),
	}
}

// GetSources returns a copy of every source snapshot
func (st *StateTracker) GetSources() map[string]SourceSnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]SourceSnapshot, len(st.sources))
	for k, v := range st.sources {
		result[k] = *v
	}
	return result
}

// SourceIDs returns the IDs of sources that have reported, sorted
func (st *StateTracker) SourceIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.sources))
	for id := range st.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasObservations returns true if any source has reported
func (st *StateTracker) HasObservations() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sources) > 0
}

// AllObservations merges every source in source ID order
func (st *StateTracker) AllObservations() []Observation {
	ids := st.SourceIDs()

	st.mu.RLock()
	defer st.mu.RUnlock()

	var all []Observation
	for _, id := range ids {
		if s, ok := st.sources[id]; ok {
			all = append(all, s.Observations...)
		}
	}
	return all
}

// GetResult returns the latest result, or nil if none exists
func (st *StateTracker) GetResult() *Result {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result
}

// LastUpdated returns when the result was last recomputed
func (st *StateTracker) LastUpdated() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.updated
}

// SetResult stores a result computed elsewhere
func (st *StateTracker) SetResult(r *Result) {
	st.mu.Lock()
	st.result = r
	st.updated = time.Now()
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" {
		if err := SaveResult(r, cachePath); err != nil {
			log.Printf("Warning: failed to save result cache: %v", err)
		}
	}
}

// Recompute runs the pipeline over the merged observations of every source
// and stores the result.
func (st *StateTracker) Recompute(ctx context.Context, p Pipeline, config *Config, clip *geojson.Feature) (*Result, error) {
	points := st.AllObservations()
	if len(points) == 0 {
		return nil, fmt.Errorf("no observations available")
	}

	req := config.Request(points)
	req.Clip = clip
	r, err := p.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	st.SetResult(r)
	return r, nil
}

// SaveResult writes a result to disk as JSON
func SaveResult(r *Result, path string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result cache: %w", err)
	}
	return nil
}

// LoadResult reads a result written by SaveResult
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result cache: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal result cache: %w", err)
	}
	return &r, nil
}
