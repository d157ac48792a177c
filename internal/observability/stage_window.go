package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Story pipeline stages timed into the window.
const (
	StageGenerate  = "generate"
	StageValidate  = "validate"
	StagePersist   = "persist"
	StageTurnTotal = "turn_total"
)

// Indicators counted next to the stage timings.
const (
	IndicatorTransportRetry = "transport_retry"
	IndicatorContentRetry   = "content_retry"
	IndicatorFallback       = "fallback"
)

const defaultStageSamples = 256

var stageTargetsP95MS = map[string]float64{
	StageGenerate:  4000,
	StageValidate:  50,
	StagePersist:   150,
	StageTurnTotal: 8000,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type StageIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []StageStats     `json:"stages"`
	Indicators  []StageIndicator `json:"indicators,omitempty"`
}

// StageWindow keeps the most recent latencies per story stage plus retry and
// fallback counters. A nil window ignores every call.
type StageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*latencyRing
	indicators map[string]int
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = defaultStageSamples
	}
	w := &StageWindow{size: size}
	w.clear()
	return w
}

// ObserveDuration records d for stage.
func (w *StageWindow) ObserveDuration(stage string, d time.Duration) {
	w.Observe(stage, float64(d.Microseconds())/1000)
}

func (w *StageWindow) Observe(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring, ok := w.rings[stage]
	if !ok {
		ring = newLatencyRing(w.size)
		w.rings[stage] = ring
	}
	ring.push(ms)
}

func (w *StageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *StageWindow) Snapshot() StageSnapshot {
	snap := StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	if w == nil {
		return snap
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap.WindowSize = w.size
	for _, stage := range sortedKeys(w.rings) {
		if stats, ok := w.rings[stage].stats(stage); ok {
			snap.Stages = append(snap.Stages, stats)
		}
	}
	for _, name := range sortedKeys(w.indicators) {
		snap.Indicators = append(snap.Indicators, StageIndicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

// Reset drops every sample and counter.
func (w *StageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clear()
}

func (w *StageWindow) clear() {
	w.rings = make(map[string]*latencyRing)
	w.indicators = make(map[string]int)
}

// latencyRing is a fixed-size circular buffer of millisecond samples.
type latencyRing struct {
	samples []float64
	pos     int
	count   int
	last    float64
}

func newLatencyRing(size int) *latencyRing {
	return &latencyRing{samples: make([]float64, size)}
}

func (r *latencyRing) push(ms float64) {
	r.samples[r.pos] = ms
	r.pos = (r.pos + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
	r.last = ms
}

func (r *latencyRing) stats(stage string) (StageStats, bool) {
	if r.count == 0 {
		return StageStats{}, false
	}
	sorted := append([]float64(nil), r.samples[:r.count]...)
	sort.Float64s(sorted)
	var total float64
	for _, v := range sorted {
		total += v
	}
	return StageStats{
		Stage:       stage,
		Samples:     r.count,
		LastMS:      round2(r.last),
		AvgMS:       round2(total / float64(r.count)),
		P50MS:       round2(interpolate(sorted, 0.50)),
		P95MS:       round2(interpolate(sorted, 0.95)),
		P99MS:       round2(interpolate(sorted, 0.99)),
		TargetP95MS: stageTargetsP95MS[stage],
	}, true
}

// interpolate returns the q-quantile of sorted using linear interpolation
// between closest ranks.
func interpolate(sorted []float64, q float64) float64 {
	switch n := len(sorted); {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
