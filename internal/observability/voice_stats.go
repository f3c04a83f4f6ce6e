package observability

import (
	"slices"
	"sync"
	"time"
)

// VoiceStage names one timed step of a voice turn.
type VoiceStage string

const (
	StageTranscribe VoiceStage = "stt"
	StageReply      VoiceStage = "llm"
	StageSpeak      VoiceStage = "tts"
	StageFirstAudio VoiceStage = "first_audio"
)

// voiceStages fixes the order stages are reported in.
var voiceStages = []VoiceStage{StageTranscribe, StageReply, StageSpeak, StageFirstAudio}

// Budget is the p95 a stage should stay under on a laptop-class machine.
func (s VoiceStage) Budget() time.Duration {
	switch s {
	case StageTranscribe:
		return 2 * time.Second
	case StageReply:
		return 8 * time.Second
	case StageSpeak:
		return 4 * time.Second
	case StageFirstAudio:
		return 6 * time.Second
	}
	return 0
}

// StageStats summarizes the recent turns of one stage, in milliseconds.
type StageStats struct {
	Stage      VoiceStage `json:"stage"`
	Samples    int        `json:"samples"`
	LastMS     int64      `json:"last_ms"`
	MeanMS     int64      `json:"mean_ms"`
	P50MS      int64      `json:"p50_ms"`
	P95MS      int64      `json:"p95_ms"`
	BudgetMS   int64      `json:"budget_ms"`
	OverBudget int        `json:"over_budget"`
}

// BridgeStats counts worker bridge requests by classified outcome.
type BridgeStats struct {
	Requests    int            `json:"requests"`
	Outcomes    map[string]int `json:"outcomes"`
	SuccessRate float64        `json:"success_rate"`
	LastMS      int64          `json:"last_ms"`
}

// GenerationStats counts how one kind of generation was served.
// FallbackRate is the share answered by the offline fallback or not at all.
type GenerationStats struct {
	Kind         string         `json:"kind"`
	Total        int            `json:"total"`
	Paths        map[string]int `json:"paths"`
	FallbackRate float64        `json:"fallback_rate"`
}

// VoiceStats is the payload of /v1/voice/stats.
type VoiceStats struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	Window         int               `json:"window"`
	Stages         []StageStats      `json:"stages"`
	Bridge         BridgeStats       `json:"bridge"`
	Generations    []GenerationStats `json:"generations"`
	ProviderErrors map[string]int    `json:"provider_errors"`
}

// latencyRing holds the most recent durations of one stage.
type latencyRing struct {
	buf  []time.Duration
	n    int
	head int
}

func (r *latencyRing) add(d time.Duration) {
	r.buf[r.head] = d
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// last returns the newest sample. The ring must not be empty.
func (r *latencyRing) last() time.Duration {
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

func (r *latencyRing) sorted() []time.Duration {
	out := slices.Clone(r.buf[:r.n])
	slices.Sort(out)
	return out
}

// VoiceTracker aggregates the recent behaviour of the voice pipeline: stage
// latency per turn, worker bridge outcomes, generation paths, and provider
// error codes. Counters are cumulative since start; latencies cover the last
// window turns of each stage.
type VoiceTracker struct {
	mu      sync.Mutex
	window  int
	stages  map[VoiceStage]*latencyRing
	bridge  map[string]int
	lastRTT time.Duration
	paths   map[string]map[string]int
	errors  map[string]int
}

func NewVoiceTracker(window int) *VoiceTracker {
	if window <= 0 {
		window = 256
	}
	t := &VoiceTracker{
		window: window,
		stages: make(map[VoiceStage]*latencyRing, len(voiceStages)),
		bridge: make(map[string]int),
		paths:  make(map[string]map[string]int),
		errors: make(map[string]int),
	}
	for _, s := range voiceStages {
		t.stages[s] = &latencyRing{buf: make([]time.Duration, window)}
	}
	return t
}

// ObserveStage records one turn's duration for stage. Stages outside the
// voice pipeline are ignored.
func (t *VoiceTracker) ObserveStage(stage VoiceStage, d time.Duration) {
	if d < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.stages[stage]; ok {
		r.add(d)
	}
}

func (t *VoiceTracker) ObserveBridge(outcome string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bridge[outcome]++
	t.lastRTT = elapsed
}

func (t *VoiceTracker) ObserveGeneration(kind, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byPath, ok := t.paths[kind]
	if !ok {
		byPath = make(map[string]int)
		t.paths[kind] = byPath
	}
	byPath[path]++
}

func (t *VoiceTracker) ObserveProviderError(provider, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[provider+"_"+code]++
}

func (t *VoiceTracker) Snapshot() VoiceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := VoiceStats{
		GeneratedAt:    time.Now().UTC(),
		Window:         t.window,
		Stages:         []StageStats{},
		Generations:    []GenerationStats{},
		ProviderErrors: make(map[string]int, len(t.errors)),
	}
	for _, stage := range voiceStages {
		if r := t.stages[stage]; r.n > 0 {
			out.Stages = append(out.Stages, summarize(stage, r))
		}
	}

	out.Bridge.Outcomes = make(map[string]int, len(t.bridge))
	for outcome, n := range t.bridge {
		out.Bridge.Outcomes[outcome] = n
		out.Bridge.Requests += n
	}
	if out.Bridge.Requests > 0 {
		out.Bridge.SuccessRate = ratio(t.bridge["ok"], out.Bridge.Requests)
		out.Bridge.LastMS = t.lastRTT.Milliseconds()
	}

	kinds := make([]string, 0, len(t.paths))
	for kind := range t.paths {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		g := GenerationStats{Kind: kind, Paths: make(map[string]int, len(t.paths[kind]))}
		for path, n := range t.paths[kind] {
			g.Paths[path] = n
			g.Total += n
		}
		g.FallbackRate = ratio(g.Paths["fallback"]+g.Paths["failed"], g.Total)
		out.Generations = append(out.Generations, g)
	}

	for k, n := range t.errors {
		out.ProviderErrors[k] = n
	}
	return out
}

func summarize(stage VoiceStage, r *latencyRing) StageStats {
	sorted := r.sorted()
	budget := stage.Budget()
	var sum time.Duration
	over := 0
	for _, d := range sorted {
		sum += d
		if budget > 0 && d > budget {
			over++
		}
	}
	return StageStats{
		Stage:      stage,
		Samples:    r.n,
		LastMS:     r.last().Milliseconds(),
		MeanMS:     (sum / time.Duration(r.n)).Milliseconds(),
		P50MS:      nearestRank(sorted, 50).Milliseconds(),
		P95MS:      nearestRank(sorted, 95).Milliseconds(),
		BudgetMS:   budget.Milliseconds(),
		OverBudget: over,
	}
}

// nearestRank returns the pct-th percentile of a sorted, non-empty slice.
func nearestRank(sorted []time.Duration, pct int) time.Duration {
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
