package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/vaani/internal/reliability"
)

var testNamespaceSeq atomic.Int64

func testMetrics() *Metrics {
	return NewMetrics(fmt.Sprintf("vaani_observability_test_%d", testNamespaceSeq.Add(1)))
}

func TestVoiceTrackerStagePercentiles(t *testing.T) {
	tr := NewVoiceTracker(8)
	tr.ObserveStage(StageReply, 500*time.Millisecond)
	tr.ObserveStage(StageReply, 9*time.Second)
	tr.ObserveStage(StageReply, 700*time.Millisecond)

	snap := tr.Snapshot()
	if snap.Window != 8 {
		t.Fatalf("Window = %d, want 8", snap.Window)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageReply || s.Samples != 3 {
		t.Fatalf("stage = %s x%d, want llm x3", s.Stage, s.Samples)
	}
	if s.LastMS != 700 {
		t.Fatalf("LastMS = %d, want 700", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %d, want 700", s.P50MS)
	}
	if s.P95MS != 9000 {
		t.Fatalf("P95MS = %d, want 9000", s.P95MS)
	}
	if s.MeanMS != 3400 {
		t.Fatalf("MeanMS = %d, want 3400", s.MeanMS)
	}
	if s.BudgetMS != 8000 || s.OverBudget != 1 {
		t.Fatalf("budget = %d over %d, want 8000 over 1", s.BudgetMS, s.OverBudget)
	}
}

func TestVoiceTrackerKeepsPipelineOrderAndDropsUnknownStages(t *testing.T) {
	tr := NewVoiceTracker(4)
	tr.ObserveStage(StageFirstAudio, time.Second)
	tr.ObserveStage(StageSpeak, time.Second)
	tr.ObserveStage(StageTranscribe, time.Second)
	tr.ObserveStage("warmup", time.Second)
	tr.ObserveStage(StageSpeak, -time.Second)

	snap := tr.Snapshot()
	want := []VoiceStage{StageTranscribe, StageSpeak, StageFirstAudio}
	if len(snap.Stages) != len(want) {
		t.Fatalf("Stages = %+v, want %v", snap.Stages, want)
	}
	for i, s := range snap.Stages {
		if s.Stage != want[i] {
			t.Fatalf("Stages[%d] = %s, want %s", i, s.Stage, want[i])
		}
		if s.Samples != 1 {
			t.Fatalf("%s Samples = %d, want 1", s.Stage, s.Samples)
		}
	}
}

func TestVoiceTrackerWindowWraps(t *testing.T) {
	tr := NewVoiceTracker(2)
	tr.ObserveStage(StageTranscribe, 100*time.Millisecond)
	tr.ObserveStage(StageTranscribe, 200*time.Millisecond)
	tr.ObserveStage(StageTranscribe, 300*time.Millisecond)

	s := tr.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.MeanMS != 250 {
		t.Fatalf("MeanMS = %d, want 250", s.MeanMS)
	}
	if s.LastMS != 300 {
		t.Fatalf("LastMS = %d, want 300", s.LastMS)
	}
}

func TestVoiceTrackerBridgeAndGenerationPaths(t *testing.T) {
	tr := NewVoiceTracker(4)
	tr.ObserveBridge("ok", time.Second)
	tr.ObserveBridge("ok", time.Second)
	tr.ObserveBridge("ok", time.Second)
	tr.ObserveBridge("timeout", 20*time.Second)
	tr.ObserveGeneration("response", "worker")
	tr.ObserveGeneration("response", "fallback")
	tr.ObserveGeneration("quiz", "direct")

	snap := tr.Snapshot()
	if snap.Bridge.Requests != 4 || snap.Bridge.Outcomes["timeout"] != 1 {
		t.Fatalf("Bridge = %+v, want 4 requests with 1 timeout", snap.Bridge)
	}
	if snap.Bridge.SuccessRate != 0.75 {
		t.Fatalf("SuccessRate = %v, want 0.75", snap.Bridge.SuccessRate)
	}
	if snap.Bridge.LastMS != 20000 {
		t.Fatalf("LastMS = %d, want 20000", snap.Bridge.LastMS)
	}
	if len(snap.Generations) != 2 {
		t.Fatalf("Generations = %+v, want quiz and response", snap.Generations)
	}
	quiz, resp := snap.Generations[0], snap.Generations[1]
	if quiz.Kind != "quiz" || quiz.FallbackRate != 0 {
		t.Fatalf("Generations[0] = %+v, want quiz with no fallback", quiz)
	}
	if resp.Kind != "response" || resp.Total != 2 || resp.FallbackRate != 0.5 {
		t.Fatalf("Generations[1] = %+v, want response x2 at 0.5 fallback", resp)
	}
}

func TestVoiceTrackerEmptySnapshot(t *testing.T) {
	snap := NewVoiceTracker(0).Snapshot()
	if snap.Window != 256 {
		t.Fatalf("Window = %d, want 256", snap.Window)
	}
	if snap.Stages == nil || len(snap.Stages) != 0 {
		t.Fatalf("Stages = %#v, want empty slice", snap.Stages)
	}
	if snap.Bridge.Requests != 0 || snap.Bridge.SuccessRate != 0 {
		t.Fatalf("Bridge = %+v, want zero", snap.Bridge)
	}
}

func TestMetricsFeedVoiceStats(t *testing.T) {
	m := testMetrics()
	m.ObserveStage("tts", 1500*time.Millisecond)
	m.ObserveFirstAudioLatency(2 * time.Second)
	m.ObserveBridgeRequest("ok", time.Second)
	m.ObserveGeneration("response", "worker")
	m.ObserveProviderError("ollama", reliability.NewError("slow", "timeout"))
	m.ObserveProviderError("ollama", nil)
	m.ObserveProviderError("ollama", fmt.Errorf("stream: %w", context.Canceled))

	snap := m.VoiceStats()
	if len(snap.Stages) != 2 || snap.Stages[0].Stage != StageSpeak || snap.Stages[0].LastMS != 1500 {
		t.Fatalf("Stages = %+v, want tts at 1500ms then first_audio", snap.Stages)
	}
	if snap.Stages[1].Stage != StageFirstAudio || snap.Stages[1].LastMS != 2000 {
		t.Fatalf("Stages[1] = %+v, want first_audio at 2000ms", snap.Stages[1])
	}
	if snap.Bridge.Requests != 1 || snap.Bridge.SuccessRate != 1 {
		t.Fatalf("Bridge = %+v, want one ok request", snap.Bridge)
	}
	if len(snap.Generations) != 1 || snap.Generations[0].Paths["worker"] != 1 {
		t.Fatalf("Generations = %+v, want one worker response", snap.Generations)
	}
	if len(snap.ProviderErrors) != 1 || snap.ProviderErrors["ollama_timeout"] != 1 {
		t.Fatalf("ProviderErrors = %v, want ollama_timeout x1", snap.ProviderErrors)
	}
}
