package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StageGenerate, 500)
	w.Observe(StageGenerate, 700)
	w.ObserveDuration(StageGenerate, 900*time.Millisecond)
	w.ObserveIndicator(IndicatorContentRetry)
	w.ObserveIndicator(IndicatorContentRetry)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageGenerate {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageGenerate)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f, want 4000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != IndicatorContentRetry || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := NewStageWindow(3)
	for _, v := range []float64{1, 2, 3, 100} {
		w.Observe(StagePersist, v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.P99MS > 100 || s.P50MS != 3 {
		t.Fatalf("unexpected stats after wrap: %+v", s)
	}
}

func TestStageWindowResetAndNil(t *testing.T) {
	w := NewStageWindow(4)
	w.Observe(StageValidate, 1)
	w.ObserveIndicator(IndicatorFallback)
	w.Reset()
	if snap := w.Snapshot(); len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("snapshot after Reset = %+v", snap)
	}

	var nilWindow *StageWindow
	nilWindow.Observe(StageValidate, 1)
	nilWindow.ObserveIndicator(IndicatorFallback)
	nilWindow.Reset()
	if snap := nilWindow.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("nil window snapshot = %+v", snap)
	}
}
