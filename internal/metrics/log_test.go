package metrics

import (
	"testing"
	"time"
)

func TestLog_RecordAndSummary(t *testing.T) {
	l := NewLog(100)

	l.Record("a", true, 100*time.Millisecond, "")
	l.Record("a", true, 300*time.Millisecond, "")
	l.Record("a", false, 50*time.Millisecond, "timeout")
	l.Record("b", true, 20*time.Millisecond, "")

	s := l.BackendMetrics("a", time.Time{})
	if s.TotalRequests != 3 {
		t.Fatalf("expected 3 requests, got %d", s.TotalRequests)
	}
	if s.SuccessfulRequests != 2 || s.FailedRequests != 1 {
		t.Errorf("unexpected outcome counts: %+v", s)
	}
	if want := 2.0 / 3.0; s.SuccessRate != want {
		t.Errorf("expected success rate %f, got %f", want, s.SuccessRate)
	}
	if s.MinLatencyMs != 50 || s.MaxLatencyMs != 300 {
		t.Errorf("unexpected latency extremes: min=%f max=%f", s.MinLatencyMs, s.MaxLatencyMs)
	}
	if want := 150.0; s.AvgLatencyMs != want {
		t.Errorf("expected avg latency %f, got %f", want, s.AvgLatencyMs)
	}
	if s.LastRequestTime.IsZero() || s.LastSuccessTime.IsZero() || s.LastFailureTime.IsZero() {
		t.Error("expected last-seen timestamps to be set")
	}
}

func TestLog_NoTrafficSummary(t *testing.T) {
	l := NewLog(10)
	s := l.BackendMetrics("ghost", time.Time{})
	if s.TotalRequests != 0 || s.SuccessRate != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestLog_RingDropsOldest(t *testing.T) {
	l := NewLog(3)

	l.Record("old", true, time.Millisecond, "")
	l.Record("a", true, time.Millisecond, "")
	l.Record("a", true, time.Millisecond, "")
	l.Record("a", true, time.Millisecond, "")

	if l.Len() != 3 {
		t.Fatalf("expected ring capped at 3, got %d", l.Len())
	}
	if s := l.BackendMetrics("old", time.Time{}); s.TotalRequests != 0 {
		t.Error("oldest entry should have been dropped")
	}
	if s := l.BackendMetrics("a", time.Time{}); s.TotalRequests != 3 {
		t.Errorf("expected 3 retained entries for a, got %d", s.TotalRequests)
	}
}

func TestLog_SinceFilter(t *testing.T) {
	l := NewLog(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	l.now = func() time.Time { return clock }

	l.Record("a", true, time.Millisecond, "")
	clock = base.Add(time.Hour)
	l.Record("a", false, time.Millisecond, "boom")

	s := l.BackendMetrics("a", base.Add(30*time.Minute))
	if s.TotalRequests != 1 || s.FailedRequests != 1 {
		t.Errorf("expected only the recent failure, got %+v", s)
	}
}

func TestLog_AllMetrics(t *testing.T) {
	l := NewLog(10)
	l.Record("a", true, time.Millisecond, "")
	l.Record("b", false, time.Millisecond, "boom")

	all := l.AllMetrics(time.Time{})
	if len(all) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(all))
	}
	if all["a"].SuccessRate != 1 || all["b"].SuccessRate != 0 {
		t.Errorf("unexpected summaries: %+v", all)
	}
}

func TestLog_TopBySuccessRate(t *testing.T) {
	l := NewLog(10)
	l.Record("good", true, time.Millisecond, "")
	l.Record("good", true, time.Millisecond, "")
	l.Record("mixed", true, time.Millisecond, "")
	l.Record("mixed", false, time.Millisecond, "boom")
	l.Record("bad", false, time.Millisecond, "boom")

	top := l.TopBySuccessRate(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].Backend != "good" || top[1].Backend != "mixed" {
		t.Errorf("unexpected order: %s, %s", top[0].Backend, top[1].Backend)
	}
}

func TestLog_FastestAndSlowest(t *testing.T) {
	l := NewLog(10)

	if _, ok := l.FastestByAvgLatency(); ok {
		t.Error("expected no result with no traffic")
	}

	l.Record("fast", true, 10*time.Millisecond, "")
	l.Record("slow", true, 500*time.Millisecond, "")

	fastest, ok := l.FastestByAvgLatency()
	if !ok || fastest.Backend != "fast" {
		t.Errorf("expected fast, got %+v ok=%v", fastest, ok)
	}
	slowest, ok := l.SlowestByAvgLatency()
	if !ok || slowest.Backend != "slow" {
		t.Errorf("expected slow, got %+v ok=%v", slowest, ok)
	}
}

func TestLog_ErrorBreakdown(t *testing.T) {
	l := NewLog(10)
	l.Record("a", false, time.Millisecond, "timeout")
	l.Record("a", false, time.Millisecond, "timeout")
	l.Record("a", false, time.Millisecond, "http_500")
	l.Record("a", true, time.Millisecond, "")
	l.Record("b", false, time.Millisecond, "other")

	breakdown := l.ErrorBreakdown("a")
	if len(breakdown) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(breakdown))
	}
	if breakdown[0].Tag != "timeout" || breakdown[0].Count != 2 {
		t.Errorf("unexpected first group: %+v", breakdown[0])
	}
	if want := 2.0 / 3.0 * 100; breakdown[0].Percentage != want {
		t.Errorf("expected %f%%, got %f%%", want, breakdown[0].Percentage)
	}
}

func TestLog_Timeline(t *testing.T) {
	l := NewLog(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	l.now = func() time.Time { return clock }

	l.Record("a", true, time.Millisecond, "")
	clock = base.Add(30 * time.Second)
	l.Record("a", false, time.Millisecond, "boom")
	clock = base.Add(90 * time.Second)
	l.Record("a", true, time.Millisecond, "")

	buckets := l.Timeline("a", time.Minute)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].Requests != 2 || buckets[0].Failures != 1 {
		t.Errorf("unexpected first bucket: %+v", buckets[0])
	}
	if buckets[1].Requests != 1 || buckets[1].Failures != 0 {
		t.Errorf("unexpected second bucket: %+v", buckets[1])
	}
	if !buckets[1].Start.Equal(base.Add(time.Minute)) {
		t.Errorf("expected bucket start %v, got %v", base.Add(time.Minute), buckets[1].Start)
	}
}

func TestLog_AvgLatencyForSelection(t *testing.T) {
	l := NewLog(10)
	if _, ok := l.AvgLatency("a"); ok {
		t.Error("expected no latency data for unseen backend")
	}
	l.Record("a", true, 100*time.Millisecond, "")
	lat, ok := l.AvgLatency("a")
	if !ok || lat != 100 {
		t.Errorf("expected 100ms, got %f ok=%v", lat, ok)
	}
}
