package stats

import (
	"testing"
	"time"
)

func TestStatisticsJobLifecycle(t *testing.T) {
	s := New(nil)

	s.StartJob("r1")
	s.FinishJob("r1", 0)

	if s.RequestsFinished() != 1 {
		t.Fatalf("expected 1 finished job, got %d", s.RequestsFinished())
	}

	hist := s.RetryHistogram()
	if hist[0] != 1 {
		t.Fatalf("expected histogram[0]=1, got %+v", hist)
	}
}

func TestStatisticsFailJob(t *testing.T) {
	s := New(nil)

	s.StartJob("r1")
	s.FailJob("r1", 3)

	if s.RequestsFailed() != 1 {
		t.Fatalf("expected 1 failed job, got %d", s.RequestsFailed())
	}
	if s.RetryHistogram()[3] != 1 {
		t.Fatalf("expected histogram[3]=1, got %+v", s.RetryHistogram())
	}
}

func TestStatisticsSnapshotRestorePreservesLifetimeCounters(t *testing.T) {
	s1 := New(nil)
	s1.StartJob("r1")
	s1.FinishJob("r1", 1)
	s1.StartJob("r2")
	s1.FailJob("r2", 3)

	snap, err := s1.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	s2 := New(nil)
	if err := s2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if s2.RequestsFinished() != 1 || s2.RequestsFailed() != 1 {
		t.Fatalf("expected restored lifetime counters, got finished=%d failed=%d", s2.RequestsFinished(), s2.RequestsFailed())
	}
}

func TestStatisticsResetClearsInFlightNotLifetime(t *testing.T) {
	s := New(nil)
	s.StartJob("r1")
	s.FinishJob("r1", 0)
	s.StartJob("r2") // left in-flight

	s.Reset()

	if s.RequestsFinished() != 1 {
		t.Fatalf("expected lifetime counter to survive reset, got %d", s.RequestsFinished())
	}
}

func TestTwoStatisticsInstancesHaveDistinctIDs(t *testing.T) {
	s1 := New(nil)
	s2 := New(nil)
	if s1.id == s2.id {
		t.Fatal("expected distinct process-wide statistics ids")
	}
}

func TestRetryJobDoesNotInflateTerminalCounters(t *testing.T) {
	s := New(nil)

	s.StartJob("r1")
	s.RetryJob("r1")
	s.StartJob("r1")
	s.FinishJob("r1", 1)

	if s.RequestsRetries() != 1 {
		t.Fatalf("expected 1 retry, got %d", s.RequestsRetries())
	}
	if s.RequestsFinished() != 1 {
		t.Fatalf("expected the retry to not count as finished, got %d", s.RequestsFinished())
	}
	if s.RequestsTotal() != 1 {
		t.Fatalf("expected requestsTotal to count only the terminal outcome, got %d", s.RequestsTotal())
	}
}

func TestDurationMinMaxTracksAcrossJobs(t *testing.T) {
	s := New(nil)

	s.StartJob("fast")
	time.Sleep(time.Millisecond)
	s.FinishJob("fast", 0)

	s.StartJob("slow")
	time.Sleep(20 * time.Millisecond)
	s.FinishJob("slow", 0)

	if s.MinDurationMillis() > s.MaxDurationMillis() {
		t.Fatalf("expected min <= max, got min=%d max=%d", s.MinDurationMillis(), s.MaxDurationMillis())
	}
	if s.MaxDurationMillis() == 0 {
		t.Fatal("expected the slow job to register a nonzero max duration")
	}
	if s.TotalFinishedDurationMillis() < s.MaxDurationMillis() {
		t.Fatalf("expected total finished duration to be at least the slowest single job, got total=%d max=%d",
			s.TotalFinishedDurationMillis(), s.MaxDurationMillis())
	}
}

func TestRequestsTotalCountsBothFinishedAndFailed(t *testing.T) {
	s := New(nil)

	s.StartJob("r1")
	s.FinishJob("r1", 0)
	s.StartJob("r2")
	s.FailJob("r2", 3)

	if s.RequestsTotal() != 2 {
		t.Fatalf("expected requestsTotal=2, got %d", s.RequestsTotal())
	}
}
