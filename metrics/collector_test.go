package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("http://localhost:8080", "cli")

	c.IncSubmissionStarted()
	c.IncSubmissionStarted()
	c.IncSubmissionStarted()
	c.IncSubmissionStarted()
	c.IncSubmissionCompleted()
	c.IncSubmissionFailed("protocol_error")
	c.IncSubmissionFailed("upstream_error")
	c.IncSubmissionCanceled()
	c.IncFramesReceived()
	c.IncFramesReceived()
	c.IncFragmentsAppended()
	c.AddSegmentsDiscarded(3)
	c.AddBytesRead(128)
	c.AddBytesRead(64)
	c.IncUpstreamStatus(502)
	c.IncUpstreamStatus(502)
	c.IncUpstreamStatus(400)
	c.IncAdapterPublishSuccess()
	c.IncAdapterPublishFailure()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()

	if s.SubmissionsStarted != 4 {
		t.Errorf("SubmissionsStarted = %d, want 4", s.SubmissionsStarted)
	}
	if s.SubmissionsCompleted != 1 {
		t.Errorf("SubmissionsCompleted = %d, want 1", s.SubmissionsCompleted)
	}
	if s.SubmissionsFailed != 2 {
		t.Errorf("SubmissionsFailed = %d, want 2", s.SubmissionsFailed)
	}
	if s.SubmissionsCanceled != 1 {
		t.Errorf("SubmissionsCanceled = %d, want 1", s.SubmissionsCanceled)
	}
	if s.FailedByStatus["protocol_error"] != 1 || s.FailedByStatus["upstream_error"] != 1 {
		t.Errorf("FailedByStatus = %v", s.FailedByStatus)
	}
	if s.FramesReceived != 2 {
		t.Errorf("FramesReceived = %d, want 2", s.FramesReceived)
	}
	if s.FragmentsAppended != 1 {
		t.Errorf("FragmentsAppended = %d, want 1", s.FragmentsAppended)
	}
	if s.SegmentsDiscarded != 3 {
		t.Errorf("SegmentsDiscarded = %d, want 3", s.SegmentsDiscarded)
	}
	if s.BytesRead != 192 {
		t.Errorf("BytesRead = %d, want 192", s.BytesRead)
	}
	if s.UpstreamStatus[502] != 2 || s.UpstreamStatus[400] != 1 {
		t.Errorf("UpstreamStatus = %v", s.UpstreamStatus)
	}
	if s.AdapterPublishSuccess != 1 {
		t.Errorf("AdapterPublishSuccess = %d, want 1", s.AdapterPublishSuccess)
	}
	if s.AdapterPublishFailure != 2 {
		t.Errorf("AdapterPublishFailure = %d, want 2", s.AdapterPublishFailure)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("http://backend:9000", "server")
	s := c.Snapshot()

	if s.Endpoint != "http://backend:9000" {
		t.Errorf("Endpoint = %q, want %q", s.Endpoint, "http://backend:9000")
	}
	if s.Surface != "server" {
		t.Errorf("Surface = %q, want %q", s.Surface, "server")
	}
}

func TestCollector_NonPositiveAddsIgnored(t *testing.T) {
	c := NewCollector("", "cli")
	c.AddBytesRead(-5)
	c.AddBytesRead(0)
	c.AddSegmentsDiscarded(-1)

	s := c.Snapshot()
	if s.BytesRead != 0 || s.SegmentsDiscarded != 0 {
		t.Errorf("non-positive adds changed counters: %+v", s)
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("", "cli")
	c.IncSubmissionStarted()
	c.IncFramesReceived()

	s1 := c.Snapshot()

	// Mutate collector after snapshot
	c.IncSubmissionCompleted()
	c.IncFramesReceived()
	c.IncFramesReceived()

	if s1.SubmissionsCompleted != 0 {
		t.Errorf("s1.SubmissionsCompleted = %d, want 0 (snapshot should be frozen)", s1.SubmissionsCompleted)
	}
	if s1.FramesReceived != 1 {
		t.Errorf("s1.FramesReceived = %d, want 1 (snapshot should be frozen)", s1.FramesReceived)
	}

	s2 := c.Snapshot()
	if s2.SubmissionsCompleted != 1 {
		t.Errorf("s2.SubmissionsCompleted = %d, want 1", s2.SubmissionsCompleted)
	}
	if s2.FramesReceived != 3 {
		t.Errorf("s2.FramesReceived = %d, want 3", s2.FramesReceived)
	}
}

func TestCollector_SnapshotMapIsolation(t *testing.T) {
	c := NewCollector("", "cli")
	c.IncSubmissionFailed("transport_error")
	c.IncUpstreamStatus(500)

	s := c.Snapshot()

	// Mutate the snapshot's maps
	s.FailedByStatus["transport_error"] = 999
	s.FailedByStatus["injected"] = 1
	s.UpstreamStatus[500] = 999

	s2 := c.Snapshot()
	if s2.FailedByStatus["transport_error"] != 1 {
		t.Errorf("FailedByStatus[transport_error] = %d, want 1 (collector should be isolated from snapshot mutation)", s2.FailedByStatus["transport_error"])
	}
	if _, exists := s2.FailedByStatus["injected"]; exists {
		t.Error("FailedByStatus should not contain injected key from snapshot mutation")
	}
	if s2.UpstreamStatus[500] != 1 {
		t.Errorf("UpstreamStatus[500] = %d, want 1", s2.UpstreamStatus[500])
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncSubmissionStarted()
	c.IncSubmissionCompleted()
	c.IncSubmissionFailed("protocol_error")
	c.IncSubmissionCanceled()
	c.IncFramesReceived()
	c.IncFragmentsAppended()
	c.AddSegmentsDiscarded(1)
	c.AddBytesRead(10)
	c.IncUpstreamStatus(503)
	c.IncAdapterPublishSuccess()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()
	if s.SubmissionsStarted != 0 {
		t.Errorf("nil collector snapshot SubmissionsStarted = %d, want 0", s.SubmissionsStarted)
	}
	if s.FailedByStatus != nil {
		t.Errorf("nil collector snapshot FailedByStatus should be nil, got %v", s.FailedByStatus)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("", "server")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncSubmissionStarted()
				c.IncFramesReceived()
				c.AddBytesRead(2)
				c.IncSubmissionFailed("transport_error")
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.SubmissionsStarted != want {
		t.Errorf("SubmissionsStarted = %d, want %d", s.SubmissionsStarted, want)
	}
	if s.FramesReceived != want {
		t.Errorf("FramesReceived = %d, want %d", s.FramesReceived, want)
	}
	if s.BytesRead != 2*want {
		t.Errorf("BytesRead = %d, want %d", s.BytesRead, 2*want)
	}
	if s.FailedByStatus["transport_error"] != want {
		t.Errorf("FailedByStatus[transport_error] = %d, want %d", s.FailedByStatus["transport_error"], want)
	}
}

func TestCollector_ZeroValueSnapshot(t *testing.T) {
	c := NewCollector("", "cli")
	s := c.Snapshot()

	if s.SubmissionsStarted != 0 || s.SubmissionsCompleted != 0 || s.SubmissionsFailed != 0 || s.SubmissionsCanceled != 0 {
		t.Error("fresh collector should have zero submission counters")
	}
	if s.FramesReceived != 0 || s.SegmentsDiscarded != 0 || s.FragmentsAppended != 0 || s.BytesRead != 0 {
		t.Error("fresh collector should have zero stream counters")
	}
	if s.AdapterPublishSuccess != 0 || s.AdapterPublishFailure != 0 {
		t.Error("fresh collector should have zero adapter counters")
	}
	if len(s.FailedByStatus) != 0 || len(s.UpstreamStatus) != 0 {
		t.Error("fresh collector maps should be empty")
	}
}
