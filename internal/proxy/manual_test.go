package proxy

import (
	"testing"
	"time"
)

func manualClockAt(t *testing.T, r *ManualRegistry) *time.Time {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return &now
}

func TestManualBlockAfterThreeConsecutiveFailures(t *testing.T) {
	r := NewManualRegistry([]string{"http://proxy-a:8080"})
	manualClockAt(t, r)

	r.RecordFailure("http://proxy-a:8080")
	r.RecordFailure("http://proxy-a:8080")
	if len(r.AvailableEndpoints()) != 1 {
		t.Fatal("endpoint blocked before third failure")
	}
	r.RecordFailure("http://proxy-a:8080")
	if len(r.AvailableEndpoints()) != 0 {
		t.Fatal("endpoint not blocked after third consecutive failure")
	}
}

func TestManualSuccessResetsFailures(t *testing.T) {
	r := NewManualRegistry([]string{"http://proxy-a:8080"})
	manualClockAt(t, r)

	r.RecordFailure("http://proxy-a:8080")
	r.RecordFailure("http://proxy-a:8080")
	r.RecordSuccess("http://proxy-a:8080")
	// The counter restarted, so two more failures must not block.
	r.RecordFailure("http://proxy-a:8080")
	r.RecordFailure("http://proxy-a:8080")
	if len(r.AvailableEndpoints()) != 1 {
		t.Error("failures were not reset by the intervening success")
	}

	stats := r.Stats()
	if stats[0].Successes != 1 || stats[0].Failures != 2 {
		t.Errorf("stats = %+v, want 1 success / 2 failures", stats[0])
	}
}

func TestManualBlockExpires(t *testing.T) {
	r := NewManualRegistry([]string{"http://proxy-a:8080"})
	now := manualClockAt(t, r)

	for i := 0; i < 3; i++ {
		r.RecordFailure("http://proxy-a:8080")
	}
	if len(r.AvailableEndpoints()) != 0 {
		t.Fatal("expected block")
	}

	*now = now.Add(5*time.Minute + time.Second)
	if len(r.AvailableEndpoints()) != 1 {
		t.Error("block did not expire after the 5 minute window")
	}
	// Expiry resets the consecutive-failure counter.
	if got := r.Stats()[0].Failures; got != 0 {
		t.Errorf("failures after expiry = %d, want 0", got)
	}
}

func TestManualNextEndpointForceUnblocksSoonest(t *testing.T) {
	r := NewManualRegistry([]string{"http://proxy-a:8080", "http://proxy-b:8080"})
	now := manualClockAt(t, r)

	// Block b first, then advance so a's block (set later) expires later.
	for i := 0; i < 3; i++ {
		r.RecordFailure("http://proxy-b:8080")
	}
	*now = now.Add(time.Minute)
	for i := 0; i < 3; i++ {
		r.RecordFailure("http://proxy-a:8080")
	}

	got, ok := r.NextEndpoint()
	if !ok {
		t.Fatal("NextEndpoint returned none with blocked endpoints present")
	}
	if got != "http://proxy-b:8080" {
		t.Errorf("NextEndpoint = %q, want the soonest-expiring %q", got, "http://proxy-b:8080")
	}
	// The returned endpoint was force-unblocked.
	if len(r.AvailableEndpoints()) != 1 {
		t.Error("force-unblocked endpoint not available afterwards")
	}
}

func TestManualNextEndpointExpiredBlock(t *testing.T) {
	r := NewManualRegistry([]string{"http://proxy-a:8080"})
	now := manualClockAt(t, r)

	for i := 0; i < 3; i++ {
		r.RecordFailure("http://proxy-a:8080")
	}
	*now = now.Add(10 * time.Minute) // block window long past

	got, ok := r.NextEndpoint()
	if !ok || got != "http://proxy-a:8080" {
		t.Errorf("NextEndpoint = %q, %v; want the expired endpoint, true", got, ok)
	}
}

func TestManualNextEndpointUniformSelection(t *testing.T) {
	r := NewManualRegistry([]string{"http://proxy-a:8080", "http://proxy-b:8080", "http://proxy-c:8080"})
	manualClockAt(t, r)
	r.rand = func(n int) int { return n - 1 } // deterministic: always the last

	got, ok := r.NextEndpoint()
	if !ok || got != "http://proxy-c:8080" {
		t.Errorf("NextEndpoint = %q, %v; want http://proxy-c:8080, true", got, ok)
	}
}

func TestManualEmptyRegistry(t *testing.T) {
	r := NewManualRegistry(nil)
	if _, ok := r.NextEndpoint(); ok {
		t.Error("NextEndpoint on empty registry returned an endpoint")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
