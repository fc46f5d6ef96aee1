package planmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lanewire/wireup/internal/wireup"
)

func TestRecordPlanSuccessUpdatesCounters(t *testing.T) {
	t.Parallel()

	c := New()
	out := &wireup.Output{
		Key: wireup.EndpointConfigKey{
			Lanes:      make([]wireup.LaneConfig, 2),
			RMALanes:   []int{0},
			AMBWLanes:  []int{0},
			AMLane:     0,
			TAGLane:    wireup.NoLane,
		},
		AMEmulated: true,
	}

	c.RecordPlan(out, 5*time.Millisecond, nil)

	if got := testutil.ToFloat64(c.plansTotal); got != 1 {
		t.Errorf("expected plans_total 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.amEmulatedTotal); got != 1 {
		t.Errorf("expected am_emulation_total 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.plansFailedTotal); got != 0 {
		t.Errorf("expected plans_failed_total 0, got %v", got)
	}
}

func TestRecordPlanFailureIncrementsFailedCounter(t *testing.T) {
	t.Parallel()

	c := New()
	c.RecordPlan(nil, time.Millisecond, wireup.ErrUnreachable)

	if got := testutil.ToFloat64(c.plansTotal); got != 1 {
		t.Errorf("expected plans_total 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.plansFailedTotal); got != 1 {
		t.Errorf("expected plans_failed_total 1, got %v", got)
	}

	c.mu.Lock()
	lanes := len(c.lastLanes)
	ok := c.lastOK
	c.mu.Unlock()
	if lanes != 0 {
		t.Errorf("expected lastLanes cleared on failure, got %v", lanes)
	}
	if ok {
		t.Error("expected lastOK false after a failed plan")
	}
}

func TestCollectEmitsExpectedMetricCount(t *testing.T) {
	t.Parallel()

	c := New()
	c.RecordPlan(&wireup.Output{Key: wireup.EndpointConfigKey{AMLane: wireup.NoLane, TAGLane: wireup.NoLane}}, time.Second, nil)

	// 3 counters + 2 scalar gauges + one lane_count gauge per category key.
	got := testutil.CollectAndCount(c)
	want := 3 + 2 + len(c.lastLanes)
	if got != want {
		t.Errorf("expected %d collected metrics, got %d", want, got)
	}
}
