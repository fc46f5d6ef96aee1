package laneset

import "github.com/lanewire/wireup/internal/wireup"

import "testing"

func TestAddCreatesNewLane(t *testing.T) {
	t.Parallel()

	s := New()
	idx := s.Add(0, 0, wireup.UsageRMA, 1.5, 2, false)

	if idx != 0 || s.Count() != 1 {
		t.Fatalf("expected first Add to create lane 0, got idx=%d count=%d", idx, s.Count())
	}
	lane := s.Lane(0)
	if lane.Scores.RMA != 1.5 {
		t.Errorf("expected RMA score 1.5, got %v", lane.Scores.RMA)
	}
	if lane.Proxy.Kind != wireup.ProxyNone {
		t.Errorf("expected non-proxy lane, got proxy kind %v", lane.Proxy.Kind)
	}
}

func TestAddMergesUsageOnSamePair(t *testing.T) {
	t.Parallel()

	s := New()
	first := s.Add(0, 0, wireup.UsageRMA, 1.0, 5, false)
	second := s.Add(0, 0, wireup.UsageAMO, 2.0, 5, false)

	if first != second {
		t.Fatalf("expected the same (resource, remote) pair to merge onto one lane, got %d and %d", first, second)
	}
	if s.Count() != 1 {
		t.Fatalf("expected exactly one lane after merge, got %d", s.Count())
	}

	lane := s.Lane(0)
	if !lane.Usage.Has(wireup.UsageRMA) || !lane.Usage.Has(wireup.UsageAMO) {
		t.Error("expected merged lane to carry both usages")
	}
	if lane.Scores.RMA != 1.0 || lane.Scores.AMO != 2.0 {
		t.Errorf("expected both per-category scores preserved, got %+v", lane.Scores)
	}
}

func TestAddSelfProxyDefaultsToOwnIndex(t *testing.T) {
	t.Parallel()

	s := New()
	idx := s.Add(0, 0, wireup.UsageAM, 1.0, wireup.NoLane, true)

	lane := s.Lane(idx)
	if lane.Proxy.Kind != wireup.ProxySelf {
		t.Fatalf("expected self-proxy kind, got %v", lane.Proxy.Kind)
	}
	if lane.Proxy.LaneIndex != idx {
		t.Errorf("expected self-proxy to point at its own index %d, got %d", idx, lane.Proxy.LaneIndex)
	}
}

func TestAddRetargetsSelfProxyWhenNonProxyLaneAddedOnSamePair(t *testing.T) {
	t.Parallel()

	s := New()
	proxyIdx := s.Add(0, 0, wireup.UsageAM, 1.0, wireup.NoLane, true)

	// A second, non-proxy addition on the *same* (resource, remote) pair
	// should retarget the earlier self-proxy lane at it, per spec section
	// 4.2 rule 3.
	directIdx := s.Add(0, 0, wireup.UsageRMA, 2.0, wireup.NoLane, false)

	if directIdx == proxyIdx {
		t.Fatalf("expected a new lane to be created for the retarget, got the same index %d", directIdx)
	}

	proxyLane := s.Lane(proxyIdx)
	if proxyLane.Proxy.Kind != wireup.ProxyOther {
		t.Fatalf("expected retargeted proxy kind ProxyOther, got %v", proxyLane.Proxy.Kind)
	}
	if proxyLane.Proxy.LaneIndex != directIdx {
		t.Errorf("expected retargeted proxy to point at new direct lane %d, got %d", directIdx, proxyLane.Proxy.LaneIndex)
	}

	directLane := s.Lane(directIdx)
	if directLane.Proxy.Kind != wireup.ProxyNone {
		t.Errorf("expected the new lane itself to be non-proxy, got %v", directLane.Proxy.Kind)
	}

	// IndexOf must now resolve the pair to the new canonical (non-proxy)
	// lane, so a later addition on the same pair merges onto it instead of
	// the retargeted proxy lane.
	got, ok := s.IndexOf(0, 0)
	if !ok || got != directIdx {
		t.Fatalf("expected IndexOf(0, 0) to resolve to the retargeted lane %d, got %d (ok=%v)", directIdx, got, ok)
	}
}

func TestAddProxyOnSamePairAsExistingNonProxyCreatesSiblingLane(t *testing.T) {
	t.Parallel()

	s := New()
	rmaIdx := s.Add(0, 0, wireup.UsageRMA, 1.0, 4, false)

	// A later proxy addition on the exact same pair an earlier non-proxy
	// pass already selected (e.g. AM landing on the same resource/remote an
	// RMA pass already picked) must create a new lane proxying at the
	// existing one, per spec section 4.2 rule 2 -- not merge into it.
	amIdx := s.Add(0, 0, wireup.UsageAM, 2.0, 4, true)

	if amIdx == rmaIdx {
		t.Fatalf("expected a proxy addition on an existing non-proxy pair to create a new lane, got the same index %d", amIdx)
	}
	if s.Count() != 2 {
		t.Fatalf("expected two distinct lanes, got %d", s.Count())
	}

	rmaLane := s.Lane(rmaIdx)
	if rmaLane.Usage.Has(wireup.UsageAM) {
		t.Error("expected the existing non-proxy lane to be left untouched, not merged with AM")
	}
	if rmaLane.Proxy.Kind != wireup.ProxyNone {
		t.Errorf("expected the existing lane to remain non-proxy, got %v", rmaLane.Proxy.Kind)
	}

	amLane := s.Lane(amIdx)
	if amLane.Proxy.Kind != wireup.ProxyOther || amLane.Proxy.LaneIndex != rmaIdx {
		t.Errorf("expected the new lane to proxy at the existing non-proxy lane %d, got kind=%v target=%d", rmaIdx, amLane.Proxy.Kind, amLane.Proxy.LaneIndex)
	}

	// The pair's canonical entry is still the original non-proxy lane, so a
	// later non-proxy addition on the same pair merges onto it, not the
	// proxy sibling.
	got, ok := s.IndexOf(0, 0)
	if !ok || got != rmaIdx {
		t.Fatalf("expected IndexOf(0, 0) to still resolve to the original non-proxy lane %d, got %d (ok=%v)", rmaIdx, got, ok)
	}
}

func TestIndexOfFindsExistingPair(t *testing.T) {
	t.Parallel()

	s := New()
	idx := s.Add(2, 3, wireup.UsageAM, 1.0, wireup.NoLane, false)

	got, ok := s.IndexOf(2, 3)
	if !ok || got != idx {
		t.Fatalf("expected IndexOf to find lane %d, got %d (ok=%v)", idx, got, ok)
	}

	if _, ok := s.IndexOf(9, 9); ok {
		t.Error("expected IndexOf to report not-found for an unknown pair")
	}
}
