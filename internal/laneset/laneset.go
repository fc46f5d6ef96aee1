// Package laneset implements the lane aggregator (spec section 4.2): it
// accumulates matcher results into a deduplicated lane list, merging usages
// onto a shared lane whenever the same (resource, remote address) pair is
// added twice, and wiring up proxy relationships otherwise.
package laneset

import "github.com/lanewire/wireup/internal/wireup"

type pairKey struct {
	resourceIndex int
	remoteIndex   int
}

// Set is the growing, deduplicated lane list built over one planning call.
type Set struct {
	lanes []wireup.Lane
	// byPair tracks, per (resource, remote address) pair, the index of the
	// lane eligible to absorb a future addition on that same pair: the
	// pair's non-proxy lane if one exists, or else its self-proxying lane
	// (so a later non-proxy addition on the pair can retarget it, spec
	// section 4.2 rule 3). A lane created to proxy through an existing
	// non-proxy lane (rule 2) is never registered here -- it doesn't change
	// which lane is canonical for the pair.
	byPair map[pairKey]int
}

// New returns an empty lane set.
func New() *Set {
	return &Set{byPair: make(map[pairKey]int)}
}

// Count returns the number of distinct lanes accumulated so far.
func (s *Set) Count() int { return len(s.lanes) }

// Lanes returns the accumulated lane descriptors. The slice is owned by the
// set; callers must not mutate it.
func (s *Set) Lanes() []wireup.Lane { return s.lanes }

// Lane returns a copy of lane i.
func (s *Set) Lane(i int) wireup.Lane { return s.lanes[i] }

// IndexOf reports the lane index already occupying a (resource, remote
// address) pair, if any.
func (s *Set) IndexOf(resourceIndex, remoteIndex int) (int, bool) {
	idx, ok := s.byPair[pairKey{resourceIndex, remoteIndex}]
	return idx, ok
}

// Add accumulates one matcher result with the given usage onto the lane
// set, per the merge rules in spec section 4.2 (grounded on
// ucp_wireup_add_lane_desc, _examples/original_source/src/ucp/wireup/select.c:463-537).
//
// isProxy flags that this addition needs to route its first
// wakeup-signaled message through another lane rather than sending it
// directly. The four rules, in the order the spec states them:
//
//  1. An existing non-proxy lane on the same pair, and this addition is
//     also non-proxy: merge usage bits onto the existing lane, no new lane.
//  2. An existing non-proxy lane on the same pair, and this addition is a
//     proxy: a new lane is created, proxying at the existing lane. The
//     existing lane is untouched, so it remains the pair's canonical
//     (mergeable) entry for any later addition.
//  3. An existing self-proxying lane on the same pair, and this addition
//     is non-proxy: the existing lane is retargeted to proxy at the new
//     lane, and the new lane becomes the pair's canonical entry.
//  4. No eligible existing lane on the pair: a new lane is appended; if
//     this addition is a proxy, it defaults to proxying itself.
func (s *Set) Add(resourceIndex, remoteIndex int, usage wireup.Usage, score float64, destMDIndex int, isProxy bool) int {
	key := pairKey{resourceIndex, remoteIndex}

	if idx, ok := s.byPair[key]; ok {
		existing := &s.lanes[idx]
		switch {
		case !isProxy && existing.Proxy.Kind == wireup.ProxyNone:
			// Rule 1: merge.
			wireup.Assert(existing.DestMDIndex == destMDIndex,
				"destination md index diverged on lane merge: had %d, got %d", existing.DestMDIndex, destMDIndex)
			existing.Usage |= usage
			applyScore(existing, usage, score)
			return idx

		case isProxy && existing.Proxy.Kind == wireup.ProxyNone:
			// Rule 2: new lane proxies at the existing non-proxy lane. The
			// pair's canonical entry stays `idx`.
			return s.appendLane(resourceIndex, remoteIndex, usage, score, destMDIndex,
				wireup.ProxyRef{Kind: wireup.ProxyOther, LaneIndex: idx}, false)

		case !isProxy && existing.Proxy.Kind == wireup.ProxySelf && existing.Proxy.LaneIndex == idx:
			// Rule 3: retarget the self-proxying lane at the new lane.
			newIdx := s.appendLane(resourceIndex, remoteIndex, usage, score, destMDIndex,
				wireup.ProxyRef{Kind: wireup.ProxyNone}, false)
			// Index afresh: the append may have moved the backing array
			// out from under `existing`.
			s.lanes[idx].Proxy = wireup.ProxyRef{Kind: wireup.ProxyOther, LaneIndex: newIdx}
			s.byPair[key] = newIdx
			return newIdx
		}
		// Neither rule matches the pair's current canonical lane (e.g. a
		// second proxy addition on a pair that already carries a proxy):
		// fall through to rule 4 and add an independent lane without
		// disturbing the existing canonical entry.
	}

	// Rule 4: no eligible existing lane.
	proxy := wireup.ProxyRef{Kind: wireup.ProxyNone}
	if isProxy {
		proxy = wireup.ProxyRef{Kind: wireup.ProxySelf}
	}
	return s.appendLane(resourceIndex, remoteIndex, usage, score, destMDIndex, proxy, true)
}

// appendLane appends a new lane descriptor and returns its index. When
// selfProxy is set, the lane's proxy reference is fixed up to point at its
// own (not-yet-known) index. The pair is registered in byPair only if it
// isn't already tracking a canonical lane.
func (s *Set) appendLane(resourceIndex, remoteIndex int, usage wireup.Usage, score float64, destMDIndex int, proxy wireup.ProxyRef, selfProxy bool) int {
	lane := wireup.Lane{
		ResourceIndex:   resourceIndex,
		RemoteAddrIndex: remoteIndex,
		DestMDIndex:     destMDIndex,
		Usage:           usage,
		Proxy:           proxy,
	}
	applyScore(&lane, usage, score)

	s.lanes = append(s.lanes, lane)
	newIdx := len(s.lanes) - 1

	if selfProxy && s.lanes[newIdx].Proxy.Kind == wireup.ProxySelf {
		s.lanes[newIdx].Proxy.LaneIndex = newIdx
	}

	key := pairKey{resourceIndex, remoteIndex}
	if _, ok := s.byPair[key]; !ok {
		s.byPair[key] = newIdx
	}

	return newIdx
}

func applyScore(lane *wireup.Lane, usage wireup.Usage, score float64) {
	switch usage {
	case wireup.UsageAM:
		lane.Scores.AM = score
	case wireup.UsageAMBW:
		lane.Scores.AMBW = score
	case wireup.UsageRMA:
		lane.Scores.RMA = score
	case wireup.UsageRMABW:
		lane.Scores.RMABW = score
	case wireup.UsageAMO:
		lane.Scores.AMO = score
	case wireup.UsageTAG:
		lane.Scores.TAG = score
	}
}
