// Package keybuild implements the key constructor (spec section 4.6): it
// flattens the selector's accumulated lane set into the immutable
// EndpointConfigKey returned to the caller.
package keybuild

import (
	"fmt"
	"sort"

	"github.com/lanewire/wireup/internal/capbits"
	"github.com/lanewire/wireup/internal/wireup"
)

// auxLocalCaps and auxRemoteCaps are the capability flags the wireup
// (auxiliary) criterion demands, per spec section 4.6 step 5:
// connect-to-iface, bcopy-AM, and pending locally; async callback on the
// remote side.
const (
	auxLocalCaps  = capbits.ConnectToIface | capbits.AMBcopy | capbits.Pending
	auxRemoteCaps = capbits.AMAsyncCB
)

// Input carries everything the key constructor needs from one planning
// call: the resource/remote tables the lane indices refer into, the
// accumulated lanes themselves, and the two singleton lane slots the
// selector already resolved.
type Input struct {
	Resources []wireup.TransportResource
	Remotes   []wireup.RemoteAddress
	Lanes     []wireup.Lane

	AMLane  int
	TAGLane int

	RMABWMDMap wireup.Bitmap
}

// Build flattens accumulated lanes into an EndpointConfigKey (spec section
// 4.6, steps 1-6).
func Build(in Input) (wireup.EndpointConfigKey, error) {
	key := wireup.NewEndpointConfigKey()

	if len(in.Lanes) > wireup.MaxLanes {
		return key, fmt.Errorf("%w: %d lanes exceeds the %d-lane ceiling", wireup.ErrInvalidConfig, len(in.Lanes), wireup.MaxLanes)
	}

	// Step 1: populate the per-lane table and the remote-address index.
	key.Lanes = make([]wireup.LaneConfig, len(in.Lanes))
	key.RemoteAddrIndex = make([]int, len(in.Lanes))
	for i, lane := range in.Lanes {
		key.Lanes[i] = wireup.LaneConfig{
			ResourceIndex: lane.ResourceIndex,
			Proxy:         lane.Proxy,
			DestMDIndex:   lane.DestMDIndex,
		}
		key.RemoteAddrIndex[i] = lane.RemoteAddrIndex
	}

	// Step 2: AM and TAG are singleton slots, carried straight from the
	// selector's own bookkeeping.
	wireup.Assert(in.AMLane == wireup.NoLane || (in.AMLane >= 0 && in.AMLane < len(in.Lanes)),
		"AM lane index %d out of range", in.AMLane)
	wireup.Assert(in.TAGLane == wireup.NoLane || (in.TAGLane >= 0 && in.TAGLane < len(in.Lanes)),
		"TAG lane index %d out of range", in.TAGLane)
	key.AMLane = in.AMLane
	key.TAGLane = in.TAGLane

	// Step 3: per-usage lane tables, descending by score with zero-score
	// lanes sunk to the tail (they only carry the usage because an earlier
	// pass merged it onto a lane whose primary category was different).
	key.RMALanes = sortedByScore(in.Lanes, wireup.UsageRMA)
	key.RMABWLanes = sortedByScore(in.Lanes, wireup.UsageRMABW)
	key.AMOLanes = sortedByScore(in.Lanes, wireup.UsageAMO)

	ambwRest := sortedByScore(in.Lanes, wireup.UsageAMBW)

	// Step 4: AMBWLanes[0] always duplicates AMLane, regardless of whether
	// the AM lane itself carries the AM_BW usage bit.
	key.AMBWLanes = make([]int, 0, len(ambwRest)+1)
	key.AMBWLanes = append(key.AMBWLanes, in.AMLane)
	for _, idx := range ambwRest {
		if idx == in.AMLane {
			continue
		}
		key.AMBWLanes = append(key.AMBWLanes, idx)
	}

	// Step 5: the RMA_BW registered-memory-domain bitmap, already bounded
	// to MaxOpMDs bits by the bandwidth expander.
	key.RMABWMDMap = in.RMABWMDMap
	wireup.Assert(key.RMABWMDMap.PopCount() <= wireup.MaxOpMDs,
		"rma_bw md map has %d bits set, more than MaxOpMDs", key.RMABWMDMap.PopCount())

	// Step 6: the wireup (auxiliary) lane -- the lane used to carry the
	// connection-setup handshake itself, chosen by preferring the first lane
	// whose local and remote capabilities satisfy the auxiliary criterion,
	// falling back to any peer-to-peer lane, and finally to the AM lane.
	key.WireupLane = chooseWireupLane(in)

	return key, nil
}

func sortedByScore(lanes []wireup.Lane, usage wireup.Usage) []int {
	var idxs []int
	for i, lane := range lanes {
		if lane.Usage.Has(usage) {
			idxs = append(idxs, i)
		}
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		sa, sb := lanes[idxs[a]].ScoreFor(usage), lanes[idxs[b]].ScoreFor(usage)
		if sa == 0 && sb == 0 {
			return false
		}
		if sa == 0 {
			return false
		}
		if sb == 0 {
			return true
		}
		return wireup.ScoreGreater(sa, sb)
	})
	return idxs
}

func chooseWireupLane(in Input) int {
	for i, lane := range in.Lanes {
		res := in.Resources[lane.ResourceIndex]
		remote := in.Remotes[lane.RemoteAddrIndex]
		if res.IfaceCaps.Contains(auxLocalCaps) && remote.IfaceCaps.Contains(auxRemoteCaps) {
			return i
		}
	}
	for i, lane := range in.Lanes {
		if in.Resources[lane.ResourceIndex].PeerToPeer {
			return i
		}
	}
	return in.AMLane
}
