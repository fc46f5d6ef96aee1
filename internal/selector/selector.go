// Package selector implements the orchestrator (spec section 4.4): it runs
// the six category passes in a fixed order, accumulating lanes onto one
// laneset.Set, and converts RMA/AMO failures into active-message emulation
// when the endpoint allows it.
package selector

import (
	"fmt"
	"log/slog"

	"github.com/lanewire/wireup/internal/capbits"
	"github.com/lanewire/wireup/internal/expander"
	"github.com/lanewire/wireup/internal/keybuild"
	"github.com/lanewire/wireup/internal/laneset"
	"github.com/lanewire/wireup/internal/matcher"
	"github.com/lanewire/wireup/internal/reachability"
	"github.com/lanewire/wireup/internal/scorer"
	"github.com/lanewire/wireup/internal/wireup"
)

// Plan runs one synchronous, single-shot lane-selection call (spec sections
// 4.4 and 5). It performs no I/O and blocks on nothing; the only state it
// touches is the caller-provided, read-only worker, resource table, and
// remote address list.
func Plan(
	w wireup.Worker,
	remotes []wireup.RemoteAddress,
	params wireup.EndpointParams,
	initFlags wireup.InitFlag,
	logger *slog.Logger,
) (*wireup.Output, error) {
	if logger == nil {
		logger = slog.Default()
	}

	resources := w.Resources()
	reach := reachability.Default{}
	scoreCtx := wireup.ScoreContext{EstimatedNumEndpoints: w.EstimatedNumEndpoints()}
	m := matcher.New(resources, remotes, reach, scoreCtx)
	agg := laneset.New()

	numResources := len(resources)
	numDevices := deviceCount(resources, remotes)
	numMDs := mdCount(resources, remotes)

	fullResources := wireup.FullBitmap(numResources)
	fullRemoteMD := wireup.FullBitmap(numMDs)
	fullLocalDevice := wireup.FullBitmap(numDevices)
	fullRemoteDevice := wireup.FullBitmap(numDevices)

	features := w.Features()
	memTypeOnly := initFlags.Has(wireup.InitMemType)
	errMode := wireup.ErrHandlingNone
	if params.ErrHandlingModeSet {
		errMode = params.ErrHandlingMode
	}

	amEmulated := false

	allowEmulate := func() bool {
		if !w.AllowAMEmulation() {
			return false
		}
		if memTypeOnly {
			return false
		}
		if errMode == wireup.ErrHandlingPeer {
			return false
		}
		return true
	}

	// Pass 1: RMA lanes.
	if features.Has(wireup.FeatureRMA) || memTypeOnly {
		crit := wireup.Criterion{
			Title:              "RMA",
			ReqLocalIfaceCaps:  capbits.PutBcopy,
			ReqRemoteIfaceCaps: capbits.PutBcopy,
			Score:              scorer.RMA,
		}
		_, err := expander.MemAccess(expander.MemAccessParams{
			Criterion:           crit,
			Usage:               wireup.UsageRMA,
			Matcher:             m,
			Agg:                 agg,
			LocalResourceBitmap: fullResources,
			RemoteMDBitmap:      fullRemoteMD,
			LocalDeviceBitmap:   fullLocalDevice,
			RemoteDeviceBitmap:  fullRemoteDevice,
		})
		if err != nil {
			if allowEmulate() {
				logger.Debug("RMA pass failed, falling back to AM emulation", "err", err)
				amEmulated = true
			} else {
				return nil, fmt.Errorf("RMA lanes: %w", err)
			}
		}
	}

	// Pass 2: AMO lanes.
	if !memTypeOnly && (features.Has(wireup.FeatureAMO32) || features.Has(wireup.FeatureAMO64)) {
		localBitmap := atomicEligibleBitmap(resources, w.AtomicTLs())
		reqAtomic := capbits.AtomicMatrix{
			Op32: features.Has(wireup.FeatureAMO32),
			Op64: features.Has(wireup.FeatureAMO64),
		}
		crit := wireup.Criterion{
			Title:           "AMO",
			ReqLocalAtomic:  reqAtomic,
			ReqRemoteAtomic: reqAtomic,
			Score:           scorer.AMO,
		}
		_, err := expander.MemAccess(expander.MemAccessParams{
			Criterion:           crit,
			Usage:               wireup.UsageAMO,
			Matcher:             m,
			Agg:                 agg,
			LocalResourceBitmap: localBitmap,
			RemoteMDBitmap:      fullRemoteMD,
			LocalDeviceBitmap:   fullLocalDevice,
			RemoteDeviceBitmap:  fullRemoteDevice,
		})
		if err != nil {
			if allowEmulate() {
				logger.Debug("AMO pass failed, falling back to AM emulation", "err", err)
				amEmulated = true
			} else {
				return nil, fmt.Errorf("AMO lanes: %w", err)
			}
		}
	}

	// Pass 3: AM lane.
	amRequired := initFlags.Has(wireup.InitCreateAMLane) ||
		(params.SockAddrSet && params.SockAddr) ||
		features.Has(wireup.FeatureTAG) || features.Has(wireup.FeatureStream) || features.Has(wireup.FeatureAM) ||
		anyPeerToPeerLane(agg, resources)

	amLane := wireup.NoLane
	if amRequired {
		crit := wireup.Criterion{
			Title:              "AM",
			ReqLocalIfaceCaps:  capbits.AMBcopy | capbits.AMSyncCB,
			ReqRemoteIfaceCaps: capbits.AMBcopy | capbits.AMSyncCB,
			Score:              scorer.AM,
		}
		if features.Has(wireup.FeatureWakeup) {
			crit.ReqLocalIfaceCaps |= capbits.EventRecv
		}

		result, err := m.Match(crit, fullResources, fullRemoteMD, fullLocalDevice, fullRemoteDevice, true)
		if err != nil {
			return nil, fmt.Errorf("AM lane: %w", err)
		}

		res := resources[result.ResourceIndex]
		remote := remotes[result.RemoteIndex]
		needsProxy := features.Has(wireup.FeatureWakeup) && !remote.IfaceCaps.Has(capbits.EventRecv) &&
			remote.IfaceCaps.Has(capbits.EventRecvSig) && !res.PeerToPeer

		amLane = agg.Add(result.ResourceIndex, result.RemoteIndex, wireup.UsageAM, result.Score, res.MDIndex, needsProxy)
	}

	// Pass 4: RMA_BW lanes.
	rmaBWCrit := wireup.Criterion{
		Title:              "RMA_BW",
		ReqLocalIfaceCaps:  capbits.PutZcopy | capbits.GetZcopy,
		ReqRemoteIfaceCaps: capbits.PutZcopy | capbits.GetZcopy,
		Score:              scorer.RMABW,
	}
	if features.Has(wireup.FeatureTAG) && !memTypeOnly {
		rmaBWCrit.ReqLocalMDFlags |= capbits.MDReg
		rmaBWCrit.ReqRemoteMDFlags |= capbits.MDReg
	}

	var rmaBWMDMap wireup.Bitmap
	for _, mt := range w.MemTypes() {
		memBitmap := w.MemTypeAccessTLs(mt)
		if memBitmap == 0 {
			continue
		}
		capLanes := min2(w.MaxRndvLanes(), w.MaxLanes())
		mdMap := expander.Bandwidth(expander.BandwidthParams{
			Criterion:           rmaBWCrit,
			Usage:               wireup.UsageRMABW,
			Matcher:             m,
			Agg:                 agg,
			LocalResourceBitmap: memBitmap,
			LocalDeviceBitmap:   fullLocalDevice,
			RemoteDeviceBitmap:  fullRemoteDevice,
			MaxLanes:            capLanes,
			MaxOpMDs:            w.MaxOpMDs(),
		})
		rmaBWMDMap |= mdMap
	}

	// Pass 5: TAG lane.
	tagLane := wireup.NoLane
	if features.Has(wireup.FeatureTAG) && errMode == wireup.ErrHandlingNone && !memTypeOnly {
		crit := wireup.Criterion{
			Title: "TAG",
			ReqLocalIfaceCaps: capbits.EagerBcopy | capbits.RndvZcopy | capbits.GetZcopy | capbits.Pending,
			ReqRemoteIfaceCaps: capbits.EagerBcopy | capbits.RndvZcopy | capbits.GetZcopy | capbits.Pending,
			Score:              scorer.AM,
		}
		result, err := m.Match(crit, fullResources, fullRemoteMD, fullLocalDevice, fullRemoteDevice, false)
		if err == nil {
			amScore := 0.0
			if amLane != wireup.NoLane {
				amScore = agg.Lane(amLane).Scores.AM
			}
			if amLane == wireup.NoLane || !wireup.ScoreGreater(amScore, result.Score) {
				res := resources[result.ResourceIndex]
				tagLane = agg.Add(result.ResourceIndex, result.RemoteIndex, wireup.UsageTAG, result.Score, res.MDIndex, false)
			} else {
				logger.Debug("skipping TAG lane: score below AM lane", "tag_score", result.Score, "am_score", amScore)
			}
		}
	}

	// Pass 6: AM_BW lanes.
	if features.Has(wireup.FeatureTAG) && w.MaxEagerLanes() > 1 && amLane != wireup.NoLane {
		amRes := resources[agg.Lane(amLane).ResourceIndex]
		if amRes.DeviceType != wireup.DeviceSelf && amRes.DeviceType != wireup.DeviceSharedMemory {
			localResourceBitmap := excludeDeviceAndMD(fullResources, resources, amRes.DeviceIndex, amRes.MDIndex)
			localDeviceBitmap := fullLocalDevice.Clear(amRes.DeviceIndex)

			crit := wireup.Criterion{
				Title:              "AM_BW",
				ReqLocalIfaceCaps:  capbits.AMBcopy | capbits.AMZcopy,
				ReqRemoteIfaceCaps: capbits.AMBcopy | capbits.AMZcopy,
				Score:              scorer.AMBW,
			}
			capLanes := min2(w.MaxEagerLanes(), w.MaxLanes())
			expander.Bandwidth(expander.BandwidthParams{
				Criterion:           crit,
				Usage:               wireup.UsageAMBW,
				Matcher:             m,
				Agg:                 agg,
				LocalResourceBitmap: localResourceBitmap,
				LocalDeviceBitmap:   localDeviceBitmap,
				RemoteDeviceBitmap:  fullRemoteDevice,
				MaxLanes:            capLanes,
				MaxOpMDs:            w.MaxOpMDs(),
			})
		}
	}

	if agg.Count() == 0 {
		return nil, fmt.Errorf("%w: no lanes selected", wireup.ErrUnreachable)
	}

	key, err := keybuild.Build(keybuild.Input{
		Resources:  resources,
		Remotes:    remotes,
		Lanes:      agg.Lanes(),
		AMLane:     amLane,
		TAGLane:    tagLane,
		RMABWMDMap: rmaBWMDMap,
	})
	if err != nil {
		return nil, err
	}

	return &wireup.Output{Key: key, AMEmulated: amEmulated}, nil
}

func deviceCount(resources []wireup.TransportResource, remotes []wireup.RemoteAddress) int {
	max := -1
	for _, r := range resources {
		if r.DeviceIndex > max {
			max = r.DeviceIndex
		}
	}
	for _, a := range remotes {
		if a.DeviceIndex > max {
			max = a.DeviceIndex
		}
	}
	return max + 1
}

func mdCount(resources []wireup.TransportResource, remotes []wireup.RemoteAddress) int {
	max := -1
	for _, r := range resources {
		if r.MDIndex > max {
			max = r.MDIndex
		}
	}
	for _, a := range remotes {
		if a.MDIndex > max {
			max = a.MDIndex
		}
	}
	return max + 1
}

func atomicEligibleBitmap(resources []wireup.TransportResource, atomicTLs wireup.Bitmap) wireup.Bitmap {
	var bm wireup.Bitmap
	for i, r := range resources {
		if !r.PeerToPeer || atomicTLs.Test(i) {
			bm = bm.Set(i)
		}
	}
	return bm
}

func anyPeerToPeerLane(agg *laneset.Set, resources []wireup.TransportResource) bool {
	for _, l := range agg.Lanes() {
		if resources[l.ResourceIndex].PeerToPeer {
			return true
		}
	}
	return false
}

func excludeDeviceAndMD(bitmap wireup.Bitmap, resources []wireup.TransportResource, deviceIndex, mdIndex int) wireup.Bitmap {
	for i, r := range resources {
		if r.DeviceIndex == deviceIndex || r.MDIndex == mdIndex {
			bitmap = bitmap.Clear(i)
		}
	}
	return bitmap
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
