// Package expander implements the bandwidth and memory-access expansions
// (spec section 4.5): pick one, then keep picking better/disjoint ones
// until a cap is reached.
package expander

import (
	"github.com/lanewire/wireup/internal/capbits"
	"github.com/lanewire/wireup/internal/laneset"
	"github.com/lanewire/wireup/internal/matcher"
	"github.com/lanewire/wireup/internal/wireup"
)

// MemAccessParams configures one memaccess expansion (used by the RMA and
// AMO passes).
type MemAccessParams struct {
	Criterion wireup.Criterion
	Usage     wireup.Usage

	Matcher *matcher.Matcher
	Agg     *laneset.Set

	LocalResourceBitmap wireup.Bitmap
	RemoteMDBitmap      wireup.Bitmap
	LocalDeviceBitmap   wireup.Bitmap
	RemoteDeviceBitmap  wireup.Bitmap
}

// MemAccess runs the registered/allocated two-sub-pass memaccess expansion
// and returns the selected resource indices, in selection order.
func MemAccess(p MemAccessParams) ([]int, error) {
	resources := p.Matcher.Resources

	registeredCriterion := p.Criterion
	registeredCriterion.ReqLocalMDFlags |= capbits.MDReg
	registeredCriterion.ReqRemoteMDFlags |= capbits.MDReg

	result, err := p.Matcher.Match(registeredCriterion, p.LocalResourceBitmap, p.RemoteMDBitmap, p.LocalDeviceBitmap, p.RemoteDeviceBitmap, true)
	if err != nil {
		return nil, err
	}

	selected := []int{result.ResourceIndex}
	p.Agg.Add(result.ResourceIndex, result.RemoteIndex, p.Usage, result.Score, resources[result.ResourceIndex].MDIndex, false)
	regScore := result.Score

	p.RemoteMDBitmap = p.RemoteMDBitmap.Clear(p.Matcher.Remotes[result.RemoteIndex].MDIndex)
	p.LocalResourceBitmap = clearSameMD(p.LocalResourceBitmap, resources, resources[result.ResourceIndex].MDIndex)

	allocatedCriterion := p.Criterion
	allocatedCriterion.ReqLocalMDFlags = (p.Criterion.ReqLocalMDFlags &^ capbits.MDReg) | capbits.MDAlloc
	allocatedCriterion.ReqRemoteMDFlags = (p.Criterion.ReqRemoteMDFlags &^ capbits.MDReg) | capbits.MDAlloc

	for {
		result, err := p.Matcher.Match(allocatedCriterion, p.LocalResourceBitmap, p.RemoteMDBitmap, p.LocalDeviceBitmap, p.RemoteDeviceBitmap, false)
		if err != nil {
			break
		}
		if !wireup.ScoreGreater(result.Score, regScore) {
			break
		}

		selected = append(selected, result.ResourceIndex)
		p.Agg.Add(result.ResourceIndex, result.RemoteIndex, p.Usage, result.Score, resources[result.ResourceIndex].MDIndex, false)

		p.RemoteMDBitmap = p.RemoteMDBitmap.Clear(p.Matcher.Remotes[result.RemoteIndex].MDIndex)
		p.LocalResourceBitmap = clearSameMD(p.LocalResourceBitmap, resources, resources[result.ResourceIndex].MDIndex)
	}

	return selected, nil
}

func clearSameMD(bitmap wireup.Bitmap, resources []wireup.TransportResource, mdIndex int) wireup.Bitmap {
	for i, r := range resources {
		if r.MDIndex == mdIndex {
			bitmap = bitmap.Clear(i)
		}
	}
	return bitmap
}

// BandwidthParams configures one bw expansion (used by the AM_BW and
// RMA_BW passes).
type BandwidthParams struct {
	Criterion wireup.Criterion
	Usage     wireup.Usage

	Matcher *matcher.Matcher
	Agg     *laneset.Set

	LocalResourceBitmap wireup.Bitmap
	LocalDeviceBitmap   wireup.Bitmap
	RemoteDeviceBitmap  wireup.Bitmap

	MaxLanes int
	MaxOpMDs int
}

// Bandwidth repeatedly selects further lanes across distinct local/remote
// devices until a cap is reached, per spec section 4.5, and returns the
// accumulated memory-domain bitmap of every lane it selected.
func Bandwidth(p BandwidthParams) wireup.Bitmap {
	resources := p.Matcher.Resources
	remotes := p.Matcher.Remotes
	fullMDBitmap := wireup.FullBitmap(64)

	var mdMap wireup.Bitmap

	for {
		if p.Agg.Count() >= p.MaxLanes {
			break
		}
		if mdMap.PopCount() >= p.MaxOpMDs {
			break
		}

		result, err := p.Matcher.Match(p.Criterion, p.LocalResourceBitmap, fullMDBitmap, p.LocalDeviceBitmap, p.RemoteDeviceBitmap, false)
		if err != nil {
			break
		}

		res := resources[result.ResourceIndex]
		p.Agg.Add(result.ResourceIndex, result.RemoteIndex, p.Usage, result.Score, res.MDIndex, false)
		mdMap = mdMap.Set(res.MDIndex)

		p.LocalDeviceBitmap = p.LocalDeviceBitmap.Clear(res.DeviceIndex)
		p.RemoteDeviceBitmap = p.RemoteDeviceBitmap.Clear(remotes[result.RemoteIndex].DeviceIndex)

		if res.DeviceType == wireup.DeviceSelf || res.DeviceType == wireup.DeviceSharedMemory {
			break
		}
	}

	return mdMap
}
