package wireup

import "github.com/lanewire/wireup/internal/capbits"

// DeviceType classifies the physical transport backing a resource.
type DeviceType int

const (
	DeviceSelf DeviceType = iota
	DeviceSharedMemory
	DeviceNetwork
)

func (t DeviceType) String() string {
	switch t {
	case DeviceSelf:
		return "self"
	case DeviceSharedMemory:
		return "shared-memory"
	case DeviceNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// TransportResource is a local (transport, device) pair available on the
// worker, as described in spec section 3.
type TransportResource struct {
	TransportName string
	DeviceName    string
	DeviceType    DeviceType

	IfaceCaps capbits.Bits
	MDCaps    capbits.Bits
	Atomic    capbits.AtomicMatrix

	LatencyOverhead float64 // seconds
	LatencyGrowth   float64 // seconds per estimated remote endpoint

	BandwidthShared    float64 // bytes/sec, shared across lanes on this resource
	BandwidthDedicated float64 // bytes/sec, dedicated to one lane
	Overhead           float64 // per-operation CPU overhead, seconds

	Priority int

	Auxiliary  bool // may only participate when the criterion allows it
	PeerToPeer bool // requires symmetric two-way connection setup

	MaxBcopy int // size used by the AM_BW scorer's workload

	MDIndex     int
	DeviceIndex int

	RegOverhead float64 // md.reg_overhead, seconds
	RegGrowth   float64 // md.reg_growth, seconds per byte registered

	// LocalIfaceAddr and LocalDeviceAddr are this resource's own address
	// bytes, in the same encoding a remote peer's address codec would have
	// produced for it. They're optional hints used only by the default
	// reachability delegate; a hardware-aware delegate can ignore them.
	LocalIfaceAddr  []byte
	LocalDeviceAddr []byte
}

// Bandwidth returns the resource's usable bandwidth against a peer sharing
// min(local, remote) semantics: dedicated bandwidth if present, else shared.
func (r TransportResource) Bandwidth() float64 {
	if r.BandwidthDedicated > 0 {
		return r.BandwidthDedicated
	}
	return r.BandwidthShared
}
