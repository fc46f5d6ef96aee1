package wireup

import (
	"hash/fnv"

	"github.com/lanewire/wireup/internal/capbits"
)

// RemoteAddress is one decoded entry from the peer's packed address, as
// described in spec section 3. It never carries ConnectToEp-class local-only
// flags; see capbits.RemoteTransmittable.
type RemoteAddress struct {
	DeviceAddr []byte
	IfaceAddr  []byte
	EpAddr     []byte // empty when the remote didn't pack an endpoint address

	IfaceCaps capbits.Bits
	MDFlags   capbits.Bits
	Atomic    capbits.AtomicMatrix

	Bandwidth       float64
	Overhead        float64
	LatencyOverhead float64
	Priority        int

	MDIndex     int
	DeviceIndex int

	// TransportChecksum is a 16-bit hash of the transport name used only
	// for diagnostics (e.g. logging which wire transport an address
	// claims); it is never compared for correctness.
	TransportChecksum uint16
}

// TransportChecksum16 hashes a transport name down to 16 bits for the
// diagnostic-only checksum field on a decoded remote address.
func TransportChecksum16(transportName string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(transportName))
	sum := h.Sum32()
	return uint16(sum ^ (sum >> 16))
}
