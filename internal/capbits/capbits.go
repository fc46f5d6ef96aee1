// Package capbits implements capability-flag bitsets shared by the wireup
// lane-selection engine: interface capabilities, memory-domain flags, and
// the 32/64-bit atomic op/fop matrix, plus their diagnostic names.
package capbits

import (
	"fmt"
	"math/bits"
)

// Bits is a bitset of capability or memory-domain flags.
type Bits uint64

// Interface capability flags.
const (
	AMBcopy Bits = 1 << iota
	AMZcopy
	AMSyncCB
	AMAsyncCB
	EagerBcopy
	RndvZcopy
	GetZcopy
	GetBcopy
	PutBcopy
	PutZcopy
	Pending
	ConnectToIface
	ConnectToEp
	EventRecv    // unsignaled wakeup-capable receive
	EventRecvSig // signaled receive
)

// Memory-domain flags.
const (
	MDReg Bits = 1 << (iota + 32)
	MDAlloc
)

// RemoteTransmittable is the subset of interface capability flags the
// address codec actually packs into a remote address entry. ConnectToEp is
// a local-only notion (whether this resource needs a peer-to-peer
// connection back) and is never transmitted.
const RemoteTransmittable = AMBcopy | AMZcopy | AMSyncCB | AMAsyncCB | EagerBcopy |
	RndvZcopy | GetZcopy | GetBcopy | PutBcopy | PutZcopy | Pending |
	ConnectToIface | EventRecv | EventRecvSig

// Contains reports whether b has every bit set in required.
func (b Bits) Contains(required Bits) bool {
	return b&required == required
}

// Has reports whether b has any bit of mask set.
func (b Bits) Has(mask Bits) bool {
	return b&mask != 0
}

type bitName struct {
	bit  Bits
	name string
}

var names = []bitName{
	{AMBcopy, "AM bcopy"},
	{AMZcopy, "AM zcopy"},
	{AMSyncCB, "AM sync callback"},
	{AMAsyncCB, "AM async callback"},
	{EagerBcopy, "eager bcopy"},
	{RndvZcopy, "rendezvous zcopy"},
	{GetZcopy, "get zcopy"},
	{GetBcopy, "get bcopy"},
	{PutBcopy, "put bcopy"},
	{PutZcopy, "put zcopy"},
	{Pending, "pending"},
	{ConnectToIface, "connect-to-iface"},
	{ConnectToEp, "connect-to-ep"},
	{EventRecv, "unsignaled event recv"},
	{EventRecvSig, "signaled event recv"},
	{MDReg, "memory registration"},
	{MDAlloc, "memory allocation"},
}

// Name returns the diagnostic label for a single capability bit.
func Name(bit Bits) string {
	for _, n := range names {
		if n.bit == bit {
			return n.name
		}
	}
	return fmt.Sprintf("unknown flag 0x%x", uint64(bit))
}

// FirstMissing returns the lowest-order bit present in required but absent
// from provided, for use in "first missing capability" diagnostics.
func FirstMissing(required, provided Bits) (Bits, bool) {
	missing := required &^ provided
	if missing == 0 {
		return 0, false
	}
	bit := Bits(1) << uint(bits.TrailingZeros64(uint64(missing)))
	return bit, true
}

// AtomicMatrix is the 32/64-bit x {op, fop} atomic capability matrix.
type AtomicMatrix struct {
	Op32  bool
	Fop32 bool
	Op64  bool
	Fop64 bool
}

// Contains reports whether m satisfies every flag set in required.
func (m AtomicMatrix) Contains(required AtomicMatrix) bool {
	if required.Op32 && !m.Op32 {
		return false
	}
	if required.Fop32 && !m.Fop32 {
		return false
	}
	if required.Op64 && !m.Op64 {
		return false
	}
	if required.Fop64 && !m.Fop64 {
		return false
	}
	return true
}

// FirstMissing names the first required-but-absent atomic flag.
func (m AtomicMatrix) FirstMissing(required AtomicMatrix) (string, bool) {
	switch {
	case required.Op64 && !m.Op64:
		return "64-bit atomic op", true
	case required.Fop64 && !m.Fop64:
		return "64-bit atomic fetch-op", true
	case required.Op32 && !m.Op32:
		return "32-bit atomic op", true
	case required.Fop32 && !m.Fop32:
		return "32-bit atomic fetch-op", true
	}
	return "", false
}

// Any reports whether required asks for at least one atomic capability.
func (m AtomicMatrix) Any() bool {
	return m.Op32 || m.Fop32 || m.Op64 || m.Fop64
}
