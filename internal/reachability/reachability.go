// Package reachability implements the "same transport family, device-address
// pair mutually routable" test the transport matcher delegates to (spec
// section 4.1). The real test lives in the out-of-scope sockaddr-transport
// picker and UCT plugins; this package ships the default delegate the
// planner uses when no hardware-aware implementation is wired in, the way
// the teacher's collector.Provider interface lets main.go swap a real sysfs
// source for a test double.
package reachability

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/lanewire/wireup/internal/wireup"
)

// Delegate decides whether a local resource can reach a remote address.
type Delegate interface {
	Reachable(local wireup.TransportResource, remote wireup.RemoteAddress) bool
}

// Default is the address-aware delegate: self and shared-memory resources
// reach a remote whose device address is empty or equal to the resource's
// own device address, and network transports are reachable when their
// interface addresses carry the same address family (or no family can be
// determined, in which case they're assumed routable and left to the
// out-of-scope sockaddr picker at connect time). The remote's transport
// and device type are not checked.
type Default struct{}

// Reachable implements Delegate.
func (Default) Reachable(local wireup.TransportResource, remote wireup.RemoteAddress) bool {
	switch local.DeviceType {
	case wireup.DeviceSelf:
		return len(remote.DeviceAddr) == 0 || bytes.Equal(local.LocalDeviceAddr, remote.DeviceAddr)
	case wireup.DeviceSharedMemory:
		return len(remote.DeviceAddr) == 0 || bytes.Equal(local.LocalDeviceAddr, remote.DeviceAddr)
	default:
		lf := addrFamily(local.LocalIfaceAddr)
		rf := addrFamily(remote.IfaceAddr)
		if lf == unix.AF_UNSPEC || rf == unix.AF_UNSPEC {
			return true
		}
		return lf == rf
	}
}

// addrFamily reports the address family a packed interface address encodes,
// inferred from its length the way a minimal sockaddr reader would: 4 bytes
// for AF_INET, 16 for AF_INET6, anything else is left unspecified.
func addrFamily(b []byte) int {
	switch len(b) {
	case 4:
		return unix.AF_INET
	case 16:
		return unix.AF_INET6
	default:
		return unix.AF_UNSPEC
	}
}
