// Package discover builds the local TransportResource table the planner
// scores against, by walking the node's RDMA sysfs tree the way the teacher
// exporter's internal/rdma provider does, then cross-referencing each HCA
// port's net device against the kernel's link/address tables (spec section
// 4.9).
package discover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Mellanox/rdmamap"
	"github.com/vishvananda/netlink"

	"github.com/lanewire/wireup/internal/capbits"
	"github.com/lanewire/wireup/internal/wireup"
)

const defaultSysfsRoot = "/sys"

// baseIfaceCaps is what every discovered network-class resource is assumed
// to offer: the planner only ever needs to know a transport is absent
// outright (pruned entirely) or present with this floor of capability, since
// finer-grained per-device capability advertisement is the out-of-scope UCT
// plugin's job.
const baseIfaceCaps = capbits.AMBcopy | capbits.AMZcopy | capbits.AMSyncCB |
	capbits.EagerBcopy | capbits.RndvZcopy | capbits.GetZcopy | capbits.GetBcopy |
	capbits.PutBcopy | capbits.PutZcopy | capbits.Pending | capbits.EventRecv

// Discoverer enumerates local transport resources. Production code uses
// Sysfs; tests substitute a fixed resource list directly.
type Discoverer interface {
	Discover(ctx context.Context) ([]wireup.TransportResource, error)
}

// Sysfs discovers RDMA HCAs via rdmamap and cross-references their ports'
// net devices via netlink, the way the teacher's internal/rdma.Provider
// walks /sys/class/infiniband but aimed at building scorable transport
// resources instead of Prometheus counters.
type Sysfs struct {
	SysfsRoot string

	// LinkList and AddrList are overridable for tests; production callers
	// leave them nil and get netlink.LinkList / netlink.AddrList.
	LinkList func() ([]netlink.Link, error)
	AddrList func(link netlink.Link) ([]netlink.Addr, error)
}

// NewSysfs returns a Sysfs discoverer reading from the real kernel sysfs
// tree and netlink tables.
func NewSysfs() *Sysfs {
	return &Sysfs{SysfsRoot: defaultSysfsRoot}
}

func (s *Sysfs) linkList() ([]netlink.Link, error) {
	if s.LinkList != nil {
		return s.LinkList()
	}
	return netlink.LinkList()
}

func (s *Sysfs) addrList(link netlink.Link) ([]netlink.Addr, error) {
	if s.AddrList != nil {
		return s.AddrList(link)
	}
	return netlink.AddrList(link, netlink.FAMILY_ALL)
}

// Discover implements Discoverer.
func (s *Sysfs) Discover(ctx context.Context) ([]wireup.TransportResource, error) {
	root := s.SysfsRoot
	if root == "" {
		root = defaultSysfsRoot
	}

	resources := []wireup.TransportResource{
		selfResource(),
		sharedMemoryResource(),
	}

	netdevAddrs, err := s.netdevAddresses()
	if err != nil {
		return nil, fmt.Errorf("list netdev addresses: %w", err)
	}

	devices := rdmamap.GetRdmaDeviceList()
	mdIndex := 2 // 0 and 1 are self/shm above
	deviceIndex := 2
	for _, dev := range devices {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ports, err := portNetDevs(root, dev)
		if err != nil {
			return nil, fmt.Errorf("list ports for %s: %w", dev, err)
		}
		if len(ports) == 0 {
			continue
		}

		for _, port := range ports {
			addr := netdevAddrs[port.netDev]
			res := wireup.TransportResource{
				TransportName:   "rc_verbs",
				DeviceName:      fmt.Sprintf("%s:%d", dev, port.id),
				DeviceType:      wireup.DeviceNetwork,
				IfaceCaps:       baseIfaceCaps,
				MDCaps:          capbits.MDReg | capbits.MDAlloc,
				Atomic:          capbits.AtomicMatrix{Op64: true, Fop64: true},
				PeerToPeer:      true,
				MaxBcopy:        8 * 1024,
				MDIndex:         mdIndex,
				DeviceIndex:     deviceIndex,
				LocalIfaceAddr:  addr,
				LocalDeviceAddr: []byte(dev),
			}
			applyLinkSpeed(&res, port.linkLayer, port.rate)
			resources = append(resources, res)
			mdIndex++
			deviceIndex++
		}
	}

	return resources, nil
}

func selfResource() wireup.TransportResource {
	return wireup.TransportResource{
		TransportName:      "self",
		DeviceName:         "loopback",
		DeviceType:         wireup.DeviceSelf,
		IfaceCaps:          baseIfaceCaps | capbits.ConnectToIface,
		MDCaps:             capbits.MDReg | capbits.MDAlloc,
		BandwidthShared:    100e9,
		BandwidthDedicated: 100e9,
		Priority:           3,
		MaxBcopy:           64 * 1024,
		MDIndex:            0,
		DeviceIndex:        0,
	}
}

func sharedMemoryResource() wireup.TransportResource {
	return wireup.TransportResource{
		TransportName:      "sysv",
		DeviceName:         "sysv",
		DeviceType:         wireup.DeviceSharedMemory,
		IfaceCaps:          baseIfaceCaps | capbits.ConnectToIface,
		MDCaps:             capbits.MDReg | capbits.MDAlloc,
		BandwidthShared:    20e9,
		BandwidthDedicated: 20e9,
		Priority:           2,
		MaxBcopy:           64 * 1024,
		MDIndex:            1,
		DeviceIndex:        1,
	}
}

// applyLinkSpeed turns the sysfs rate string ("100 Gb/sec (4X EDR)") into a
// byte/sec bandwidth estimate, falling back to a conservative default when
// the field is absent or unparseable.
func applyLinkSpeed(res *wireup.TransportResource, linkLayer, rate string) {
	gbit := parseRateGbit(rate)
	if gbit <= 0 {
		gbit = 25 // conservative floor: slowest common RoCE/IB port speed.
	}
	bw := gbit * 1e9 / 8
	res.BandwidthShared = bw
	res.BandwidthDedicated = bw
	res.Priority = 1
	if linkLayer == "Ethernet" {
		res.TransportName = "rc_verbs_roce"
	}
}

func parseRateGbit(rate string) float64 {
	fields := strings.Fields(rate)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

type portInfo struct {
	id        int
	netDev    string
	linkLayer string
	rate      string
}

// portNetDevs walks one HCA's ports directory, the same layout the
// teacher's internal/rdma.Provider reads, but keeps only the fields the
// planner's scorers need: which net device backs each port (to find its IP
// address) and its link layer and rate (to estimate bandwidth).
func portNetDevs(sysfsRoot, device string) ([]portInfo, error) {
	portsDir := filepath.Join(sysfsRoot, "class/infiniband", device, "ports")
	entries, err := os.ReadDir(portsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ports []portInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		portDir := filepath.Join(portsDir, entry.Name())
		ports = append(ports, portInfo{
			id:        id,
			netDev:    readNetDev(portDir),
			linkLayer: readTrimmed(filepath.Join(portDir, "link_layer")),
			rate:      readTrimmed(filepath.Join(portDir, "rate")),
		})
	}
	return ports, nil
}

func readNetDev(portDir string) string {
	ndevsPath := filepath.Join(portDir, "gid_attrs", "ndevs")
	entries, err := os.ReadDir(ndevsPath)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if v := readTrimmed(filepath.Join(ndevsPath, entry.Name())); v != "" {
			return v
		}
	}
	return ""
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// netdevAddresses maps each net device name to one of its IP addresses,
// packed the same way a remote address codec would: 4 bytes for IPv4, 16
// for IPv6. The device's first IPv4 address is preferred; a device with no
// IPv4 address gets the last IPv6 address listed for it.
func (s *Sysfs) netdevAddresses() (map[string][]byte, error) {
	links, err := s.linkList()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(links))
	for _, link := range links {
		addrs, err := s.addrList(link)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip4 := a.IP.To4()
			if ip4 != nil {
				out[link.Attrs().Name] = []byte(ip4)
				break
			}
			if a.IP.To16() != nil {
				out[link.Attrs().Name] = []byte(a.IP.To16())
			}
		}
	}
	return out, nil
}
