package discover

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/vishvananda/netlink"

	"github.com/lanewire/wireup/internal/wireup"
)

func TestDiscoverAlwaysIncludesSelfAndSharedMemory(t *testing.T) {
	t.Parallel()

	s := &Sysfs{
		SysfsRoot: t.TempDir(),
		LinkList:  func() ([]netlink.Link, error) { return nil, nil },
		AddrList:  func(netlink.Link) ([]netlink.Addr, error) { return nil, nil },
	}

	resources, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) < 2 {
		t.Fatalf("expected at least the self and shared-memory resources, got %d", len(resources))
	}
	if resources[0].DeviceType != wireup.DeviceSelf {
		t.Errorf("expected first resource to be self, got %v", resources[0].DeviceType)
	}
	if resources[1].DeviceType != wireup.DeviceSharedMemory {
		t.Errorf("expected second resource to be shared memory, got %v", resources[1].DeviceType)
	}
}

func TestPortNetDevsWalksFixtureSysfsTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	portDir := filepath.Join(root, "class/infiniband/mlx5_0/ports/1")
	if err := os.MkdirAll(filepath.Join(portDir, "gid_attrs/ndevs"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(portDir, "link_layer"), []byte("Ethernet\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(portDir, "rate"), []byte("100 Gb/sec (4X EDR)\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(portDir, "gid_attrs/ndevs/0"), []byte("eth0\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	ports, err := portNetDevs(root, "mlx5_0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ports) != 1 {
		t.Fatalf("expected exactly one port, got %d", len(ports))
	}
	if ports[0].netDev != "eth0" {
		t.Errorf("expected net device eth0, got %q", ports[0].netDev)
	}
	if ports[0].linkLayer != "Ethernet" {
		t.Errorf("expected link layer Ethernet, got %q", ports[0].linkLayer)
	}
}

func TestPortNetDevsReturnsEmptyForMissingDevice(t *testing.T) {
	t.Parallel()

	ports, err := portNetDevs(t.TempDir(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ports) != 0 {
		t.Errorf("expected no ports for a missing device directory, got %v", ports)
	}
}

func TestApplyLinkSpeedParsesRateAndDetectsRoCE(t *testing.T) {
	t.Parallel()

	res := wireup.TransportResource{TransportName: "rc_verbs"}
	applyLinkSpeed(&res, "Ethernet", "100 Gb/sec (4X EDR)")

	if res.TransportName != "rc_verbs_roce" {
		t.Errorf("expected Ethernet link layer to rename transport to rc_verbs_roce, got %q", res.TransportName)
	}
	wantBW := 100e9 / 8
	if res.BandwidthDedicated != wantBW {
		t.Errorf("expected bandwidth %v, got %v", wantBW, res.BandwidthDedicated)
	}
}

func TestApplyLinkSpeedFallsBackWhenRateUnparseable(t *testing.T) {
	t.Parallel()

	res := wireup.TransportResource{}
	applyLinkSpeed(&res, "InfiniBand", "unknown")

	wantBW := 25e9 / 8
	if res.BandwidthDedicated != wantBW {
		t.Errorf("expected fallback bandwidth %v, got %v", wantBW, res.BandwidthDedicated)
	}
	if res.TransportName == "rc_verbs_roce" {
		t.Error("expected non-Ethernet link layer to keep the original transport name")
	}
}

func TestNetdevAddressesPrefersIPv4(t *testing.T) {
	t.Parallel()

	link := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}}
	s := &Sysfs{
		LinkList: func() ([]netlink.Link, error) { return []netlink.Link{link}, nil },
		AddrList: func(netlink.Link) ([]netlink.Addr, error) {
			return []netlink.Addr{
				{IPNet: &net.IPNet{IP: net.ParseIP("fe80::1")}},
				{IPNet: &net.IPNet{IP: net.ParseIP("192.168.1.10")}},
			}, nil
		},
	}

	addrs, err := s.netdevAddresses()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := addrs["eth0"]
	if !ok {
		t.Fatal("expected an address recorded for eth0")
	}
	if len(got) != 4 {
		t.Errorf("expected a 4-byte packed IPv4 address, got %d bytes", len(got))
	}
}
