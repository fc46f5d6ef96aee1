// Package scenario loads a wireup planning scenario from YAML: the local
// resource table, the remote's decoded address list, and the endpoint
// parameters to plan with, in one file a human can write and review (spec
// section 4.8). The loader is grounded on the chaos-utils scenario parser's
// shape -- ParseFile/Parse, variable substitution, then field validation --
// adapted from chaos fault scenarios to wireup planning inputs.
package scenario

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lanewire/wireup/internal/capbits"
	"github.com/lanewire/wireup/internal/wireup"
)

// Scenario is the top-level YAML document.
type Scenario struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Metadata names the scenario for logging and test fixtures.
type Metadata struct {
	Name string `yaml:"name"`
}

// Spec carries every input the selector needs for one planning call.
type Spec struct {
	Features  []string `yaml:"features"`
	InitFlags []string `yaml:"initFlags"`

	MaxLanes              int  `yaml:"maxLanes"`
	MaxOpMDs              int  `yaml:"maxOpMDs"`
	MaxEagerLanes         int  `yaml:"maxEagerLanes"`
	MaxRndvLanes          int  `yaml:"maxRndvLanes"`
	EstimatedNumEndpoints int  `yaml:"estimatedNumEndpoints"`
	AllowAMEmulation      bool `yaml:"allowAmEmulation"`

	ErrHandling string `yaml:"errHandling"` // "", "none", or "peer"
	SockAddr    *bool  `yaml:"sockAddr"`

	AtomicResources  []int           `yaml:"atomicResources"`
	MemTypeTLs       map[string][]int `yaml:"memTypeAccessTls"`

	Resources []Resource `yaml:"resources"`
	Remotes   []Remote   `yaml:"remotes"`
}

// Resource is one local (transport, device) entry.
type Resource struct {
	Transport  string  `yaml:"transport"`
	Device     string  `yaml:"device"`
	DeviceType string  `yaml:"deviceType"` // self, shm, network
	IfaceCaps  []string `yaml:"ifaceCaps"`
	MDCaps     []string `yaml:"mdCaps"`
	Atomic     []string `yaml:"atomic"` // op32, fop32, op64, fop64

	LatencyOverhead    float64 `yaml:"latencyOverheadSeconds"`
	LatencyGrowth      float64 `yaml:"latencyGrowthSeconds"`
	BandwidthShared    float64 `yaml:"bandwidthSharedBytesPerSec"`
	BandwidthDedicated float64 `yaml:"bandwidthDedicatedBytesPerSec"`
	Overhead           float64 `yaml:"overheadSeconds"`
	Priority           int     `yaml:"priority"`
	Auxiliary          bool    `yaml:"auxiliary"`
	PeerToPeer         bool    `yaml:"peerToPeer"`
	MaxBcopy           int     `yaml:"maxBcopy"`
	MDIndex            int     `yaml:"mdIndex"`
	DeviceIndex        int     `yaml:"deviceIndex"`
	RegOverhead        float64 `yaml:"regOverheadSeconds"`
	RegGrowth          float64 `yaml:"regGrowthSecondsPerByte"`
	LocalIfaceAddr     string  `yaml:"localIfaceAddr"`
	LocalDeviceAddr    string  `yaml:"localDeviceAddr"`
}

// Remote is one decoded peer address entry.
type Remote struct {
	Transport  string   `yaml:"transport"`
	IfaceCaps  []string `yaml:"ifaceCaps"`
	MDFlags    []string `yaml:"mdFlags"`
	Atomic     []string `yaml:"atomic"`

	Bandwidth       float64 `yaml:"bandwidthBytesPerSec"`
	Overhead        float64 `yaml:"overheadSeconds"`
	LatencyOverhead float64 `yaml:"latencyOverheadSeconds"`
	Priority        int     `yaml:"priority"`
	MDIndex         int     `yaml:"mdIndex"`
	DeviceIndex     int     `yaml:"deviceIndex"`
	DeviceAddr      string  `yaml:"deviceAddr"`
	IfaceAddr       string  `yaml:"ifaceAddr"`
}

// Parser loads scenario YAML, substituting ${VAR}/$VAR references from its
// own variable map and the environment before unmarshalling.
type Parser struct {
	Variables map[string]string
}

// New returns a parser with the given substitution variables.
func New(variables map[string]string) *Parser {
	if variables == nil {
		variables = make(map[string]string)
	}
	return &Parser{Variables: variables}
}

// ParseFile loads and parses a scenario file.
func (p *Parser) ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return p.Parse(data)
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Parse parses a scenario from YAML bytes, after variable substitution.
func (p *Parser) Parse(data []byte) (*Scenario, error) {
	substituted := p.substituteVariables(string(data))

	var s Scenario
	if err := yaml.Unmarshal([]byte(substituted), &s); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}
	if err := p.validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Parser) substituteVariables(content string) string {
	return varPattern.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if val, ok := p.Variables[name]; ok {
			return val
		}
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}

func (p *Parser) validate(s *Scenario) error {
	if s.APIVersion == "" {
		return fmt.Errorf("apiVersion is required")
	}
	if s.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if s.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if len(s.Spec.Resources) == 0 {
		return fmt.Errorf("spec.resources is required and must have at least one entry")
	}
	if len(s.Spec.Remotes) == 0 {
		return fmt.Errorf("spec.remotes is required and must have at least one entry")
	}
	for i, r := range s.Spec.Resources {
		if r.DeviceType != "" && r.DeviceType != "self" && r.DeviceType != "shm" && r.DeviceType != "network" {
			return fmt.Errorf("spec.resources[%d].deviceType %q must be self, shm, or network", i, r.DeviceType)
		}
	}
	return nil
}

// Build converts a parsed scenario into the planner's concrete input types.
func Build(s *Scenario) ([]wireup.TransportResource, []wireup.RemoteAddress, wireup.EndpointParams, wireup.InitFlag, error) {
	resources := make([]wireup.TransportResource, len(s.Spec.Resources))
	for i, r := range s.Spec.Resources {
		ifaceCaps, err := parseCapList(r.IfaceCaps)
		if err != nil {
			return nil, nil, wireup.EndpointParams{}, 0, fmt.Errorf("resources[%d].ifaceCaps: %w", i, err)
		}
		mdCaps, err := parseCapList(r.MDCaps)
		if err != nil {
			return nil, nil, wireup.EndpointParams{}, 0, fmt.Errorf("resources[%d].mdCaps: %w", i, err)
		}
		resources[i] = wireup.TransportResource{
			TransportName:      r.Transport,
			DeviceName:         r.Device,
			DeviceType:         parseDeviceType(r.DeviceType),
			IfaceCaps:          ifaceCaps,
			MDCaps:             mdCaps,
			Atomic:             parseAtomic(r.Atomic),
			LatencyOverhead:    r.LatencyOverhead,
			LatencyGrowth:      r.LatencyGrowth,
			BandwidthShared:    r.BandwidthShared,
			BandwidthDedicated: r.BandwidthDedicated,
			Overhead:           r.Overhead,
			Priority:           r.Priority,
			Auxiliary:          r.Auxiliary,
			PeerToPeer:         r.PeerToPeer,
			MaxBcopy:           r.MaxBcopy,
			MDIndex:            r.MDIndex,
			DeviceIndex:        r.DeviceIndex,
			RegOverhead:        r.RegOverhead,
			RegGrowth:          r.RegGrowth,
			LocalIfaceAddr:     []byte(r.LocalIfaceAddr),
			LocalDeviceAddr:    []byte(r.LocalDeviceAddr),
		}
	}

	remotes := make([]wireup.RemoteAddress, len(s.Spec.Remotes))
	for i, r := range s.Spec.Remotes {
		ifaceCaps, err := parseCapList(r.IfaceCaps)
		if err != nil {
			return nil, nil, wireup.EndpointParams{}, 0, fmt.Errorf("remotes[%d].ifaceCaps: %w", i, err)
		}
		mdFlags, err := parseCapList(r.MDFlags)
		if err != nil {
			return nil, nil, wireup.EndpointParams{}, 0, fmt.Errorf("remotes[%d].mdFlags: %w", i, err)
		}
		remotes[i] = wireup.RemoteAddress{
			DeviceAddr:        []byte(r.DeviceAddr),
			IfaceAddr:         []byte(r.IfaceAddr),
			IfaceCaps:         ifaceCaps,
			MDFlags:           mdFlags,
			Atomic:            parseAtomic(r.Atomic),
			Bandwidth:         r.Bandwidth,
			Overhead:          r.Overhead,
			LatencyOverhead:   r.LatencyOverhead,
			Priority:          r.Priority,
			MDIndex:           r.MDIndex,
			DeviceIndex:       r.DeviceIndex,
			TransportChecksum: wireup.TransportChecksum16(r.Transport),
		}
	}

	params := wireup.EndpointParams{}
	switch s.Spec.ErrHandling {
	case "peer":
		params.ErrHandlingMode = wireup.ErrHandlingPeer
		params.ErrHandlingModeSet = true
	case "none":
		params.ErrHandlingMode = wireup.ErrHandlingNone
		params.ErrHandlingModeSet = true
	}
	if s.Spec.SockAddr != nil {
		params.SockAddr = *s.Spec.SockAddr
		params.SockAddrSet = true
	}

	var initFlags wireup.InitFlag
	for _, f := range s.Spec.InitFlags {
		switch strings.ToUpper(f) {
		case "CREATE_AM_LANE":
			initFlags |= wireup.InitCreateAMLane
		case "MEM_TYPE":
			initFlags |= wireup.InitMemType
		default:
			return nil, nil, wireup.EndpointParams{}, 0, fmt.Errorf("unknown init flag %q", f)
		}
	}

	return resources, remotes, params, initFlags, nil
}

// Features translates the scenario's string feature list into a
// wireup.Feature bitmask.
func Features(s *Scenario) (wireup.Feature, error) {
	var features wireup.Feature
	for _, f := range s.Spec.Features {
		switch strings.ToUpper(f) {
		case "RMA":
			features |= wireup.FeatureRMA
		case "AMO32":
			features |= wireup.FeatureAMO32
		case "AMO64":
			features |= wireup.FeatureAMO64
		case "TAG":
			features |= wireup.FeatureTAG
		case "STREAM":
			features |= wireup.FeatureStream
		case "AM":
			features |= wireup.FeatureAM
		case "WAKEUP":
			features |= wireup.FeatureWakeup
		default:
			return 0, fmt.Errorf("unknown feature %q", f)
		}
	}
	return features, nil
}

func parseDeviceType(s string) wireup.DeviceType {
	switch s {
	case "self":
		return wireup.DeviceSelf
	case "shm":
		return wireup.DeviceSharedMemory
	default:
		return wireup.DeviceNetwork
	}
}

var capNames = map[string]capbits.Bits{
	"am_bcopy":         capbits.AMBcopy,
	"am_zcopy":         capbits.AMZcopy,
	"am_sync_cb":       capbits.AMSyncCB,
	"am_async_cb":      capbits.AMAsyncCB,
	"eager_bcopy":      capbits.EagerBcopy,
	"rndv_zcopy":       capbits.RndvZcopy,
	"get_zcopy":        capbits.GetZcopy,
	"get_bcopy":        capbits.GetBcopy,
	"put_bcopy":        capbits.PutBcopy,
	"put_zcopy":        capbits.PutZcopy,
	"pending":          capbits.Pending,
	"connect_to_iface": capbits.ConnectToIface,
	"connect_to_ep":    capbits.ConnectToEp,
	"event_recv":       capbits.EventRecv,
	"event_recv_sig":   capbits.EventRecvSig,
	"md_reg":           capbits.MDReg,
	"md_alloc":         capbits.MDAlloc,
}

func parseCapList(names []string) (capbits.Bits, error) {
	var bits capbits.Bits
	for _, name := range names {
		bit, ok := capNames[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", name)
		}
		bits |= bit
	}
	return bits, nil
}

// Worker implements wireup.Worker directly from a parsed scenario, so
// callers can feed a loaded file straight into selector.Plan without
// writing their own adapter.
type Worker struct {
	resources             []wireup.TransportResource
	features              wireup.Feature
	maxLanes              int
	maxOpMDs              int
	maxEagerLanes         int
	maxRndvLanes          int
	estimatedNumEndpoints int
	allowAMEmulation      bool
	atomicTLs             wireup.Bitmap
	memTypes              []wireup.MemType
	memTypeTLs            map[wireup.MemType]wireup.Bitmap
}

// NewWorker builds a Worker from a parsed scenario and its already-resolved
// resource table.
func NewWorker(s *Scenario, resources []wireup.TransportResource) (*Worker, error) {
	features, err := Features(s)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		resources:             resources,
		features:              features,
		maxLanes:              s.Spec.MaxLanes,
		maxOpMDs:              s.Spec.MaxOpMDs,
		maxEagerLanes:         s.Spec.MaxEagerLanes,
		maxRndvLanes:          s.Spec.MaxRndvLanes,
		estimatedNumEndpoints: s.Spec.EstimatedNumEndpoints,
		allowAMEmulation:      s.Spec.AllowAMEmulation,
		memTypeTLs:            make(map[wireup.MemType]wireup.Bitmap),
	}
	if w.maxLanes == 0 {
		w.maxLanes = wireup.MaxLanes
	}
	if w.maxOpMDs == 0 {
		w.maxOpMDs = wireup.MaxOpMDs
	}
	if w.estimatedNumEndpoints == 0 {
		w.estimatedNumEndpoints = 1
	}

	for _, idx := range s.Spec.AtomicResources {
		w.atomicTLs = w.atomicTLs.Set(idx)
	}

	i := 0
	for name, idxs := range s.Spec.MemTypeTLs {
		mt := wireup.MemType(i)
		i++
		var bm wireup.Bitmap
		for _, idx := range idxs {
			bm = bm.Set(idx)
		}
		w.memTypes = append(w.memTypes, mt)
		w.memTypeTLs[mt] = bm
		_ = name // memory-type names are only used for operator-facing scenario files; the planner keys on the opaque MemType index.
	}

	return w, nil
}

func (w *Worker) Resources() []wireup.TransportResource { return w.resources }
func (w *Worker) Features() wireup.Feature               { return w.features }
func (w *Worker) MaxLanes() int                          { return w.maxLanes }
func (w *Worker) MaxOpMDs() int                          { return w.maxOpMDs }
func (w *Worker) MaxEagerLanes() int                     { return w.maxEagerLanes }
func (w *Worker) MaxRndvLanes() int                      { return w.maxRndvLanes }
func (w *Worker) EstimatedNumEndpoints() int              { return w.estimatedNumEndpoints }
func (w *Worker) AtomicTLs() wireup.Bitmap                { return w.atomicTLs }
func (w *Worker) MemTypes() []wireup.MemType              { return w.memTypes }
func (w *Worker) AllowAMEmulation() bool                  { return w.allowAMEmulation }

func (w *Worker) MemTypeAccessTLs(mt wireup.MemType) wireup.Bitmap {
	return w.memTypeTLs[mt]
}

func parseAtomic(names []string) capbits.AtomicMatrix {
	var m capbits.AtomicMatrix
	for _, name := range names {
		switch strings.ToLower(name) {
		case "op32":
			m.Op32 = true
		case "fop32":
			m.Fop32 = true
		case "op64":
			m.Op64 = true
		case "fop64":
			m.Fop64 = true
		}
	}
	return m
}
