package keybuild

import (
	"errors"
	"testing"

	"github.com/lanewire/wireup/internal/capbits"
	"github.com/lanewire/wireup/internal/wireup"
)

func TestBuildPopulatesLaneTable(t *testing.T) {
	t.Parallel()

	resources := []wireup.TransportResource{
		{PeerToPeer: true},
		{},
	}
	remotes := []wireup.RemoteAddress{{}, {}}
	lanes := []wireup.Lane{
		{ResourceIndex: 0, RemoteAddrIndex: 0, DestMDIndex: 1, Usage: wireup.UsageRMA, Scores: wireup.LaneScores{RMA: 2.0}},
		{ResourceIndex: 1, RemoteAddrIndex: 1, DestMDIndex: 2, Usage: wireup.UsageAM, Scores: wireup.LaneScores{AM: 1.0}},
	}

	key, err := Build(Input{Resources: resources, Remotes: remotes, Lanes: lanes, AMLane: 1, TAGLane: wireup.NoLane})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key.Lanes) != 2 {
		t.Fatalf("expected 2 lanes in the key, got %d", len(key.Lanes))
	}
	if key.AMLane != 1 {
		t.Errorf("expected AMLane 1, got %d", key.AMLane)
	}
	if key.RemoteAddrIndex[0] != 0 || key.RemoteAddrIndex[1] != 1 {
		t.Errorf("unexpected remote address index table: %v", key.RemoteAddrIndex)
	}
}

func TestBuildRejectsTooManyLanes(t *testing.T) {
	t.Parallel()

	lanes := make([]wireup.Lane, wireup.MaxLanes+1)
	_, err := Build(Input{Lanes: lanes, AMLane: wireup.NoLane, TAGLane: wireup.NoLane})
	if err == nil {
		t.Fatal("expected an error when lane count exceeds MaxLanes")
	}
	if !errors.Is(err, wireup.ErrInvalidConfig) {
		t.Errorf("expected error to unwrap to ErrInvalidConfig, got %v", err)
	}
}

func TestBuildSortsPerUsageLanesDescendingWithZeroScoresSunk(t *testing.T) {
	t.Parallel()

	resources := []wireup.TransportResource{{}, {}, {}}
	remotes := []wireup.RemoteAddress{{}, {}, {}}
	lanes := []wireup.Lane{
		{ResourceIndex: 0, Usage: wireup.UsageRMA, Scores: wireup.LaneScores{RMA: 1.0}},
		{ResourceIndex: 1, Usage: wireup.UsageRMA, Scores: wireup.LaneScores{RMA: 5.0}},
		{ResourceIndex: 2, Usage: wireup.UsageRMA}, // merged usage, no RMA score of its own
	}

	key, err := Build(Input{Resources: resources, Remotes: remotes, Lanes: lanes, AMLane: wireup.NoLane, TAGLane: wireup.NoLane})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key.RMALanes) != 3 {
		t.Fatalf("expected all three lanes to carry the RMA usage, got %v", key.RMALanes)
	}
	if key.RMALanes[0] != 1 {
		t.Errorf("expected highest-scoring lane (index 1) first, got %v", key.RMALanes)
	}
	if key.RMALanes[2] != 2 {
		t.Errorf("expected zero-score lane sunk to the tail, got %v", key.RMALanes)
	}
}

func TestBuildAMBWLanesAlwaysStartsWithAMLane(t *testing.T) {
	t.Parallel()

	resources := []wireup.TransportResource{{}, {}}
	remotes := []wireup.RemoteAddress{{}, {}}
	lanes := []wireup.Lane{
		{ResourceIndex: 0, Usage: wireup.UsageAM},
		{ResourceIndex: 1, Usage: wireup.UsageAMBW, Scores: wireup.LaneScores{AMBW: 3.0}},
	}

	key, err := Build(Input{Resources: resources, Remotes: remotes, Lanes: lanes, AMLane: 0, TAGLane: wireup.NoLane})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key.AMBWLanes) == 0 || key.AMBWLanes[0] != 0 {
		t.Fatalf("expected AMBWLanes[0] to duplicate AMLane (0), got %v", key.AMBWLanes)
	}
	if len(key.AMBWLanes) != 2 || key.AMBWLanes[1] != 1 {
		t.Errorf("expected the AM_BW-carrying lane to follow, got %v", key.AMBWLanes)
	}
}

func TestBuildAMBWLanesDoesNotDuplicateWhenAMLaneAlsoCarriesAMBW(t *testing.T) {
	t.Parallel()

	resources := []wireup.TransportResource{{}}
	remotes := []wireup.RemoteAddress{{}}
	lanes := []wireup.Lane{
		{ResourceIndex: 0, Usage: wireup.UsageAM | wireup.UsageAMBW, Scores: wireup.LaneScores{AM: 1.0, AMBW: 1.0}},
	}

	key, err := Build(Input{Resources: resources, Remotes: remotes, Lanes: lanes, AMLane: 0, TAGLane: wireup.NoLane})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key.AMBWLanes) != 1 {
		t.Errorf("expected AMBWLanes to contain AM lane exactly once, got %v", key.AMBWLanes)
	}
}

func TestChooseWireupLanePrefersAuxiliaryThenPeerToPeerThenAM(t *testing.T) {
	t.Parallel()

	auxResources := []wireup.TransportResource{
		{Auxiliary: true, IfaceCaps: capbits.ConnectToIface | capbits.AMBcopy | capbits.Pending},
		{PeerToPeer: true},
	}
	auxRemotes := []wireup.RemoteAddress{{IfaceCaps: capbits.AMAsyncCB}, {}}
	auxLanes := []wireup.Lane{{ResourceIndex: 0, RemoteAddrIndex: 0}, {ResourceIndex: 1, RemoteAddrIndex: 1}}
	key, err := Build(Input{Resources: auxResources, Remotes: auxRemotes, Lanes: auxLanes, AMLane: 1, TAGLane: wireup.NoLane})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.WireupLane != 0 {
		t.Errorf("expected auxiliary lane to win, got %d", key.WireupLane)
	}

	p2pResources := []wireup.TransportResource{{}, {PeerToPeer: true}}
	p2pRemotes := []wireup.RemoteAddress{{}, {}}
	p2pLanes := []wireup.Lane{{ResourceIndex: 0, RemoteAddrIndex: 0}, {ResourceIndex: 1, RemoteAddrIndex: 1}}
	key, err = Build(Input{Resources: p2pResources, Remotes: p2pRemotes, Lanes: p2pLanes, AMLane: 0, TAGLane: wireup.NoLane})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.WireupLane != 1 {
		t.Errorf("expected peer-to-peer lane to win absent an auxiliary lane, got %d", key.WireupLane)
	}

	plainResources := []wireup.TransportResource{{}, {}}
	plainRemotes := []wireup.RemoteAddress{{}, {}}
	plainLanes := []wireup.Lane{{ResourceIndex: 0, RemoteAddrIndex: 0}, {ResourceIndex: 1, RemoteAddrIndex: 1}}
	key, err = Build(Input{Resources: plainResources, Remotes: plainRemotes, Lanes: plainLanes, AMLane: 1, TAGLane: wireup.NoLane})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.WireupLane != 1 {
		t.Errorf("expected fallback to AM lane, got %d", key.WireupLane)
	}
}
