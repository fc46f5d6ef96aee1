package scenario

import (
	"testing"

	"github.com/lanewire/wireup/internal/wireup"
)

const minimalYAML = `
apiVersion: wireup/v1
kind: PlanScenario
metadata:
  name: minimal
spec:
  features: [RMA, AM]
  resources:
    - transport: rc_verbs
      device: mlx5_0
      deviceType: network
      ifaceCaps: [put_bcopy, am_bcopy, am_sync_cb]
      bandwidthDedicatedBytesPerSec: 10000000000
  remotes:
    - transport: rc_verbs
      ifaceCaps: [put_bcopy, am_bcopy, am_sync_cb]
      bandwidthBytesPerSec: 10000000000
`

func TestParseMinimalScenario(t *testing.T) {
	t.Parallel()

	s, err := New(nil).Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Metadata.Name != "minimal" {
		t.Errorf("expected metadata.name 'minimal', got %q", s.Metadata.Name)
	}
	if len(s.Spec.Resources) != 1 || len(s.Spec.Remotes) != 1 {
		t.Fatalf("expected one resource and one remote, got %d/%d", len(s.Spec.Resources), len(s.Spec.Remotes))
	}
}

func TestParseRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"missing apiVersion", "kind: PlanScenario\nmetadata:\n  name: x\nspec:\n  resources: [{}]\n  remotes: [{}]\n"},
		{"missing kind", "apiVersion: wireup/v1\nmetadata:\n  name: x\nspec:\n  resources: [{}]\n  remotes: [{}]\n"},
		{"missing name", "apiVersion: wireup/v1\nkind: PlanScenario\nmetadata:\n  name: \"\"\nspec:\n  resources: [{}]\n  remotes: [{}]\n"},
		{"missing resources", "apiVersion: wireup/v1\nkind: PlanScenario\nmetadata:\n  name: x\nspec:\n  remotes: [{}]\n"},
		{"missing remotes", "apiVersion: wireup/v1\nkind: PlanScenario\nmetadata:\n  name: x\nspec:\n  resources: [{}]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(nil).Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestParseRejectsInvalidDeviceType(t *testing.T) {
	t.Parallel()

	yaml := `
apiVersion: wireup/v1
kind: PlanScenario
metadata:
  name: bad
spec:
  resources:
    - deviceType: quantum
  remotes:
    - {}
`
	if _, err := New(nil).Parse([]byte(yaml)); err == nil {
		t.Error("expected an error for an unrecognized deviceType")
	}
}

func TestVariableSubstitutionFromMapAndEnv(t *testing.T) {
	t.Setenv("WIREUP_TEST_DEVICE", "mlx5_1")

	yaml := `
apiVersion: wireup/v1
kind: PlanScenario
metadata:
  name: ${SCENARIO_NAME}
spec:
  resources:
    - device: $WIREUP_TEST_DEVICE
  remotes:
    - {}
`
	s, err := New(map[string]string{"SCENARIO_NAME": "substituted"}).Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Metadata.Name != "substituted" {
		t.Errorf("expected variable map substitution, got %q", s.Metadata.Name)
	}
	if s.Spec.Resources[0].Device != "mlx5_1" {
		t.Errorf("expected environment variable substitution, got %q", s.Spec.Resources[0].Device)
	}
}

func TestBuildAndNewWorkerFromMinimalScenario(t *testing.T) {
	t.Parallel()

	s, err := New(nil).Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	resources, remotes, _, _, err := Build(s)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(resources) != 1 || len(remotes) != 1 {
		t.Fatalf("expected one resource and one remote after build")
	}

	w, err := NewWorker(s, resources)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	if w.MaxLanes() != wireup.MaxLanes {
		t.Errorf("expected default MaxLanes %d, got %d", wireup.MaxLanes, w.MaxLanes())
	}
	if !w.Features().Has(wireup.FeatureRMA) || !w.Features().Has(wireup.FeatureAM) {
		t.Error("expected RMA and AM features to be parsed from scenario")
	}
}

func TestBuildRejectsUnknownCapability(t *testing.T) {
	t.Parallel()

	yaml := `
apiVersion: wireup/v1
kind: PlanScenario
metadata:
  name: bad-cap
spec:
  resources:
    - ifaceCaps: [not_a_real_capability]
  remotes:
    - {}
`
	s, err := New(nil).Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, _, _, _, err := Build(s); err == nil {
		t.Error("expected Build to reject an unknown capability name")
	}
}

func TestBuildRejectsUnknownInitFlag(t *testing.T) {
	t.Parallel()

	yaml := `
apiVersion: wireup/v1
kind: PlanScenario
metadata:
  name: bad-flag
spec:
  initFlags: [NOT_A_FLAG]
  resources:
    - {}
  remotes:
    - {}
`
	s, err := New(nil).Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, _, _, _, err := Build(s); err == nil {
		t.Error("expected Build to reject an unknown init flag")
	}
}
