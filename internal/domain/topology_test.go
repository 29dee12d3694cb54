package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/bcnelson/splunk-eam/internal/validation"
)

func TestParseTopology(t *testing.T) {
	tests := []struct {
		name     string
		req      CreateStackRequest
		wantKind TopologyKind
		wantErr  string
	}{
		{
			name:     "standalone",
			req:      CreateStackRequest{DeploymentType: DeploymentStandalone},
			wantKind: KindStandalone,
		},
		{
			name: "standalone ignores role fields",
			req: CreateStackRequest{
				DeploymentType:  DeploymentStandalone,
				SHCCluster:      true,
				SHCDeployerNode: "deployer",
			},
			wantKind: KindStandalone,
		},
		{
			name:    "distributed without cluster manager",
			req:     CreateStackRequest{DeploymentType: DeploymentDistributed},
			wantErr: "cluster_manager_node",
		},
		{
			name:     "distributed",
			req:      CreateStackRequest{DeploymentType: DeploymentDistributed, ClusterManagerNode: "cm1"},
			wantKind: KindDistributedNoSHC,
		},
		{
			name: "shc without deployer",
			req: CreateStackRequest{
				DeploymentType:     DeploymentDistributed,
				ClusterManagerNode: "cm1",
				SHCCluster:         true,
				SHCMembers:         []string{"sh1"},
			},
			wantErr: "shc_deployer_node",
		},
		{
			name: "shc with empty members",
			req: CreateStackRequest{
				DeploymentType:     DeploymentDistributed,
				ClusterManagerNode: "cm1",
				SHCCluster:         true,
				SHCDeployerNode:    "dep1",
			},
			wantErr: "shc_members",
		},
		{
			name: "shc with duplicate members",
			req: CreateStackRequest{
				DeploymentType:     DeploymentDistributed,
				ClusterManagerNode: "cm1",
				SHCCluster:         true,
				SHCDeployerNode:    "dep1",
				SHCMembers:         []string{"sh1", "sh1"},
			},
			wantErr: "shc_members",
		},
		{
			name: "shc",
			req: CreateStackRequest{
				DeploymentType:     DeploymentDistributed,
				ClusterManagerNode: "cm1",
				SHCCluster:         true,
				SHCDeployerNode:    "dep1",
				SHCMembers:         []string{"sh1", "sh2", "sh3"},
			},
			wantKind: KindDistributedSHC,
		},
		{
			name:    "unknown deployment type",
			req:     CreateStackRequest{DeploymentType: "clustered"},
			wantErr: "deployment_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := ParseTopology(&tt.req)
			if tt.wantErr != "" {
				var verrs validation.ValidationErrors
				if !errors.As(err, &verrs) {
					t.Fatalf("expected ValidationErrors, got %v", err)
				}
				found := false
				for _, e := range verrs {
					if e.Field == tt.wantErr {
						found = true
					}
				}
				if !found {
					t.Errorf("expected error on field %q, got %v", tt.wantErr, verrs)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if topo.Kind() != tt.wantKind {
				t.Errorf("Kind() = %s, want %s", topo.Kind(), tt.wantKind)
			}
		})
	}
}

func TestNewStackDefaults(t *testing.T) {
	s, err := NewStack(&CreateStackRequest{StackID: "s1", DeploymentType: DeploymentStandalone}, DefaultStackDefaults())
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	if s.SplunkdPort != 8089 || s.SplunkHome != "/opt/splunk" || s.SplunkUser != "splunk" || s.SplunkGroup != "splunk" {
		t.Errorf("defaults not applied: %+v", s)
	}
	if s.Indexes == nil || s.Apps == nil {
		t.Error("indexes and apps should be empty, not nil")
	}
}

func TestNewStackRoundTripsTopology(t *testing.T) {
	req := &CreateStackRequest{
		StackID:            "prod",
		DeploymentType:     DeploymentDistributed,
		ClusterManagerNode: "cm1",
		SHCCluster:         true,
		SHCDeployerNode:    "dep1",
		SHCMembers:         []string{"sh1", "sh2"},
		SplunkdPort:        9089,
	}
	s, err := NewStack(req, DefaultStackDefaults())
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	if s.SplunkdPort != 9089 {
		t.Errorf("SplunkdPort = %d, want override 9089", s.SplunkdPort)
	}
	topo, ok := s.Topology().(DistributedSHC)
	if !ok {
		t.Fatalf("Topology() = %T, want DistributedSHC", s.Topology())
	}
	if topo.Deployer != "dep1" || len(topo.Members) != 2 {
		t.Errorf("unexpected topology %+v", topo)
	}
	if cm, ok := ClusterManagerOf(topo); !ok || cm != "cm1" {
		t.Errorf("ClusterManagerOf() = %q, %v", cm, ok)
	}
}

func TestNewStackRejectsInvalidFields(t *testing.T) {
	req := &CreateStackRequest{
		StackID:        "bad/id",
		DeploymentType: DeploymentStandalone,
		SplunkHome:     "relative/path",
		SplunkdPort:    70000,
	}
	_, err := NewStack(req, DefaultStackDefaults())
	var verrs validation.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verrs), verrs)
	}
}

func TestCreateStackRequestAlias(t *testing.T) {
	var req CreateStackRequest
	if err := json.Unmarshal([]byte(`{"stack_id":"s1","enterprise_deployment_type":"distributed","cluster_manager_node":"cm"}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.DeploymentType != DeploymentDistributed || req.StackID != "s1" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestEncodeDecodeStackKeepsSecrets(t *testing.T) {
	s, _ := NewStack(&CreateStackRequest{StackID: "s1", DeploymentType: DeploymentStandalone}, DefaultStackDefaults())
	s.SSHKey = []byte("secret-key")
	s.Inventory = Inventory{"all": {Hosts: map[string]HostVars{"h1": {"ansible_user": "root"}}}}

	view, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	_ = json.Unmarshal(view, &m)
	if _, ok := m["ssh_key"]; ok {
		t.Error("ssh_key must not appear in the JSON view")
	}
	if _, ok := m["inventory"]; ok {
		t.Error("inventory must not appear in the JSON view")
	}

	data, err := EncodeStack(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeStack(data)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.SSHKey) != "secret-key" {
		t.Errorf("SSHKey = %q", got.SSHKey)
	}
	if got.Inventory["all"].Hosts["h1"]["ansible_user"] != "root" {
		t.Errorf("inventory not persisted: %+v", got.Inventory)
	}
}
