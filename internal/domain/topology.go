package domain

import (
	"github.com/bcnelson/splunk-eam/internal/validation"
)

// TopologyKind names the tagged variants of Topology.
type TopologyKind string

const (
	KindStandalone       TopologyKind = "standalone"
	KindDistributedNoSHC TopologyKind = "distributed"
	KindDistributedSHC   TopologyKind = "distributed_shc"
)

// Topology is the structural shape of a stack. Each variant can only be
// built with the fields its kind requires.
type Topology interface {
	Kind() TopologyKind
	// Hosts returns the named role hosts of the topology.
	Hosts() []string
}

// Standalone is a single-instance deployment.
type Standalone struct{}

// DistributedNoSHC is an indexer cluster with independent search heads.
type DistributedNoSHC struct {
	ClusterManager string
}

// DistributedSHC is an indexer cluster fronted by a search head cluster.
type DistributedSHC struct {
	ClusterManager string
	Deployer       string
	Members        []string
}

func (Standalone) Kind() TopologyKind       { return KindStandalone }
func (Standalone) Hosts() []string          { return nil }
func (DistributedNoSHC) Kind() TopologyKind { return KindDistributedNoSHC }
func (t DistributedNoSHC) Hosts() []string  { return []string{t.ClusterManager} }
func (DistributedSHC) Kind() TopologyKind   { return KindDistributedSHC }
func (t DistributedSHC) Hosts() []string {
	hosts := []string{t.ClusterManager, t.Deployer}
	return append(hosts, t.Members...)
}

// ClusterManagerOf returns the cluster manager host of a distributed topology.
func ClusterManagerOf(t Topology) (string, bool) {
	switch v := t.(type) {
	case DistributedNoSHC:
		return v.ClusterManager, true
	case DistributedSHC:
		return v.ClusterManager, true
	}
	return "", false
}

// ParseTopology builds the topology variant described by a create request.
// Role fields that the variant does not use are dropped: shc_cluster only has
// meaning for distributed stacks, and the SHC roles only with shc_cluster set.
func ParseTopology(req *CreateStackRequest) (Topology, error) {
	var errs validation.ValidationErrors

	switch req.DeploymentType {
	case DeploymentStandalone:
		return Standalone{}, nil

	case DeploymentDistributed:
		if req.ClusterManagerNode == "" {
			errs.Add("cluster_manager_node", "", "required for distributed stacks")
		} else {
			errs.Check("cluster_manager_node", req.ClusterManagerNode, validation.ValidateHostName(req.ClusterManagerNode))
		}
		if !req.SHCCluster {
			if errs.HasErrors() {
				return nil, errs
			}
			return DistributedNoSHC{ClusterManager: req.ClusterManagerNode}, nil
		}
		if req.SHCDeployerNode == "" {
			errs.Add("shc_deployer_node", "", "required when shc_cluster is true")
		} else {
			errs.Check("shc_deployer_node", req.SHCDeployerNode, validation.ValidateHostName(req.SHCDeployerNode))
		}
		if len(req.SHCMembers) == 0 {
			errs.Add("shc_members", "", "at least one member is required when shc_cluster is true")
		}
		seen := make(map[string]bool, len(req.SHCMembers))
		for _, m := range req.SHCMembers {
			errs.Check("shc_members", m, validation.ValidateHostName(m))
			if seen[m] {
				errs.Add("shc_members", m, "duplicate member")
			}
			seen[m] = true
		}
		if errs.HasErrors() {
			return nil, errs
		}
		return DistributedSHC{
			ClusterManager: req.ClusterManagerNode,
			Deployer:       req.SHCDeployerNode,
			Members:        append([]string(nil), req.SHCMembers...),
		}, nil
	}

	errs.Add("deployment_type", string(req.DeploymentType), "must be one of: standalone, distributed")
	return nil, errs
}

// Topology returns the tagged variant of a stored stack.
func (s *Stack) Topology() Topology {
	switch {
	case s.DeploymentType == DeploymentDistributed && s.SHCCluster:
		return DistributedSHC{
			ClusterManager: s.ClusterManagerNode,
			Deployer:       s.SHCDeployerNode,
			Members:        append([]string(nil), s.SHCMembers...),
		}
	case s.DeploymentType == DeploymentDistributed:
		return DistributedNoSHC{ClusterManager: s.ClusterManagerNode}
	default:
		return Standalone{}
	}
}

// applyTopology writes the variant's role fields onto the stack.
func (s *Stack) applyTopology(t Topology) {
	s.ClusterManagerNode, s.SHCDeployerNode, s.SHCMembers = "", "", nil
	s.SHCCluster = false
	switch v := t.(type) {
	case Standalone:
		s.DeploymentType = DeploymentStandalone
	case DistributedNoSHC:
		s.DeploymentType = DeploymentDistributed
		s.ClusterManagerNode = v.ClusterManager
	case DistributedSHC:
		s.DeploymentType = DeploymentDistributed
		s.SHCCluster = true
		s.ClusterManagerNode = v.ClusterManager
		s.SHCDeployerNode = v.Deployer
		s.SHCMembers = append([]string(nil), v.Members...)
	}
}

// NewStack validates a create request and builds the stack it describes with
// defaults filled in.
func NewStack(req *CreateStackRequest, defaults StackDefaults) (*Stack, error) {
	var errs validation.ValidationErrors
	errs.Check("stack_id", req.StackID, validation.ValidateStackID(req.StackID))

	topo, err := ParseTopology(req)
	if err != nil {
		if verrs, ok := err.(validation.ValidationErrors); ok {
			errs = append(errs, verrs...)
		}
	}

	s := &Stack{
		ID:          req.StackID,
		SplunkHome:  firstNonEmpty(req.SplunkHome, defaults.SplunkHome),
		SplunkdPort: req.SplunkdPort,
		SplunkUser:  firstNonEmpty(req.SplunkUser, defaults.SplunkUser),
		SplunkGroup: firstNonEmpty(req.SplunkGroup, defaults.SplunkGroup),
		Indexes:     []Index{},
		Apps:        []App{},
	}
	if s.SplunkdPort == 0 {
		s.SplunkdPort = defaults.SplunkdPort
	}
	errs.Check("splunk_home", s.SplunkHome, validation.ValidateAbsolutePath(s.SplunkHome))
	errs.Check("splunkd_port", "", validation.ValidatePort(s.SplunkdPort))
	errs.Check("splunk_user", s.SplunkUser, validation.ValidatePosixName(s.SplunkUser))
	errs.Check("splunk_group", s.SplunkGroup, validation.ValidatePosixName(s.SplunkGroup))

	if errs.HasErrors() {
		return nil, errs
	}
	s.applyTopology(topo)
	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
