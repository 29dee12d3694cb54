package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// DeploymentType is the topology family of a stack.
type DeploymentType string

const (
	DeploymentStandalone  DeploymentType = "standalone"
	DeploymentDistributed DeploymentType = "distributed"
)

// Default stack configuration values.
const (
	DefaultSplunkHome  = "/opt/splunk"
	DefaultSplunkdPort = 8089
	DefaultSplunkUser  = "splunk"
	DefaultSplunkGroup = "splunk"
)

// StackDefaults holds the configuration defaults applied to new stacks.
type StackDefaults struct {
	SplunkHome  string
	SplunkdPort int
	SplunkUser  string
	SplunkGroup string
}

// DefaultStackDefaults returns the built-in stack defaults.
func DefaultStackDefaults() StackDefaults {
	return StackDefaults{
		SplunkHome:  DefaultSplunkHome,
		SplunkdPort: DefaultSplunkdPort,
		SplunkUser:  DefaultSplunkUser,
		SplunkGroup: DefaultSplunkGroup,
	}
}

// Stack represents a registered Splunk topology managed as one unit.
// The ssh key and the inventory are stored with the stack but are never part
// of its JSON view; use EncodeStack for persistence.
type Stack struct {
	ID                 string         `json:"stack_id"`
	DeploymentType     DeploymentType `json:"deployment_type"`
	SHCCluster         bool           `json:"shc_cluster"`
	ClusterManagerNode string         `json:"cluster_manager_node,omitempty"`
	SHCDeployerNode    string         `json:"shc_deployer_node,omitempty"`
	SHCMembers         []string       `json:"shc_members,omitempty"`
	SplunkHome         string         `json:"splunk_home"`
	SplunkdPort        int            `json:"splunkd_port"`
	SplunkUser         string         `json:"splunk_user"`
	SplunkGroup        string         `json:"splunk_group"`
	Indexes            []Index        `json:"indexes"`
	Apps               []App          `json:"apps"`
	HasInventory       bool           `json:"has_inventory"`
	HasSSHKey          bool           `json:"has_ssh_key"`
	Version            int64          `json:"version"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`

	Inventory Inventory `json:"-"`
	SSHKey    []byte    `json:"-"`
}

// CreateStackRequest is the request body for registering a stack.
// The Splunk configuration fields are optional and default per StackDefaults.
type CreateStackRequest struct {
	StackID            string         `json:"stack_id"`
	DeploymentType     DeploymentType `json:"deployment_type"`
	SHCCluster         bool           `json:"shc_cluster"`
	ClusterManagerNode string         `json:"cluster_manager_node,omitempty"`
	SHCDeployerNode    string         `json:"shc_deployer_node,omitempty"`
	SHCMembers         []string       `json:"shc_members,omitempty"`
	SplunkHome         string         `json:"splunk_home,omitempty"`
	SplunkdPort        int            `json:"splunkd_port,omitempty"`
	SplunkUser         string         `json:"splunk_user,omitempty"`
	SplunkGroup        string         `json:"splunk_group,omitempty"`
}

// UnmarshalJSON accepts the original "enterprise_deployment_type" field name
// as an alias for deployment_type.
func (r *CreateStackRequest) UnmarshalJSON(data []byte) error {
	type plain CreateStackRequest
	aux := struct {
		*plain
		EnterpriseDeploymentType DeploymentType `json:"enterprise_deployment_type"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.DeploymentType == "" {
		r.DeploymentType = aux.EnterpriseDeploymentType
	}
	return nil
}

// SetSSHKeyRequest is the request body for attaching an ssh private key.
type SetSSHKeyRequest struct {
	SSHKeyB64 string `json:"ssh_key_b64"`
}

// Redacted returns a copy safe for read responses.
func (s *Stack) Redacted() *Stack {
	c := s.Clone()
	c.SSHKey = nil
	c.Inventory = nil
	return c
}

// Clone returns a deep copy of the stack.
func (s *Stack) Clone() *Stack {
	c := *s
	c.SHCMembers = slices.Clone(s.SHCMembers)
	c.Indexes = slices.Clone(s.Indexes)
	c.Apps = slices.Clone(s.Apps)
	c.SSHKey = slices.Clone(s.SSHKey)
	c.Inventory = s.Inventory.Clone()
	return &c
}

// FindIndex returns the position of the named index, or -1.
func (s *Stack) FindIndex(name string) int {
	for i := range s.Indexes {
		if s.Indexes[i].Name == name {
			return i
		}
	}
	return -1
}

// FindApp returns the position of the named app, or -1.
func (s *Stack) FindApp(name string) int {
	for i := range s.Apps {
		if s.Apps[i].Name == name {
			return i
		}
	}
	return -1
}

// stackRecord is the persisted form of a Stack.
type stackRecord struct {
	*stackAlias
	Inventory Inventory `json:"inventory,omitempty"`
	SSHKey    []byte    `json:"ssh_key,omitempty"`
}

type stackAlias Stack

// EncodeStack serializes the complete stack record, secrets included, for storage.
func EncodeStack(s *Stack) ([]byte, error) {
	return json.Marshal(stackRecord{
		stackAlias: (*stackAlias)(s),
		Inventory:  s.Inventory,
		SSHKey:     s.SSHKey,
	})
}

// DecodeStack parses a record produced by EncodeStack.
func DecodeStack(data []byte) (*Stack, error) {
	var s Stack
	rec := stackRecord{stackAlias: (*stackAlias)(&s)}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	s.Inventory = rec.Inventory
	s.SSHKey = rec.SSHKey
	return &s, nil
}
