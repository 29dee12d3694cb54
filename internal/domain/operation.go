package domain

import "time"

// Operation names an automation-backed action. The value doubles as the
// playbook name the automation backend runs.
type Operation string

const (
	OpAnsibleTest           Operation = "ansible_test"
	OpRestartSplunk         Operation = "restart_splunk"
	OpClusterRollingRestart Operation = "cluster_rolling_restart"
	OpSHCRollingRestart     Operation = "shc_rolling_restart"
	OpApplyClusterBundle    Operation = "apply_cluster_bundle"
	OpApplySHCBundle        Operation = "apply_shc_bundle"
	OpSHCSetHTTPMaxContent  Operation = "shc_set_http_max_content"
	OpCreateIndex           Operation = "create_index"
	OpRemoveIndex           Operation = "remove_index"
	OpInstallApp            Operation = "install_app"
	OpRemoveApp             Operation = "remove_app"
)

// namedOperations are the operations callable through POST /stacks/{id}/{operation}.
var namedOperations = map[Operation]struct{}{
	OpAnsibleTest:           {},
	OpRestartSplunk:         {},
	OpClusterRollingRestart: {},
	OpSHCRollingRestart:     {},
	OpApplyClusterBundle:    {},
	OpApplySHCBundle:        {},
	OpSHCSetHTTPMaxContent:  {},
}

// ParseNamedOperation resolves a path segment to a named operation.
func ParseNamedOperation(s string) (Operation, bool) {
	op := Operation(s)
	_, ok := namedOperations[op]
	return op, ok
}

// NeedsSplunkCredentials reports whether the operation talks to splunkd.
func (o Operation) NeedsSplunkCredentials() bool {
	return o != OpAnsibleTest
}

// SplunkCredentials authenticate against splunkd on the target hosts.
// They come with each request and are never persisted or logged.
type SplunkCredentials struct {
	Username string `json:"splunk_username"`
	Password string `json:"splunk_password"`
}

// BundleOptions control the bundle-apply side effect of index and app
// changes. Both flags default to true when omitted.
type BundleOptions struct {
	ApplyClusterBundle *bool `json:"apply_cluster_bundle,omitempty"`
	ApplySHCBundle     *bool `json:"apply_shc_bundle,omitempty"`
}

// ClusterBundle reports whether a cluster bundle apply is wanted.
func (o BundleOptions) ClusterBundle() bool {
	return o.ApplyClusterBundle == nil || *o.ApplyClusterBundle
}

// SHCBundle reports whether an SHC bundle apply is wanted.
func (o BundleOptions) SHCBundle() bool {
	return o.ApplySHCBundle == nil || *o.ApplySHCBundle
}

// OperationRequest is the request body for a named operation.
type OperationRequest struct {
	SplunkCredentials
	Limit                string `json:"limit,omitempty"`
	HTTPMaxContentLength int64  `json:"http_max_content_length,omitempty"`
}

// HostResult is the outcome of an automation run on one host.
type HostResult struct {
	Host    string `json:"host"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
}

// Status summarizes a response.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// OperationResult records one automation run.
type OperationResult struct {
	Operation  Operation    `json:"operation"`
	Success    bool         `json:"success"`
	Error      string       `json:"error,omitempty"`
	Hosts      []HostResult `json:"hosts"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// OperationResponse is returned by single dispatched calls: a named
// operation, or an index/app change followed by its bundle applies.
type OperationResponse struct {
	StackID    string            `json:"stack_id"`
	Status     Status            `json:"status"`
	Item       any               `json:"item,omitempty"`
	Operations []OperationResult `json:"operations"`
}

// RemoveItemRequest is the optional body of an index or app removal.
type RemoveItemRequest struct {
	SplunkCredentials
	SplunkbaseCredentials
	BundleOptions
}
