// Package automation runs playbooks against a stack's hosts.
package automation

import (
	"context"
	"strings"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// Backend executes one automation operation. A returned error means the run
// failed as a whole (backend unreachable, bad credentials, unparsable
// output); otherwise Result lists one entry per targeted host. Operations
// must be safe to re-run.
type Backend interface {
	Run(ctx context.Context, req *Request) (*Result, error)
}

// Request describes one automation run.
type Request struct {
	Operation domain.Operation
	StackID   string
	Inventory domain.Inventory
	SSHKey    []byte
	// Targets limits the run to these hosts. Empty means every inventory host.
	Targets []string
	Vars    map[string]any
}

// Hosts returns the hosts the run applies to.
func (r *Request) Hosts() []string {
	if len(r.Targets) > 0 {
		return r.Targets
	}
	return r.Inventory.Hosts()
}

// Result is the per-host outcome of a run.
type Result struct {
	Hosts []domain.HostResult
}

// Succeeded reports whether every host succeeded. An empty host list is a
// failure: nothing was verified.
func (r *Result) Succeeded() bool {
	if r == nil || len(r.Hosts) == 0 {
		return false
	}
	for _, h := range r.Hosts {
		if !h.Success {
			return false
		}
	}
	return true
}

// FailedHosts returns the names of the hosts that failed.
func (r *Result) FailedHosts() []string {
	var failed []string
	for _, h := range r.Hosts {
		if !h.Success {
			failed = append(failed, h.Host)
		}
	}
	return failed
}

// secretVar reports whether a variable must be masked in logs and records.
func secretVar(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "password") || strings.Contains(n, "secret") || strings.Contains(n, "token")
}

// RedactVars returns a copy of vars with secret values masked.
func RedactVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if secretVar(k) {
			out[k] = "********"
			continue
		}
		out[k] = v
	}
	return out
}
