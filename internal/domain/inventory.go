package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/bcnelson/splunk-eam/internal/validation"
)

// Inventory is an Ansible inventory keyed by group name.
type Inventory map[string]InventoryGroup

// InventoryGroup lists the hosts of one group and their variables.
type InventoryGroup struct {
	Hosts map[string]HostVars `json:"hosts"`
}

// HostVars are the per-host inventory variables. Scalar JSON values are
// accepted and kept in their string form.
type HostVars map[string]string

// UnmarshalJSON accepts string, number and boolean values.
func (v *HostVars) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(HostVars, len(raw))
	for k, msg := range raw {
		var val any
		if err := json.Unmarshal(msg, &val); err != nil {
			return err
		}
		switch t := val.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		case nil:
			out[k] = ""
		default:
			return fmt.Errorf("host variable %q must be a scalar", k)
		}
	}
	*v = out
	return nil
}

// Clone returns a deep copy of the inventory.
func (inv Inventory) Clone() Inventory {
	if inv == nil {
		return nil
	}
	out := make(Inventory, len(inv))
	for g, grp := range inv {
		hosts := make(map[string]HostVars, len(grp.Hosts))
		for h, vars := range grp.Hosts {
			hosts[h] = maps.Clone(vars)
		}
		out[g] = InventoryGroup{Hosts: hosts}
	}
	return out
}

// Groups returns the group names in sorted order.
func (inv Inventory) Groups() []string {
	return slices.Sorted(maps.Keys(inv))
}

// Hosts returns every distinct host across all groups, sorted.
func (inv Inventory) Hosts() []string {
	seen := map[string]struct{}{}
	for _, grp := range inv {
		for h := range grp.Hosts {
			seen[h] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// HasHost reports whether host appears in any group.
func (inv Inventory) HasHost(host string) bool {
	for _, grp := range inv {
		if _, ok := grp.Hosts[host]; ok {
			return true
		}
	}
	return false
}

// Validate checks group, host and variable names, and that variable values
// fit on one INI line.
func (inv Inventory) Validate() error {
	var errs validation.ValidationErrors
	if len(inv) == 0 {
		errs.Add("inventory", "", "must contain at least one group")
	}
	for _, g := range inv.Groups() {
		errs.Check("inventory", g, validation.ValidateGroupName(g))
		for h, vars := range inv[g].Hosts {
			errs.Check("inventory."+g, h, validation.ValidateHostName(h))
			for k, v := range vars {
				field := "inventory." + g + "." + h
				errs.Check(field, k, validation.ValidateHostVarName(k))
				errs.Check(field+"."+k, "", validation.ValidateHostVarValue(v))
			}
		}
	}
	return errs.Err()
}
