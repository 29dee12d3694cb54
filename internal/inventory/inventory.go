// Package inventory converts stack inventories between their JSON model and
// the Ansible INI format.
package inventory

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// DefaultGroup receives hosts listed before any [group] header.
const DefaultGroup = "all"

// RenderINI writes inv as an Ansible INI inventory. Groups, hosts and
// variables are emitted in sorted order so the output is stable.
func RenderINI(w io.Writer, inv domain.Inventory) error {
	bw := bufio.NewWriter(w)
	for i, group := range inv.Groups() {
		if i > 0 {
			bw.WriteString("\n")
		}
		fmt.Fprintf(bw, "[%s]\n", group)
		hosts := inv[group].Hosts
		for _, host := range slices.Sorted(maps.Keys(hosts)) {
			bw.WriteString(host)
			vars := hosts[host]
			for _, k := range slices.Sorted(maps.Keys(vars)) {
				fmt.Fprintf(bw, " %s=%s", k, quote(vars[k]))
			}
			bw.WriteString("\n")
		}
	}
	return bw.Flush()
}

// quote leaves plain values bare and double-quotes everything else,
// escaping backslashes and quotes, so ParseINI reads back the same value.
func quote(v string) string {
	if v != "" && strings.IndexFunc(v, needsQuote) < 0 {
		return v
	}
	return `"` + quoteEscaper.Replace(v) + `"`
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:,@+%=", r):
		return false
	}
	return true
}

// ParseINI reads an Ansible INI inventory. Blank lines and lines starting
// with '#' or ';' are skipped; "host k=v ..." lines add a host to the current
// group. The "all" group always exists in the result.
func ParseINI(r io.Reader) (domain.Inventory, error) {
	inv := domain.Inventory{DefaultGroup: {Hosts: map[string]domain.HostVars{}}}
	current := DefaultGroup

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = line[1 : len(line)-1]
			if _, ok := inv[current]; !ok {
				inv[current] = domain.InventoryGroup{Hosts: map[string]domain.HostVars{}}
			}
			continue
		}

		fields, err := splitFields(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(fields) == 0 || fields[0] == "" {
			return nil, fmt.Errorf("line %d: missing host name", lineNo)
		}
		host := fields[0]
		vars := domain.HostVars{}
		for _, f := range fields[1:] {
			k, v, ok := strings.Cut(f, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("line %d: variable %q is not key=value", lineNo, f)
			}
			vars[k] = v
		}
		inv[current].Hosts[host] = vars
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return inv, nil
}

// splitFields splits a host line with shell quoting rules, which is how
// Ansible tokenizes INI host lines.
func splitFields(line string) ([]string, error) {
	p := shellwords.NewParser()
	fields, err := p.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("tokenizing host line: %w", err)
	}
	if p.Position >= 0 {
		return nil, fmt.Errorf("unquoted %q at column %d", line[p.Position], p.Position+1)
	}
	return fields, nil
}
