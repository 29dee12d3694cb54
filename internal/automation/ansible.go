package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/inventory"
)

// maxOutputBytes caps the output kept per host and in error messages.
const maxOutputBytes = 8 << 10

// AnsibleConfig configures the ansible-playbook runner.
type AnsibleConfig struct {
	// Bin is the ansible-playbook executable.
	Bin string
	// PlaybookDir holds one <operation>.yml playbook per operation.
	PlaybookDir string
	// ExtraArgs is appended to every invocation, split with shell rules.
	ExtraArgs string
	// Timeout bounds a single run. Zero means no limit beyond ctx.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous runs across all stacks.
	MaxConcurrent int64
}

// Ansible runs operations with ansible-playbook and the JSON stdout callback.
type Ansible struct {
	cfg       AnsibleConfig
	extraArgs []string
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

var _ Backend = (*Ansible)(nil)

// NewAnsible creates the runner.
func NewAnsible(cfg AnsibleConfig, logger *zap.Logger) (*Ansible, error) {
	extra, err := shellwords.Parse(cfg.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("parsing ansible extra args: %w", err)
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Ansible{
		cfg:       cfg,
		extraArgs: extra,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:    logger,
	}, nil
}

// Run writes the inventory, key and variables to a private temp dir and
// invokes the operation's playbook.
func (a *Ansible) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for an automation slot: %w", err)
	}
	defer a.sem.Release(1)

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	playbook := filepath.Join(a.cfg.PlaybookDir, string(req.Operation)+".yml")
	if _, err := os.Stat(playbook); err != nil {
		return nil, fmt.Errorf("playbook for %s: %w", req.Operation, err)
	}

	dir, err := os.MkdirTemp("", "eam-"+req.StackID+"-")
	if err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	args, err := a.prepare(dir, playbook, req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, a.cfg.Bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"ANSIBLE_STDOUT_CALLBACK=json",
		"ANSIBLE_HOST_KEY_CHECKING=False",
		"ANSIBLE_RETRY_FILES_ENABLED=False",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	a.logger.Info("running playbook",
		zap.String("stack_id", req.StackID),
		zap.String("operation", string(req.Operation)),
		zap.Strings("targets", req.Targets))

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s aborted after %s: %w", req.Operation, elapsed.Round(time.Second), context.Cause(ctx))
	}

	hosts, parseErr := parseCallbackOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("ansible-playbook failed: %w: %s", runErr, tail(stderr.String()))
		}
		return nil, fmt.Errorf("reading ansible-playbook output: %w", parseErr)
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("starting ansible-playbook: %w", runErr)
	}

	a.logger.Info("playbook finished",
		zap.String("stack_id", req.StackID),
		zap.String("operation", string(req.Operation)),
		zap.Duration("elapsed", elapsed),
		zap.Int("hosts", len(hosts)))

	return &Result{Hosts: hosts}, nil
}

// prepare writes the run inputs into dir and returns the command arguments.
func (a *Ansible) prepare(dir, playbook string, req *Request) ([]string, error) {
	invPath := filepath.Join(dir, "inventory.ini")
	f, err := os.OpenFile(invPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("writing inventory: %w", err)
	}
	if err := inventory.RenderINI(f, req.Inventory); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing inventory: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing inventory: %w", err)
	}

	keyPath := filepath.Join(dir, "id_key")
	key := req.SSHKey
	if len(key) > 0 && key[len(key)-1] != '\n' {
		key = append(slices.Clone(key), '\n')
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("writing ssh key: %w", err)
	}

	varsPath := filepath.Join(dir, "vars.yml")
	vars, err := yaml.Marshal(req.Vars)
	if err != nil {
		return nil, fmt.Errorf("encoding vars: %w", err)
	}
	if err := os.WriteFile(varsPath, vars, 0o600); err != nil {
		return nil, fmt.Errorf("writing vars: %w", err)
	}

	args := []string{
		playbook,
		"-i", invPath,
		"--private-key", keyPath,
		"-e", "@" + varsPath,
	}
	if len(req.Targets) > 0 {
		args = append(args, "--limit", strings.Join(req.Targets, ","))
	}
	return append(args, a.extraArgs...), nil
}

// callbackOutput is the subset of the ansible json stdout callback we read.
type callbackOutput struct {
	Plays []struct {
		Tasks []struct {
			Task struct {
				Name string `json:"name"`
			} `json:"task"`
			Hosts map[string]struct {
				Failed      bool   `json:"failed"`
				Unreachable bool   `json:"unreachable"`
				Msg         any    `json:"msg"`
				Stderr      string `json:"stderr"`
			} `json:"hosts"`
		} `json:"tasks"`
	} `json:"plays"`
	Stats map[string]struct {
		Ok          int `json:"ok"`
		Changed     int `json:"changed"`
		Failures    int `json:"failures"`
		Unreachable int `json:"unreachable"`
		Skipped     int `json:"skipped"`
	} `json:"stats"`
}

// parseCallbackOutput turns json callback output into per-host results.
// Hosts are taken from the play recap; failed task messages become the
// host's output.
func parseCallbackOutput(out []byte) ([]domain.HostResult, error) {
	// Warnings may precede the JSON document.
	start := bytes.IndexByte(out, '{')
	if start < 0 {
		return nil, errors.New("no JSON document in output")
	}
	var doc callbackOutput
	if err := json.Unmarshal(out[start:], &doc); err != nil {
		return nil, err
	}
	if doc.Stats == nil {
		return nil, errors.New("output has no play recap")
	}

	failures := map[string][]string{}
	for _, play := range doc.Plays {
		for _, task := range play.Tasks {
			for host, res := range task.Hosts {
				if !res.Failed && !res.Unreachable {
					continue
				}
				msg := fmt.Sprint(res.Msg)
				if res.Msg == nil {
					msg = res.Stderr
				}
				failures[host] = append(failures[host], task.Task.Name+": "+msg)
			}
		}
	}

	names := make([]string, 0, len(doc.Stats))
	for host := range doc.Stats {
		names = append(names, host)
	}
	slices.Sort(names)

	hosts := make([]domain.HostResult, 0, len(names))
	for _, host := range names {
		st := doc.Stats[host]
		ok := st.Failures == 0 && st.Unreachable == 0
		output := fmt.Sprintf("ok=%d changed=%d failed=%d unreachable=%d skipped=%d",
			st.Ok, st.Changed, st.Failures, st.Unreachable, st.Skipped)
		if msgs := failures[host]; len(msgs) > 0 {
			output += "\n" + strings.Join(msgs, "\n")
		}
		hosts = append(hosts, domain.HostResult{Host: host, Success: ok, Output: tail(output)})
	}
	return hosts, nil
}

// tail keeps the last maxOutputBytes of s, starting on a rune boundary.
func tail(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	cut := len(s) - maxOutputBytes
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
