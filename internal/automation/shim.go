package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// FileShim is a Backend that runs nothing. It appends each request (with
// secrets masked) as a JSON line to a file and reports success for every
// targeted host unless a failure was injected. Used for development and
// tests.
type FileShim struct {
	filePath string
	logger   *zap.Logger

	mu        sync.Mutex
	runs      []RunRecord
	failOps   map[domain.Operation]string
	failHosts map[string]string
	delay     time.Duration
}

var _ Backend = (*FileShim)(nil)

// RunRecord is what the shim records per run.
type RunRecord struct {
	Operation domain.Operation `json:"operation"`
	StackID   string           `json:"stack_id"`
	Hosts     []string         `json:"hosts"`
	Vars      map[string]any   `json:"vars"`
	At        time.Time        `json:"at"`
}

// NewFileShim creates a shim. An empty filePath keeps records in memory only.
func NewFileShim(filePath string, logger *zap.Logger) *FileShim {
	return &FileShim{
		filePath:  filePath,
		logger:    logger,
		failOps:   map[domain.Operation]string{},
		failHosts: map[string]string{},
	}
}

// FailOperation makes every run of op fail as a whole with reason.
func (f *FileShim) FailOperation(op domain.Operation, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps[op] = reason
}

// FailHost makes host report failure with reason in every run.
func (f *FileShim) FailHost(host, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failHosts[host] = reason
}

// SetDelay makes each run take d, or until its context ends.
func (f *FileShim) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Runs returns the recorded runs.
func (f *FileShim) Runs() []RunRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunRecord(nil), f.runs...)
}

// Run records req and reports per-host success.
func (f *FileShim) Run(ctx context.Context, req *Request) (*Result, error) {
	f.mu.Lock()
	delay := f.delay
	opFailure, failOp := f.failOps[req.Operation]
	hostFailures := make(map[string]string, len(f.failHosts))
	for h, reason := range f.failHosts {
		hostFailures[h] = reason
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}

	hosts := req.Hosts()
	rec := RunRecord{
		Operation: req.Operation,
		StackID:   req.StackID,
		Hosts:     hosts,
		Vars:      RedactVars(req.Vars),
		At:        time.Now().UTC(),
	}
	if err := f.record(rec); err != nil {
		return nil, err
	}

	if failOp {
		return nil, fmt.Errorf("%s: %s", req.Operation, opFailure)
	}

	res := &Result{Hosts: make([]domain.HostResult, 0, len(hosts))}
	for _, h := range hosts {
		if reason, bad := hostFailures[h]; bad {
			res.Hosts = append(res.Hosts, domain.HostResult{Host: h, Success: false, Output: reason})
			continue
		}
		res.Hosts = append(res.Hosts, domain.HostResult{Host: h, Success: true, Output: "shim: ok"})
	}
	return res, nil
}

func (f *FileShim) record(rec RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, rec)

	if f.filePath == "" {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}
	file, err := os.OpenFile(f.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening shim file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing shim file: %w", err)
	}
	f.logger.Debug("shim run recorded",
		zap.String("stack_id", rec.StackID),
		zap.String("operation", string(rec.Operation)),
		zap.String("file", f.filePath))
	return nil
}
