// Package stub provides a deterministic in-memory sitedriver.Driver used by
// worker tests and wired by cmd/registryctl as the driver of every worker
// command, process-queue included.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackzampolin/registryctl/internal/sitedriver"
)

// Outcome lets a test pre-program the result for a given job kind.
type Outcome struct {
	Result  sitedriver.ExecuteResult
	Err     error
	Calls   int
	Login   sitedriver.LoginResult
	LoginOK bool
}

// Driver is a sitedriver.Driver whose responses are configured per job kind
// ahead of time, so tests can assert the worker loop's reaction to each
// classified failure without a real browser.
type Driver struct {
	mu          sync.Mutex
	name        string
	byKind      map[string]*Outcome
	fallback    sitedriver.ExecuteResult
	loginResult sitedriver.LoginResult
	loginSet    bool
}

// New returns a stub driver named name. Use SetOutcome to program responses
// per job kind; unconfigured kinds return fallback (defaults to success with
// a small placeholder PDF artifact).
func New(name string) *Driver {
	return &Driver{
		name:   name,
		byKind: make(map[string]*Outcome),
		fallback: sitedriver.ExecuteResult{
			Artifact: &sitedriver.Artifact{Bytes: []byte("%PDF-stub"), Filename: "stub.pdf", MimeType: "application/pdf"},
		},
	}
}

// SetOutcome programs the Execute response for a job kind.
func (d *Driver) SetOutcome(kind string, outcome Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := outcome
	d.byKind[kind] = &o
}

// SetLoginResult programs the Login response used for every call.
func (d *Driver) SetLoginResult(result sitedriver.LoginResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loginResult = result
	d.loginSet = true
}

func (d *Driver) Name() string { return d.name }

func (d *Driver) Login(_ context.Context, _ sitedriver.Session, _ sitedriver.LoginCredential) (sitedriver.LoginResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loginSet {
		return d.loginResult, nil
	}
	return sitedriver.LoginResult{Kind: sitedriver.FailureNone}, nil
}

func (d *Driver) Execute(_ context.Context, _ sitedriver.Session, job sitedriver.JobRequest) (sitedriver.ExecuteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.byKind[job.Kind]
	if !ok {
		return d.fallback, nil
	}
	o.Calls++
	if o.Err != nil {
		return sitedriver.ExecuteResult{}, fmt.Errorf("stub driver: %w", o.Err)
	}
	return o.Result, nil
}

// OpenSession returns a no-op session handle; the stub has nothing to track.
func (d *Driver) OpenSession(context.Context) (sitedriver.Session, error) {
	return struct{}{}, nil
}
