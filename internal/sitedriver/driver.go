// Package sitedriver defines the capability contract the unified worker
// requires from a registry-specific automation driver. It is an interface
// only: no concrete land-registry/business-registry/personal-rights
// implementation lives in this module, matching the Non-goal that excludes
// per-site navigation scripts.
//
// Grounded on providers.LLMClient/OCRProvider's narrow capability-interface
// style (Name/Chat/ProcessImage rather than a god object).
package sitedriver

import "context"

// FailureKind is the closed set of ways a driver call can fail. The worker
// loop maps each kind to a retry decision; new values must not be added
// without updating that mapping.
type FailureKind int

const (
	// FailureNone indicates no failure occurred.
	FailureNone FailureKind = iota
	// FailureLoginFailed means the credential was rejected. Terminal.
	FailureLoginFailed
	// FailureAccountLocked means the registry locked the account. Terminal,
	// and increments the credential's failure counter.
	FailureAccountLocked
	// FailureInfrastructure means a driver-side infrastructure problem
	// (browser crash, navigation timeout). Retriable.
	FailureInfrastructure
	// FailureTransient means a retriable error executing the job itself.
	FailureTransient
	// FailureNotFound means the registry has no record matching the job
	// parameters. Terminal.
	FailureNotFound
	// FailurePermanent means a non-retriable error distinct from not-found.
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureLoginFailed:
		return "login_failed"
	case FailureAccountLocked:
		return "account_locked"
	case FailureInfrastructure:
		return "infrastructure"
	case FailureTransient:
		return "transient"
	case FailureNotFound:
		return "not_found"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Retriable reports whether the worker should return the job to pending
// (attempts++) rather than marking it terminally failed.
func (k FailureKind) Retriable() bool {
	return k == FailureInfrastructure || k == FailureTransient
}

// LoginCredential is the subset of accountpool.Credential a driver needs to
// authenticate; kept separate so sitedriver has no import dependency on
// accountpool.
type LoginCredential struct {
	Username       string
	Secret         string
	SecurityAnswer string
}

// JobRequest is the job-specific parameters a driver needs to execute one
// unit of work. Kind-specific parameters travel in Params.
type JobRequest struct {
	Kind   string
	Params map[string]string
}

// Artifact is the result of a successful Execute call.
type Artifact struct {
	Bytes    []byte
	Filename string
	MimeType string
}

// LoginResult reports the outcome of a Login call.
type LoginResult struct {
	Kind FailureKind
}

// ExecuteResult reports the outcome of an Execute call: either an Artifact
// or a classified failure, never both.
type ExecuteResult struct {
	Artifact *Artifact
	Kind     FailureKind
	Message  string
}

// Session is an opaque, driver-owned handle to a live browser session. The
// worker passes it through unexamined between Login and Execute.
type Session any

// Driver is the capability contract a registry-specific automation
// implementation must satisfy. A second Execute call with the same
// JobRequest against a fresh Session must produce the same artifact or the
// same classified failure.
type Driver interface {
	// Name identifies the driver for logging and routing.
	Name() string
	// Login authenticates session against credential.
	Login(ctx context.Context, session Session, credential LoginCredential) (LoginResult, error)
	// Execute runs one job against an authenticated session.
	Execute(ctx context.Context, session Session, job JobRequest) (ExecuteResult, error)
}
