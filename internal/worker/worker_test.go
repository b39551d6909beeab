package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/registryctl/internal/accountpool"
	"github.com/jackzampolin/registryctl/internal/browsersession"
	"github.com/jackzampolin/registryctl/internal/environment"
	"github.com/jackzampolin/registryctl/internal/jobqueue"
	"github.com/jackzampolin/registryctl/internal/sitedriver"
	"github.com/jackzampolin/registryctl/internal/sitedriver/stub"
)

type recordingHeartbeat struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingHeartbeat) Publish(_ context.Context, _, status string, _ *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, status)
	return nil
}

func newTestManager() *browsersession.Manager {
	return browsersession.NewManager(
		func(context.Context) (sitedriver.Session, error) { return struct{}{}, nil },
		func(context.Context, sitedriver.Session) error { return nil },
		nil,
		nil,
	)
}

func newTestBinding(name string) (EnvironmentBinding, *jobqueue.MemStore, *accountpool.Pool) {
	store := jobqueue.NewMemStore()
	pool := accountpool.NewPool(name)
	pool.Add(&accountpool.Credential{ID: "cred-1", Username: "user", Secret: "pw", Active: true})
	return EnvironmentBinding{
		Name:        name,
		Store:       store,
		Credentials: pool,
		Storage:     environment.NewMemStorage(),
	}, store, pool
}

func runOneTick(t *testing.T, w *Worker, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = w.Run(ctx)
}

func TestWorkerCompletesSuccessfulJob(t *testing.T) {
	env, store, _ := newTestBinding("dev")
	ctx := context.Background()
	job := &jobqueue.Job{Environment: "dev", RegistryType: "personal-rights", DocumentRef: "doc-1", MaxAttempts: 3}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("personal-rights", stub.Outcome{
		Result: sitedriver.ExecuteResult{Artifact: &sitedriver.Artifact{Bytes: []byte("%PDF-1"), Filename: "doc-1.pdf", MimeType: "application/pdf"}},
	})

	hb := &recordingHeartbeat{}
	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), hb, nil, Config{PollInterval: 10 * time.Millisecond})

	runOneTick(t, w, 200*time.Millisecond)

	after, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != jobqueue.StatusExtractionComplete {
		t.Fatalf("expected job extraction-complete, got %v (last_error=%q)", after.Status, after.LastError)
	}
	if after.Metadata["artifact_path"] == "" {
		t.Fatalf("expected artifact_path recorded, got %+v", after.Metadata)
	}
	if len(hb.events) == 0 {
		t.Fatalf("expected at least one heartbeat publish")
	}
}

func TestWorkerRequeuesOnTransientFailure(t *testing.T) {
	env, store, _ := newTestBinding("dev")
	ctx := context.Background()
	job := &jobqueue.Job{Environment: "dev", RegistryType: "index", DocumentRef: "doc-1", MaxAttempts: 3}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("index", stub.Outcome{Result: sitedriver.ExecuteResult{Kind: sitedriver.FailureTransient, Message: "timeout"}})

	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{PollInterval: 10 * time.Millisecond})
	runOneTick(t, w, 200*time.Millisecond)

	after, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != jobqueue.StatusPending {
		t.Fatalf("expected job requeued to pending after transient failure, got %v", after.Status)
	}
	if after.Attempts != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", after.Attempts)
	}
}

func TestWorkerMarksIndexJobReadyForOCRInsteadOfCompleting(t *testing.T) {
	env, store, _ := newTestBinding("dev")
	ctx := context.Background()
	job := &jobqueue.Job{Environment: "dev", RegistryType: "index", DocumentRef: "doc-1", MaxAttempts: 3}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("index", stub.Outcome{
		Result: sitedriver.ExecuteResult{Artifact: &sitedriver.Artifact{Bytes: []byte("%PDF-1"), Filename: "doc-1.pdf", MimeType: "application/pdf"}},
	})

	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{PollInterval: 10 * time.Millisecond})
	runOneTick(t, w, 200*time.Millisecond)

	after, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != jobqueue.StatusExtractionComplete {
		t.Fatalf("expected job handed off to the OCR pool, got %v (last_error=%q)", after.Status, after.LastError)
	}
	if after.WorkerID != nil {
		t.Fatalf("expected worker released after OCR handoff, got %+v", after.WorkerID)
	}
	if after.Metadata["artifact_path"] == "" {
		t.Fatalf("expected artifact_path recorded before OCR handoff, got %+v", after.Metadata)
	}
}

func TestWorkerTerminatesJobOnNotFound(t *testing.T) {
	env, store, _ := newTestBinding("dev")
	ctx := context.Background()
	job := &jobqueue.Job{Environment: "dev", RegistryType: "personal-rights", DocumentRef: "doc-1", MaxAttempts: 3}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("personal-rights", stub.Outcome{Result: sitedriver.ExecuteResult{Kind: sitedriver.FailureNotFound}})

	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{PollInterval: 10 * time.Millisecond})
	runOneTick(t, w, 200*time.Millisecond)

	after, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != jobqueue.StatusError {
		t.Fatalf("expected job terminally failed on not-found, got %v", after.Status)
	}
}

// TestWorkerCompletesParentSessionOnceLastChildSearchGoesTerminal is S6: a
// personal-rights search finishing not-found, with one sibling search
// already completed, moves the parent session to completed because every
// child has now reached a terminal status.
func TestWorkerCompletesParentSessionOnceLastChildSearchGoesTerminal(t *testing.T) {
	env, store, _ := newTestBinding("dev")
	ctx := context.Background()

	session := &jobqueue.Session{Environment: "dev"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	completedSibling := &jobqueue.Job{Environment: "dev", RegistryType: "personal-rights", DocumentRef: "OTHER CORP", ParentSessionID: &session.ID}
	if err := store.Enqueue(ctx, completedSibling); err != nil {
		t.Fatalf("Enqueue sibling: %v", err)
	}
	claimedSibling, err := store.Claim(ctx, "other-worker", nil)
	if err != nil {
		t.Fatalf("Claim sibling: %v", err)
	}
	if err := store.Complete(ctx, claimedSibling.ID, "other-worker"); err != nil {
		t.Fatalf("Complete sibling: %v", err)
	}

	search := &jobqueue.Job{Environment: "dev", RegistryType: "personal-rights", DocumentRef: "ACME INC.", MaxAttempts: 3, ParentSessionID: &session.ID}
	if err := store.Enqueue(ctx, search); err != nil {
		t.Fatalf("Enqueue search: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("personal-rights", stub.Outcome{Result: sitedriver.ExecuteResult{Kind: sitedriver.FailureNotFound}})

	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{PollInterval: 10 * time.Millisecond})
	runOneTick(t, w, 200*time.Millisecond)

	after, err := store.Get(ctx, search.ID)
	if err != nil {
		t.Fatalf("Get search: %v", err)
	}
	if after.Status != jobqueue.StatusError {
		t.Fatalf("expected search row terminally not-found, got %v", after.Status)
	}

	gotSession, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if gotSession.Status != jobqueue.SessionCompleted {
		t.Fatalf("expected parent session completed once all children are terminal, got %v", gotSession.Status)
	}
}

func TestWorkerIncrementsCredentialFailuresOnAccountLocked(t *testing.T) {
	env, store, pool := newTestBinding("dev")
	ctx := context.Background()
	job := &jobqueue.Job{Environment: "dev", RegistryType: "index", DocumentRef: "doc-1", MaxAttempts: 3}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetLoginResult(sitedriver.LoginResult{Kind: sitedriver.FailureAccountLocked})

	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{PollInterval: 10 * time.Millisecond})
	runOneTick(t, w, 200*time.Millisecond)

	snapshot := pool.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Failures != 1 {
		t.Fatalf("expected credential failure count incremented, got %+v", snapshot)
	}

	after, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != jobqueue.StatusError {
		t.Fatalf("expected job terminally failed on account-locked login, got %v", after.Status)
	}
}

func TestWorkerProcessByIDForcesExactlyTheGivenJob(t *testing.T) {
	env, store, _ := newTestBinding("dev")
	ctx := context.Background()

	target := &jobqueue.Job{Environment: "dev", RegistryType: "personal-rights", DocumentRef: "doc-target", MaxAttempts: 3}
	other := &jobqueue.Job{Environment: "dev", RegistryType: "personal-rights", DocumentRef: "doc-other", MaxAttempts: 3}
	if err := store.Enqueue(ctx, target); err != nil {
		t.Fatalf("Enqueue target: %v", err)
	}
	if err := store.Enqueue(ctx, other); err != nil {
		t.Fatalf("Enqueue other: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("personal-rights", stub.Outcome{
		Result: sitedriver.ExecuteResult{Artifact: &sitedriver.Artifact{Bytes: []byte("%PDF-1"), Filename: "doc.pdf", MimeType: "application/pdf"}},
	})

	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{})

	if err := w.ProcessByID(ctx, env, target.ID); err != nil {
		t.Fatalf("ProcessByID: %v", err)
	}

	processed, err := store.Get(ctx, target.ID)
	if err != nil {
		t.Fatalf("Get target: %v", err)
	}
	if processed.Status != jobqueue.StatusExtractionComplete {
		t.Fatalf("expected forced job extraction-complete, got %v (last_error=%q)", processed.Status, processed.LastError)
	}

	untouched, err := store.Get(ctx, other.ID)
	if err != nil {
		t.Fatalf("Get other: %v", err)
	}
	if untouched.Status != jobqueue.StatusPending {
		t.Fatalf("expected the other job left untouched, got %v", untouched.Status)
	}
}

func TestWorkerProcessByIDReturnsErrorForJobEndingFailed(t *testing.T) {
	env, store, _ := newTestBinding("dev")
	ctx := context.Background()

	job := &jobqueue.Job{Environment: "dev", RegistryType: "personal-rights", DocumentRef: "doc-1", MaxAttempts: 3}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("personal-rights", stub.Outcome{Result: sitedriver.ExecuteResult{Kind: sitedriver.FailureNotFound}})

	w := New(NewIdentity(), []EnvironmentBinding{env}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{})

	if err := w.ProcessByID(ctx, env, job.ID); err == nil {
		t.Fatalf("expected an error for a job that ended in error")
	}
}

func TestWorkerChecksEnvironmentsInPriorityOrder(t *testing.T) {
	firstEnv, firstStore, _ := newTestBinding("prod")
	secondEnv, secondStore, _ := newTestBinding("staging")

	job := &jobqueue.Job{Environment: "staging", RegistryType: "rdprm", DocumentRef: "doc-1", MaxAttempts: 3}
	if err := secondStore.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	driver := stub.New("stub-registry")
	driver.SetOutcome("rdprm", stub.Outcome{Result: sitedriver.ExecuteResult{Artifact: &sitedriver.Artifact{Bytes: []byte("%PDF"), Filename: "f.pdf"}}})

	w := New(NewIdentity(), []EnvironmentBinding{firstEnv, secondEnv}, driver, newTestManager(), &recordingHeartbeat{}, nil, Config{PollInterval: 10 * time.Millisecond})
	runOneTick(t, w, 200*time.Millisecond)

	after, err := secondStore.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != jobqueue.StatusExtractionComplete {
		t.Fatalf("expected the staging job to be claimed and extraction-complete, got %v", after.Status)
	}
	if _, err := firstStore.Claim(context.Background(), "someone-else", nil); err != jobqueue.ErrNoJobAvailable {
		t.Fatalf("expected prod environment to have no jobs, got %v", err)
	}
}
