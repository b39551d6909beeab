package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemStoreClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.Enqueue(ctx, &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job.Status != StatusProcessing {
		t.Fatalf("expected StatusProcessing, got %v", job.Status)
	}

	if _, err := store.Claim(ctx, "worker-b", nil); !errors.Is(err, ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable for second claim, got %v", err)
	}
}

// TestMemStoreClaimHasExactlyOneWinnerPerJobUnderConcurrency is P1
// (no double-claim): N workers race on M pending jobs and the set of
// (job, worker) pairs that end up holding a job must have cardinality
// exactly M, with no job claimed twice and no worker holding two jobs.
func TestMemStoreClaimHasExactlyOneWinnerPerJobUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	const numJobs = 20
	const numWorkers = 8

	for i := 0; i < numJobs; i++ {
		job := &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: fmt.Sprintf("doc-%d", i)}
		if err := store.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	claimedBy := map[string]string{} // job id -> worker id
	holdingJob := map[string]int{}   // worker id -> number of jobs held

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		workerID := fmt.Sprintf("worker-%d", w)
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				job, err := store.Claim(ctx, workerID, nil)
				if errors.Is(err, ErrNoJobAvailable) {
					return
				}
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				mu.Lock()
				if _, dup := claimedBy[job.ID]; dup {
					t.Errorf("job %s claimed more than once", job.ID)
				}
				claimedBy[job.ID] = workerID
				holdingJob[workerID]++
				mu.Unlock()
			}
		}(workerID)
	}
	wg.Wait()

	if len(claimedBy) != numJobs {
		t.Fatalf("expected exactly %d jobs claimed, got %d", numJobs, len(claimedBy))
	}
}

// TestMemStoreCompleteIsIdempotentForTheOwningWorker is P3 (idempotent
// completion): completing the same job twice with the same worker
// identity is a harmless no-op; completing it with a different worker
// identity is rejected and does not overwrite the result.
func TestMemStoreCompleteIsIdempotentForTheOwningWorker(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	job := &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1"}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := store.CompleteWithMetadata(ctx, claimed.ID, "worker-a", JSONMap{"artifact_path": "gs://bucket/doc-1.pdf"}); err != nil {
		t.Fatalf("first CompleteWithMetadata: %v", err)
	}
	if err := store.CompleteWithMetadata(ctx, claimed.ID, "worker-a", JSONMap{"artifact_path": "gs://bucket/doc-1.pdf"}); err != nil {
		t.Fatalf("re-submitting completion under the same worker identity should be a no-op, got: %v", err)
	}

	after, err := store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != StatusExtractionComplete {
		t.Fatalf("expected job still extraction-complete after the repeat, got %v", after.Status)
	}

	if err := store.CompleteWithMetadata(ctx, claimed.ID, "worker-b", JSONMap{"artifact_path": "gs://bucket/tampered.pdf"}); !errors.Is(err, ErrNotClaimedByWorker) {
		t.Fatalf("expected completion under a different worker identity to be rejected, got %v", err)
	}

	after, err = store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Metadata["artifact_path"] != "gs://bucket/doc-1.pdf" {
		t.Fatalf("expected original completion result preserved, got %+v", after.Metadata)
	}
}

func TestMemStoreClaimByIDClaimsExactlyThatJobAndRejectsWrongStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.Enqueue(ctx, &Job{Environment: "dev", RegistryType: "index", DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Enqueue(ctx, &Job{Environment: "dev", RegistryType: "index", DocumentRef: "doc-2"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var targetID string
	for id, job := range store.jobs {
		if job.DocumentRef == "doc-2" {
			targetID = id
		}
	}
	if targetID == "" {
		t.Fatalf("could not find doc-2's job id")
	}

	claimed, err := store.ClaimByID(ctx, targetID, "worker-a")
	if err != nil {
		t.Fatalf("ClaimByID: %v", err)
	}
	if claimed.DocumentRef != "doc-2" || claimed.Status != StatusProcessing {
		t.Fatalf("expected doc-2's job claimed, got %+v", claimed)
	}

	if _, err := store.ClaimByID(ctx, targetID, "worker-b"); !errors.Is(err, ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable reclaiming an already-claimed job, got %v", err)
	}

	if _, err := store.ClaimForOCRByID(ctx, targetID, "worker-c"); !errors.Is(err, ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable claiming a non-ready-for-ocr job for ocr, got %v", err)
	}
}

func TestMemStoreClaimFiltersByRegistryType(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.Enqueue(ctx, &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := store.Claim(ctx, "worker-a", []string{"bce"}); !errors.Is(err, ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable for mismatched registry type, got %v", err)
	}

	job, err := store.Claim(ctx, "worker-a", []string{"rdprm"})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job.RegistryType != "rdprm" {
		t.Fatalf("unexpected job claimed: %+v", job)
	}
}

func TestMemStoreFailRequeuesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	job := &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1", MaxAttempts: 2}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := store.Fail(ctx, claimed.ID, "worker-a", "transient error", false); err != nil {
		t.Fatalf("Fail (1st): %v", err)
	}
	after, err := store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != StatusPending {
		t.Fatalf("expected StatusPending after 1st failure, got %v", after.Status)
	}

	claimed, err = store.Claim(ctx, "worker-b", nil)
	if err != nil {
		t.Fatalf("Claim (2nd attempt): %v", err)
	}
	if err := store.Fail(ctx, claimed.ID, "worker-b", "transient error again", false); err != nil {
		t.Fatalf("Fail (2nd): %v", err)
	}

	after, err = store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != StatusError {
		t.Fatalf("expected StatusError after exhausting attempts, got %v", after.Status)
	}
}

func TestMemStoreHeartbeatRejectsWrongWorker(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.Enqueue(ctx, &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := store.Heartbeat(ctx, job.ID, "worker-b"); !errors.Is(err, ErrNotClaimedByWorker) {
		t.Fatalf("expected ErrNotClaimedByWorker, got %v", err)
	}
	if err := store.Heartbeat(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
}

func TestMemStoreListExpiredFindsAbandonedLeases(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.Enqueue(ctx, &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	stale := time.Now().UTC().Add(time.Hour)
	expired, err := store.ListExpired(ctx, stale)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != job.ID {
		t.Fatalf("expected job %s in expired list, got %+v", job.ID, expired)
	}

	if err := store.Release(ctx, job.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	after, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != StatusPending || after.WorkerID != nil {
		t.Fatalf("expected job released to pending, got %+v", after)
	}
}

func TestMemStoreCompleteWithMetadataMergesFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	job := &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1", Metadata: JSONMap{"document_number": "1425100"}}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := store.CompleteWithMetadata(ctx, claimed.ID, "worker-a", JSONMap{"artifact_path": "gs://bucket/doc-1.pdf"}); err != nil {
		t.Fatalf("CompleteWithMetadata: %v", err)
	}

	after, err := store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != StatusExtractionComplete {
		t.Fatalf("expected StatusExtractionComplete, got %v", after.Status)
	}
	if after.Metadata["artifact_path"] != "gs://bucket/doc-1.pdf" {
		t.Fatalf("expected artifact_path merged in, got %+v", after.Metadata)
	}
	if after.Metadata["document_number"] != "1425100" {
		t.Fatalf("expected original metadata preserved, got %+v", after.Metadata)
	}
}

func TestMemStoreReleaseIfOwnedByIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	job := &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1"}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	released, err := store.ReleaseIfOwnedBy(ctx, claimed.ID, "worker-b", "worker-b is dead")
	if err != nil {
		t.Fatalf("ReleaseIfOwnedBy (wrong owner): %v", err)
	}
	if released {
		t.Fatalf("expected release to be refused for a non-owning worker")
	}

	released, err = store.ReleaseIfOwnedBy(ctx, claimed.ID, "worker-a", "worker-a is dead")
	if err != nil {
		t.Fatalf("ReleaseIfOwnedBy (correct owner): %v", err)
	}
	if !released {
		t.Fatalf("expected release to succeed for the owning worker")
	}

	after, err := store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != StatusPending || after.WorkerID != nil {
		t.Fatalf("expected job released to pending, got %+v", after)
	}
	if after.LastError != "worker-a is dead" {
		t.Fatalf("expected dead-worker marker recorded, got %q", after.LastError)
	}
}

func TestMemStoreMarkReadyForOCRThenClaimForOCR(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	job := &Job{Environment: "dev", RegistryType: "index", DocumentRef: "doc-1"}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := store.Claim(ctx, "worker-a", nil)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := store.MarkReadyForOCR(ctx, claimed.ID, "worker-a", JSONMap{"artifact_path": "gs://bucket/42.pdf"}); err != nil {
		t.Fatalf("MarkReadyForOCR: %v", err)
	}

	after, err := store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != StatusExtractionComplete || after.WorkerID != nil {
		t.Fatalf("expected job ready for OCR and unclaimed, got %+v", after)
	}
	if after.Metadata["artifact_path"] != "gs://bucket/42.pdf" {
		t.Fatalf("expected artifact_path preserved, got %+v", after.Metadata)
	}

	if _, err := store.Claim(ctx, "ocr-worker", nil); err != ErrNoJobAvailable {
		t.Fatalf("expected the plain extraction Claim to ignore ready-for-ocr jobs, got %v", err)
	}

	ocrJob, err := store.ClaimForOCR(ctx, "ocr-worker", nil)
	if err != nil {
		t.Fatalf("ClaimForOCR: %v", err)
	}
	if ocrJob.ID != claimed.ID || ocrJob.Status != StatusOCRInProgress {
		t.Fatalf("unexpected ClaimForOCR result: %+v", ocrJob)
	}

	if err := store.Complete(ctx, ocrJob.ID, "ocr-worker"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	final, err := store.Get(ctx, ocrJob.ID)
	if err != nil {
		t.Fatalf("Get (final): %v", err)
	}
	if final.Status != StatusOCRComplete {
		t.Fatalf("expected job ocr-complete after OCR, got %+v", final)
	}
}

func TestMemStorePageLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	job := &Job{Environment: "dev", RegistryType: "rdprm", DocumentRef: "doc-1"}
	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := store.CreatePage(ctx, &Page{JobID: job.ID, PageNum: i}); err != nil {
			t.Fatalf("CreatePage %d: %v", i, err)
		}
	}

	pages, err := store.PagesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("PagesForJob: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, page := range pages {
		if page.PageNum != i+1 {
			t.Fatalf("expected pages ordered by page_num, got %+v", pages)
		}
	}

	pages[0].Status = StatusOCRComplete
	pages[0].LineCount = 42
	if err := store.UpdatePage(ctx, pages[0]); err != nil {
		t.Fatalf("UpdatePage: %v", err)
	}

	refreshed, err := store.PagesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("PagesForJob (after update): %v", err)
	}
	if refreshed[0].Status != StatusOCRComplete || refreshed[0].LineCount != 42 {
		t.Fatalf("expected page update to persist, got %+v", refreshed[0])
	}
}
