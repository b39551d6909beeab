package jobqueue

import "errors"

// ErrNoJobAvailable is returned by Claim when no pending job matched.
var ErrNoJobAvailable = errors.New("no job available")

// ErrNotFound is returned when a job or page lookup fails.
var ErrNotFound = errors.New("not found")

// ErrNotClaimedByWorker is returned when a worker tries to update or
// release a job it does not currently hold the claim on.
var ErrNotClaimedByWorker = errors.New("job not claimed by this worker")
