package jobqueue

// ErrKind classifies a pipeline-internal error (as opposed to a
// sitedriver.FailureKind, which classifies a site-automation outcome) into
// the short, closed vocabulary that is safe to store verbatim in a job's
// LastError column. The verbose underlying error is logged via slog at the
// call site; it never reaches the row itself.
type ErrKind string

const (
	ErrKindTransientNetwork    ErrKind = "transient_network"
	ErrKindRateLimited         ErrKind = "rate_limited"
	ErrKindInfrastructure      ErrKind = "infrastructure"
	ErrKindBadInput            ErrKind = "bad_input"
	ErrKindNotFound            ErrKind = "not_found"
	ErrKindLoginFailed         ErrKind = "login_failed"
	ErrKindModelOverextraction ErrKind = "model_overextraction"
	ErrKindAbandonedOnShutdown ErrKind = "abandoned_on_shutdown"
)

// CanonicalMessage formats the short message stored in a job's LastError
// column: the closed ErrKind plus a brief, non-sensitive detail.
func CanonicalMessage(kind ErrKind, detail string) string {
	if detail == "" {
		return string(kind)
	}
	return string(kind) + ": " + detail
}
