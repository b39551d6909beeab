package metrics

import "context"

// Attaching a recorder to a context lets a vision-model client record cost
// and latency without every pipeline stage threading a *Recorder argument
// through its own signature.

type contextKey struct{}

type recordingContext struct {
	recorder *Recorder
	opts     RecordOpts
}

// WithRecorder attaches recorder and the RecordOpts every metric recorded
// from calls made through ctx should carry (at minimum JobID/DocumentID).
// A nil recorder is a no-op: ctx is returned unchanged.
func WithRecorder(ctx context.Context, recorder *Recorder, opts RecordOpts) context.Context {
	if recorder == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, &recordingContext{recorder: recorder, opts: opts})
}

// FromContext returns the recorder and base RecordOpts attached by
// WithRecorder, or ok=false if none was attached.
func FromContext(ctx context.Context) (recorder *Recorder, opts RecordOpts, ok bool) {
	rc, ok := ctx.Value(contextKey{}).(*recordingContext)
	if !ok {
		return nil, RecordOpts{}, false
	}
	return rc.recorder, rc.opts, true
}
