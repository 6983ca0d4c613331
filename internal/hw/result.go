package hw

import "github.com/signalsfoundry/switchagent/internal/sai"

// WriteResult reports the outcome of a best-effort hardware write. The
// operation that returns it has already logged any failure and advanced its
// tracked state, so callers are free to drop it; reconciliation retries.
type WriteResult struct {
	// Attr is the attribute that was written, or AttrNone when no write was
	// needed.
	Attr sai.AttrID
	err  error
}

// Err returns the wrapped ErrHardwareRejected, or nil.
func (r WriteResult) Err() error { return r.err }

// OK reports whether the write succeeded or was skipped.
func (r WriteResult) OK() bool { return r.err == nil }

// Written reports whether a Control API call was issued.
func (r WriteResult) Written() bool { return r.Attr != sai.AttrNone }
