package core

// ErrorKind classifies failures observed at the analysis-service boundary.
// Classification happens exactly once, in the stage client; everything
// downstream (retry policy, orchestrator, metrics) keys off the kind.
type ErrorKind string

const (
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimited means the service rejected the call for quota reasons.
	// Backoff policy treats this differently from ordinary transient errors.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers retryable network and service errors.
	KindTransient ErrorKind = "transient"
	// KindInvalidInput marks a permanently malformed request. Never retried.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindUnknown is an unclassified failure. Retried once, then failed.
	KindUnknown ErrorKind = "unknown"
)

// String returns the string representation.
func (k ErrorKind) String() string {
	return string(k)
}

// IsValid checks if the kind is one of the defined taxonomy values.
func (k ErrorKind) IsValid() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindTransient, KindInvalidInput, KindUnknown:
		return true
	default:
		return false
	}
}
