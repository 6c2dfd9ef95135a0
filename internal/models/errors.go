package models

import "fmt"

// ValidationError rejects malformed input before any write. It is returned
// synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransientStorageError wraps a storage failure that is safe to retry,
// such as lock contention on a hot aggregate row.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("transient storage failure in %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// ConsistencyError reports an aggregate row that failed its invariant check
// (healthy_scans + disease_scans != total_scans). It is never silently
// corrected: the key is marked stale and a reconciliation is triggered.
type ConsistencyError struct {
	LocationKey string
	Detail      string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("aggregate invariant violated for %q: %s", e.LocationKey, e.Detail)
}
