package model

import (
	"fmt"
	"time"
)

// SyncStatus is the outcome class of processing one event.
type SyncStatus string

// Sync statuses.
const (
	StatusSynced  SyncStatus = "synced"
	StatusSkipped SyncStatus = "skipped"
	StatusFailed  SyncStatus = "failed"
)

// SyncReason qualifies skipped and failed results.
type SyncReason string

// Skip reasons.
const (
	ReasonDuplicate         SyncReason = "duplicate"
	ReasonUnsupportedObject SyncReason = "unsupported_object"
)

// Failure reasons.
const (
	ReasonUnknownPrincipal     SyncReason = "unknown_principal"
	ReasonRemoteEntityGone     SyncReason = "remote_entity_gone"
	ReasonRetryable            SyncReason = "retryable"
	ReasonAuthenticationFailed SyncReason = "authentication_failed"
	ReasonAuthorizationFailed  SyncReason = "authorization_failed"
	ReasonStoreFailure         SyncReason = "store_failure"
	ReasonUnexpected           SyncReason = "unexpected"
)

// SyncResult is what the engine returns for every event.
type SyncResult struct {
	Status     SyncStatus
	Reason     SyncReason
	RetryAfter time.Duration // hint for retryable failures, zero when unknown
	Err        error
}

// Synced returns a successful result.
func Synced() SyncResult { return SyncResult{Status: StatusSynced} }

// Skipped returns a skipped result with reason.
func Skipped(reason SyncReason) SyncResult {
	return SyncResult{Status: StatusSkipped, Reason: reason}
}

// Failed returns a failed result with reason and cause.
func Failed(reason SyncReason, err error) SyncResult {
	return SyncResult{Status: StatusFailed, Reason: reason, Err: err}
}

// Retryable reports whether processing the same event again may succeed.
func (r SyncResult) Retryable() bool {
	return r.Status == StatusFailed && (r.Reason == ReasonRetryable || r.Reason == ReasonStoreFailure)
}

func (r SyncResult) String() string {
	switch {
	case r.Reason == "":
		return string(r.Status)
	case r.Err != nil:
		return fmt.Sprintf("%s(%s): %v", r.Status, r.Reason, r.Err)
	default:
		return fmt.Sprintf("%s(%s)", r.Status, r.Reason)
	}
}
