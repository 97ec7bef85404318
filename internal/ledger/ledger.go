// Package ledger records per-request processing state so that retried
// requests never repeat downstream side effects. A request id is claimed
// exactly once; everything after the claim is a replay.
package ledger

import "context"

const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Error codes surfaced to callers through ClaimResult.
const (
	ErrCodeRaceRetry     = "idempotency_race_retry"
	ErrCodePayloadReused = "request_id_reused_with_different_payload"
)

// maxErrorLen bounds the stored failure message.
const maxErrorLen = 900

// Result carries the fields persisted when a request completes.
type Result struct {
	IssueNumber int64  `json:"issue_number"`
	IssueURL    string `json:"issue_url"`
	CommentID   int64  `json:"comment_id"`
}

// ClaimResult is the outcome of attempting to claim a request id.
//
// Claimed=true means the caller owns the request and must eventually call
// MarkDone or MarkFailed. Claimed=false means another invocation got there
// first; StatusCode and the remaining fields describe what to return.
type ClaimResult struct {
	Enabled    bool
	Claimed    bool
	Idempotent bool
	StatusCode int
	ErrorCode  string
	Status     string
	Result     Result
}

// Ledger is the durable idempotency store contract.
type Ledger interface {
	// Claim atomically creates a processing record for requestID, or
	// reports how the existing record should be replayed.
	Claim(ctx context.Context, requestID, payloadHash string) (ClaimResult, error)
	// MarkDone transitions the record to done with its result fields.
	MarkDone(ctx context.Context, requestID string, res Result) error
	// MarkFailed transitions the record to failed with a truncated message.
	MarkFailed(ctx context.Context, requestID, errMsg string) error
}

// Disabled is the no-op ledger used when no backing store is configured.
// Every claim succeeds, so every request proceeds without deduplication.
type Disabled struct{}

func (Disabled) Claim(context.Context, string, string) (ClaimResult, error) {
	return ClaimResult{Enabled: false, Claimed: true}, nil
}

func (Disabled) MarkDone(context.Context, string, Result) error { return nil }

func (Disabled) MarkFailed(context.Context, string, string) error { return nil }

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
