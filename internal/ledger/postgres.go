package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed ledger. The INSERT ... ON CONFLICT DO NOTHING
// in Claim is the single linearization point for concurrent invocations
// sharing a request id.
type Store struct {
	db        *pgxpool.Pool
	retention time.Duration
	now       func() time.Time
}

func NewStore(db *pgxpool.Pool, retention time.Duration) *Store {
	return &Store{db: db, retention: retention, now: time.Now}
}

func (s *Store) Claim(ctx context.Context, requestID, payloadHash string) (ClaimResult, error) {
	now := s.now().Unix()
	expires := s.now().Add(s.retention).Unix()

	const ins = `
INSERT INTO idempotency_records (request_id, status, payload_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (request_id) DO NOTHING
`
	tag, err := s.db.Exec(ctx, ins, requestID, StatusProcessing, payloadHash, now, expires)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim insert: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return ClaimResult{Enabled: true, Claimed: true}, nil
	}

	// Someone holds the id already; read the record to decide the replay.
	const sel = `
SELECT status, payload_hash, issue_number, issue_url, comment_id
FROM idempotency_records
WHERE request_id = $1
`
	var (
		status      string
		storedHash  string
		issueNumber *int64
		issueURL    *string
		commentID   *int64
	)
	err = s.db.QueryRow(ctx, sel, requestID).Scan(&status, &storedHash, &issueNumber, &issueURL, &commentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return replayDecision(false, "", "", payloadHash, Result{}), nil
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim re-read: %w", err)
	}

	res := Result{}
	if issueNumber != nil {
		res.IssueNumber = *issueNumber
	}
	if issueURL != nil {
		res.IssueURL = *issueURL
	}
	if commentID != nil {
		res.CommentID = *commentID
	}
	return replayDecision(true, status, storedHash, payloadHash, res), nil
}

// replayDecision shapes the claim outcome for a request id that lost the
// insert race, from the record state observed on re-read.
func replayDecision(found bool, status, storedHash, suppliedHash string, res Result) ClaimResult {
	if !found {
		// The record vanished between insert and read (expiry purge or a
		// competing rollback). The caller should retry with the same id.
		return ClaimResult{
			Enabled:    true,
			StatusCode: http.StatusConflict,
			ErrorCode:  ErrCodeRaceRetry,
		}
	}

	if storedHash != suppliedHash {
		return ClaimResult{
			Enabled:    true,
			StatusCode: http.StatusConflict,
			ErrorCode:  ErrCodePayloadReused,
		}
	}

	if status == StatusDone {
		return ClaimResult{
			Enabled:    true,
			Idempotent: true,
			StatusCode: http.StatusOK,
			Status:     status,
			Result:     res,
		}
	}

	// Still processing, or failed with no un-claim path: the caller gets
	// the stored status and must mint a new request id to try again.
	return ClaimResult{
		Enabled:    true,
		Idempotent: true,
		StatusCode: http.StatusAccepted,
		Status:     status,
	}
}

func (s *Store) MarkDone(ctx context.Context, requestID string, res Result) error {
	const q = `
UPDATE idempotency_records
SET status = $1, issue_number = $2, issue_url = $3, comment_id = $4
WHERE request_id = $5
`
	_, err := s.db.Exec(ctx, q, StatusDone, res.IssueNumber, res.IssueURL, res.CommentID, requestID)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, requestID, errMsg string) error {
	const q = `
UPDATE idempotency_records
SET status = $1, error = $2
WHERE request_id = $3
`
	_, err := s.db.Exec(ctx, q, StatusFailed, truncateError(errMsg), requestID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// DeleteExpired purges records past their retention window. Run
// periodically; the table has no native TTL.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM idempotency_records WHERE expires_at < $1`
	tag, err := s.db.Exec(ctx, q, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
