// Package thoughts implements the entry workflows: create with idempotency
// guarantees, read back a day's log, close out a day, and the deferred
// refinement of voice-captured comments.
package thoughts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kenichiro-kimura/thoughtlog/internal/github"
	"github.com/kenichiro-kimura/thoughtlog/internal/ledger"
	"github.com/kenichiro-kimura/thoughtlog/internal/queue"
)

// ErrMissingRequestID rejects create requests without an idempotency key.
var ErrMissingRequestID = errors.New("request_id is required")

// ErrInvalidCapturedAt rejects create requests whose timestamp can not be
// parsed. Like a missing request id, this fails before any side effect.
var ErrInvalidCapturedAt = errors.New("captured_at must be an RFC 3339 timestamp")

// TokenSource produces a bearer credential for the issue tracker.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Tracker is the issue-tracker surface the workflows depend on.
type Tracker interface {
	FindDailyIssue(ctx context.Context, token, dateKey string, labels []string) (*github.Issue, error)
	CreateDailyIssue(ctx context.Context, token, dateKey string, labels []string) (*github.Issue, error)
	GetIssue(ctx context.Context, token string, number int64) (*github.Issue, error)
	AddComment(ctx context.Context, token string, issueNumber int64, body string) (*github.Comment, error)
	GetIssueComments(ctx context.Context, token string, issueNumber int64) ([]github.Comment, error)
	UpdateIssue(ctx context.Context, token string, number int64, body string) (*github.Issue, error)
	CloseIssue(ctx context.Context, token string, number int64) (*github.Issue, error)
	GetComment(ctx context.Context, token string, commentID int64) (*github.Comment, error)
	UpdateComment(ctx context.Context, token string, commentID int64, body string) (*github.Comment, error)
}

// Refiner rewrites raw voice-transcribed text.
type Refiner interface {
	Refine(ctx context.Context, text string) (string, error)
}

// TaskQueue defers refinement work. May be left nil when no queue is
// configured; the voice path then degrades to plain entries.
type TaskQueue interface {
	Send(ctx context.Context, task queue.RefineTask) error
}

// Service wires the collaborators together. Construct once at startup and
// share across requests; it holds no per-request state.
type Service struct {
	owner         string
	repo          string
	defaultLabels string

	tokens  TokenSource
	tracker Tracker
	ledger  ledger.Ledger
	queue   TaskQueue
	refiner Refiner
	log     *zap.SugaredLogger

	now func() time.Time
}

type Options struct {
	Owner         string
	Repo          string
	DefaultLabels string
	Tokens        TokenSource
	Tracker       Tracker
	Ledger        ledger.Ledger
	Queue         TaskQueue
	Refiner       Refiner
	Logger        *zap.SugaredLogger
}

func NewService(opts Options) *Service {
	led := opts.Ledger
	if led == nil {
		led = ledger.Disabled{}
	}
	return &Service{
		owner:         opts.Owner,
		repo:          opts.Repo,
		defaultLabels: opts.DefaultLabels,
		tokens:        opts.Tokens,
		tracker:       opts.Tracker,
		ledger:        led,
		queue:         opts.Queue,
		refiner:       opts.Refiner,
		log:           opts.Logger,
		now:           time.Now,
	}
}

// CreateOutcome is the tagged result of CreateEntry. Exactly one of the
// two shapes applies: a fresh creation (Idempotent == false), or a replay
// decision from the ledger carrying the HTTP status the transport should
// use.
type CreateOutcome struct {
	Idempotent bool `json:"-"`

	// fresh creation
	Date        string `json:"date,omitempty"`
	IssueNumber int64  `json:"issue_number,omitempty"`
	IssueURL    string `json:"issue_url,omitempty"`
	CommentID   int64  `json:"comment_id,omitempty"`

	// replay
	StatusCode int           `json:"-"`
	ErrorCode  string        `json:"error,omitempty"`
	Status     string        `json:"status,omitempty"`
	Prior      ledger.Result `json:"-"`
}

// CreateEntry appends one entry to the day's container issue. The ledger
// claim is the only guard against duplicated side effects: once claimed,
// this invocation owns the request id and must settle it as done or
// failed before returning.
func (s *Service) CreateEntry(ctx context.Context, p EntryPayload) (*CreateOutcome, error) {
	requestID := strings.TrimSpace(p.RequestID)
	if requestID == "" {
		return nil, ErrMissingRequestID
	}

	capturedAt := s.now()
	if p.CapturedAt != "" {
		t, err := time.Parse(time.RFC3339, p.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCapturedAt, p.CapturedAt)
		}
		capturedAt = t
	}

	dateKey := DateKey(capturedAt)
	labels := MergeLabels(s.defaultLabels, p.Labels)
	body := FormatComment(capturedAt, p.Kind, p.Raw)
	hash := PayloadHash(dateKey, body, labels)

	claim, err := s.ledger.Claim(ctx, requestID, hash)
	if err != nil {
		return nil, err
	}
	if !claim.Claimed {
		return &CreateOutcome{
			Idempotent: true,
			StatusCode: claim.StatusCode,
			ErrorCode:  claim.ErrorCode,
			Status:     claim.Status,
			Prior:      claim.Result,
		}, nil
	}

	issue, comment, err := s.appendEntry(ctx, dateKey, labels, body)
	if err != nil {
		s.markFailed(ctx, requestID, err)
		return nil, err
	}

	if err := s.ledger.MarkDone(ctx, requestID, ledger.Result{
		IssueNumber: issue.Number,
		IssueURL:    issue.HTMLURL,
		CommentID:   comment.ID,
	}); err != nil {
		s.markFailed(ctx, requestID, err)
		return nil, err
	}

	// Strictly after the ledger settles: losing the refinement task only
	// costs polish, never the entry itself.
	if p.Source == SourceVoice && s.queue != nil {
		task := queue.RefineTask{
			Owner:       s.owner,
			Repo:        s.repo,
			IssueNumber: issue.Number,
			CommentID:   comment.ID,
		}
		if err := s.queue.Send(ctx, task); err != nil {
			s.log.Errorw("failed to enqueue refinement task", "comment_id", comment.ID, "err", err)
		}
	}

	return &CreateOutcome{
		Date:        dateKey,
		IssueNumber: issue.Number,
		IssueURL:    issue.HTMLURL,
		CommentID:   comment.ID,
	}, nil
}

// appendEntry performs the downstream sequence: credential, find-or-create
// the daily issue, append the comment.
func (s *Service) appendEntry(ctx context.Context, dateKey string, labels []string, body string) (*github.Issue, *github.Comment, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get installation token: %w", err)
	}

	issue, err := s.tracker.FindDailyIssue(ctx, token, dateKey, labels)
	if err != nil {
		return nil, nil, fmt.Errorf("find daily issue: %w", err)
	}
	if issue == nil {
		issue, err = s.tracker.CreateDailyIssue(ctx, token, dateKey, labels)
		if err != nil {
			return nil, nil, fmt.Errorf("create daily issue: %w", err)
		}
	} else if issue.Number == 0 {
		// A numberless search hit leaves nothing to re-fetch by.
		return nil, nil, fmt.Errorf("daily issue search returned no issue number for %s", dateKey)
	} else if issue.HTMLURL == "" {
		// Partial search result; fetch the full resource.
		issue, err = s.tracker.GetIssue(ctx, token, issue.Number)
		if err != nil {
			return nil, nil, fmt.Errorf("refetch daily issue: %w", err)
		}
	}

	comment, err := s.tracker.AddComment(ctx, token, issue.Number, body)
	if err != nil {
		return nil, nil, fmt.Errorf("add comment: %w", err)
	}
	return issue, comment, nil
}

// markFailed is best-effort: its own failure is logged and swallowed so it
// never masks the error that triggered it.
func (s *Service) markFailed(ctx context.Context, requestID string, cause error) {
	if err := s.ledger.MarkFailed(ctx, requestID, cause.Error()); err != nil {
		s.log.Errorw("failed to mark ledger record failed", "request_id", requestID, "err", err)
	}
}

// Log is the read-back of one day's entries.
type Log struct {
	Date  string `json:"date"`
	Body  string `json:"body,omitempty"`
	Found bool   `json:"-"`
}

// GetLog returns all entries for a date joined by newline, or a not-found
// log when no container exists for the date. The ledger is not involved.
func (s *Service) GetLog(ctx context.Context, dateKey string) (*Log, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get installation token: %w", err)
	}

	labels := MergeLabels(s.defaultLabels, nil)
	issue, err := s.tracker.FindDailyIssue(ctx, token, dateKey, labels)
	if err != nil {
		return nil, fmt.Errorf("find daily issue: %w", err)
	}
	if issue == nil {
		return &Log{Date: dateKey}, nil
	}

	comments, err := s.tracker.GetIssueComments(ctx, token, issue.Number)
	if err != nil {
		return nil, fmt.Errorf("get issue comments: %w", err)
	}
	bodies := make([]string, 0, len(comments))
	for _, c := range comments {
		bodies = append(bodies, c.Body)
	}
	return &Log{Date: dateKey, Body: strings.Join(bodies, "\n"), Found: true}, nil
}

// LogUpdate reports the closed container.
type LogUpdate struct {
	Date        string `json:"date"`
	IssueNumber int64  `json:"issue_number"`
	IssueURL    string `json:"issue_url"`
	Found       bool   `json:"-"`
}

// UpdateLog replaces the container body for a date and closes it. Neither
// the ledger nor the queue is touched.
func (s *Service) UpdateLog(ctx context.Context, dateKey, newBody string) (*LogUpdate, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get installation token: %w", err)
	}

	labels := MergeLabels(s.defaultLabels, nil)
	issue, err := s.tracker.FindDailyIssue(ctx, token, dateKey, labels)
	if err != nil {
		return nil, fmt.Errorf("find daily issue: %w", err)
	}
	if issue == nil {
		return &LogUpdate{Date: dateKey}, nil
	}

	if _, err := s.tracker.UpdateIssue(ctx, token, issue.Number, newBody); err != nil {
		return nil, fmt.Errorf("update issue body: %w", err)
	}
	closed, err := s.tracker.CloseIssue(ctx, token, issue.Number)
	if err != nil {
		return nil, fmt.Errorf("close issue: %w", err)
	}
	return &LogUpdate{
		Date:        dateKey,
		IssueNumber: closed.Number,
		IssueURL:    closed.HTMLURL,
		Found:       true,
	}, nil
}

