package thoughts

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kenichiro-kimura/thoughtlog/internal/github"
	"github.com/kenichiro-kimura/thoughtlog/internal/ledger"
	"github.com/kenichiro-kimura/thoughtlog/internal/queue"
)

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) Token(context.Context) (string, error) { return f.token, f.err }

type fakeLedger struct {
	events *[]string

	claim    ledger.ClaimResult
	claimErr error
	doneErr  error
	failErr  error

	claims []string
	done   []ledger.Result
	failed []string
}

func (f *fakeLedger) Claim(_ context.Context, requestID, payloadHash string) (ledger.ClaimResult, error) {
	*f.events = append(*f.events, "claim")
	f.claims = append(f.claims, requestID+":"+payloadHash)
	return f.claim, f.claimErr
}

func (f *fakeLedger) MarkDone(_ context.Context, _ string, res ledger.Result) error {
	*f.events = append(*f.events, "markDone")
	f.done = append(f.done, res)
	return f.doneErr
}

func (f *fakeLedger) MarkFailed(_ context.Context, _ string, msg string) error {
	*f.events = append(*f.events, "markFailed")
	f.failed = append(f.failed, msg)
	return f.failErr
}

type fakeQueue struct {
	events  *[]string
	sendErr error
	sent    []queue.RefineTask
}

func (f *fakeQueue) Send(_ context.Context, task queue.RefineTask) error {
	*f.events = append(*f.events, "send")
	f.sent = append(f.sent, task)
	return f.sendErr
}

type fakeTracker struct {
	events *[]string

	findIssue        *github.Issue
	findErr          error
	createdIssue     *github.Issue
	createErr        error
	fetchedIssue     *github.Issue
	comment          *github.Comment
	addCommentErr    error
	comments         []github.Comment
	commentsErr      error
	getComment       *github.Comment
	getCommentErr    error
	updatedIssue     *github.Issue
	closedIssue      *github.Issue
	updatedComment   *github.Comment
	updateCommentErr error

	addedBodies    []string
	updatedBodies  []string
	refinedBodies  []string
	refinedComment int64
}

func (f *fakeTracker) FindDailyIssue(_ context.Context, _, _ string, _ []string) (*github.Issue, error) {
	*f.events = append(*f.events, "find")
	return f.findIssue, f.findErr
}

func (f *fakeTracker) CreateDailyIssue(_ context.Context, _, dateKey string, _ []string) (*github.Issue, error) {
	*f.events = append(*f.events, "create")
	return f.createdIssue, f.createErr
}

func (f *fakeTracker) GetIssue(_ context.Context, _ string, _ int64) (*github.Issue, error) {
	*f.events = append(*f.events, "getIssue")
	return f.fetchedIssue, nil
}

func (f *fakeTracker) AddComment(_ context.Context, _ string, _ int64, body string) (*github.Comment, error) {
	*f.events = append(*f.events, "addComment")
	f.addedBodies = append(f.addedBodies, body)
	return f.comment, f.addCommentErr
}

func (f *fakeTracker) GetIssueComments(_ context.Context, _ string, _ int64) ([]github.Comment, error) {
	*f.events = append(*f.events, "getComments")
	return f.comments, f.commentsErr
}

func (f *fakeTracker) UpdateIssue(_ context.Context, _ string, _ int64, body string) (*github.Issue, error) {
	*f.events = append(*f.events, "updateIssue")
	f.updatedBodies = append(f.updatedBodies, body)
	return f.updatedIssue, nil
}

func (f *fakeTracker) CloseIssue(_ context.Context, _ string, _ int64) (*github.Issue, error) {
	*f.events = append(*f.events, "closeIssue")
	return f.closedIssue, nil
}

func (f *fakeTracker) GetComment(_ context.Context, _ string, _ int64) (*github.Comment, error) {
	*f.events = append(*f.events, "getComment")
	return f.getComment, f.getCommentErr
}

func (f *fakeTracker) UpdateComment(_ context.Context, _ string, commentID int64, body string) (*github.Comment, error) {
	*f.events = append(*f.events, "updateComment")
	f.refinedComment = commentID
	f.refinedBodies = append(f.refinedBodies, body)
	return f.updatedComment, f.updateCommentErr
}

type fixture struct {
	service *Service
	ledger  *fakeLedger
	tracker *fakeTracker
	queue   *fakeQueue
	events  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.ledger = &fakeLedger{events: &f.events, claim: ledger.ClaimResult{Enabled: true, Claimed: true}}
	f.queue = &fakeQueue{events: &f.events}
	f.tracker = &fakeTracker{
		events:       &f.events,
		findIssue:    &github.Issue{Number: 7, Title: "2024-01-15", HTMLURL: "https://github.test/i/7"},
		createdIssue: &github.Issue{Number: 8, Title: "2024-01-15", HTMLURL: "https://github.test/i/8"},
		comment:      &github.Comment{ID: 42, Body: "## 19:30\nhello\n"},
	}
	f.service = NewService(Options{
		Owner:         "kenichiro",
		Repo:          "diary",
		DefaultLabels: "thoughtlog",
		Tokens:        &fakeTokens{token: "tok"},
		Tracker:       f.tracker,
		Ledger:        f.ledger,
		Queue:         f.queue,
		Logger:        zap.NewNop().Sugar(),
	})
	return f
}

func payload() EntryPayload {
	return EntryPayload{
		RequestID:  "req-1",
		CapturedAt: "2024-01-15T10:30:00Z",
		Raw:        "hello",
		Kind:       "idea",
	}
}

func TestCreateEntry_Success(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.service.CreateEntry(context.Background(), payload())
	require.NoError(t, err)

	assert.False(t, outcome.Idempotent)
	assert.Equal(t, "2024-01-15", outcome.Date)
	assert.Equal(t, int64(7), outcome.IssueNumber)
	assert.Equal(t, "https://github.test/i/7", outcome.IssueURL)
	assert.Equal(t, int64(42), outcome.CommentID)

	require.Len(t, f.tracker.addedBodies, 1)
	assert.Equal(t, "## 19:30\n**[idea]** hello\n", f.tracker.addedBodies[0])

	require.Len(t, f.ledger.done, 1)
	assert.Equal(t, ledger.Result{IssueNumber: 7, IssueURL: "https://github.test/i/7", CommentID: 42}, f.ledger.done[0])
	assert.Equal(t, []string{"claim", "find", "addComment", "markDone"}, f.events)
}

func TestCreateEntry_MissingRequestID(t *testing.T) {
	f := newFixture(t)

	p := payload()
	p.RequestID = "   "
	_, err := f.service.CreateEntry(context.Background(), p)
	require.ErrorIs(t, err, ErrMissingRequestID)

	// rejected before any side effect
	assert.Empty(t, f.events)
}

func TestCreateEntry_InvalidCapturedAt(t *testing.T) {
	f := newFixture(t)

	p := payload()
	p.CapturedAt = "yesterday"
	_, err := f.service.CreateEntry(context.Background(), p)
	require.ErrorIs(t, err, ErrInvalidCapturedAt)
	assert.Empty(t, f.events)
}

func TestCreateEntry_NumberlessSearchHitFails(t *testing.T) {
	f := newFixture(t)
	f.tracker.findIssue = &github.Issue{Title: "2024-01-15", HTMLURL: "https://github.test/i/7"}

	_, err := f.service.CreateEntry(context.Background(), payload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no issue number")

	// never re-fetched issue 0 or commented blind
	assert.NotContains(t, f.events, "getIssue")
	assert.NotContains(t, f.events, "addComment")
	require.Len(t, f.ledger.failed, 1)
}

func TestCreateEntry_IdempotentReplayOfDone(t *testing.T) {
	f := newFixture(t)
	f.ledger.claim = ledger.ClaimResult{
		Enabled:    true,
		Idempotent: true,
		StatusCode: http.StatusOK,
		Status:     ledger.StatusDone,
		Result:     ledger.Result{IssueNumber: 7, IssueURL: "https://github.test/i/7", CommentID: 42},
	}

	outcome, err := f.service.CreateEntry(context.Background(), payload())
	require.NoError(t, err)

	assert.True(t, outcome.Idempotent)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Equal(t, int64(7), outcome.Prior.IssueNumber)
	assert.Equal(t, int64(42), outcome.Prior.CommentID)

	// no downstream writes on replay
	assert.Equal(t, []string{"claim"}, f.events)
}

func TestCreateEntry_ConflictingReuseRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.claim = ledger.ClaimResult{
		Enabled:    true,
		StatusCode: http.StatusConflict,
		ErrorCode:  ledger.ErrCodePayloadReused,
	}

	outcome, err := f.service.CreateEntry(context.Background(), payload())
	require.NoError(t, err)

	assert.True(t, outcome.Idempotent)
	assert.Equal(t, http.StatusConflict, outcome.StatusCode)
	assert.Equal(t, ledger.ErrCodePayloadReused, outcome.ErrorCode)
	assert.Equal(t, []string{"claim"}, f.events)
}

func TestCreateEntry_FailedReplayReturns202(t *testing.T) {
	f := newFixture(t)
	f.ledger.claim = ledger.ClaimResult{
		Enabled:    true,
		Idempotent: true,
		StatusCode: http.StatusAccepted,
		Status:     ledger.StatusFailed,
	}

	// A failed request id stays failed: there is no un-claim transition,
	// so the caller keeps getting 202 until the record expires.
	outcome, err := f.service.CreateEntry(context.Background(), payload())
	require.NoError(t, err)
	assert.True(t, outcome.Idempotent)
	assert.Equal(t, http.StatusAccepted, outcome.StatusCode)
	assert.Equal(t, ledger.StatusFailed, outcome.Status)
}

func TestCreateEntry_DisabledLedgerPassthrough(t *testing.T) {
	f := newFixture(t)
	f.service.ledger = ledger.Disabled{}

	for i := 0; i < 2; i++ {
		outcome, err := f.service.CreateEntry(context.Background(), payload())
		require.NoError(t, err)
		assert.False(t, outcome.Idempotent)
	}

	// same request id proceeded downstream both times
	assert.Len(t, f.tracker.addedBodies, 2)
}

func TestCreateEntry_DownstreamFailureMarksLedgerAndRethrows(t *testing.T) {
	f := newFixture(t)
	f.tracker.addCommentErr = errors.New("boom")

	_, err := f.service.CreateEntry(context.Background(), payload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	require.Len(t, f.ledger.failed, 1)
	assert.Contains(t, f.ledger.failed[0], "boom")
	assert.Empty(t, f.ledger.done)
}

func TestCreateEntry_MarkFailedFailureNeverMasks(t *testing.T) {
	f := newFixture(t)
	f.tracker.addCommentErr = errors.New("boom")
	f.ledger.failErr = errors.New("ledger down")

	_, err := f.service.CreateEntry(context.Background(), payload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.NotContains(t, err.Error(), "ledger down")
}

func TestCreateEntry_TokenFailureMarksLedger(t *testing.T) {
	f := newFixture(t)
	f.service.tokens = &fakeTokens{err: errors.New("no credential")}

	_, err := f.service.CreateEntry(context.Background(), payload())
	require.Error(t, err)
	require.Len(t, f.ledger.failed, 1)
	assert.Contains(t, f.ledger.failed[0], "no credential")
}

func TestCreateEntry_CreatesIssueWhenMissing(t *testing.T) {
	f := newFixture(t)
	f.tracker.findIssue = nil

	outcome, err := f.service.CreateEntry(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, int64(8), outcome.IssueNumber)
	assert.Equal(t, []string{"claim", "find", "create", "addComment", "markDone"}, f.events)
}

func TestCreateEntry_RefetchesPartialSearchResult(t *testing.T) {
	f := newFixture(t)
	f.tracker.findIssue = &github.Issue{Number: 7, Title: "2024-01-15"} // no URL
	f.tracker.fetchedIssue = &github.Issue{Number: 7, Title: "2024-01-15", HTMLURL: "https://github.test/i/7"}

	outcome, err := f.service.CreateEntry(context.Background(), payload())
	require.NoError(t, err)
	assert.Equal(t, "https://github.test/i/7", outcome.IssueURL)
	assert.Equal(t, []string{"claim", "find", "getIssue", "addComment", "markDone"}, f.events)
}

func TestCreateEntry_VoiceEnqueuesAfterMarkDone(t *testing.T) {
	f := newFixture(t)

	p := payload()
	p.Source = SourceVoice
	outcome, err := f.service.CreateEntry(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, outcome.Idempotent)

	assert.Equal(t, []string{"claim", "find", "addComment", "markDone", "send"}, f.events)
	require.Len(t, f.queue.sent, 1)
	task := f.queue.sent[0]
	assert.Equal(t, "kenichiro", task.Owner)
	assert.Equal(t, "diary", task.Repo)
	assert.Equal(t, int64(7), task.IssueNumber)
	assert.Equal(t, int64(42), task.CommentID)
}

func TestCreateEntry_QueueFailureDoesNotFailCreation(t *testing.T) {
	f := newFixture(t)
	f.queue.sendErr = errors.New("queue gone")

	p := payload()
	p.Source = SourceVoice
	outcome, err := f.service.CreateEntry(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), outcome.CommentID)

	// queue failure is logged, never marked failed
	assert.NotContains(t, f.events, "markFailed")
}

func TestCreateEntry_NonVoiceNeverEnqueues(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateEntry(context.Background(), payload())
	require.NoError(t, err)
	assert.Empty(t, f.queue.sent)
}

func TestCreateEntry_VoiceWithoutQueueStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.service.queue = nil

	p := payload()
	p.Source = SourceVoice
	outcome, err := f.service.CreateEntry(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), outcome.CommentID)
}

func TestGetLog_NotFound(t *testing.T) {
	f := newFixture(t)
	f.tracker.findIssue = nil

	log, err := f.service.GetLog(context.Background(), "2024-01-15")
	require.NoError(t, err)
	assert.False(t, log.Found)
	assert.Equal(t, "2024-01-15", log.Date)
}

func TestGetLog_JoinsCommentsInOrder(t *testing.T) {
	f := newFixture(t)
	f.tracker.comments = []github.Comment{
		{ID: 1, Body: "## 08:00\nfirst\n"},
		{ID: 2, Body: "## 12:30\nsecond\n"},
	}

	log, err := f.service.GetLog(context.Background(), "2024-01-15")
	require.NoError(t, err)
	assert.True(t, log.Found)
	assert.Equal(t, "## 08:00\nfirst\n\n## 12:30\nsecond\n", log.Body)
}

func TestUpdateLog_NotFound(t *testing.T) {
	f := newFixture(t)
	f.tracker.findIssue = nil

	updated, err := f.service.UpdateLog(context.Background(), "2024-01-15", "summary")
	require.NoError(t, err)
	assert.False(t, updated.Found)
}

func TestUpdateLog_ReplacesBodyAndCloses(t *testing.T) {
	f := newFixture(t)
	f.tracker.updatedIssue = f.tracker.findIssue
	f.tracker.closedIssue = &github.Issue{Number: 7, HTMLURL: "https://github.test/i/7", State: "closed"}

	updated, err := f.service.UpdateLog(context.Background(), "2024-01-15", "summary")
	require.NoError(t, err)
	assert.True(t, updated.Found)
	assert.Equal(t, int64(7), updated.IssueNumber)

	assert.Equal(t, []string{"find", "updateIssue", "closeIssue"}, f.events)
	require.Len(t, f.tracker.updatedBodies, 1)
	assert.Equal(t, "summary", f.tracker.updatedBodies[0])

	// ledger and queue stay untouched
	assert.NotContains(t, f.events, "claim")
	assert.NotContains(t, f.events, "send")
}

func TestCreateEntry_HashCoversRenderedBody(t *testing.T) {
	f := newFixture(t)

	p := payload()
	_, err := f.service.CreateEntry(context.Background(), p)
	require.NoError(t, err)

	f2 := newFixture(t)
	p2 := payload()
	p2.Raw = "different"
	_, err = f2.service.CreateEntry(context.Background(), p2)
	require.NoError(t, err)

	require.Len(t, f.ledger.claims, 1)
	require.Len(t, f2.ledger.claims, 1)
	hash1 := strings.SplitN(f.ledger.claims[0], ":", 2)[1]
	hash2 := strings.SplitN(f2.ledger.claims[0], ":", 2)[1]
	assert.NotEqual(t, hash1, hash2)
}
