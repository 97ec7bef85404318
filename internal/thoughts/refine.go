package thoughts

import (
	"context"
	"fmt"

	"github.com/kenichiro-kimura/thoughtlog/internal/queue"
)

// RefineComment rewrites one previously created voice entry in place. The
// time-header line is preserved verbatim; only the text beneath it is
// replaced. Errors propagate to the queue consumer, which owns retry
// policy; no ledger state is involved.
func (s *Service) RefineComment(ctx context.Context, task queue.RefineTask) error {
	if s.refiner == nil {
		return fmt.Errorf("no refiner configured")
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("get installation token: %w", err)
	}

	comment, err := s.tracker.GetComment(ctx, token, task.CommentID)
	if err != nil {
		return fmt.Errorf("get comment %d: %w", task.CommentID, err)
	}

	header, content := SplitHeader(comment.Body)
	refined, err := s.refiner.Refine(ctx, content)
	if err != nil {
		return fmt.Errorf("refine comment %d: %w", task.CommentID, err)
	}

	if _, err := s.tracker.UpdateComment(ctx, token, task.CommentID, header+refined+"\n"); err != nil {
		return fmt.Errorf("update comment %d: %w", task.CommentID, err)
	}
	return nil
}
