// Package worker consumes the deferred refinement queue in-process.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kenichiro-kimura/thoughtlog/internal/queue"
	"github.com/kenichiro-kimura/thoughtlog/internal/thoughts"
)

const (
	pollTimeout = 5 * time.Second
	taskTimeout = 2 * time.Minute
)

type Worker struct {
	queue   *queue.Queue
	service *thoughts.Service
	log     *zap.SugaredLogger
}

func New(q *queue.Queue, service *thoughts.Service, log *zap.SugaredLogger) *Worker {
	return &Worker{queue: q, service: service, log: log}
}

// Run blocks until ctx is cancelled. Delivery is at-least-once: a task
// that fails is logged and dropped here, relying on replays from the
// producer side rather than local retry.
func (w *Worker) Run(ctx context.Context) {
	w.log.Infow("refinement worker started")
	for {
		if ctx.Err() != nil {
			w.log.Infow("refinement worker stopped")
			return
		}

		task, err := w.queue.Receive(ctx, pollTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				w.log.Infow("refinement worker stopped")
				return
			}
			w.log.Errorw("queue receive failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		if err := w.service.RefineComment(taskCtx, task); err != nil {
			w.log.Errorw("refinement failed", "task_id", task.ID, "comment_id", task.CommentID, "err", err)
		} else {
			w.log.Infow("comment refined", "task_id", task.ID, "comment_id", task.CommentID)
		}
		cancel()
	}
}
