// Package queue hands refinement work off to a Redis list. Delivery is
// at-least-once and unordered; the consumer must tolerate replays.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RefineTask identifies one comment to rewrite.
type RefineTask struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	IssueNumber int64  `json:"issue_number"`
	CommentID   int64  `json:"comment_id"`
}

// ErrEmpty is returned by Receive when the blocking wait times out with
// nothing to deliver.
var ErrEmpty = errors.New("queue: no task available")

type Queue struct {
	client *redis.Client
	key    string
}

func New(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Send enqueues a task. A fresh message id is assigned when the task has
// none, so replays are distinguishable in logs.
func (q *Queue) Send(ctx context.Context, task RefineTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Receive blocks up to timeout for the next task.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) (RefineTask, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return RefineTask{}, ErrEmpty
	}
	if err != nil {
		return RefineTask{}, fmt.Errorf("dequeue task: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return RefineTask{}, fmt.Errorf("unexpected brpop reply of %d elements", len(res))
	}
	var task RefineTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return RefineTask{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}
