package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"social-connect/internal/types"
)

// Enqueuer matches *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RefreshEnqueuer satisfies service.AccountRefresher by queueing a refresh
// task per account instead of refreshing inline, so one slow Graph call
// never holds up the rest of the pass.
type RefreshEnqueuer struct {
	Client Enqueuer
}

func NewRefreshEnqueuer(client Enqueuer) *RefreshEnqueuer {
	return &RefreshEnqueuer{Client: client}
}

func (e *RefreshEnqueuer) RefreshAccount(ctx context.Context, acct *types.SocialAccount) error {
	task, opts := NewRefreshTokenTask(TaskRefreshTokenPayload{
		AccountRowID: acct.ID,
		Platform:     string(acct.Platform),
		AccountID:    acct.AccountID,
	})
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue refresh for %s: %w", acct.AccountID, err)
	}
	return nil
}
