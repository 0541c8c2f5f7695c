package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-connect/internal/types"
)

type captureEnqueuer struct {
	task *asynq.Task
	err  error
}

func (c *captureEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.task = task
	return nil, c.err
}

func TestRefreshEnqueuer(t *testing.T) {
	enq := &captureEnqueuer{}
	e := NewRefreshEnqueuer(enq)

	acct := &types.SocialAccount{ID: "row-1", Platform: types.PlatformInstagram, AccountID: "IG1"}
	require.NoError(t, e.RefreshAccount(context.Background(), acct))
	require.NotNil(t, enq.task)
	assert.Equal(t, TypeRefreshToken, enq.task.Type())
	assert.Contains(t, string(enq.task.Payload()), "row-1")

	enq.err = errors.New("redis down")
	err := e.RefreshAccount(context.Background(), acct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IG1")
}
