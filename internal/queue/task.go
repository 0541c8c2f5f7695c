package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"

	TypeRefreshToken = "account:refresh_token"
)

type TaskRefreshTokenPayload struct {
	AccountRowID string
	Platform     string
	AccountID    string
}

// NewRefreshTokenTask builds a one-shot refresh task. MaxRetry is zero on
// purpose: a failed refresh waits for the next scheduled pass instead of
// retrying inside this one, since the token still has days of validity.
func NewRefreshTokenTask(p TaskRefreshTokenPayload) (*asynq.Task, []asynq.Option) {
	b, _ := json.Marshal(p)
	t := asynq.NewTask(TypeRefreshToken, b, asynq.Queue(QueueDefault))
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(30 * time.Second),
	}
	return t, opts
}
