package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"social-connect/internal/queue"
	"social-connect/internal/service"
)

type RefreshWorker struct {
	refresh *service.RefreshService
	log     *zap.Logger
}

func NewRefreshWorker(refresh *service.RefreshService, log *zap.Logger) *RefreshWorker {
	return &RefreshWorker{refresh: refresh, log: log}
}

func RegisterHandlers(mux *asynq.ServeMux, w *RefreshWorker) {
	mux.HandleFunc(queue.TypeRefreshToken, w.HandleRefreshToken)
}

func (w *RefreshWorker) HandleRefreshToken(ctx context.Context, t *asynq.Task) error {
	var p queue.TaskRefreshTokenPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode refresh payload: %w", err)
	}

	if _, err := w.refresh.RefreshAccount(ctx, p.AccountRowID); err != nil {
		// Logged here rather than retried: MaxRetry(0) tasks surface the
		// failure and the next scheduled pass picks the account up again.
		w.log.Error("refresh task failed",
			zap.String("platform", p.Platform),
			zap.String("account_id", p.AccountID),
			zap.Error(err))
		return err
	}
	return nil
}
