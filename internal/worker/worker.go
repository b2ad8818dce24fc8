// Package worker runs reconciliations in the background. The calling
// boundary enqueues a sync and returns immediately; the asynq handler
// performs the remote round trips and the progress store lets callers
// poll completion.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/internhub/calsync/internal/progress"
	"github.com/internhub/calsync/internal/sync"
)

const (
	// TypeCalendarSync is the task type for one reconciliation run.
	TypeCalendarSync = "calendar:sync"

	// Queue is the asynq queue calendar tasks run on.
	Queue = "calendar"

	taskTimeout = 10 * time.Minute
)

// NewSyncTask wraps a reconcile request as an asynq task.
func NewSyncTask(req sync.Request) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync task: %w", err)
	}
	return asynq.NewTask(TypeCalendarSync, payload,
		asynq.Queue(Queue),
		asynq.Timeout(taskTimeout),
		asynq.MaxRetry(2),
	), nil
}

// Enqueuer submits background syncs. It seeds a working progress entry at
// enqueue time so pollers see the totals before the handler picks the
// task up.
type Enqueuer struct {
	client   *asynq.Client
	progress progress.Store
	log      *zap.Logger
}

func NewEnqueuer(client *asynq.Client, store progress.Store, log *zap.Logger) *Enqueuer {
	return &Enqueuer{client: client, progress: store, log: log}
}

// EnqueueSync queues one reconciliation run.
func (e *Enqueuer) EnqueueSync(ctx context.Context, req sync.Request) error {
	task, err := NewSyncTask(req)
	if err != nil {
		return err
	}

	key := progress.Key(req.InternshipID, req.StudentEmail)
	if _, err := e.progress.Set(ctx, key, progress.Update{
		Counts: &progress.Counts{Total: len(req.Timetable)},
		Phase:  progress.PhaseWorking,
	}); err != nil {
		e.log.Warn("failed to seed progress", zap.String("key", key), zap.Error(err))
	}

	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue sync task: %w", err)
	}
	e.log.Info("queued calendar sync",
		zap.String("internshipId", req.InternshipID),
		zap.String("email", req.StudentEmail),
		zap.Int("slots", len(req.Timetable)))
	return nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// Reconciler is the part of the sync engine the handler needs.
type Reconciler interface {
	Reconcile(ctx context.Context, req sync.Request) (*sync.Result, error)
}

// Handler processes calendar sync tasks.
type Handler struct {
	syncer Reconciler
	log    *zap.Logger
}

func NewHandler(syncer Reconciler, log *zap.Logger) *Handler {
	return &Handler{syncer: syncer, log: log}
}

// ProcessTask implements asynq.Handler. NEED_REAUTH runs are not retried:
// the credential is gone and only the user can fix that.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	switch task.Type() {
	case TypeCalendarSync:
		return h.processSync(ctx, task)
	default:
		return fmt.Errorf("unknown task type %q: %w", task.Type(), asynq.SkipRetry)
	}
}

func (h *Handler) processSync(ctx context.Context, task *asynq.Task) error {
	var req sync.Request
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("failed to decode sync task: %w", multierr.Append(err, asynq.SkipRetry))
	}

	result, err := h.syncer.Reconcile(ctx, req)
	if err != nil {
		if result != nil && result.Message == sync.CodeNeedReauth {
			return fmt.Errorf("sync needs re-authorization: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	h.log.Info("background sync finished",
		zap.String("internshipId", req.InternshipID),
		zap.String("email", req.StudentEmail),
		zap.Int("created", result.Counts.Created),
		zap.Int("updated", result.Counts.Updated),
		zap.Int("deleted", result.Counts.Deleted),
		zap.Int("errors", len(result.Errors)))
	return nil
}

// NewServer builds the asynq server and mux for the calendar queue.
func NewServer(redisOpt asynq.RedisClientOpt, concurrency int, handler *Handler, log *zap.Logger) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			if errors.Is(err, asynq.SkipRetry) {
				return
			}
			log.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeCalendarSync, handler)
	return srv, mux
}
