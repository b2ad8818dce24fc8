package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/internhub/calsync/internal/slot"
	"github.com/internhub/calsync/internal/sync"
)

type stubReconciler struct {
	result *sync.Result
	err    error
	got    []sync.Request
}

func (s *stubReconciler) Reconcile(_ context.Context, req sync.Request) (*sync.Result, error) {
	s.got = append(s.got, req)
	return s.result, s.err
}

func testReq() sync.Request {
	return sync.Request{
		StudentEmail: "student@example.com",
		InternshipID: "intern-1",
		Timetable: []slot.TimetableSlot{
			{Date: "2025-03-10", StartTime: "09:00", EndTime: "10:00", Type: slot.TypeOnline},
		},
	}
}

func TestNewSyncTaskRoundTrip(t *testing.T) {
	task, err := NewSyncTask(testReq())
	require.NoError(t, err)
	assert.Equal(t, TypeCalendarSync, task.Type())

	var decoded sync.Request
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, testReq(), decoded)
}

func TestHandlerProcessesSync(t *testing.T) {
	rec := &stubReconciler{result: &sync.Result{
		Success: true,
		Counts:  sync.Counts{Total: 1, Created: 1},
	}}
	h := NewHandler(rec, zap.NewNop())

	task, err := NewSyncTask(testReq())
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	require.Len(t, rec.got, 1)
	assert.Equal(t, "intern-1", rec.got[0].InternshipID)
}

func TestHandlerSkipsRetryOnReauth(t *testing.T) {
	rec := &stubReconciler{
		result: &sync.Result{Success: false, Message: sync.CodeNeedReauth},
		err:    errors.New("NEED_REAUTH"),
	}
	h := NewHandler(rec, zap.NewNop())

	task, err := NewSyncTask(testReq())
	require.NoError(t, err)

	perr := h.ProcessTask(context.Background(), task)
	require.Error(t, perr)
	assert.ErrorIs(t, perr, asynq.SkipRetry)
}

func TestHandlerRetriesOtherFailures(t *testing.T) {
	rec := &stubReconciler{err: errors.New("remote flaked")}
	h := NewHandler(rec, zap.NewNop())

	task, err := NewSyncTask(testReq())
	require.NoError(t, err)

	perr := h.ProcessTask(context.Background(), task)
	require.Error(t, perr)
	assert.NotErrorIs(t, perr, asynq.SkipRetry)
}

func TestHandlerSkipsRetryOnUnknownType(t *testing.T) {
	h := NewHandler(&stubReconciler{}, zap.NewNop())

	perr := h.ProcessTask(context.Background(), asynq.NewTask("mail:send", nil))
	require.Error(t, perr)
	assert.ErrorIs(t, perr, asynq.SkipRetry)
}

func TestHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h := NewHandler(&stubReconciler{}, zap.NewNop())

	perr := h.ProcessTask(context.Background(), asynq.NewTask(TypeCalendarSync, []byte("{not json")))
	require.Error(t, perr)
	assert.ErrorIs(t, perr, asynq.SkipRetry)
}
