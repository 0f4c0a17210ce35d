package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketorder/gateway/internal/model"
)

type fakeResultSink struct {
	inserted []model.Task
}

func (f *fakeResultSink) Insert(ctx context.Context, task model.Task) error {
	f.inserted = append(f.inserted, task)
	return nil
}

func newTestHandler(queueLimit int) (*Handler, *fakeResultSink) {
	sink := &fakeResultSink{}
	h := &Handler{
		queueLimit: queueLimit,
		ch:         make(chan string, queueLimit),
		heap:       make(map[string]*model.Task, queueLimit),
		results:    sink,
	}
	return h, sink
}

func TestRegisterAssignsContiguousQueueNum(t *testing.T) {
	h, _ := newTestHandler(10)

	t1 := &model.Task{OrderHash: "a"}
	t2 := &model.Task{OrderHash: "b"}
	t3 := &model.Task{OrderHash: "c"}

	require.NoError(t, h.Register(t1))
	require.NoError(t, h.Register(t2))
	require.NoError(t, h.Register(t3))

	assert.Equal(t, 0, t1.QueueNum)
	assert.Equal(t, 1, t2.QueueNum)
	assert.Equal(t, 2, t3.QueueNum)
}

func TestRegisterRejectsDuplicateHash(t *testing.T) {
	h, _ := newTestHandler(10)
	require.NoError(t, h.Register(&model.Task{OrderHash: "dup"}))

	err := h.Register(&model.Task{OrderHash: "dup"})
	require.Error(t, err)
}

func TestRegisterRejectsWhenQueueFull(t *testing.T) {
	h, _ := newTestHandler(1)
	require.NoError(t, h.Register(&model.Task{OrderHash: "first"}))

	err := h.Register(&model.Task{OrderHash: "second"})
	require.Error(t, err)
	assert.Equal(t, 1, h.Len())
}

func TestRegisterCompactsQueueNumOnChannelSendFailure(t *testing.T) {
	sink := &fakeResultSink{}
	// heap capacity (3) outpaces the channel buffer (2), so the third
	// Register's send to h.ch hits the full-channel default branch while
	// the heap itself still has room.
	h := &Handler{
		queueLimit: 3,
		ch:         make(chan string, 2),
		heap:       make(map[string]*model.Task, 3),
		results:    sink,
	}

	t1 := &model.Task{OrderHash: "a"}
	t2 := &model.Task{OrderHash: "b"}
	t3 := &model.Task{OrderHash: "c"}
	require.NoError(t, h.Register(t1))
	require.NoError(t, h.Register(t2))

	err := h.Register(t3)
	require.Error(t, err)
	assert.False(t, h.Contains("c"))

	// "c" (QueueNum 2) never stuck, so "a" and "b" keep their positions —
	// only tasks with a QueueNum greater than the removed one should shift.
	aTask, _ := h.Get("a")
	bTask, _ := h.Get("b")
	assert.Equal(t, 0, aTask.QueueNum)
	assert.Equal(t, 1, bTask.QueueNum)
}

func TestOnSnapshotCompactsQueueNumOnTerminalRemoval(t *testing.T) {
	h, sink := newTestHandler(10)

	t1 := &model.Task{OrderHash: "a"}
	t2 := &model.Task{OrderHash: "b"}
	t3 := &model.Task{OrderHash: "c"}
	require.NoError(t, h.Register(t1))
	require.NoError(t, h.Register(t2))
	require.NoError(t, h.Register(t3))

	// "b" (QueueNum 1) finishes first; "a" stays, "c" must shift down to 1.
	h.onSnapshot(context.Background(), "b", model.Task{OrderHash: "b", QueueNum: 1, Status: model.StatusCompleted})

	assert.False(t, h.Contains("b"))
	require.True(t, h.Contains("a"))
	require.True(t, h.Contains("c"))

	aTask, _ := h.Get("a")
	cTask, _ := h.Get("c")
	assert.Equal(t, 0, aTask.QueueNum)
	assert.Equal(t, 1, cTask.QueueNum)

	require.Len(t, sink.inserted, 1)
	assert.Equal(t, "b", sink.inserted[0].OrderHash)
}

func TestOnSnapshotNonTerminalUpdatesInPlaceWithoutCompaction(t *testing.T) {
	h, sink := newTestHandler(10)
	t1 := &model.Task{OrderHash: "a"}
	require.NoError(t, h.Register(t1))

	h.onSnapshot(context.Background(), "a", model.Task{OrderHash: "a", QueueNum: 0, Status: model.StatusProcessing, Progress: model.TaskProgress{Done: 1, Total: 5}})

	task, ok := h.Get("a")
	require.True(t, ok)
	assert.Equal(t, model.StatusProcessing, task.Status)
	assert.Equal(t, 1, task.Progress.Done)
	assert.Empty(t, sink.inserted)
}

func TestCountByTokenCountsOnlyMatchingToken(t *testing.T) {
	h, _ := newTestHandler(10)
	require.NoError(t, h.Register(&model.Task{OrderHash: "a", Order: model.Order{TokenID: "tok-1"}}))
	require.NoError(t, h.Register(&model.Task{OrderHash: "b", Order: model.Order{TokenID: "tok-1"}}))
	require.NoError(t, h.Register(&model.Task{OrderHash: "c", Order: model.Order{TokenID: "tok-2"}}))

	assert.Equal(t, 2, h.CountByToken("tok-1"))
	assert.Equal(t, 1, h.CountByToken("tok-2"))
	assert.Equal(t, 0, h.CountByToken("unknown"))
}

func TestGetReturnsClonedTaskNotSharedPointer(t *testing.T) {
	h, _ := newTestHandler(10)
	task := &model.Task{OrderHash: "a", Result: model.TaskResult{Data: map[string]interface{}{"oz/1": "x"}}}
	require.NoError(t, h.Register(task))

	got, ok := h.Get("a")
	require.True(t, ok)
	got.Result.Data["oz/1"] = "mutated"

	original, _ := h.Get("a")
	assert.Equal(t, "x", original.Result.Data["oz/1"])
}
