package wsobserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/model"
)

// fakeTaskReader returns the next state in states on each call, repeating
// the last one once exhausted.
type fakeTaskReader struct {
	states []model.Task
	calls  int
}

func (f *fakeTaskReader) GetTaskState(ctx context.Context, hash string) (model.Task, error) {
	idx := f.calls
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	f.calls++
	return f.states[idx], nil
}

func TestRunStreamsSnapshotsUntilTerminalThenCloses(t *testing.T) {
	reader := &fakeTaskReader{states: []model.Task{
		{OrderHash: "h", Status: model.StatusProcessing, Progress: model.TaskProgress{Done: 0, Total: 2}},
		{OrderHash: "h", Status: model.StatusProcessing, Progress: model.TaskProgress{Done: 1, Total: 2}},
		{OrderHash: "h", Status: model.StatusCompleted, Progress: model.TaskProgress{Done: 2, Total: 2}},
	}}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		Run(context.Background(), conn, "h", reader, 5*time.Millisecond, zap.NewNop())
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	var frames [][]byte
	for {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := client.ReadMessage()
		if err != nil {
			break
		}
		frames = append(frames, data)
	}

	require.NotEmpty(t, frames)
	last := string(frames[len(frames)-1])
	assert.Contains(t, last, `"completed"`)
	assert.True(t, reader.calls >= 3)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	reader := &fakeTaskReader{states: []model.Task{
		{OrderHash: "h", Status: model.StatusProcessing},
	}}

	ctx, cancel := context.WithCancel(context.Background())

	upgrader := websocket.Upgrader{}
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		Run(ctx, conn, "h", reader, 2*time.Second, zap.NewNop())
		close(done)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, _, _ = client.ReadMessage() // drain the first processing snapshot

	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
