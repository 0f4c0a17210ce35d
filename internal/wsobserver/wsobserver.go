// Package wsobserver implements the "send-only" WebSocket push loop (§4.6):
// the server writes Task snapshots, the client only reads and may close.
package wsobserver

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/apperr"
	"github.com/marketorder/gateway/internal/model"
)

// TaskReader is the subset of Scheduler the push loop needs.
type TaskReader interface {
	GetTaskState(ctx context.Context, hash string) (model.Task, error)
}

// loopPause is the short fixed sleep taken after the client-frame wait,
// before the next ping/snapshot cycle (§4.6 step 2).
const loopPause = 100 * time.Millisecond

// Run drives the push loop for orderHash over conn until the client
// disconnects, ctx is done, or a terminal/error frame is sent. Run does not
// touch the WS counter: incrementing and decrementing it is the caller's
// responsibility, and Run assumes the slot was already claimed.
func Run(ctx context.Context, conn *websocket.Conn, orderHash string, scheduler TaskReader, sendInterval time.Duration, logger *zap.Logger) {
	var prev *model.Task

	for {
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}

		task, err := scheduler.GetTaskState(ctx, orderHash)
		if err != nil {
			appErr, ok := err.(*apperr.Error)
			msg := "unknown error"
			if ok {
				msg = appErr.Error()
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
			return
		}

		if prev == nil || !reflect.DeepEqual(*prev, task) {
			data, marshalErr := json.Marshal(task)
			if marshalErr != nil {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(apperr.SerializationError.Error()))
				return
			}
			if writeErr := conn.WriteMessage(websocket.TextMessage, data); writeErr != nil {
				return
			}
			snapshot := task
			prev = &snapshot
		}

		if task.Status.Terminal() {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(sendInterval))
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				return
			}
			// A read timeout without a client frame is expected on a
			// send-only connection; fall through to the loop pause.
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(loopPause):
		}
	}
}
