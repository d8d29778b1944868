package api

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yokitheyo/diagramq/internal/relay"
)

const (
	writeWait = 10 * time.Second
	// close frame reasons must fit in a 125 byte control frame
	maxCloseReason = 120
)

// streamTask upgrades to a WebSocket and pushes task snapshots until the
// task is terminal. Closing the socket early only stops the stream.
func (h *APIHandler) streamTask(c *gin.Context) {
	taskID := c.Param("task_id")
	log := h.Logger.With("task_id", taskID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.Relay.Run(ctx, taskID, func(s relay.Snapshot) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(s)
	})
	if ctx.Err() != nil {
		log.Debug("websocket client went away")
		return
	}

	code, reason := websocket.CloseNormalClosure, "task finished"
	if err != nil {
		log.Warn("relay stopped", "error", err)
		code, reason = websocket.CloseInternalServerErr, truncateReason(err.Error())
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// truncateReason cuts reason to maxCloseReason bytes without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
