package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yokitheyo/diagramq/internal/logging"
	"github.com/yokitheyo/diagramq/internal/relay"
	"github.com/yokitheyo/diagramq/internal/store"
	"github.com/yokitheyo/diagramq/internal/taskmgr"
)

type APIHandler struct {
	TM       *taskmgr.TaskManager
	Relay    *relay.Relay
	Logger   *slog.Logger
	upgrader websocket.Upgrader
}

type PredictRequest struct {
	Text string `json:"text" binding:"required"`
	Mode string `json:"mode"`
}

func RegisterHandlers(r *gin.Engine, tm *taskmgr.TaskManager, rl *relay.Relay, logger *slog.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &APIHandler{
		TM:     tm,
		Relay:  rl,
		Logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r.POST("/predict", h.predict)
	r.GET("/results/:task_id", h.getResult)
	r.GET("/tasks/:task_id", h.getTask)
	r.GET("/ws/task/:task_id", h.streamTask)
	r.GET("/health", h.health)
}

func (h *APIHandler) predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	task, err := h.TM.Submit(c.Request.Context(), req.Text, req.Mode)
	switch {
	case errors.Is(err, taskmgr.ErrEmptyInput), errors.Is(err, taskmgr.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, taskmgr.ErrEnqueue):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"task_id": task.ID,
			"status":  task.Status,
			"error":   err.Error(),
		})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": "could not create task"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    task.ID,
		"message":    "diagram request accepted",
		"input_text": task.Input.Text,
	})
}

func (h *APIHandler) getResult(c *gin.Context) {
	task, err := h.TM.GetTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}

	if task.Status.IsTerminal() {
		c.JSON(http.StatusOK, gin.H{
			"task_id": task.ID,
			"status":  task.Status,
			"data":    task.Result,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
		"data":    nil,
		"percent": task.Percent,
		"message": "still processing, please retry later",
	})
}

func (h *APIHandler) getTask(c *gin.Context) {
	task, err := h.TM.GetTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *APIHandler) health(c *gin.Context) {
	if err := h.TM.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandler) lookupFailed(c *gin.Context, err error) {
	if errors.Is(err, taskmgr.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": "could not read task"})
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
