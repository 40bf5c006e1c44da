package controller

import (
	"context"
	"net/http"
	"time"

	"judgebox/internal/judge/report"
	"judgebox/internal/judge/repository"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// LiveReader returns the current live status.
type LiveReader interface {
	LoadLive(ctx context.Context) (repository.LiveStatus, error)
}

// DetailsReader returns the current Details tree.
type DetailsReader interface {
	LoadDetails(ctx context.Context) (report.Details, error)
}

// HistoryReader returns the retained live status snapshots, oldest first.
type HistoryReader interface {
	History(ctx context.Context) ([]repository.LiveStatus, error)
}

// JudgeController serves the progress of the run in this process.
type JudgeController struct {
	live     LiveReader
	details  DetailsReader
	history  HistoryReader
	hub      *repository.StatusHub
	upgrader websocket.Upgrader
}

// NewJudgeController creates a new controller. history and hub may be nil to
// disable the history and stream endpoints.
func NewJudgeController(live LiveReader, details DetailsReader, history HistoryReader, hub *repository.StatusHub) *JudgeController {
	return &JudgeController{
		live:    live,
		details: details,
		history: history,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// GetLive returns the last live status snapshot.
func (h *JudgeController) GetLive(c *gin.Context) {
	status, err := h.live.LoadLive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// GetDetails returns the Details tree persisted so far.
func (h *JudgeController) GetDetails(c *gin.Context) {
	details, err := h.details.LoadDetails(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, details)
}

// GetHistory returns the mirrored live status history.
func (h *JudgeController) GetHistory(c *gin.Context) {
	if h.history == nil {
		response.ErrorWithCode(c, errors.ServiceUnavailable, "status history is disabled")
		return
	}
	history, err := h.history.History(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, history)
}

// Stream pushes every live status snapshot over a websocket until the run ends.
func (h *JudgeController) Stream(c *gin.Context) {
	if h.hub == nil {
		response.ErrorWithCode(c, errors.ServiceUnavailable, "status stream is disabled")
		return
	}
	ctx := c.Request.Context()
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case status, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(status); err != nil {
				logger.Debug(ctx, "websocket write failed", zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}
