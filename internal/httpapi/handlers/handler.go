package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/qupid/internal/chat"
	"github.com/suPer8Hu/qupid/internal/common"
	"github.com/suPer8Hu/qupid/internal/config"
	"github.com/suPer8Hu/qupid/internal/httpapi/middleware"
	"github.com/suPer8Hu/qupid/internal/store/rabbitmq"
	"gorm.io/gorm"
)

// StreamLocker keeps one reply stream in flight per session.
type StreamLocker interface {
	// token identifies the holder; release leaves a lock held under another token alone.
	AcquireStreamLock(ctx context.Context, sessionID, token string, ttl time.Duration) (bool, error)
	ReleaseStreamLock(ctx context.Context, sessionID, token string) error
}

type GuestCounter interface {
	IncrGuestChatCount(ctx context.Context, guestID string) (int64, error)
	GuestChatCount(ctx context.Context, guestID string) (int64, error)
}

type JobPublisher interface {
	PublishReplyJob(ctx context.Context, job rabbitmq.ReplyJob) error
}

type Handler struct {
	Cfg     config.Config
	ChatSvc *chat.Service
	Locks   StreamLocker
	Guests  GuestCounter
	Jobs    JobPublisher
	Log     *slog.Logger
}

func NewHandler(cfg config.Config, svc *chat.Service, locks StreamLocker, guests GuestCounter, jobs JobPublisher, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Cfg: cfg, ChatSvc: svc, Locks: locks, Guests: guests, Jobs: jobs, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// failSession maps chat service errors to responses.
func (h *Handler) failSession(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
	case errors.Is(err, chat.ErrSessionEnded):
		common.Fail(c, http.StatusConflict, 40902, "session has ended")
	case errors.Is(err, chat.ErrInvalidArgument):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	default:
		h.Log.Error(op+" failed", "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
