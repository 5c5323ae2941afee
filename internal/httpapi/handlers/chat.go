package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/qupid/internal/analysis"
	"github.com/suPer8Hu/qupid/internal/chat"
	"github.com/suPer8Hu/qupid/internal/common"
	"github.com/suPer8Hu/qupid/internal/httpapi/middleware"
	"github.com/suPer8Hu/qupid/internal/store/rabbitmq"
	"gorm.io/gorm"
)

type createChatSessionReq struct {
	PersonaID         string `json:"personaId" binding:"required"`
	SystemInstruction string `json:"systemInstruction"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	var req createChatSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.CreatePersonaSession(c.Request.Context(), req.PersonaID, req.SystemInstruction)
	if err != nil {
		h.failSession(c, "create chat session", err)
		return
	}
	common.OK(c, gin.H{"sessionId": sess.SessionID})
}

type createCoachSessionReq struct {
	CoachID string `json:"coachId" binding:"required"`
	UserID  string `json:"userId"`
}

func (h *Handler) CreateCoachSession(c *gin.Context) {
	var req createCoachSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.CreateCoachSession(c.Request.Context(), req.CoachID, req.UserID)
	if err != nil {
		h.failSession(c, "create coach session", err)
		return
	}
	common.OK(c, gin.H{"sessionId": sess.SessionID})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), sessionID, limit, beforeID)
	if err != nil {
		h.failSession(c, "list messages", err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":     msgs,
		"nextBeforeId": nextBeforeID,
	})
}

type streamReq struct {
	SessionID  string `json:"sessionId" binding:"required"`
	Message    string `json:"message" binding:"required"`
	IsCoaching bool   `json:"isCoaching"`
}

// StreamChatMessage relays the reply as `data: {"content":...}` lines ending
// with `data: [DONE]`. A failure after headers are sent is reported as
// `data: {"error":...}` and the stream is closed without the end marker.
func (h *Handler) StreamChatMessage(c *gin.Context) {
	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message is empty")
		return
	}

	ctx := c.Request.Context()
	reqID := c.GetString(middleware.RequestIDKey)

	sess, err := h.ChatSvc.GetSession(ctx, req.SessionID)
	if err != nil {
		h.failSession(c, "stream lookup", err)
		return
	}
	if sess.EndedAt != nil {
		h.failSession(c, "stream lookup", chat.ErrSessionEnded)
		return
	}
	if sess.IsCoaching() != req.IsCoaching {
		common.Fail(c, http.StatusBadRequest, 10004, "isCoaching does not match session")
		return
	}

	lockToken := uuid.NewString()
	locked, err := h.Locks.AcquireStreamLock(ctx, req.SessionID, lockToken, h.Cfg.StreamLockTTL)
	if err != nil {
		h.Log.Error("acquire stream lock failed", "request_id", reqID, "session_id", req.SessionID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50003, "internal error")
		return
	}
	if !locked {
		common.Fail(c, http.StatusConflict, 40901, "a reply is already streaming for this session")
		return
	}
	defer func() {
		if err := h.Locks.ReleaseStreamLock(context.WithoutCancel(ctx), req.SessionID, lockToken); err != nil {
			h.Log.Warn("release stream lock failed", "request_id", reqID, "session_id", req.SessionID, "error", err)
		}
	}()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	writeData := func(payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			b = []byte(`{"error":"json marshal failed"}`)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		c.Writer.Flush()
	}

	start := time.Now()
	chunks, result := h.ChatSvc.StreamReply(ctx, req.SessionID, req.Message)

	// heartbeat ticker (keeps connections alive); comment lines are ignored by clients
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for chunks != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			writeData(gin.H{"content": ch})

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()

		case <-ctx.Done():
			h.Log.Info("stream client went away", "request_id", reqID, "session_id", req.SessionID)
			return
		}
	}

	res := <-result
	if res.Err != nil {
		h.Log.Warn("stream failed", "request_id", reqID, "session_id", req.SessionID, "cost", time.Since(start).String(), "error", res.Err)
		writeData(gin.H{"error": "reply generation failed"})
		return
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

type analyzeReq struct {
	Messages []analysis.Turn `json:"messages"`
}

func (h *Handler) AnalyzeConversation(c *gin.Context) {
	var req analyzeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	common.OK(c, h.ChatSvc.Analyze(req.Messages))
}

func (h *Handler) EndCoachSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	sess, err := h.ChatSvc.GetSession(ctx, sessionID)
	if err != nil {
		h.failSession(c, "end coach session", err)
		return
	}
	if !sess.IsCoaching() {
		common.Fail(c, http.StatusBadRequest, 10005, "not a coaching session")
		return
	}

	report, err := h.ChatSvc.EndSession(ctx, sessionID)
	if err != nil {
		h.failSession(c, "end coach session", err)
		return
	}
	common.OK(c, report)
}

type asyncReq struct {
	SessionID string `json:"sessionId" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// SendChatMessageAsync stores the user message and queues the reply for the worker.
func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	var req asyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ctx := c.Request.Context()
	reqID := c.GetString(middleware.RequestIDKey)

	if _, err := h.ChatSvc.GetSession(ctx, req.SessionID); err != nil {
		h.failSession(c, "async lookup", err)
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	jobID, err := common.NewULID()
	if err != nil {
		h.Log.Error("new job id failed", "request_id", reqID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j, created, err := h.ChatSvc.CreateJobOrGetExisting(ctx, &chat.Job{
		ID:             jobID,
		SessionID:      req.SessionID,
		Prompt:         req.Message,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	})
	if err != nil {
		h.failSession(c, "create job", err)
		return
	}

	// Only a newly created job stores the message and is enqueued.
	if created {
		if err := h.ChatSvc.InsertUserMessage(ctx, req.SessionID, req.Message); err != nil {
			h.failSession(c, "insert user message", err)
			return
		}
		if err := h.Jobs.PublishReplyJob(ctx, rabbitJob(j)); err != nil {
			h.Log.Error("publish job failed", "request_id", reqID, "job_id", j.ID, "error", err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"jobId": j.ID})
}

func rabbitJob(j *chat.Job) rabbitmq.ReplyJob {
	return rabbitmq.ReplyJob{JobID: j.ID, SessionID: j.SessionID}
}

func (h *Handler) GetChatJob(c *gin.Context) {
	jobID := c.Param("job_id")

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":              j.ID,
			"sessionId":       j.SessionID,
			"status":          j.Status,
			"resultMessageId": j.ResultMessageID,
			"error":           j.Error,
			"createdAt":       j.CreatedAt,
			"updatedAt":       j.UpdatedAt,
		},
	})
}
