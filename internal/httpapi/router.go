package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/qupid/internal/common"
	"github.com/suPer8Hu/qupid/internal/httpapi/handlers"
	"github.com/suPer8Hu/qupid/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// persona chat
	r.POST("/chat/sessions", h.CreateChatSession)
	r.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	r.POST("/chat/messages/stream", h.StreamChatMessage)
	r.POST("/chat/messages/async", h.SendChatMessageAsync)
	r.GET("/chat/jobs/:job_id", h.GetChatJob)
	r.POST("/chat/analyze", h.AnalyzeConversation)

	// coaching
	r.POST("/coaches/sessions", h.CreateCoachSession)
	r.POST("/coaches/sessions/:session_id/end", h.EndCoachSession)

	// guest usage
	r.GET("/guests/:guest_id/chat-count", h.GetGuestChatCount)
	r.POST("/guests/:guest_id/chat-count", h.IncrGuestChatCount)
	return r
}
