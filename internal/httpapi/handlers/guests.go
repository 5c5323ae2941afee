package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/qupid/internal/common"
	"github.com/suPer8Hu/qupid/internal/httpapi/middleware"
)

func (h *Handler) GetGuestChatCount(c *gin.Context) {
	guestID := strings.TrimSpace(c.Param("guest_id"))

	n, err := h.Guests.GuestChatCount(c.Request.Context(), guestID)
	if err != nil {
		h.Log.Error("guest chat count failed", "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
		return
	}
	common.OK(c, gin.H{"guestId": guestID, "chatCount": n})
}

func (h *Handler) IncrGuestChatCount(c *gin.Context) {
	guestID := strings.TrimSpace(c.Param("guest_id"))

	n, err := h.Guests.IncrGuestChatCount(c.Request.Context(), guestID)
	if err != nil {
		h.Log.Error("incr guest chat count failed", "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
		return
	}
	common.OK(c, gin.H{"guestId": guestID, "chatCount": n})
}
