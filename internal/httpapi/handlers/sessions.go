package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
)

func (h *Handler) GetSession(c *gin.Context) {
	sid := c.Param("session_id")
	m, err := h.Sessions.Lookup(c.Request.Context(), sid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if m == nil {
		common.Fail(c, http.StatusNotFound, 40402, "session not found")
		return
	}
	common.OK(c, gin.H{
		"session_id":      m.SessionID,
		"conversation_id": m.ConversationID,
		"last_used_at":    m.LastUsedAt,
		"created_at":      m.CreatedAt,
	})
}
