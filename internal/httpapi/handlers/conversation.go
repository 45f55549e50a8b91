package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
)

// Conversation returns the message log oldest first; ?limit=N keeps only
// the newest N.
func (h *Handler) Conversation(c *gin.Context) {
	var (
		msgs []transcript.Message
		err  error
	)
	if s := c.Query("limit"); s != "" {
		limit, perr := strconv.Atoi(s)
		if perr != nil || limit <= 0 || limit > 1000 {
			common.Fail(c, http.StatusBadRequest, 10010, "limit must be between 1 and 1000")
			return
		}
		msgs, err = h.Segments.ListRecentMessages(c.Request.Context(), limit)
	} else {
		msgs, err = h.Segments.ListMessages(c.Request.Context())
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"count":    len(msgs),
		"messages": msgs,
	})
}
