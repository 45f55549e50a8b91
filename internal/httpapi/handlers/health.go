package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
)

func (h *Handler) Health(c *gin.Context) {
	common.OK(c, gin.H{
		"status":    "healthy",
		"message":   "Omi webhook receiver is running",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
