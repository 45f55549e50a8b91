package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/omi-jarvis/internal/auth"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
)

type loginReq struct {
	Password string `json:"password"`
}

// Login trades the admin password for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	if h.Cfg.Auth.AdminPasswordHash == "" {
		common.Fail(c, http.StatusNotFound, 40403, "login disabled")
		return
	}
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10001, "password required")
		return
	}
	if !auth.CheckPassword(h.Cfg.Auth.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid credentials")
		return
	}

	token, err := auth.SignJWT("admin", "admin", h.Cfg.Auth.JWTSecret, h.Cfg.Auth.TokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token})
}
