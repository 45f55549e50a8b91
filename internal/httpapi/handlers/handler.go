package handlers

import (
	"github.com/suPer8Hu/omi-jarvis/internal/config"
	"github.com/suPer8Hu/omi-jarvis/internal/session"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
)

type Handler struct {
	Segments *transcript.Repo
	Sessions *session.Map
	Cfg      config.Config
}

func NewHandler(segments *transcript.Repo, sessions *session.Map, cfg config.Config) *Handler {
	return &Handler{Segments: segments, Sessions: sessions, Cfg: cfg}
}
