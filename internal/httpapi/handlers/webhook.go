package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"github.com/suPer8Hu/omi-jarvis/internal/httpapi/middleware"
	"github.com/suPer8Hu/omi-jarvis/internal/metrics"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
)

// Webhook stores the transcript segments of one device event. Each segment
// is ingested on its own; a duplicate or a failed row never rejects the
// rest of the event.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "failed to read body")
		return
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil || len(keys) == 0 {
		log.Warn().Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("received empty webhook data")
		common.Fail(c, http.StatusBadRequest, 10002, "no data received")
		return
	}

	var payload transcript.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "invalid webhook payload")
		return
	}

	segs := payload.Normalize()
	ctx := c.Request.Context()
	var stored, duplicates, failed int
	for i := range segs {
		_, err := h.Segments.Ingest(ctx, &segs[i])
		switch {
		case err == nil:
			stored++
			metrics.SegmentsIngested.WithLabelValues("stored").Inc()
		case errors.Is(err, common.ErrDuplicateIngest):
			duplicates++
			metrics.SegmentsIngested.WithLabelValues("duplicate").Inc()
		default:
			failed++
			metrics.SegmentsIngested.WithLabelValues("failed").Inc()
			log.Error().Err(err).
				Str("request_id", c.GetString(middleware.RequestIDKey)).
				Str("session_id", segs[i].SessionID).
				Msg("failed to save transcript segment")
		}
	}

	sid := transcript.UnknownSession
	if len(segs) > 0 {
		sid = segs[0].SessionID
	} else if payload.SessionID != "" {
		sid = payload.SessionID
	}
	log.Info().
		Str("session_id", sid).
		Int("segments", len(segs)).
		Int("stored", stored).
		Int("duplicates", duplicates).
		Int("failed", failed).
		Msg("webhook received")

	common.OK(c, gin.H{
		"session_id": sid,
		"received":   len(segs),
		"stored":     stored,
		"duplicates": duplicates,
		"failed":     failed,
	})
}
