package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dkeye/VoiceGuide/internal/app/orch"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	ctx     context.Context
	session core.SessionControl
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// start kicks off the handshake and answers immediately; clients follow
// progress through /session/status or the WebSocket.
func (h *handlers) start(c *gin.Context) {
	client := c.GetString(clientTokenKey)
	go func() {
		if err := h.session.Start(h.ctx); err != nil && !errors.Is(err, orch.ErrSuperseded) {
			log.Error().Err(err).Str("module", "adapters.http").Str("client", client).Msg("start failed")
		}
	}()
	c.JSON(http.StatusAccepted, h.session.Status())
}

func (h *handlers) stop(c *gin.Context) {
	clearAudit := true
	if raw := c.Query("clear_audit"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid clear_audit"})
			return
		}
		clearAudit = v
	}
	h.session.Stop(clearAudit)
	c.JSON(http.StatusOK, h.session.Status())
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Status())
}

func (h *handlers) audit(c *gin.Context) {
	entries := h.session.Audit()
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	c.JSON(http.StatusOK, auditResponse{Entries: entries})
}
