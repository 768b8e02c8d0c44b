package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/VoiceGuide/internal/app/hub"
	"github.com/dkeye/VoiceGuide/internal/app/orch"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, hub.Envelope{Type: hub.TypePong})
}

func (ctl *SignalWSController) handleStatus(conn *WsSignalConn) {
	ctl.sendJSON(conn, hub.StatusEnvelope(ctl.Session.Status()))
}

func (ctl *SignalWSController) handleAudit(conn *WsSignalConn) {
	ctl.sendJSON(conn, hub.AuditEnvelope(ctl.Session.Audit()))
}

// handleStart runs the handshake in the background; progress reaches every
// client through status broadcasts. The handshake is bound to the server
// context, so the requesting client may leave without aborting it.
func (ctl *SignalWSController) handleStart(id core.ClientID, conn *WsSignalConn) {
	if !ctl.limiter.Allow(id) {
		ctl.sendError(conn, "rate_limited")
		return
	}
	log.Info().Str("module", "signal").Str("client", string(id)).Msg("start")
	go func() {
		err := ctl.Session.Start(ctl.ctx)
		if err != nil && !errors.Is(err, orch.ErrSuperseded) {
			log.Error().Err(err).Str("module", "signal").Str("client", string(id)).Msg("start failed")
			ctl.sendError(conn, err.Error())
		}
	}()
}

func (ctl *SignalWSController) handleStop(id core.ClientID, conn *WsSignalConn, data []byte) {
	if !ctl.limiter.Allow(id) {
		ctl.sendError(conn, "rate_limited")
		return
	}
	var p struct {
		ClearAudit *bool `json:"clear_audit"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	clearAudit := true
	if p.ClearAudit != nil {
		clearAudit = *p.ClearAudit
	}
	log.Info().Str("module", "signal").Str("client", string(id)).Bool("clear_audit", clearAudit).Msg("stop")
	ctl.Session.Stop(clearAudit)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, msg string) {
	ctl.sendJSON(conn, hub.ErrorEnvelope(msg))
}
