// Package hub fans session status and server events out to presentation
// clients.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/dkeye/VoiceGuide/internal/metrics"
	"github.com/dkeye/VoiceGuide/internal/protocol"
	"github.com/rs/zerolog/log"
)

type clientEntry struct {
	Conn  core.SignalConnection
	Drops int
}

// PublishResult reports how one broadcast went.
type PublishResult struct {
	Delivered int
	Dropped   []core.ClientID
	Kicked    []core.ClientID
}

// Hub is the client registry. It implements orch.Observer.
type Hub struct {
	mu      sync.RWMutex
	clients map[core.ClientID]*clientEntry

	policy  Policy
	metrics *metrics.Collector
}

func New(policy Policy, m *metrics.Collector) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		clients: make(map[core.ClientID]*clientEntry),
		policy:  policy,
		metrics: m,
	}
}

// Bind registers conn under id, closing any connection it replaces.
func (h *Hub) Bind(id core.ClientID, conn core.SignalConnection) {
	h.mu.Lock()
	old, had := h.clients[id]
	h.clients[id] = &clientEntry{Conn: conn}
	n := len(h.clients)
	h.mu.Unlock()

	if had && old.Conn != conn {
		old.Conn.Close()
	}
	h.metrics.SignalClients(n)
	log.Info().Str("module", "app.hub").Str("client", string(id)).Msg("bound client")
}

// Unbind removes id only if it is still bound to conn.
func (h *Hub) Unbind(id core.ClientID, conn core.SignalConnection) {
	h.mu.Lock()
	e, ok := h.clients[id]
	if ok && e.Conn == conn {
		delete(h.clients, id)
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SignalClients(n)
	log.Info().Str("module", "app.hub").Str("client", string(id)).Msg("unbind client")
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send marshals v and delivers it to a single client, ignoring backpressure.
func (h *Hub) Send(conn core.SignalConnection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.TrySend(b)
}

// Broadcast delivers v to every bound client, applying the policy to
// clients whose buffers are full.
func (h *Hub) Broadcast(v any) PublishResult {
	var res PublishResult
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("broadcast marshal")
		return res
	}

	h.mu.RLock()
	snapshot := make(map[core.ClientID]*clientEntry, len(h.clients))
	for id, e := range h.clients {
		snapshot[id] = e
	}
	h.mu.RUnlock()

	for id, e := range snapshot {
		if err := e.Conn.TrySend(b); err != nil {
			h.mu.Lock()
			e.Drops++
			drops := e.Drops
			h.mu.Unlock()

			h.metrics.SignalDropped()
			switch h.policy.OnBackPressure(id, drops) {
			case KickClient:
				res.Kicked = append(res.Kicked, id)
			case DropFrame:
				res.Dropped = append(res.Dropped, id)
			case NoAction:
			}
			continue
		}
		h.mu.Lock()
		e.Drops = 0
		h.mu.Unlock()
		res.Delivered++
	}

	for _, id := range res.Kicked {
		log.Warn().Str("module", "app.hub").Str("client", string(id)).Msg("kicking slow client")
		conn := snapshot[id].Conn
		h.Unbind(id, conn)
		conn.Close()
	}
	return res
}

func (h *Hub) OnStatus(st domain.Status) {
	h.Broadcast(StatusEnvelope(st))
}

func (h *Hub) OnServerEvent(ev protocol.Event) {
	raw := ev.Raw
	if len(raw) == 0 {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		raw = b
	}
	h.Broadcast(Envelope{Type: TypeServerEvent, Event: raw})
}
