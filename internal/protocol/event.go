// Package protocol holds the realtime data-channel event vocabulary and its codec.
package protocol

import "encoding/json"

// Event types exchanged on the data channel.
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseDone           = "response.done"
	TypeError                  = "error"
)

// Event is a single wire message. Only the fields the client acts on are
// typed; Raw keeps the original inbound frame for pass-through.
type Event struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Session  *SessionConfig  `json:"session,omitempty"`
	Item     *Item           `json:"item,omitempty"`
	Error    *ErrorDetail    `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type SessionConfig struct {
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type Item struct {
	Type    string    `json:"type"`
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ErrorDetail is the payload of an inbound "error" event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func NewSessionUpdate(td TurnDetection) Event {
	if td.Type == "" {
		td.Type = "server_vad"
	}
	return Event{
		Type:    TypeSessionUpdate,
		Session: &SessionConfig{TurnDetection: &td},
	}
}

// NewSystemMessage builds a system-role conversation item carrying text.
func NewSystemMessage(text string) Event {
	return Event{
		Type: TypeConversationItemCreate,
		Item: &Item{
			Type: "message",
			Role: "system",
			Content: []Content{
				{Type: "input_text", Text: text},
			},
		},
	}
}

func NewResponseCreate() Event {
	return Event{Type: TypeResponseCreate}
}
