package api

import (
	"encoding/json"
	"fmt"

	"github.com/collabterm/collabterm/pkg/terminal"
)

// Message types carried in Envelope.Type.
const (
	TypeHostHello            = "host_hello"
	TypeGuestHello           = "guest_hello"
	TypeHelloResponse        = "hello_response"
	TypeUpdateTerminals      = "update_terminals"
	TypeOpenTerminal         = "open_terminal"
	TypeOpenTerminalResponse = "open_terminal_response"
	TypeTerminalInput        = "terminal_input"
	TypeTerminalFrame        = "terminal_frame"
	TypeError                = "error"
)

// Error codes carried in Error.Code.
const (
	CodeNotFound           = "not_found"
	CodePermissionDenied   = "permission_denied"
	CodeFailedPrecondition = "failed_precondition"
	CodeInternal           = "internal"
)

// Envelope is the unit of exchange on every channel. RequestID correlates a
// request with its eventual response (ReplyTo on the response side). From and
// To identify guest peers so the relay can route a response to the guest that
// asked; an empty To on a host envelope means fan-out to all guests.
type Envelope struct {
	Type      string          `json:"type"`
	ProjectID uint64          `json:"project_id,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	RequestID string          `json:"req_id,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// HostHello opens a host channel and registers a new project on the relay.
type HostHello struct {
	TrustedSecret string `json:"trusted_secret"`
}

// GuestHello opens a guest channel onto an already-registered project.
type GuestHello struct {
	ProjectID uint64 `json:"project_id"`
	Secret    string `json:"secret"`
}

// HelloResponse completes either handshake. PeerID is set for guests only.
type HelloResponse struct {
	ProjectID uint64 `json:"project_id"`
	PeerID    string `json:"peer_id,omitempty"`
}

// UpdateTerminals replaces the recipient's terminal directory wholesale.
type UpdateTerminals struct {
	ProjectID uint64   `json:"project_id"`
	Terminals []uint64 `json:"terminals"`
}

// OpenTerminal asks the host to open terminal ID for the requesting guest.
type OpenTerminal struct {
	ProjectID uint64 `json:"project_id"`
	ID        uint64 `json:"id"`
}

// OpenTerminalResponse carries everything a guest needs to seed its view:
// the parser restart state and the currently-visible cell content.
type OpenTerminalResponse struct {
	VTEState             []byte               `json:"vte_state"`
	VisibleTerminalCells terminal.ScreenState `json:"visible_terminal_cells"`
}

// TerminalInput forwards guest keystrokes to the host-owned terminal.
type TerminalInput struct {
	ProjectID uint64 `json:"project_id"`
	ID        uint64 `json:"id"`
	Data      []byte `json:"data"`
}

// TerminalFrame replaces the recipient's last-known content for one terminal.
type TerminalFrame struct {
	ProjectID uint64               `json:"project_id"`
	ID        uint64               `json:"id"`
	Content   terminal.ScreenState `json:"content"`
}

// Error is the failure side of a request/response exchange.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(messageType string, projectID uint64, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Type:      messageType,
		ProjectID: projectID,
		Payload:   raw,
	}, nil
}

// DecodePayload unmarshals the envelope's payload into out.
func (envelope *Envelope) DecodePayload(out interface{}) error {
	return json.Unmarshal(envelope.Payload, out)
}
