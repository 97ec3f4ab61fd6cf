// Package protocol defines the data-channel message schema exchanged with
// the speech backend and decodes inbound frames into a tagged union.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError reports a frame that could not be decoded.
type DecodeError struct {
	FrameType string
	Message   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.FrameType) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.FrameType)
}

// Client -> server frame types.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeInputAudioBufferClear  = "input_audio_buffer.clear"
	TypeInputAudioBufferCommit = "input_audio_buffer.commit"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

// Server -> client frame types.
const (
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeTranscriptionDelta     = "conversation.item.transcription.delta"
	TypeTranscriptionCompleted = "conversation.item.transcription.completed"
	TypeResponseCreated        = "response.created"
	TypeResponseDone           = "response.done"
	TypeResponseTextDelta      = "response.text.delta"
	TypeResponseTextDone       = "response.text.done"
	TypeResponseAudioDelta     = "response.audio.delta"
	TypeOrderItemDetected      = "order.item_detected"
	TypeOrderConfirmation      = "order.confirmation"
	TypeError                  = "error"
)

// SessionConfig is the session configuration sent during session setup and
// echoed back in session.created / session.updated frames.
type SessionConfig struct {
	RestaurantID        string   `json:"restaurant_id,omitempty"`
	Mode                string   `json:"mode,omitempty"`
	MaxResponseTokens   int      `json:"max_response_tokens,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	FrequencyPenalty    *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64 `json:"presence_penalty,omitempty"`
	InputSampleRateHz   int      `json:"input_sample_rate_hz,omitempty"`
	TranscriptionEnable bool     `json:"transcription_enable,omitempty"`
}

// SessionInfo identifies a backend session.
type SessionInfo struct {
	ID        string        `json:"id"`
	ExpiresAt int64         `json:"expires_at,omitempty"`
	Config    SessionConfig `json:"config,omitempty"`
}

// OrderItem is a menu item the model detected in the conversation.
type OrderItem struct {
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	Price     float64  `json:"price,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// SessionUpdate configures the backend session.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// NewSessionUpdate builds a session.update command.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

// InputAudioBufferAppend carries a base64 PCM chunk. Only used on transports
// without a dedicated media track.
type InputAudioBufferAppend struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio"`
}

// NewInputAudioBufferAppend builds an append command from raw PCM.
func NewInputAudioBufferAppend(pcm []byte) InputAudioBufferAppend {
	return InputAudioBufferAppend{
		Type:     TypeInputAudioBufferAppend,
		AudioB64: base64.StdEncoding.EncodeToString(pcm),
	}
}

// InputAudioBufferClear discards buffered, uncommitted input audio.
type InputAudioBufferClear struct {
	Type string `json:"type"`
}

// NewInputAudioBufferClear builds a clear command.
func NewInputAudioBufferClear() InputAudioBufferClear {
	return InputAudioBufferClear{Type: TypeInputAudioBufferClear}
}

// InputAudioBufferCommit finalizes the buffered input audio as a user turn.
type InputAudioBufferCommit struct {
	Type string `json:"type"`
}

// NewInputAudioBufferCommit builds a commit command.
func NewInputAudioBufferCommit() InputAudioBufferCommit {
	return InputAudioBufferCommit{Type: TypeInputAudioBufferCommit}
}

// ResponseOptions tunes a single response request.
type ResponseOptions struct {
	MaxResponseTokens int      `json:"max_response_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
}

// ResponseCreate requests a model response for the committed input.
type ResponseCreate struct {
	Type     string           `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

// NewResponseCreate builds a response.create command.
func NewResponseCreate(opts *ResponseOptions) ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate, Response: opts}
}

// ResponseCancel aborts the in-flight model response, if any.
type ResponseCancel struct {
	Type string `json:"type"`
}

// NewResponseCancel builds a response.cancel command.
func NewResponseCancel() ResponseCancel {
	return ResponseCancel{Type: TypeResponseCancel}
}

// Encode marshals an outbound command frame.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode protocol frame: %w", err)
	}
	return data, nil
}

// ServerFrame is the tagged union of all inbound protocol frames.
type ServerFrame interface {
	frameType() string
}

// FrameType returns the wire type string of an inbound frame.
func FrameType(f ServerFrame) string {
	if f == nil {
		return ""
	}
	return f.frameType()
}

type SessionCreated struct {
	Session SessionInfo `json:"session"`
}

func (SessionCreated) frameType() string { return TypeSessionCreated }

type SessionUpdated struct {
	Session SessionInfo `json:"session"`
}

func (SessionUpdated) frameType() string { return TypeSessionUpdated }

type SpeechStarted struct {
	ItemID       string `json:"item_id"`
	AudioStartMS int64  `json:"audio_start_ms,omitempty"`
}

func (SpeechStarted) frameType() string { return TypeSpeechStarted }

type SpeechStopped struct {
	ItemID     string `json:"item_id"`
	AudioEndMS int64  `json:"audio_end_ms,omitempty"`
}

func (SpeechStopped) frameType() string { return TypeSpeechStopped }

type TranscriptionDelta struct {
	ItemID string `json:"item_id"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text"`
}

func (TranscriptionDelta) frameType() string { return TypeTranscriptionDelta }

type TranscriptionCompleted struct {
	ItemID string `json:"item_id"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text"`
}

func (TranscriptionCompleted) frameType() string { return TypeTranscriptionCompleted }

type ResponseCreated struct {
	ResponseID string `json:"response_id"`
}

func (ResponseCreated) frameType() string { return TypeResponseCreated }

type ResponseDone struct {
	ResponseID string `json:"response_id"`
}

func (ResponseDone) frameType() string { return TypeResponseDone }

type ResponseTextDelta struct {
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

func (ResponseTextDelta) frameType() string { return TypeResponseTextDelta }

type ResponseTextDone struct {
	ResponseID string `json:"response_id,omitempty"`
	Text       string `json:"text"`
}

func (ResponseTextDone) frameType() string { return TypeResponseTextDone }

// ResponseAudioDelta carries a base64 PCM chunk of synthesized speech.
type ResponseAudioDelta struct {
	ResponseID string `json:"response_id,omitempty"`
	AudioB64   string `json:"delta"`
}

func (ResponseAudioDelta) frameType() string { return TypeResponseAudioDelta }

// Audio decodes the PCM payload.
func (f ResponseAudioDelta) Audio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.AudioB64)
	if err != nil {
		return nil, &DecodeError{FrameType: TypeResponseAudioDelta, Message: "invalid base64 audio payload"}
	}
	return data, nil
}

type OrderItemDetected struct {
	Item OrderItem `json:"item"`
}

func (OrderItemDetected) frameType() string { return TypeOrderItemDetected }

// OrderConfirmation is a model-issued "confirm order" intent.
type OrderConfirmation struct {
	Action string      `json:"action"` // checkout | review | cancel
	Items  []OrderItem `json:"items,omitempty"`
}

func (OrderConfirmation) frameType() string { return TypeOrderConfirmation }

type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorFrame) frameType() string { return TypeError }

// UnknownFrame preserves frames with an unrecognized type so callers can
// log them instead of silently dropping them.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (f UnknownFrame) frameType() string { return f.Type }

// Decode parses a raw inbound frame into its typed representation.
func Decode(data []byte) (ServerFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Message: "frame is not valid JSON"}
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, &DecodeError{Message: "frame missing type"}
	}

	switch typ {
	case TypeSessionCreated:
		return decodeAs[SessionCreated](typ, data)
	case TypeSessionUpdated:
		return decodeAs[SessionUpdated](typ, data)
	case TypeSpeechStarted:
		return decodeAs[SpeechStarted](typ, data)
	case TypeSpeechStopped:
		return decodeAs[SpeechStopped](typ, data)
	case TypeTranscriptionDelta:
		return decodeAs[TranscriptionDelta](typ, data)
	case TypeTranscriptionCompleted:
		return decodeAs[TranscriptionCompleted](typ, data)
	case TypeResponseCreated:
		return decodeAs[ResponseCreated](typ, data)
	case TypeResponseDone:
		return decodeAs[ResponseDone](typ, data)
	case TypeResponseTextDelta:
		return decodeAs[ResponseTextDelta](typ, data)
	case TypeResponseTextDone:
		return decodeAs[ResponseTextDone](typ, data)
	case TypeResponseAudioDelta:
		return decodeAs[ResponseAudioDelta](typ, data)
	case TypeOrderItemDetected:
		return decodeAs[OrderItemDetected](typ, data)
	case TypeOrderConfirmation:
		return decodeAs[OrderConfirmation](typ, data)
	case TypeError:
		return decodeAs[ErrorFrame](typ, data)
	default:
		return UnknownFrame{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeAs[T ServerFrame](typ string, data []byte) (ServerFrame, error) {
	var frame T
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &DecodeError{FrameType: typ, Message: "malformed frame payload"}
	}
	return frame, nil
}
