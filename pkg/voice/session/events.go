package session

import (
	"time"

	"github.com/tablevox/vox-order/pkg/order"
	"github.com/tablevox/vox-order/pkg/voice/audio"
)

// Event is the interface for all semantic session events. Consumers read
// them from Session.Events(); there is no callback registration, so
// consumer churn can never tear the connection down.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionCreatedEvent is emitted when the backend acknowledges the session.
type SessionCreatedEvent struct {
	SessionID string `json:"session_id"`
}

func (e *SessionCreatedEvent) EventType() string { return "session.created" }

// SessionUpdatedEvent is emitted when the backend acknowledges a
// configuration update.
type SessionUpdatedEvent struct{}

func (e *SessionUpdatedEvent) EventType() string { return "session.updated" }

// StateChangedEvent is emitted on every connection-state transition.
type StateChangedEvent struct {
	From ConnectionState `json:"from"`
	To   ConnectionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptEvent carries a partial or final transcript update.
type TranscriptEvent struct {
	ItemID string `json:"item_id"`
	Role   string `json:"role"`
	Text   string `json:"text"`
	Final  bool   `json:"final"`
}

func (e *TranscriptEvent) EventType() string { return "transcript" }

// SpeechStartedEvent is emitted when the backend detects speech onset.
type SpeechStartedEvent struct {
	ItemID string `json:"item_id"`
}

func (e *SpeechStartedEvent) EventType() string { return "speech.started" }

// SpeechStoppedEvent is emitted when the backend detects a speech boundary.
type SpeechStoppedEvent struct {
	ItemID string `json:"item_id"`
}

func (e *SpeechStoppedEvent) EventType() string { return "speech.stopped" }

// ResponseTextDeltaEvent streams the model reply text.
type ResponseTextDeltaEvent struct {
	Delta string `json:"delta"`
}

func (e *ResponseTextDeltaEvent) EventType() string { return "response.text.delta" }

// ResponseTextDoneEvent carries the complete model reply text.
type ResponseTextDoneEvent struct {
	Text string `json:"text"`
}

func (e *ResponseTextDoneEvent) EventType() string { return "response.text.done" }

// AudioDeltaEvent carries a chunk of synthesized speech for playback.
type AudioDeltaEvent struct {
	Data []byte `json:"-"`
}

func (e *AudioDeltaEvent) EventType() string { return "audio.delta" }

// OrderItemDetectedEvent is emitted when the model recognizes a menu item.
type OrderItemDetectedEvent struct {
	Item order.Item `json:"item"`
}

func (e *OrderItemDetectedEvent) EventType() string { return "order.item_detected" }

// OrderConfirmationEvent is emitted when the model issues a confirmation
// intent, before the bridge acts on it.
type OrderConfirmationEvent struct {
	Action    order.Action `json:"action"`
	Timestamp time.Time    `json:"timestamp"`
}

func (e *OrderConfirmationEvent) EventType() string { return "order.confirmation" }

// OrderSubmittedEvent acknowledges a successful checkout.
type OrderSubmittedEvent struct {
	OrderID string `json:"order_id"`
}

func (e *OrderSubmittedEvent) EventType() string { return "order.submitted" }

// OrderSummaryEvent reports the cart summary for a review intent.
type OrderSummaryEvent struct {
	Summary order.Summary `json:"summary"`
}

func (e *OrderSummaryEvent) EventType() string { return "order.summary" }

// CartClearedEvent acknowledges a cancel intent.
type CartClearedEvent struct{}

func (e *CartClearedEvent) EventType() string { return "order.cart_cleared" }

// OrderFailedEvent reports a failed bridge call. Retryable failures are
// surfaced, never silently dropped.
type OrderFailedEvent struct {
	Action    order.Action `json:"action"`
	Err       error        `json:"-"`
	Retryable bool         `json:"retryable"`
}

func (e *OrderFailedEvent) EventType() string { return "order.failed" }

// VADLevelEvent carries per-frame voice-activity feedback for the UI.
type VADLevelEvent struct {
	Level audio.Level `json:"level"`
}

func (e *VADLevelEvent) EventType() string { return "vad.level" }

// InterruptedEvent is emitted on user barge-in during playback.
type InterruptedEvent struct{}

func (e *InterruptedEvent) EventType() string { return "interrupted" }

// ReconnectingEvent is emitted before each reconnect attempt.
type ReconnectingEvent struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

func (e *ReconnectingEvent) EventType() string { return "reconnecting" }

// ReconnectedEvent is emitted after a successful reconnection.
type ReconnectedEvent struct {
	Attempts int `json:"attempts"`
}

func (e *ReconnectedEvent) EventType() string { return "reconnected" }

// ErrorEvent reports a session error. Terminal errors require explicit
// user action (for example a reconnect); transient ones are informational.
type ErrorEvent struct {
	Err      error `json:"-"`
	Terminal bool  `json:"terminal"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// ClosedEvent is the last event of a session.
type ClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *ClosedEvent) EventType() string { return "closed" }
