package session

import (
	"log/slog"
	"time"

	"github.com/tablevox/vox-order/pkg/metrics"
	"github.com/tablevox/vox-order/pkg/order"
	"github.com/tablevox/vox-order/pkg/voice/protocol"
)

// ActiveResponse tracks the single in-flight model response. Its presence
// is what makes speculative response.create / response.cancel calls safe.
type ActiveResponse struct {
	ID        string
	StartedAt time.Time
}

// TranscriptEntry accumulates transcript text for one conversation item.
// Finalized at most once per item id.
type TranscriptEntry struct {
	ItemID string
	Role   string
	Text   string
	Final  bool
}

// transcriptDedupWindow is the timing key for the secondary duplicate
// defense: a finalized transcript identical to the previous one inside
// this window is treated as a backend re-emission under a new item id.
const transcriptDedupWindow = 1500 * time.Millisecond

// Handler normalizes inbound protocol frames into semantic events. It is
// the sole owner of ActiveResponse and TranscriptEntry state; all mutation
// happens here, on the session's run loop, in frame receipt order, so no
// locking is needed.
type Handler struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	emit    func(Event)
	now     func() time.Time

	active      *ActiveResponse
	transcripts map[string]*TranscriptEntry

	lastFinalText string
	lastFinalAt   time.Time
}

// NewHandler creates a handler that emits semantic events through emit.
func NewHandler(emit func(Event), m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Handler{
		logger:      logger,
		metrics:     m,
		emit:        emit,
		now:         time.Now,
		transcripts: make(map[string]*TranscriptEntry),
	}
}

// HandleFrame processes one inbound frame.
func (h *Handler) HandleFrame(frame protocol.ServerFrame) {
	if h.metrics != nil {
		h.metrics.FramesTotal.WithLabelValues(protocol.FrameType(frame)).Inc()
	}

	switch f := frame.(type) {
	case protocol.SessionCreated:
		h.emit(&SessionCreatedEvent{SessionID: f.Session.ID})
	case protocol.SessionUpdated:
		h.emit(&SessionUpdatedEvent{})
	case protocol.SpeechStarted:
		h.emit(&SpeechStartedEvent{ItemID: f.ItemID})
	case protocol.SpeechStopped:
		h.emit(&SpeechStoppedEvent{ItemID: f.ItemID})
	case protocol.TranscriptionDelta:
		h.applyTranscriptDelta(f)
	case protocol.TranscriptionCompleted:
		h.finalizeTranscript(f)
	case protocol.ResponseCreated:
		h.noteResponseCreated(f.ResponseID)
	case protocol.ResponseDone:
		// Unconditional: even an unexpected done must not leave a stale
		// in-flight marker blocking the next turn.
		h.active = nil
	case protocol.ResponseTextDelta:
		h.emit(&ResponseTextDeltaEvent{Delta: f.Delta})
	case protocol.ResponseTextDone:
		h.emit(&ResponseTextDoneEvent{Text: f.Text})
	case protocol.ResponseAudioDelta:
		pcm, err := f.Audio()
		if err != nil {
			h.logger.Warn("drop undecodable audio frame", "error", err)
			return
		}
		h.emit(&AudioDeltaEvent{Data: pcm})
	case protocol.OrderItemDetected:
		h.emit(&OrderItemDetectedEvent{Item: order.Item{
			Name:      f.Item.Name,
			Quantity:  f.Item.Quantity,
			Price:     f.Item.Price,
			Modifiers: f.Item.Modifiers,
		}})
	case protocol.OrderConfirmation:
		h.emit(&OrderConfirmationEvent{
			Action:    order.Action(f.Action),
			Timestamp: h.now(),
		})
	case protocol.ErrorFrame:
		if h.metrics != nil {
			h.metrics.ProtocolErrorsTotal.WithLabelValues(f.Code).Inc()
		}
		h.logger.Warn("protocol error frame", "code", f.Code, "message", f.Message)
	case protocol.UnknownFrame:
		if h.metrics != nil {
			h.metrics.UnknownFramesTotal.Inc()
		}
		h.logger.Warn("unhandled frame type", "type", f.Type)
	}
}

func (h *Handler) applyTranscriptDelta(f protocol.TranscriptionDelta) {
	entry := h.ensureEntry(f.ItemID, f.Role)
	if entry.Final {
		h.logger.Debug("drop transcript delta after finalization", "item_id", f.ItemID)
		return
	}
	entry.Text += f.Text
	h.emit(&TranscriptEvent{ItemID: entry.ItemID, Role: entry.Role, Text: entry.Text, Final: false})
}

// finalizeTranscript applies the single-finalization rule: a second
// finalization for the same item id is logged and dropped, not re-emitted.
// A secondary timing key catches the backend emitting a second item id for
// the same utterance.
func (h *Handler) finalizeTranscript(f protocol.TranscriptionCompleted) {
	entry := h.ensureEntry(f.ItemID, f.Role)
	if entry.Final {
		h.logger.Warn("duplicate transcript finalization dropped", "item_id", f.ItemID)
		if h.metrics != nil {
			h.metrics.DuplicateFinalsDropped.Inc()
		}
		return
	}

	text := f.Text
	if text == "" {
		text = entry.Text
	}
	now := h.now()
	if text != "" && text == h.lastFinalText && now.Sub(h.lastFinalAt) < transcriptDedupWindow {
		h.logger.Warn("duplicate transcript dropped by timing key",
			"item_id", f.ItemID, "window_ms", transcriptDedupWindow.Milliseconds())
		if h.metrics != nil {
			h.metrics.DuplicateFinalsDropped.Inc()
		}
		entry.Final = true // absorb the re-emission under its new id too
		return
	}

	entry.Text = text
	entry.Final = true
	h.lastFinalText = text
	h.lastFinalAt = now
	h.emit(&TranscriptEvent{ItemID: entry.ItemID, Role: entry.Role, Text: entry.Text, Final: true})
}

func (h *Handler) ensureEntry(itemID, role string) *TranscriptEntry {
	if entry, ok := h.transcripts[itemID]; ok {
		return entry
	}
	if role == "" {
		role = "user"
	}
	entry := &TranscriptEntry{ItemID: itemID, Role: role}
	h.transcripts[itemID] = entry
	return entry
}

func (h *Handler) noteResponseCreated(responseID string) {
	if h.active == nil {
		// Server-initiated response; track it so cancel works.
		h.active = &ActiveResponse{StartedAt: h.now()}
	}
	h.active.ID = responseID
}

// BeginResponse claims the single response slot. Returns false when a
// response is already in flight, in which case the caller must not issue
// response.create. The slot is claimed at issue time, before the backend echoes an
// id, so a racing second request can never slip through.
func (h *Handler) BeginResponse() bool {
	if h.active != nil {
		if h.metrics != nil {
			h.metrics.ResponseCreateSuppressed.Inc()
		}
		h.logger.Debug("response.create suppressed; response already in flight")
		return false
	}
	h.active = &ActiveResponse{StartedAt: h.now()}
	return true
}

// AbortResponse releases a slot claimed by BeginResponse when the
// response.create request never reached the wire.
func (h *Handler) AbortResponse() {
	h.active = nil
}

// CancelResponse reports whether a cancel should be sent. With no response
// in flight it is a no-op, never an error. The slot itself is cleared by
// the backend's response.done.
func (h *Handler) CancelResponse() bool {
	if h.active == nil {
		if h.metrics != nil {
			h.metrics.ResponseCancelNoops.Inc()
		}
		return false
	}
	return true
}

// Active returns the in-flight response, or nil.
func (h *Handler) Active() *ActiveResponse {
	return h.active
}

// Transcript returns the entry for an item id, or nil.
func (h *Handler) Transcript(itemID string) *TranscriptEntry {
	return h.transcripts[itemID]
}

// Reset clears all per-connection state. Called on disconnect and before a
// reconnect: server-side state does not survive the gap.
func (h *Handler) Reset() {
	h.active = nil
	h.transcripts = make(map[string]*TranscriptEntry)
	h.lastFinalText = ""
	h.lastFinalAt = time.Time{}
}
