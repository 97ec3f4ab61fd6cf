package session

import (
	"testing"
	"time"

	"github.com/tablevox/vox-order/pkg/voice/protocol"
)

func newTestHandler() (*Handler, *[]Event) {
	events := &[]Event{}
	h := NewHandler(func(ev Event) { *events = append(*events, ev) }, nil, nil)
	return h, events
}

func transcriptEvents(events []Event) []*TranscriptEvent {
	var out []*TranscriptEvent
	for _, ev := range events {
		if te, ok := ev.(*TranscriptEvent); ok {
			out = append(out, te)
		}
	}
	return out
}

func TestHandlerAccumulatesTranscriptDeltas(t *testing.T) {
	h, events := newTestHandler()

	h.HandleFrame(protocol.TranscriptionDelta{ItemID: "item_1", Role: "user", Text: "two "})
	h.HandleFrame(protocol.TranscriptionDelta{ItemID: "item_1", Text: "burgers"})
	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_1", Text: "two burgers"})

	ts := transcriptEvents(*events)
	if len(ts) != 3 {
		t.Fatalf("transcript events = %d, want 3", len(ts))
	}
	if ts[1].Text != "two burgers" || ts[1].Final {
		t.Fatalf("partial = %+v", ts[1])
	}
	final := ts[2]
	if !final.Final || final.Text != "two burgers" || final.Role != "user" {
		t.Fatalf("final = %+v", final)
	}
}

func TestHandlerSingleFinalizationPerItem(t *testing.T) {
	h, events := newTestHandler()

	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_1", Text: "a burger"})
	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_1", Text: "a burger"})

	if got := len(transcriptEvents(*events)); got != 1 {
		t.Fatalf("final transcript events = %d, want 1", got)
	}
	// A delta after finalization is dropped too.
	h.HandleFrame(protocol.TranscriptionDelta{ItemID: "item_1", Text: " extra"})
	if got := len(transcriptEvents(*events)); got != 1 {
		t.Fatalf("events after late delta = %d, want 1", got)
	}
}

func TestHandlerTimingDedupAcrossItemIDs(t *testing.T) {
	h, events := newTestHandler()
	base := time.Now()
	h.now = func() time.Time { return base }

	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_1", Text: "a burger"})
	// Backend re-emits the same utterance under a fresh item id 100ms later.
	h.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_2", Text: "a burger"})

	if got := len(transcriptEvents(*events)); got != 1 {
		t.Fatalf("final transcript events = %d, want 1", got)
	}

	// Outside the window the same text is a genuine repeat order.
	h.now = func() time.Time { return base.Add(3 * time.Second) }
	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_3", Text: "a burger"})
	if got := len(transcriptEvents(*events)); got != 2 {
		t.Fatalf("final transcript events = %d, want 2", got)
	}
}

func TestHandlerResponseSingleFlight(t *testing.T) {
	h, _ := newTestHandler()

	if !h.BeginResponse() {
		t.Fatal("first BeginResponse must succeed")
	}
	if h.BeginResponse() {
		t.Fatal("second BeginResponse must be suppressed")
	}

	h.HandleFrame(protocol.ResponseCreated{ResponseID: "resp_1"})
	if h.Active() == nil || h.Active().ID != "resp_1" {
		t.Fatalf("active = %+v", h.Active())
	}

	h.HandleFrame(protocol.ResponseDone{ResponseID: "resp_1"})
	if h.Active() != nil {
		t.Fatal("response.done must clear the slot")
	}
	if !h.BeginResponse() {
		t.Fatal("slot must be reusable after done")
	}
}

func TestHandlerAbortReleasesSlot(t *testing.T) {
	h, _ := newTestHandler()

	if !h.BeginResponse() {
		t.Fatal("first BeginResponse must succeed")
	}

	// A failed response.create send gives the backend nothing to answer,
	// so no response.done will arrive to clear the slot.
	h.AbortResponse()
	if h.Active() != nil {
		t.Fatal("abort must release the slot")
	}
	if !h.BeginResponse() {
		t.Fatal("slot must be reusable after abort")
	}
}

func TestHandlerCancelIsNoopWhenIdle(t *testing.T) {
	h, _ := newTestHandler()
	if h.CancelResponse() {
		t.Fatal("cancel with no response in flight must be a no-op")
	}
	h.BeginResponse()
	if !h.CancelResponse() {
		t.Fatal("cancel with a response in flight must send")
	}
}

func TestHandlerServerInitiatedResponse(t *testing.T) {
	h, _ := newTestHandler()
	h.HandleFrame(protocol.ResponseCreated{ResponseID: "resp_srv"})
	if h.Active() == nil || h.Active().ID != "resp_srv" {
		t.Fatalf("active = %+v", h.Active())
	}
	if h.BeginResponse() {
		t.Fatal("server-initiated response must block a client one")
	}
}

func TestHandlerUnexpectedDoneIsHarmless(t *testing.T) {
	h, _ := newTestHandler()
	h.HandleFrame(protocol.ResponseDone{ResponseID: "resp_ghost"})
	if h.Active() != nil {
		t.Fatal("slot must stay empty")
	}
}

func TestHandlerReset(t *testing.T) {
	h, events := newTestHandler()
	h.BeginResponse()
	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_1", Text: "a burger"})
	h.Reset()

	if h.Active() != nil {
		t.Fatal("Reset must clear the active response")
	}
	if h.Transcript("item_1") != nil {
		t.Fatal("Reset must clear transcripts")
	}
	// Post-reconnect, the same text under the same id is fresh state.
	h.HandleFrame(protocol.TranscriptionCompleted{ItemID: "item_1", Text: "a burger"})
	ts := transcriptEvents(*events)
	if len(ts) != 2 || !ts[1].Final {
		t.Fatalf("events after reset = %+v", ts)
	}
}

func TestHandlerAudioDelta(t *testing.T) {
	h, events := newTestHandler()
	h.HandleFrame(protocol.ResponseAudioDelta{AudioB64: "AAEC"})

	var audio *AudioDeltaEvent
	for _, ev := range *events {
		if a, ok := ev.(*AudioDeltaEvent); ok {
			audio = a
		}
	}
	if audio == nil || len(audio.Data) != 3 {
		t.Fatalf("audio event = %+v", audio)
	}

	// Undecodable audio is dropped without an event.
	before := len(*events)
	h.HandleFrame(protocol.ResponseAudioDelta{AudioB64: "!bad!"})
	if len(*events) != before {
		t.Fatal("bad audio payload must not emit")
	}
}
