package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/orbit-social/backend/internal/events"
)

// TestWritePump_RemovesClientOnWriteError verifies that when writePump
// encounters a write error it removes the dead client from the hub.
func TestWritePump_RemovesClientOnWriteError(t *testing.T) {
	h := NewHub(0, discardLogger())
	c, _ := newTestClient(t, h, 8)
	if err := h.Add(c); err != nil {
		t.Fatal(err)
	}

	// Close the connection so any write attempt will immediately fail.
	c.conn.Close()

	if !c.Send(events.Envelope{Type: events.MsgError}) {
		t.Fatal("Send should queue while the buffer has room")
	}

	// Start writePump now: it reads the queued frame, the write fails on the
	// closed connection, and the client is removed.
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", h.ClientCount())
}

func TestSendDropsAndClosesSlowClient(t *testing.T) {
	h := NewHub(0, discardLogger())
	c, _ := newTestClient(t, h, 2)

	// No write pump: the buffer fills up.
	for i := 0; i < 2; i++ {
		if !c.Send(events.Envelope{Type: events.MsgError, Seq: uint64(i)}) {
			t.Fatalf("Send[%d] should fit in the buffer", i)
		}
	}
	if c.Send(events.Envelope{Type: events.MsgError}) {
		t.Fatal("Send on a full buffer should report a drop")
	}
	if c.Send(events.Envelope{Type: events.MsgError}) {
		t.Fatal("a slow client stays closed")
	}
}

func TestWritePumpDeliversFrames(t *testing.T) {
	h := NewHub(0, discardLogger())
	c, peer := newTestClient(t, h, 8)
	go c.writePump()

	c.Send(events.Envelope{Type: events.MsgStatusChanged, Seq: 7, Payload: events.StatusPayload{UserID: "u1", Online: true}})

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Type    events.Type          `json:"type"`
		Seq     uint64               `json:"seq"`
		Payload events.StatusPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != events.MsgStatusChanged || got.Seq != 7 || got.Payload.UserID != "u1" || !got.Payload.Online {
		t.Errorf("frame = %+v", got)
	}

	// Closing the client makes the pump send a close frame.
	c.close()
	if _, _, err := peer.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}
