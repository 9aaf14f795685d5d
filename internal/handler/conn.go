package handler

import (
	"encoding/binary"
	"log"
	"math"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// wsConn serializes writes to one websocket connection. Fiber's websocket
// conn does not allow concurrent writers, and the state feed, the capture
// callbacks and the playback sink all write from their own goroutines.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c}
}

func (w *wsConn) sendJSON(v any) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return
	}
	if err := w.conn.WriteJSON(v); err != nil {
		log.Printf("[RoomWS] Failed to write frame: %v", err)
	}
}

func (w *wsConn) sendBinary(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return nil
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) sendError(code, message string) {
	w.sendJSON(errorFrame{Type: "error", Code: code, Message: message})
}

// markClosed stops further writes. The read loop calls this before the
// underlying conn is closed so concurrent senders go quiet.
func (w *wsConn) markClosed() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.closed = true
}

// encodeSamples packs float32 samples as little-endian bytes for a binary
// audio frame.
func encodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
