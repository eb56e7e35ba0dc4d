package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn wraps *websocket.Conn and serializes writes; gorilla panics on
// concurrent writers.
type conn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
}

var errConnClosed = errors.New("realtime: websocket connection is closed")

func (cw *conn) writeFrame(f *Frame, timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return errConnClosed
	}
	b, err := f.Marshal()
	if err != nil {
		return err
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()
	if timeout > 0 {
		_ = cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteMessage(websocket.TextMessage, b)
}

func (cw *conn) writePing(timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return errConnClosed
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()
	if timeout > 0 {
		_ = cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteMessage(websocket.PingMessage, nil)
}

// closeWith sends a close control frame (best effort) and closes the socket.
func (cw *conn) closeWith(code int, text string, timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return nil
	}
	_ = cw.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(timeout))
	return cw.c.Close()
}
