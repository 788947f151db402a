package relay

import (
	"sync"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/gorilla/websocket"
)

// peerConn wraps one websocket connection with the envelope codec and a
// write lock, since writes can come from several routing goroutines.
type peerConn struct {
	ws    *websocket.Conn
	codec *api.Codec

	writeLock sync.Mutex
}

func newPeerConn(ws *websocket.Conn, codec *api.Codec) *peerConn {
	return &peerConn{
		ws:    ws,
		codec: codec,
	}
}

func (conn *peerConn) readEnvelope() (*api.Envelope, error) {
	_, frame, err := conn.ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	return conn.codec.Unmarshal(frame)
}

func (conn *peerConn) writeEnvelope(envelope *api.Envelope) error {
	frame, err := conn.codec.Marshal(envelope)
	if err != nil {
		return err
	}

	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()

	return conn.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (conn *peerConn) close() {
	if conn == nil || conn.ws == nil {
		return
	}

	_ = conn.ws.Close()
}
