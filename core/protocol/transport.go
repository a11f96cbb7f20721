package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-speech/core/events"
)

const (
	writeWait = 10 * time.Second
	// Synthesized audio arrives in frames of a few kilobytes; this leaves
	// plenty of headroom.
	defaultReadLimit = 4 << 20
)

// Transport is a message-oriented connection. WriteMessage may be called
// concurrently with ReadMessage; Close unblocks a pending read.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error)
}

// WebsocketDialer dials websocket transports.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (d WebsocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = DefaultConnectTimeout
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("failed to open websocket: %w: %s", events.ErrAuth, resp.Status)
			}
			return nil, fmt.Errorf("failed to open websocket: %w: %s: %w", events.ErrConnection, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to open websocket: %w: %w", events.ErrConnection, err)
	}

	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	return &websocketTransport{conn: conn}, nil
}

type websocketTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *websocketTransport) ReadMessage() (int, []byte, error) {
	return t.conn.ReadMessage()
}

func (t *websocketTransport) WriteMessage(messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(messageType, data)
}

// Close sends a normal closure before closing the socket.
func (t *websocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := t.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(writeWait))
		t.writeMu.Unlock()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
		t.closeErr = errors.Join(err, t.conn.Close())
	})
	return t.closeErr
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
