package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relaymesh/internal/domain"
)

// MaxFrameSize bounds a single inbound websocket message.
const MaxFrameSize = 1 << 20

// WebsocketDialer dials ws:// and wss:// relays.
type WebsocketDialer struct {
	Dialer *websocket.Dialer // nil uses websocket.DefaultDialer
	Header http.Header
}

// Dial opens a websocket to url. The context bounds the handshake only.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	ws, resp, err := wd.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewWebsocketConn(ws), nil
}

type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebsocketConn wraps an established websocket, client or server side.
func NewWebsocketConn(ws *websocket.Conn) Conn {
	ws.SetReadLimit(MaxFrameSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadFrame() (domain.Frame, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return domain.Frame{}, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return DecodeFrame(data)
	}
}

func (c *wsConn) WriteFrame(ctx context.Context, f domain.Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline(ctx, defaultControlTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline(ctx, defaultControlTimeout))
}

func (c *wsConn) SetPongHandler(h func()) {
	c.ws.SetPongHandler(func(string) error {
		h()
		return nil
	})
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
