package transport

import (
	"context"
	"io"
	"net"
	"sync"

	"relaymesh/internal/domain"
)

// pipeBuffer is how many messages may be in flight in each direction before
// writers block.
const pipeBuffer = 64

type pipeKind uint8

const (
	pipeData pipeKind = iota
	pipePing
	pipePong
)

type pipeMsg struct {
	kind pipeKind
	data []byte
}

type pipeConn struct {
	in  <-chan pipeMsg
	out chan<- pipeMsg

	closed     chan struct{}
	peerClosed <-chan struct{}
	closeOnce  sync.Once

	pongMu sync.Mutex
	onPong func()
}

// Pipe returns two connected in-memory Conns. Frames are encoded and decoded
// exactly as on a websocket, and pings are answered while the peer reads.
func Pipe() (Conn, Conn) {
	ab := make(chan pipeMsg, pipeBuffer)
	ba := make(chan pipeMsg, pipeBuffer)
	a := &pipeConn{in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeConn{in: ab, out: ba, closed: make(chan struct{})}
	a.peerClosed = b.closed
	b.peerClosed = a.closed
	return a, b
}

func (p *pipeConn) ReadFrame() (domain.Frame, error) {
	for {
		var m pipeMsg
		select {
		case m = <-p.in:
		default:
			select {
			case m = <-p.in:
			case <-p.closed:
				return domain.Frame{}, net.ErrClosed
			case <-p.peerClosed:
				return domain.Frame{}, io.EOF
			}
		}
		switch m.kind {
		case pipeData:
			return DecodeFrame(m.data)
		case pipePing:
			select {
			case p.out <- pipeMsg{kind: pipePong}:
			default:
			}
		case pipePong:
			p.pongMu.Lock()
			h := p.onPong
			p.pongMu.Unlock()
			if h != nil {
				h()
			}
		}
	}
}

func (p *pipeConn) WriteFrame(ctx context.Context, f domain.Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return p.send(ctx, pipeMsg{kind: pipeData, data: b})
}

func (p *pipeConn) Ping(ctx context.Context) error {
	return p.send(ctx, pipeMsg{kind: pipePing})
}

func (p *pipeConn) send(ctx context.Context, m pipeMsg) error {
	select {
	case <-p.closed:
		return net.ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return net.ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	}
}

func (p *pipeConn) SetPongHandler(h func()) {
	p.pongMu.Lock()
	p.onPong = h
	p.pongMu.Unlock()
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
