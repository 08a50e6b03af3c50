package transport

import (
	"context"
	"time"

	"relaymesh/internal/domain"
)

// Conn is one established relay connection.
//
// ReadFrame must only be called from a single goroutine. WriteFrame and Ping
// may be called concurrently with ReadFrame and with each other.
type Conn interface {
	ReadFrame() (domain.Frame, error)
	WriteFrame(ctx context.Context, f domain.Frame) error
	Ping(ctx context.Context) error
	// SetPongHandler registers h to run, on the reading goroutine, whenever
	// a ping is answered. Call it before the first ReadFrame.
	SetPongHandler(h func())
	Close() error
}

// Dialer opens connections to relay URLs.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

const defaultControlTimeout = 10 * time.Second

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(fallback)
}
