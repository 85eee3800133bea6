// Package quic carries chain transfers over QUIC. Every stream of a
// connection carries protocol frames; a sender spreads its batches over
// several streams.
package quic

import (
	"context"
	"io"
	"net"

	q "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Listener struct {
	inner *q.Listener
}

func Listen(addr string) (*Listener, error) {
	tlsConf, err := NewTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, &q.Config{})
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (*q.Conn, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string) (*q.Conn, error) {
	tlsConf, err := NewTLSConfig()
	if err != nil {
		return nil, err
	}
	return q.DialAddr(ctx, addr, tlsConf, &q.Config{})
}

// Opener opens the streams of a transfer on one connection. It implements
// transfer.StreamOpener.
type Opener struct {
	Conn *q.Conn
}

func (o Opener) OpenStreamSync(ctx context.Context) (io.ReadWriteCloser, error) {
	s, err := o.Conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

const transferFailed q.ApplicationErrorCode = 1

// StreamHandler consumes one incoming stream.
type StreamHandler func(ctx context.Context, r io.Reader) error

// AcceptStreams hands every stream the peer opens on conn to handle, each on
// its own goroutine. Accepting stops once done reports true after a stream
// was handled; AcceptStreams then waits for the remaining handlers. A handler
// error or the end of ctx stops it too.
func AcceptStreams(ctx context.Context, conn *q.Conn, l *logrus.Logger, handle StreamHandler, done func() bool) error {
	acceptCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(acceptCtx)
	g.Go(func() error {
		for {
			s, err := conn.AcceptStream(gctx)
			if err != nil {
				if acceptCtx.Err() != nil && ctx.Err() == nil {
					// stopped because the transfer is complete
					return nil
				}
				return err
			}
			l.WithField("stream", s.StreamID()).Debug("Accepted stream")
			g.Go(func() error {
				defer s.CancelRead(0)
				if err := handle(ctx, s); err != nil {
					// unblock the other handlers
					_ = conn.CloseWithError(transferFailed, err.Error())
					return err
				}
				if done() {
					stop()
				}
				return nil
			})
		}
	})
	return g.Wait()
}
