package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/TheusHen/sgl/sgl/protocol"
	"golang.org/x/sync/errgroup"
)

var ErrPoolClosed = errors.New("transfer: stream pool closed")

// StreamOpener opens new streams to the peer.
type StreamOpener interface {
	OpenStreamSync(ctx context.Context) (io.ReadWriteCloser, error)
}

// StreamPool keeps up to maxSize streams open and hands them out one
// goroutine at a time.
type StreamPool struct {
	opener  StreamOpener
	maxSize int
	streams chan io.ReadWriteCloser

	mu      sync.Mutex
	closed  atomic.Bool
	created atomic.Int32
}

// NewStreamPool creates a pool that can manage up to maxSize concurrent streams.
func NewStreamPool(opener StreamOpener, maxSize int) *StreamPool {
	if maxSize <= 0 {
		maxSize = 8
	}
	return &StreamPool{
		opener:  opener,
		maxSize: maxSize,
		streams: make(chan io.ReadWriteCloser, maxSize),
	}
}

// Acquire gets a stream from the pool, opens a new one while under the
// limit, or waits for one to be released.
func (p *StreamPool) Acquire(ctx context.Context) (io.ReadWriteCloser, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	select {
	case s, ok := <-p.streams:
		if !ok {
			return nil, ErrPoolClosed
		}
		return s, nil
	default:
	}

	p.mu.Lock()
	if int(p.created.Load()) < p.maxSize {
		p.created.Add(1)
		p.mu.Unlock()
		s, err := p.opener.OpenStreamSync(ctx)
		if err != nil {
			p.created.Add(-1)
			return nil, err
		}
		return s, nil
	}
	p.mu.Unlock()

	select {
	case s, ok := <-p.streams:
		if !ok {
			return nil, ErrPoolClosed
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a stream to the pool for reuse.
func (p *StreamPool) Release(s io.ReadWriteCloser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		_ = s.Close()
		return
	}
	select {
	case p.streams <- s:
	default:
		_ = s.Close()
		p.created.Add(-1)
	}
}

// Discard closes a stream that failed and frees its slot.
func (p *StreamPool) Discard(s io.ReadWriteCloser) {
	_ = s.Close()
	p.created.Add(-1)
}

// Close closes all streams in the pool.
func (p *StreamPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Swap(true) {
		return nil
	}
	close(p.streams)
	for s := range p.streams {
		_ = s.Close()
	}
	return nil
}

// Size returns the current number of idle pooled streams.
func (p *StreamPool) Size() int {
	return len(p.streams)
}

// Created returns the number of streams currently open.
func (p *StreamPool) Created() int {
	return int(p.created.Load())
}

// ParallelWriter writes frames over the streams of a pool with a bounded
// number of concurrent workers. The first failure cancels the rest.
type ParallelWriter struct {
	pool *StreamPool
	g    *errgroup.Group
	ctx  context.Context
}

// NewParallelWriter creates a writer running at most workers sends at once.
func NewParallelWriter(ctx context.Context, pool *StreamPool, workers int) *ParallelWriter {
	if workers <= 0 {
		workers = 4
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return &ParallelWriter{pool: pool, g: g, ctx: ctx}
}

// Send queues f for transmission. It blocks while all workers are busy.
func (pw *ParallelWriter) Send(f protocol.Frame) {
	pw.g.Go(func() error {
		return pw.write(f)
	})
}

func (pw *ParallelWriter) write(f protocol.Frame) error {
	if err := pw.ctx.Err(); err != nil {
		return err
	}
	s, err := pw.pool.Acquire(pw.ctx)
	if err != nil {
		return err
	}
	if err := protocol.WriteFrame(s, f); err != nil {
		pw.pool.Discard(s)
		return err
	}
	pw.pool.Release(s)
	return nil
}

// Wait waits for all queued frames and returns the first error.
func (pw *ParallelWriter) Wait() error {
	return pw.g.Wait()
}
