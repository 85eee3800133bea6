package sgl

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheusHen/sgl/sgl/chain"
	"github.com/TheusHen/sgl/sgl/config"
	"github.com/TheusHen/sgl/sgl/physmem"
	"github.com/TheusHen/sgl/sgl/transfer"
	"github.com/TheusHen/sgl/sgl/transfer/erasure"
	"github.com/TheusHen/sgl/sgl/transport/quic"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotListening     = errors.New("sgl: mapper is not listening")
	ErrAlreadyListening = errors.New("sgl: mapper is already listening")
	ErrErasureDisabled  = errors.New("sgl: erasure coding is not configured")
	ErrBufferNotMapped  = errors.New("sgl: buffer is not mapped")
)

// Mapper is a high-level helper that owns the simulated memory, the
// descriptor table over it and the transfer settings built from one
// configuration.
type Mapper struct {
	Config config.Config
	Memory *physmem.Memory
	Table  *chain.Table
	Logger *logrus.Logger

	// Secret seals transfers when set. Both ends need the same value.
	Secret []byte

	erasure  *erasure.Codec
	listener *quic.Listener
}

// New creates a mapper from c.
func New(c config.Config) (*Mapper, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	l, err := c.NewLogger()
	if err != nil {
		return nil, err
	}
	tr, err := c.NewTranslator()
	if err != nil {
		return nil, err
	}
	mem, err := physmem.NewMemory(physmem.Ptr(c.Memory.Base), c.Memory.Size, c.PageSize)
	if err != nil {
		return nil, err
	}
	tbl, err := chain.NewTable(mem, tr,
		chain.WithPageSize(c.PageSize),
		chain.WithCapacity(c.Table.Capacity),
		chain.WithLogger(l),
	)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}

	m := &Mapper{Config: c, Memory: mem, Table: tbl, Logger: l}
	if c.Transfer.ErasureData > 0 {
		if m.erasure, err = erasure.NewCodec(c.Transfer.ErasureData, c.Transfer.ErasureParity); err != nil {
			_ = mem.Close()
			return nil, err
		}
	}

	l.WithFields(logrus.Fields{
		"pageSize":   c.PageSize,
		"capacity":   c.Table.Capacity,
		"memory":     physmem.Ptr(c.Memory.Base),
		"memorySize": c.Memory.Size,
		"translator": c.Translator,
	}).Info("Mapper ready")
	return m, nil
}

// Open loads the configuration file at path and creates a mapper from it.
func Open(path string) (*Mapper, error) {
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(c)
}

// Watch re-applies the logging section of the configuration file at path
// whenever it changes, until ctx ends.
func (m *Mapper) Watch(ctx context.Context, path string) error {
	return config.WatchLogging(ctx, path, m.Logger)
}

// Buffer is a region of mapper memory together with the chain describing
// it.
type Buffer struct {
	Region physmem.Region
	Chain  *chain.Chain
}

// Map allocates size bytes starting pageOffset bytes into a page and builds
// the chain that describes them.
func (m *Mapper) Map(size, pageOffset int) (*Buffer, error) {
	if pageOffset < 0 || pageOffset >= m.Config.PageSize {
		return nil, fmt.Errorf("%w: page offset %d", chain.ErrInvalidArgument, pageOffset)
	}
	r, err := m.Memory.Alloc(pageOffset + size)
	if err != nil {
		return nil, err
	}
	c, err := m.Table.Build(r.Ptr+physmem.Ptr(pageOffset), size)
	if err != nil {
		_ = m.Memory.Free(r.Ptr)
		return nil, err
	}
	return &Buffer{Region: r, Chain: c}, nil
}

// Unmap destroys the chain of b and frees its memory.
func (m *Mapper) Unmap(b *Buffer) error {
	if b == nil || b.Chain == nil {
		return ErrBufferNotMapped
	}
	b.Chain.Destroy()
	b.Chain = nil
	return m.Memory.Free(b.Region.Ptr)
}

// TransferConfig returns the transfer settings of the mapper. Transfer
// counters share the registry of the table.
func (m *Mapper) TransferConfig() (transfer.TransferConfig, error) {
	tc, err := transfer.ConfigFrom(m.Config.Transfer, m.Logger)
	if err != nil {
		return tc, err
	}
	tc.Secret = m.Secret
	tc.Metrics = m.Table.Metrics()
	return tc, nil
}

// Send transfers the bytes described by src to the mapper listening at
// addr and returns the Merkle root of the transfer. It returns once the
// peer has received everything.
func (m *Mapper) Send(ctx context.Context, addr string, src *chain.Chain) ([]byte, error) {
	tc, err := m.TransferConfig()
	if err != nil {
		return nil, err
	}
	conn, err := quic.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.CloseWithError(0, "")

	sender := transfer.NewChainSender(quic.Opener{Conn: conn}, tc)
	root, err := sender.Send(ctx, src)
	if cerr := sender.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	// The receiver closes the connection once it has every chunk.
	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return root, nil
}

// Listen starts accepting transfers on addr. A mapper listens on at most
// one address at a time.
func (m *Mapper) Listen(addr string) error {
	if m.listener != nil {
		return fmt.Errorf("%w on %s", ErrAlreadyListening, m.listener.Addr())
	}
	ln, err := quic.Listen(addr)
	if err != nil {
		return err
	}
	m.listener = ln
	return nil
}

// ListenAddr returns the address the mapper listens on, or "".
func (m *Mapper) ListenAddr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Receive accepts one transfer and scatters it into dst. It returns the
// number of bytes written, which is less than the transfer size when dst is
// smaller.
func (m *Mapper) Receive(ctx context.Context, dst *chain.Chain) (int, error) {
	if m.listener == nil {
		return 0, ErrNotListening
	}
	tc, err := m.TransferConfig()
	if err != nil {
		return 0, err
	}
	conn, err := m.listener.Accept(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.CloseWithError(0, "received")

	receiver := transfer.NewChainReceiver(tc)
	if err := quic.AcceptStreams(ctx, conn, m.Logger, receiver.ReceiveStream, receiver.IsComplete); err != nil {
		return 0, err
	}
	return receiver.Assemble(dst)
}

// Protect encodes the bytes described by c with the configured
// Reed-Solomon parameters.
func (m *Mapper) Protect(c *chain.Chain) (*erasure.Shards, error) {
	if m.erasure == nil {
		return nil, ErrErasureDisabled
	}
	return m.erasure.ProtectChain(c)
}

// Recover reconstructs protected bytes into dst.
func (m *Mapper) Recover(dst *chain.Chain, s *erasure.Shards) (int, error) {
	if m.erasure == nil {
		return 0, ErrErasureDisabled
	}
	return m.erasure.RecoverInto(dst, s)
}

// Close stops listening and releases the mapper memory. Chains built by the
// mapper must not be used afterwards.
func (m *Mapper) Close() error {
	var errs []error
	if m.listener != nil {
		errs = append(errs, m.listener.Close())
		m.listener = nil
	}
	errs = append(errs, m.Memory.Close())
	return errors.Join(errs...)
}
