package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload limits a single protocol frame payload. A batch of
	// chunks has to fit.
	MaxFramePayload = 4 << 20 // 4 MiB
	// MaxChunkSize is the largest transfer chunk. A single chunk plus its
	// batch and sealing headers still fits one frame.
	MaxChunkSize = MaxFramePayload - 1<<10
)

var (
	ErrFrameTooLarge = errors.New("protocol frame payload too large")
	ErrInvalidType   = errors.New("protocol invalid message type")
)

// Frame is the basic wire container.
// Format:
//
//	1 byte: type
//	4 bytes: payload length (big endian)
//	N bytes: payload
type Frame struct {
	Type    MessageType
	Payload []byte
}

func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	bw := bufio.NewWriterSize(w, 5+len(f.Payload))
	if err := bw.WriteByte(byte(f.Type)); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := bw.Write(f.Payload); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFrame reads exactly one frame. It never reads past the frame, so
// several frames can be read from the same stream in turn.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	mt := MessageType(hdr[0])
	if mt == 0 {
		return Frame{}, ErrInvalidType
	}
	payloadLen := binary.BigEndian.Uint32(hdr[1:])
	if payloadLen > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: mt, Payload: payload}, nil
}
