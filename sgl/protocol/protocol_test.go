package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := []Frame{
		{Type: MessageTypeAck, Payload: []byte("ok")},
		{Type: MessageTypeClose},
		{Type: MessageTypeBatch, Payload: bytes.Repeat([]byte{7}, 1000)},
	}
	for _, f := range in {
		require.NoError(t, WriteFrame(&buf, f))
	}
	for _, f := range in {
		out, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, f.Type, out.Type)
		assert.Equal(t, len(f.Payload), len(out.Payload))
		assert.True(t, bytes.Equal(f.Payload, out.Payload))
	}
	assert.Zero(t, buf.Len(), "frames must be read exactly")
}

func TestFrameErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, Frame{}), ErrInvalidType)
	assert.ErrorIs(t, WriteFrame(&buf, Frame{Type: MessageTypeBatch, Payload: make([]byte, MaxFramePayload+1)}), ErrFrameTooLarge)

	_, err := ReadFrame(bytes.NewReader([]byte{byte(MessageTypeBatch), 0xff, 0xff, 0xff, 0xff}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestManifest(t *testing.T) {
	m := NewManifest(1000, 256, 4, 4096, []byte{1, 2, 3})
	f, err := m.Frame()
	require.NoError(t, err)

	out, err := DecodeManifest(f)
	require.NoError(t, err)
	assert.Equal(t, m, out)

	tests := []struct {
		name string
		mod  func(*Manifest)
		err  error
	}{
		{name: "major bump", mod: func(m *Manifest) { m.Version = "2.0.0" }, err: ErrIncompatibleVersion},
		{name: "garbage version", mod: func(m *Manifest) { m.Version = "one" }, err: ErrBadManifest},
		{name: "chunk count", mod: func(m *Manifest) { m.Chunks = 3 }, err: ErrBadManifest},
		{name: "chunk size", mod: func(m *Manifest) { m.ChunkSize = 0 }, err: ErrBadManifest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := m
			tt.mod(&bad)
			assert.ErrorIs(t, bad.Check(), tt.err)
		})
	}

	older := m
	older.Version = "1.0.3"
	assert.NoError(t, older.Check())

	_, err = DecodeManifest(Frame{Type: MessageTypeAck})
	assert.ErrorIs(t, err, ErrBadManifest)
}
