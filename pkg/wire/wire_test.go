package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Length: 32, RequestID: 7, ResponseTo: -1, Op: 2010}

	var buf [HeaderSize]byte
	h.Encode(buf[:])

	got := DecodeHeader(buf[:])
	assert.Equal(t, h, got)
}

func TestHeader_ValidateRejectsTooShort(t *testing.T) {
	h := Header{Length: HeaderSize - 1}
	assert.ErrorIs(t, h.Validate(), ErrMessageTooShort)
}

func TestHeader_ValidateRejectsTooLarge(t *testing.T) {
	h := Header{Length: MaxMessageSize + 1}
	assert.ErrorIs(t, h.Validate(), ErrMessageTooLarge)
}

func TestHeader_ValidateAcceptsHeaderOnlyMessage(t *testing.T) {
	h := Header{Length: HeaderSize}
	assert.NoError(t, h.Validate())
	assert.Equal(t, 0, h.BodyLen())
}

func TestWriteReadMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello executor")

	err := WriteMessage(&buf, Header{RequestID: 1, ResponseTo: -1, Op: 2013}, body)
	require.NoError(t, err)

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)

	assert.Equal(t, int32(1), msg.Header.RequestID)
	assert.Equal(t, int32(2013), msg.Header.Op)
	assert.Equal(t, int32(HeaderSize+len(body)), msg.Header.Length)
	assert.Equal(t, body, msg.Body)
}

func TestWriteMessage_RejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	body := make([]byte, MaxMessageSize)

	err := WriteMessage(&buf, Header{}, body)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadMessage_RejectsCorruptLength(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Length: 4, RequestID: 1, ResponseTo: -1, Op: 1}
	var hbuf [HeaderSize]byte
	h.Encode(hbuf[:])
	buf.Write(hbuf[:])

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestReadMessage_HeaderOnlyMessageHasEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Header{Op: 1}, nil))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Empty(t, msg.Body)
}
