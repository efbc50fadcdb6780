// Package wire implements the framed message header the executor's
// transport boundary agrees on with its peers. The executor itself never
// parses message bodies; it only needs enough of the frame to know where
// one message ends and the next begins.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// HeaderSize is the fixed size, in bytes, of a frame header.
const HeaderSize = 16

// MaxMessageSize is the compile-time ceiling on a frame's total length,
// header included. It exists to bound allocation for a length read off the
// wire before the body has arrived.
const MaxMessageSize = 48 * 1024 * 1024

// ErrMessageTooShort is returned when a declared length is smaller than
// HeaderSize, so it could not possibly contain a valid header.
var ErrMessageTooShort = errors.New("wire: message length shorter than header")

// ErrMessageTooLarge is returned when a declared length exceeds
// MaxMessageSize.
var ErrMessageTooLarge = errors.New("wire: message length exceeds MaxMessageSize")

// Header is the 16-byte frame header: {length, request_id, response_to,
// op}, all little-endian int32s. Length counts the header itself, so a
// header-only message (no body) has Length == HeaderSize.
type Header struct {
	Length     int32
	RequestID  int32
	ResponseTo int32
	Op         int32
}

// BodyLen returns the number of body bytes that follow the header.
func (h Header) BodyLen() int { return int(h.Length) - HeaderSize }

// Validate checks Length against the [HeaderSize, MaxMessageSize] bound.
func (h Header) Validate() error {
	if h.Length < HeaderSize {
		return ErrMessageTooShort
	}
	if h.Length > MaxMessageSize {
		return ErrMessageTooLarge
	}
	return nil
}

// Encode writes h's wire representation into buf, which must be at least
// HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Length))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Op))
}

// DecodeHeader reads a Header from buf, which must be at least HeaderSize
// bytes. It does not call Validate; callers decide when to enforce bounds.
func DecodeHeader(buf []byte) Header {
	return Header{
		Length:     int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequestID:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		ResponseTo: int32(binary.LittleEndian.Uint32(buf[8:12])),
		Op:         int32(binary.LittleEndian.Uint32(buf[12:16])),
	}
}

// Message pairs a decoded Header with its raw body bytes. The executor
// treats Body as opaque.
type Message struct {
	Header Header
	Body   []byte
}

// ReadMessage reads one framed message from r: a HeaderSize header followed
// by BodyLen() body bytes. It validates Length before allocating the body
// buffer, so a corrupt or hostile length never triggers an oversized
// allocation.
func ReadMessage(r io.Reader) (Message, error) {
	var hbuf [HeaderSize]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return Message{}, err
	}
	h := DecodeHeader(hbuf[:])
	if err := h.Validate(); err != nil {
		return Message{}, err
	}

	body := make([]byte, h.BodyLen())
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Message{}, err
		}
	}
	return Message{Header: h, Body: body}, nil
}

// WriteMessage writes msg's header followed by its body to w. Header.Length
// is recomputed from len(body) so callers never have to keep it in sync by
// hand.
func WriteMessage(w io.Writer, h Header, body []byte) error {
	h.Length = int32(HeaderSize + len(body))
	if err := h.Validate(); err != nil {
		return err
	}

	var hbuf [HeaderSize]byte
	h.Encode(hbuf[:])
	if _, err := w.Write(hbuf[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}
