// Package compression implements the wire compression codecs and
// negotiation rules: a Codec registry, client/server negotiation, and the
// CompressedMessage envelope with its uncompressed-size check.
package compression

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"

	"github.com/golang/snappy"
)

// compressedHeaderSize is the fixed-size prefix of an encoded
// CompressedMessage: original_op (i32) + uncompressed_size (i32) +
// compressor_id (u8).
const compressedHeaderSize = 9

// ID identifies a negotiated compressor on the wire.
type ID uint8

const (
	IDNoop     ID = 0
	IDSnappy   ID = 1
	IDZlib     ID = 2
	IDReserved ID = 255
)

// ErrInvalidCompressedMessage is returned when a decompressed message's size
// doesn't match the uncompressed_size the sender declared.
var ErrInvalidCompressedMessage = errors.New("compression: invalid or corrupted message")

// ErrUnknownCompressor is returned when a name or id has no registered
// Codec.
var ErrUnknownCompressor = errors.New("compression: unknown compressor")

// Codec compresses and decompresses message bodies for one algorithm.
type Codec interface {
	Name() string
	ID() ID
	Compress(dst io.Writer, src []byte) error
	Decompress(src []byte) ([]byte, error)
}

// noopCodec is the identity codec: used when negotiation yields nothing
// usable, or a caller explicitly disables compression.
type noopCodec struct{}

func (noopCodec) Name() string { return "noop" }
func (noopCodec) ID() ID       { return IDNoop }
func (noopCodec) Compress(dst io.Writer, src []byte) error {
	_, err := dst.Write(src)
	return err
}
func (noopCodec) Decompress(src []byte) ([]byte, error) { return src, nil }

// snappyCodec wraps github.com/golang/snappy's block API.
type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }
func (snappyCodec) ID() ID       { return IDSnappy }
func (snappyCodec) Compress(dst io.Writer, src []byte) error {
	_, err := dst.Write(snappy.Encode(nil, src))
	return err
}
func (snappyCodec) Decompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

// zlibCodec wraps the standard library's compress/zlib.
type zlibCodec struct{}

func (zlibCodec) Name() string { return "zlib" }
func (zlibCodec) ID() ID       { return IDZlib }
func (zlibCodec) Compress(dst io.Writer, src []byte) error {
	w := zlib.NewWriter(dst)
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
func (zlibCodec) Decompress(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

var registry = map[string]Codec{
	"noop":   noopCodec{},
	"snappy": snappyCodec{},
	"zlib":   zlibCodec{},
}

var registryByID = map[ID]Codec{
	IDNoop:   noopCodec{},
	IDSnappy: snappyCodec{},
	IDZlib:   zlibCodec{},
}

// ByName looks up a Codec by its configuration name ("noop", "snappy",
// "zlib").
func ByName(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, ErrUnknownCompressor
	}
	return c, nil
}

// ByID looks up a Codec by its wire id.
func ByID(id ID) (Codec, error) {
	c, ok := registryByID[id]
	if !ok {
		return nil, ErrUnknownCompressor
	}
	return c, nil
}

// Negotiate returns server's entries that also appear in client, in the
// order client prefers them: the intersection in the client's preferred
// order. Unknown names on either side are ignored rather than rejected;
// an empty result means compression stays off.
func Negotiate(client, server []string) []string {
	serverSet := make(map[string]struct{}, len(server))
	for _, name := range server {
		serverSet[name] = struct{}{}
	}

	out := make([]string, 0, len(client))
	for _, name := range client {
		if _, ok := serverSet[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// CompressedMessage is the post-negotiation envelope: the original
// operation code, the uncompressed payload size, the compressor id, and
// the compressed bytes themselves.
type CompressedMessage struct {
	OriginalOp       int32
	UncompressedSize int32
	CompressorID     ID
	CompressedBytes  []byte
}

// Compress builds a CompressedMessage from a plaintext body using codec.
func Compress(codec Codec, originalOp int32, body []byte) (CompressedMessage, error) {
	var buf bytes.Buffer
	if err := codec.Compress(&buf, body); err != nil {
		return CompressedMessage{}, err
	}
	recordCompress(codec.Name(), len(body), buf.Len())
	return CompressedMessage{
		OriginalOp:       originalOp,
		UncompressedSize: int32(len(body)),
		CompressorID:     codec.ID(),
		CompressedBytes:  buf.Bytes(),
	}, nil
}

// Decompress reverses Compress, verifying that the decoded size matches the
// declared UncompressedSize exactly. A mismatch is treated as corruption,
// not merely surprising, and is fatal to the session it arrived on.
func (m CompressedMessage) Decompress() ([]byte, error) {
	codec, err := ByID(m.CompressorID)
	if err != nil {
		return nil, err
	}
	out, err := codec.Decompress(m.CompressedBytes)
	if err != nil {
		return nil, ErrInvalidCompressedMessage
	}
	if int32(len(out)) != m.UncompressedSize {
		return nil, ErrInvalidCompressedMessage
	}
	recordDecompress(codec.Name(), len(m.CompressedBytes), len(out))
	return out, nil
}

// Encode serializes m as {original_op:i32, uncompressed_size:i32,
// compressor_id:u8, compressed_bytes…}, little-endian.
func (m CompressedMessage) Encode() []byte {
	buf := make([]byte, compressedHeaderSize+len(m.CompressedBytes))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.OriginalOp))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.UncompressedSize))
	buf[8] = byte(m.CompressorID)
	copy(buf[compressedHeaderSize:], m.CompressedBytes)
	return buf
}

// DecodeCompressedMessage parses the wire form Encode produces.
func DecodeCompressedMessage(buf []byte) (CompressedMessage, error) {
	if len(buf) < compressedHeaderSize {
		return CompressedMessage{}, ErrInvalidCompressedMessage
	}
	m := CompressedMessage{
		OriginalOp:       int32(binary.LittleEndian.Uint32(buf[0:4])),
		UncompressedSize: int32(binary.LittleEndian.Uint32(buf[4:8])),
		CompressorID:     ID(buf[8]),
	}
	m.CompressedBytes = append([]byte(nil), buf[compressedHeaderSize:]...)
	return m, nil
}
