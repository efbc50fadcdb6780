package compression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate_IntersectionInClientOrder(t *testing.T) {
	client := []string{"snappy", "zlib"}
	server := []string{"zlib"}

	got := Negotiate(client, server)
	assert.Equal(t, []string{"zlib"}, got)
}

func TestNegotiate_EmptyWhenDisjoint(t *testing.T) {
	got := Negotiate([]string{"snappy"}, []string{"zlib"})
	assert.Empty(t, got)
}

func TestNegotiate_PreservesClientPreferenceOrder(t *testing.T) {
	client := []string{"zlib", "snappy", "noop"}
	server := []string{"snappy", "zlib"}

	got := Negotiate(client, server)
	assert.Equal(t, []string{"zlib", "snappy"}, got)
}

func codecsUnderTest() []Codec {
	return []Codec{noopCodec{}, snappyCodec{}, zlibCodec{}}
}

func TestCodec_CompressDecompressRoundTrip(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility, repeated for compressibility")

	for _, codec := range codecsUnderTest() {
		t.Run(codec.Name(), func(t *testing.T) {
			msg, err := Compress(codec, 2013, body)
			require.NoError(t, err)
			assert.Equal(t, int32(len(body)), msg.UncompressedSize)
			assert.Equal(t, codec.ID(), msg.CompressorID)

			out, err := msg.Decompress()
			require.NoError(t, err)
			assert.Equal(t, body, out)
		})
	}
}

func TestCompressedMessage_EncodeDecodeRoundTrip(t *testing.T) {
	msg, err := Compress(snappyCodec{}, 42, []byte("hello"))
	require.NoError(t, err)

	buf := msg.Encode()
	got, err := DecodeCompressedMessage(buf)
	require.NoError(t, err)

	assert.Equal(t, msg, got)
}

func TestCompressedMessage_DecompressRejectsSizeMismatch(t *testing.T) {
	msg, err := Compress(noopCodec{}, 1, []byte("abcdef"))
	require.NoError(t, err)

	msg.UncompressedSize = 3 // lie about the size
	_, err = msg.Decompress()
	assert.ErrorIs(t, err, ErrInvalidCompressedMessage)
}

func TestCompressedMessage_DecompressRejectsUnknownCompressor(t *testing.T) {
	msg := CompressedMessage{CompressorID: IDReserved, CompressedBytes: []byte("x")}
	_, err := msg.Decompress()
	assert.ErrorIs(t, err, ErrUnknownCompressor)
}

func TestByName_UnknownReturnsError(t *testing.T) {
	_, err := ByName("lz4")
	assert.ErrorIs(t, err, ErrUnknownCompressor)
}

func TestZlibCodec_DecompressRejectsGarbage(t *testing.T) {
	_, err := zlibCodec{}.Decompress([]byte("not zlib data"))
	assert.Error(t, err)
}
