package fedcomm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionCodec is configured per endpoint (there is no negotiation
// with the peer) and applied to the whole encoded action message,
// header fields and payload alike, at the transport frame boundary,
// never inside the ActionMessage codec itself (§4.3 keeps C1 opaque).
type CompressionCodec byte

const (
	CompressionNone CompressionCodec = iota
	CompressionZstd
	CompressionLZ4
)

func (c CompressionCodec) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("CompressionCodec(%d)", byte(c))
	}
}

// ParseCompressionCodec maps a CLI/config string to a CompressionCodec.
func ParseCompressionCodec(s string) (CompressionCodec, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("fedcomm: unknown compression codec %q", s)
	}
}

// zstdCompressor wraps the klauspost/compress/zstd encoder/decoder
// pair frameCompressor dispatches to for CompressionZstd. Holding
// fixed working buffers avoids a fresh allocation per frame.
type zstdCompressor struct {
	compressor *zstd.Encoder
	decomp     *zstd.Decoder

	decompWorkingBuf   []byte
	compressWorkingBuf []byte
}

func newZstdCompressor() (*zstdCompressor, error) {
	// encoder defaults to GOMAXPROCS; the nil argument means
	// []byte-only compression, no Reset(io.Writer) streaming.
	compressor, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	decomp, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{
		compressor:         compressor,
		decomp:             decomp,
		decompWorkingBuf:   make([]byte, 2<<20),
		compressWorkingBuf: make([]byte, 2<<20),
	}, nil
}

func (c *zstdCompressor) Close() {
	c.compressor.Close()
	c.decomp.Close()
}

func (c *zstdCompressor) Decompress(src []byte) ([]byte, error) {
	return c.decomp.DecodeAll(src, c.decompWorkingBuf[:0])
}

func (c *zstdCompressor) Compress(src []byte) []byte {
	return c.compressor.EncodeAll(src, c.compressWorkingBuf[:0])
}

// frameCompressor wraps whichever concrete compressor an endpoint was
// configured with, exposing the single Compress/Decompress pair the
// stream transport's frame writer/reader needs.
type frameCompressor struct {
	codec CompressionCodec
	zstd  *zstdCompressor
}

func newFrameCompressor(codec CompressionCodec) (*frameCompressor, error) {
	fc := &frameCompressor{codec: codec}
	if codec == CompressionZstd {
		z, err := newZstdCompressor()
		if err != nil {
			return nil, err
		}
		fc.zstd = z
	}
	return fc, nil
}

func (fc *frameCompressor) Close() {
	if fc.zstd != nil {
		fc.zstd.Close()
	}
}

// Compress returns codec-tagged bytes: one leading byte identifying
// the codec, followed by the (possibly unmodified) payload.
func (fc *frameCompressor) Compress(payload []byte) ([]byte, error) {
	switch fc.codec {
	case CompressionNone:
		return append([]byte{byte(CompressionNone)}, payload...), nil
	case CompressionZstd:
		return append([]byte{byte(CompressionZstd)}, fc.zstd.Compress(payload)...), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return append([]byte{byte(CompressionLZ4)}, buf.Bytes()...), nil
	default:
		return nil, fmt.Errorf("fedcomm: unsupported compression codec %v", fc.codec)
	}
}

// Decompress reads the codec tag byte and reverses whichever codec it
// names, regardless of what this endpoint is itself configured to
// send with — a peer may legitimately use a different codec.
func (fc *frameCompressor) Decompress(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("fedcomm: empty compressed frame")
	}
	tag := CompressionCodec(framed[0])
	body := framed[1:]
	switch tag {
	case CompressionNone:
		return body, nil
	case CompressionZstd:
		if fc.zstd == nil {
			z, err := newZstdCompressor()
			if err != nil {
				return nil, err
			}
			fc.zstd = z
		}
		return fc.zstd.Decompress(body)
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("fedcomm: unrecognized compression tag %d", tag)
	}
}
