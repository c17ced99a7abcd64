package wire

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressorID is the wire-level compressor identifier byte MongoDB's
// OP_COMPRESSED message uses.
type CompressorID byte

const (
	CompressorNone   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZlib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

// Compressor compresses/decompresses OP_MSG bodies for one negotiated
// algorithm.
type Compressor interface {
	ID() CompressorID
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, uncompressedSize int) ([]byte, error)
}

// ByName resolves a URI `compressors` entry to its Compressor
// implementation, or ok=false if unrecognised.
func ByName(name string) (Compressor, bool) {
	switch name {
	case "snappy":
		return snappyCompressor{}, true
	case "zlib":
		return zlibCompressor{level: zlib.DefaultCompression}, true
	case "zstd":
		return zstdCompressor{}, true
	default:
		return nil, false
	}
}

// ByID resolves an OP_COMPRESSED message's compressor id byte to its
// Compressor implementation, for decompressing a reply the peer compressed
// with whatever it negotiated. ok=false for CompressorNone or an
// unrecognised id.
func ByID(id CompressorID) (Compressor, bool) {
	switch id {
	case CompressorSnappy:
		return snappyCompressor{}, true
	case CompressorZlib:
		return zlibCompressor{level: zlib.DefaultCompression}, true
	case CompressorZstd:
		return zstdCompressor{}, true
	default:
		return nil, false
	}
}

type snappyCompressor struct{}

func (snappyCompressor) ID() CompressorID   { return CompressorSnappy }
func (snappyCompressor) Name() string       { return "snappy" }
func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}
func (snappyCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	return snappy.Decode(make([]byte, 0, uncompressedSize), data)
}

type zlibCompressor struct{ level int }

func (zlibCompressor) ID() CompressorID { return CompressorZlib }
func (zlibCompressor) Name() string     { return "zlib" }
func (c zlibCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func (zlibCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]byte, 0, uncompressedSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type zstdCompressor struct{}

func (zstdCompressor) ID() CompressorID { return CompressorZstd }
func (zstdCompressor) Name() string     { return "zstd" }
func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}
func (zstdCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("wire: zstd decompress: %w", err)
	}
	return out, nil
}
