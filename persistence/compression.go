package persistence

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression for snapshot sections.
type Compression uint8

const (
	// CompressionNone stores sections raw. Right for tiny sections.
	CompressionNone Compression = 0

	// CompressionZstd is the default: good ratio at snapshot-write speed.
	CompressionZstd Compression = 1

	// CompressionLZ4 trades ratio for faster load.
	CompressionLZ4 Compression = 2
)

// Block format: [uncompressedSize uint32][compressedSize uint32][data].
// compressedSize 0 means the data is stored raw, which also covers blocks
// that did not shrink enough to be worth decompressing.
const blockHeaderSize = 8

var (
	zstdEncoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	zstdDecoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

// compressBlock frames data as a block, compressed when it pays off.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionNone:
	case CompressionZstd:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n] // n == 0 means incompressible
	default:
		return nil, fmt.Errorf("unknown compression type %d", c)
	}

	// Store raw when compression does not shrink the block meaningfully.
	if len(compressed) == 0 || len(compressed) >= len(data)*9/10 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// decompressBlock reverses compressBlock.
func decompressBlock(block []byte, c Compression) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("block truncated: %d bytes", len(block))
	}
	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])
	payload := block[blockHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(payload)) != uncompressedSize {
			return nil, fmt.Errorf("raw block size %d, header says %d", len(payload), uncompressedSize)
		}
		return payload, nil
	}
	if uint32(len(payload)) != compressedSize {
		return nil, fmt.Errorf("compressed block size %d, header says %d", len(payload), compressedSize)
	}

	switch c {
	case CompressionZstd:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != uncompressedSize {
			return nil, fmt.Errorf("decompressed %d bytes, header says %d", len(out), uncompressedSize)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("decompressed %d bytes, header says %d", n, uncompressedSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression type %d", c)
	}
}
