package store

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// ErrCorruptTranscript is returned when a stored transcript does not match its
// digest.
var ErrCorruptTranscript = errors.New("transcript digest mismatch")

// zstdDecoderPool pools zstd decoders; klauspost decoders are built for reuse.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return decoder
	},
}

var zstdEncoderPool = sync.Pool{
	New: func() any {
		encoder, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderCRC(false), // the xxhash digest covers integrity
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
		}
		return encoder
	},
}

// compressTranscript zstd-compresses raw simulator output.
func compressTranscript(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	encoder := zstdEncoderPool.Get().(*zstd.Encoder)
	defer zstdEncoderPool.Put(encoder)
	return encoder.EncodeAll(data, nil)
}

// decompressTranscript reverses compressTranscript.
func decompressTranscript(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

// digest is the hex xxhash64 of the uncompressed transcript. SQLite integers
// are signed, so the digest is stored as text.
func digest(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
