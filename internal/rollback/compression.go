package rollback

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor defines one snapshot compression algorithm
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionType
	DefaultLevel() int
}

// CompressionManager dispatches to the registered compressors
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with all supported algorithms registered
func NewCompressionManager() *CompressionManager {
	return &CompressionManager{
		compressors: map[CompressionType]Compressor{
			CompressionTypeGzip: &GzipCompressor{},
			CompressionTypeLZ4:  &LZ4Compressor{},
			CompressionTypeZstd: &ZstdCompressor{},
		},
	}
}

// Compress compresses data using the specified algorithm and level.
// Level 0 selects the algorithm's default.
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, error) {
	if algorithm == "" || algorithm == CompressionTypeNone {
		return data, nil
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	if level <= 0 {
		level = compressor.DefaultLevel()
	}

	return compressor.Compress(data, level)
}

// Decompress decompresses data using the specified algorithm
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == "" || algorithm == CompressionTypeNone {
		return data, nil
	}

	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}

	return compressor.Decompress(data)
}

// GzipCompressor implements Compressor using compress/gzip
type GzipCompressor struct{}

func (g *GzipCompressor) Algorithm() CompressionType { return CompressionTypeGzip }
func (g *GzipCompressor) DefaultLevel() int          { return gzip.DefaultCompression }

func (g *GzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, NewCompressionError("invalid gzip compression level", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("gzip compression failed", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("gzip compression failed", err)
	}

	return buf.Bytes(), nil
}

func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("invalid gzip data", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("gzip decompression failed", err)
	}

	return out, nil
}

// LZ4Compressor implements Compressor using github.com/pierrec/lz4
type LZ4Compressor struct{}

// lz4Levels maps small integer levels onto the lz4 level constants, which are
// not plain integers. Index 1 stays on the writer's fast default.
var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Fast, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func lz4Level(level int) lz4.CompressionLevel {
	if level >= len(lz4Levels) {
		return lz4.Level9
	}
	return lz4Levels[level]
}

func (l *LZ4Compressor) Algorithm() CompressionType { return CompressionTypeLZ4 }
func (l *LZ4Compressor) DefaultLevel() int          { return 1 }

func (l *LZ4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)
	if level > 1 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
			return nil, NewCompressionError("invalid lz4 compression level", err)
		}
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("lz4 compression failed", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("lz4 compression failed", err)
	}

	return buf.Bytes(), nil
}

func (l *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("lz4 decompression failed", err)
	}

	return out, nil
}

// ZstdCompressor implements Compressor using github.com/klauspost/compress/zstd
type ZstdCompressor struct{}

func (z *ZstdCompressor) Algorithm() CompressionType { return CompressionTypeZstd }
func (z *ZstdCompressor) DefaultLevel() int          { return 3 }

func (z *ZstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, NewCompressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

func (z *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, NewCompressionError("zstd decompression failed", err)
	}

	return out, nil
}
