package anvil

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Compression is the scheme byte stored in front of every entry.
type Compression byte

const (
	CompressionGzip Compression = 1
	CompressionZlib Compression = 2
	CompressionNone Compression = 3
	CompressionLZ4  Compression = 4

	// externalFlag marks an entry whose payload lives in a sidecar file.
	externalFlag = 0x80
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gzip":
		return CompressionGzip, nil
	case "zlib", "":
		return CompressionZlib, nil
	case "none", "uncompressed":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return append([]byte(nil), data...), nil
	case CompressionLZ4:
		return lz4BlockCompress(data)
	case CompressionGzip, CompressionZlib:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, byte(c))
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	if c == CompressionGzip {
		w = gzip.NewWriter(&buf)
	} else {
		w = zlib.NewWriter(&buf)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		return lz4BlockDecompress(data)
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRegion, err)
		}
		defer r.Close()
		return readAllCorrupt(r)
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRegion, err)
		}
		defer r.Close()
		return readAllCorrupt(r)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, byte(c))
}

func readAllCorrupt(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRegion, err)
	}
	return b, nil
}
