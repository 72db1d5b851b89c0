package anvil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/pierrec/lz4/v4"
	"github.com/pierrec/xxHash/xxHash32"
)

// LZ4 entries use the block stream framing of the lz4-java library:
//
//	"LZ4Block" | token | compressed len | decompressed len | checksum | data
//
// lengths and checksum are little endian int32, the checksum is xxhash32 of
// the decompressed block masked to 28 bits. An empty block ends the stream.
const (
	lz4Magic          = "LZ4Block"
	lz4HeaderLen      = len(lz4Magic) + 13
	lz4MethodRaw      = 0x10
	lz4MethodLZ4      = 0x20
	lz4BlockSize      = 1 << 16
	lz4ChecksumSeed   = 0x9747b28c
	lz4ChecksumMask   = 0xfffffff
	lz4MaxBlockLength = 1 << 25
)

func lz4Token(method byte) byte {
	level := 32 - bits.LeadingZeros32(uint32(lz4BlockSize-1)) - 10
	if level < 0 {
		level = 0
	}
	return method | byte(level)
}

func lz4Checksum(b []byte) uint32 {
	return xxHash32.Checksum(b, lz4ChecksumSeed) & lz4ChecksumMask
}

func lz4BlockCompress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	dst := make([]byte, lz4.CompressBlockBound(lz4BlockSize))
	for off := 0; off < len(data); off += lz4BlockSize {
		end := off + lz4BlockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[off:end]
		n, err := lz4.CompressBlock(block, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		method, body := byte(lz4MethodLZ4), dst[:n]
		if n == 0 || n >= len(block) {
			method, body = lz4MethodRaw, block
		}
		writeLZ4Header(&out, lz4Token(method), len(body), len(block), lz4Checksum(block))
		out.Write(body)
	}
	writeLZ4Header(&out, lz4Token(lz4MethodRaw), 0, 0, 0)
	return out.Bytes(), nil
}

func writeLZ4Header(w *bytes.Buffer, token byte, compressed, decompressed int, checksum uint32) {
	var hdr [lz4HeaderLen]byte
	copy(hdr[:], lz4Magic)
	hdr[8] = token
	binary.LittleEndian.PutUint32(hdr[9:], uint32(compressed))
	binary.LittleEndian.PutUint32(hdr[13:], uint32(decompressed))
	binary.LittleEndian.PutUint32(hdr[17:], checksum)
	w.Write(hdr[:])
}

func lz4BlockDecompress(data []byte) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		if len(data) < lz4HeaderLen || string(data[:len(lz4Magic)]) != lz4Magic {
			return nil, fmt.Errorf("%w: bad lz4 block header", ErrCorruptRegion)
		}
		method := data[8] & 0xf0
		compressed := int(binary.LittleEndian.Uint32(data[9:]))
		decompressed := int(binary.LittleEndian.Uint32(data[13:]))
		checksum := binary.LittleEndian.Uint32(data[17:])
		data = data[lz4HeaderLen:]
		if compressed < 0 || decompressed < 0 || decompressed > lz4MaxBlockLength || compressed > len(data) {
			return nil, fmt.Errorf("%w: bad lz4 block lengths", ErrCorruptRegion)
		}
		if decompressed == 0 {
			break
		}
		body := data[:compressed]
		data = data[compressed:]

		var block []byte
		switch method {
		case lz4MethodRaw:
			if compressed != decompressed {
				return nil, fmt.Errorf("%w: raw lz4 block length mismatch", ErrCorruptRegion)
			}
			block = body
		case lz4MethodLZ4:
			block = make([]byte, decompressed)
			n, err := lz4.UncompressBlock(body, block)
			if err != nil || n != decompressed {
				return nil, fmt.Errorf("%w: lz4 block: %v", ErrCorruptRegion, err)
			}
		default:
			return nil, fmt.Errorf("%w: lz4 method %#x", ErrCorruptRegion, method)
		}
		if lz4Checksum(block) != checksum {
			return nil, fmt.Errorf("%w: lz4 checksum mismatch", ErrCorruptRegion)
		}
		out = append(out, block...)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
