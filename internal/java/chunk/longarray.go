package chunk

import (
	"fmt"
	"math/bits"
)

// EncodedLongArraySize is the number of longs needed to pack size values of
// bitsPerEntry bits. Dense arrays let values span long boundaries.
func EncodedLongArraySize(size, bitsPerEntry int, dense bool) int {
	if dense {
		return (size*bitsPerEntry + 63) / 64
	}
	perLong := 64 / bitsPerEntry
	return (size + perLong - 1) / perLong
}

// DecodeLongArray unpacks size values from longs.
func DecodeLongArray(longs []int64, size, bitsPerEntry int, dense bool) ([]uint32, error) {
	if bitsPerEntry < 1 || bitsPerEntry > 32 {
		return nil, fmt.Errorf("%w: %d bits per entry", ErrMalformed, bitsPerEntry)
	}
	if need := EncodedLongArraySize(size, bitsPerEntry, dense); len(longs) < need {
		return nil, fmt.Errorf("%w: long array has %d longs, need %d", ErrMalformed, len(longs), need)
	}
	mask := uint64(1)<<bitsPerEntry - 1
	out := make([]uint32, size)
	if dense {
		for i := range out {
			bit := i * bitsPerEntry
			li, off := bit/64, bit%64
			v := uint64(longs[li]) >> off
			if off+bitsPerEntry > 64 {
				v |= uint64(longs[li+1]) << (64 - off)
			}
			out[i] = uint32(v & mask)
		}
		return out, nil
	}
	perLong := 64 / bitsPerEntry
	for i := range out {
		v := uint64(longs[i/perLong]) >> ((i % perLong) * bitsPerEntry)
		out[i] = uint32(v & mask)
	}
	return out, nil
}

// EncodeLongArray packs values into longs.
func EncodeLongArray(values []uint32, bitsPerEntry int, dense bool) []int64 {
	out := make([]uint64, EncodedLongArraySize(len(values), bitsPerEntry, dense))
	mask := uint64(1)<<bitsPerEntry - 1
	if dense {
		for i, val := range values {
			v := uint64(val) & mask
			bit := i * bitsPerEntry
			li, off := bit/64, bit%64
			out[li] |= v << off
			if off+bitsPerEntry > 64 {
				out[li+1] |= v >> (64 - off)
			}
		}
	} else {
		perLong := 64 / bitsPerEntry
		for i, val := range values {
			out[i/perLong] |= (uint64(val) & mask) << ((i % perLong) * bitsPerEntry)
		}
	}
	res := make([]int64, len(out))
	for i, v := range out {
		res[i] = int64(v)
	}
	return res
}

// blockStateBits is the packing width for a block palette of n entries.
func blockStateBits(n int) int {
	b := 0
	if n > 1 {
		b = bits.Len(uint(n - 1))
	}
	if b < 4 {
		b = 4
	}
	return b
}

// inferBits finds the width a stored array was written with when it does not
// match the palette derived width.
func inferBits(longs, size, from int, dense bool) (int, bool) {
	for b := from; b <= 32; b++ {
		if EncodedLongArraySize(size, b, dense) == longs {
			return b, true
		}
	}
	return 0, false
}
