package cog

// TIFF-compatible LZW codec.
//
// TIFF uses a LZW variant that differs from the GIF/PDF format handled by Go's
// compress/lzw package. The key difference is the "early change" of code
// width: TIFF widens codes one entry before the table fills the current width.
// Go's compress/lzw implements the GIF variant, causing "invalid code" errors
// on TIFF LZW streams.
//
// This implementation follows the TIFF 6.0 specification for LZW compression.

import (
	"errors"
	"io"
)

const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwTableSize = 1 << lzwMaxWidth
)

type lzwEntry struct {
	prefix int  // index of prefix entry (-1 for single-byte entries)
	suffix byte // the byte added by this entry
	length int  // total length of the string
}

// lzwWidth returns the code width in use while the table's next free code
// is next.
func lzwWidth(next int) int {
	w := 9
	for w < lzwMaxWidth && next >= 1<<w {
		w++
	}
	return w
}

// decompressTIFFLZW decompresses TIFF-style LZW data (MSB bit ordering).
// Decoding stops once size bytes were produced; many writers omit the
// end-of-information code on full chunks.
func decompressTIFFLZW(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := &bitReader{src: data}
	table := make([]lzwEntry, lzwTableSize+1)
	for i := 0; i < 256; i++ {
		table[i] = lzwEntry{prefix: -1, suffix: byte(i), length: 1}
	}

	output := make([]byte, 0, size)
	next := lzwFirstCode
	width := 9
	prev := -1

	// appendString appends the string for code to output.
	appendString := func(code int) {
		n := table[code].length
		start := len(output)
		output = append(output, make([]byte, n)...)
		for i := start + n - 1; code >= 0; i-- {
			output[i] = table[code].suffix
			code = table[code].prefix
		}
	}

	// First code must be a clear code per TIFF spec.
	code, err := r.read(width)
	if err != nil {
		return nil, err
	}
	if code != lzwClearCode {
		return nil, errors.New("lzw: first code is not clear code")
	}

	for len(output) < size {
		code, err := r.read(width)
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch {
		case code == lzwEOICode:
			return output, nil
		case code == lzwClearCode:
			next, width, prev = lzwFirstCode, 9, -1
			continue
		case prev == -1:
			// First code after clear: must be a literal (0-255).
			if code >= 256 {
				return nil, errors.New("lzw: first code after clear is not literal")
			}
			output = append(output, byte(code))
			prev = code
			continue
		}

		var first byte
		switch {
		case code < next:
			start := len(output)
			appendString(code)
			first = output[start]
		case code == next:
			// KwKwK: the code being defined is prev's string plus its first byte.
			start := len(output)
			appendString(prev)
			first = output[start]
			output = append(output, first)
		default:
			return nil, errors.New("lzw: invalid code")
		}

		if next <= lzwTableSize {
			table[next] = lzwEntry{prefix: prev, suffix: first, length: table[prev].length + 1}
			next++
		}
		width = lzwWidth(next + 1)
		prev = code
	}
	return output, nil
}

// compressTIFFLZW encodes data as a TIFF LZW stream.
func compressTIFFLZW(data []byte) []byte {
	w := &bitWriter{}
	dict := make(map[int]int, lzwTableSize)
	next := lzwFirstCode
	w.write(lzwClearCode, 9)
	if len(data) == 0 {
		w.write(lzwEOICode, 9)
		return w.bytes()
	}

	cur := int(data[0])
	for _, c := range data[1:] {
		key := cur<<8 | int(c)
		if code, ok := dict[key]; ok {
			cur = code
			continue
		}
		w.write(cur, lzwWidth(next))
		dict[key] = next
		next++
		cur = int(c)
		if next == lzwTableSize-2 {
			w.write(lzwClearCode, lzwWidth(next))
			clear(dict)
			next = lzwFirstCode
		}
	}
	w.write(cur, lzwWidth(next))
	w.write(lzwEOICode, lzwWidth(next+1))
	return w.bytes()
}

// bitReader reads MSB-first codes.
type bitReader struct {
	src    []byte
	bitPos int
}

func (r *bitReader) read(n int) (int, error) {
	if r.bitPos+n > len(r.src)*8 {
		return 0, io.ErrUnexpectedEOF
	}
	result := 0
	for i := 0; i < n; i++ {
		b := r.src[r.bitPos/8]
		bit := int(b>>(7-r.bitPos%8)) & 1
		result = result<<1 | bit
		r.bitPos++
	}
	return result, nil
}

// bitWriter writes MSB-first codes.
type bitWriter struct {
	buf   []byte
	acc   uint32
	nbits int
}

func (w *bitWriter) write(code, width int) {
	w.acc = w.acc<<width | uint32(code)
	w.nbits += width
	for w.nbits >= 8 {
		w.buf = append(w.buf, byte(w.acc>>(w.nbits-8)))
		w.nbits -= 8
	}
	w.acc &= 1<<w.nbits - 1
}

func (w *bitWriter) bytes() []byte {
	if w.nbits > 0 {
		w.buf = append(w.buf, byte(w.acc<<(8-w.nbits)))
		w.nbits = 0
		w.acc = 0
	}
	return w.buf
}
