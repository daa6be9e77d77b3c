package cog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// decompressChunk decodes one tile or strip payload. size is the expected
// decoded length; shorter output is zero-padded (some writers truncate
// trailing zero bytes), longer output is truncated.
func decompressChunk(compression uint16, data []byte, size int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch compression {
	case compressionNone:
		out = make([]byte, size)
		copy(out, data)
		return out, nil
	case compressionLZW:
		out, err = decompressTIFFLZW(data, size)
	case compressionDeflate, compressionAdobeZIP:
		out, err = inflate(data, size)
	case compressionPackBits:
		out, err = unpackBits(data, size)
	case compressionJPEG, compressionOldJPEG:
		return nil, fmt.Errorf("JPEG compression is lossy and not supported for categorical rasters")
	default:
		return nil, fmt.Errorf("unsupported compression: %d", compression)
	}
	if err != nil {
		return nil, err
	}
	if len(out) < size {
		padded := make([]byte, size)
		copy(padded, out)
		out = padded
	}
	return out[:size], nil
}

func inflate(data []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	defer zr.Close()
	out := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(out, io.LimitReader(zr, int64(size))); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return out.Bytes(), nil
}

// unpackBits decodes Apple PackBits run-length encoding (TIFF compression
// 32773).
func unpackBits(data []byte, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for i := 0; i < len(data) && len(out) < size; {
		n := int(int8(data[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(data) {
				return nil, fmt.Errorf("packbits: literal run past end of data")
			}
			out = append(out, data[i:end]...)
			i = end
		case n != -128:
			if i >= len(data) {
				return nil, fmt.Errorf("packbits: repeat run past end of data")
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	return out, nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place. buf holds rows
// of width pixels with spp samples each, in the file's byte order.
func undoHorizontalPredictor(buf []byte, width, rows, spp, sampleSize int, bo binary.ByteOrder) error {
	stride := width * spp * sampleSize
	for r := 0; r < rows; r++ {
		row := buf[r*stride : (r+1)*stride]
		for i := spp; i < width*spp; i++ {
			o, p := i*sampleSize, (i-spp)*sampleSize
			switch sampleSize {
			case 1:
				row[o] += row[p]
			case 2:
				bo.PutUint16(row[o:], bo.Uint16(row[o:])+bo.Uint16(row[p:]))
			case 4:
				bo.PutUint32(row[o:], bo.Uint32(row[o:])+bo.Uint32(row[p:]))
			case 8:
				bo.PutUint64(row[o:], bo.Uint64(row[o:])+bo.Uint64(row[p:]))
			default:
				return fmt.Errorf("predictor: unsupported sample size %d", sampleSize)
			}
		}
	}
	return nil
}

// toLittleEndian swaps samples of the given size in place when the file
// is big-endian.
func toLittleEndian(buf []byte, sampleSize int, bo binary.ByteOrder) {
	if bo == binary.LittleEndian || sampleSize == 1 {
		return
	}
	for i := 0; i+sampleSize <= len(buf); i += sampleSize {
		s := buf[i : i+sampleSize]
		for a, b := 0, sampleSize-1; a < b; a, b = a+1, b-1 {
			s[a], s[b] = s[b], s[a]
		}
	}
}
