package cog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zlib"

	"github.com/pspoerri/rasterprep/internal/coord"
	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// WriteOptions controls GeoTIFF output.
type WriteOptions struct {
	TileSize int  // default 256
	Level    int  // deflate level, default zlib.DefaultCompression
	BigTIFF  bool // force BigTIFF; chosen automatically above 2 GiB
}

// bigTIFFThreshold is the uncompressed size above which BigTIFF is used.
const bigTIFFThreshold = 2 << 30

// WriteGeoTIFF streams src into a tiled, deflate-compressed GeoTIFF with
// one plane per band. The file is written to a temporary path and renamed
// into place on success. progress, if non-nil, is called once per tile.
func WriteGeoTIFF(path string, src raster.Source, opts WriteOptions, progress func()) error {
	g := src.Geometry()
	if opts.TileSize <= 0 {
		opts.TileSize = 256
	}
	if opts.TileSize%16 != 0 {
		return fmt.Errorf("tile size %d is not a multiple of 16", opts.TileSize)
	}
	if opts.Level == 0 {
		opts.Level = zlib.DefaultCompression
	}
	big := opts.BigTIFF || g.Bytes() > bigTIFFThreshold

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	tw := &tiffWriter{w: bufio.NewWriterSize(tmp, 1<<20), big: big}
	if err := tw.writeHeader(); err != nil {
		return err
	}

	ts := opts.TileSize
	across := (g.Width + ts - 1) / ts
	down := (g.Height + ts - 1) / ts
	perBand := across * down
	offsets := make([]uint64, perBand*g.Bands)
	counts := make([]uint64, perBand*g.Bands)

	fill := 0.0
	if g.HasNoData {
		fill = g.NoData
	}
	var zbuf bytes.Buffer
	for tr := 0; tr < down; tr++ {
		for tc := 0; tc < across; tc++ {
			win := grid.Window{ColOff: tc * ts, RowOff: tr * ts, Width: ts, Height: ts}
			blk, err := raster.ReadPadded(src, win, fill)
			if err != nil {
				return fmt.Errorf("reading tile %v: %w", win, err)
			}
			plane := ts * ts * g.DType.Size()
			for band := 0; band < g.Bands; band++ {
				zbuf.Reset()
				zw, err := zlib.NewWriterLevel(&zbuf, opts.Level)
				if err != nil {
					blk.Release()
					return err
				}
				if _, err := zw.Write(blk.Data[band*plane : (band+1)*plane]); err != nil {
					blk.Release()
					return fmt.Errorf("compressing tile %v: %w", win, err)
				}
				if err := zw.Close(); err != nil {
					blk.Release()
					return fmt.Errorf("compressing tile %v: %w", win, err)
				}
				i := band*perBand + tr*across + tc
				offsets[i] = tw.off
				counts[i] = uint64(zbuf.Len())
				if err := tw.write(zbuf.Bytes()); err != nil {
					blk.Release()
					return err
				}
			}
			blk.Release()
			if progress != nil {
				progress()
			}
		}
	}

	entries := buildEntries(g, ts, offsets, counts, big)
	if err := tw.writeIFD(entries); err != nil {
		return err
	}
	if err := tw.w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	// Patch the first-IFD offset in the header.
	var ptr []byte
	if big {
		ptr = binary.LittleEndian.AppendUint64(nil, tw.ifdOff)
		_, err = tmp.WriteAt(ptr, 8)
	} else {
		ptr = binary.LittleEndian.AppendUint32(nil, uint32(tw.ifdOff))
		_, err = tmp.WriteAt(ptr, 4)
	}
	if err != nil {
		return fmt.Errorf("patching header: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	ok = true
	return nil
}

// ifdEntry is one tag to be written. Values are encoded little-endian.
type ifdEntry struct {
	tag      uint16
	dataType uint16
	count    uint64
	data     []byte
}

func shortsEntry(tag uint16, vals ...uint16) ifdEntry {
	var b []byte
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return ifdEntry{tag: tag, dataType: dtShort, count: uint64(len(vals)), data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	return ifdEntry{tag: tag, dataType: dtLong, count: 1, data: binary.LittleEndian.AppendUint32(nil, v)}
}

func offsetsEntry(tag uint16, vals []uint64, big bool) ifdEntry {
	var b []byte
	if big {
		for _, v := range vals {
			b = binary.LittleEndian.AppendUint64(b, v)
		}
		return ifdEntry{tag: tag, dataType: dtLong8, count: uint64(len(vals)), data: b}
	}
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return ifdEntry{tag: tag, dataType: dtLong, count: uint64(len(vals)), data: b}
}

func doublesEntry(tag uint16, vals ...float64) ifdEntry {
	var b []byte
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return ifdEntry{tag: tag, dataType: dtDouble, count: uint64(len(vals)), data: b}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, dataType: dtASCII, count: uint64(len(b)), data: b}
}

func buildEntries(g grid.GridGeometry, ts int, offsets, counts []uint64, big bool) []ifdEntry {
	bands := g.Bands
	bits := make([]uint16, bands)
	formats := make([]uint16, bands)
	for i := range bits {
		bits[i] = uint16(g.DType.Size() * 8)
		switch {
		case g.DType.IsFloat():
			formats[i] = sampleFormatFloat
		case g.DType == grid.Int8 || g.DType == grid.Int16 || g.DType == grid.Int32:
			formats[i] = sampleFormatInt
		default:
			formats[i] = sampleFormatUint
		}
	}
	a, e := g.Transform.PixelSize()
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(g.Width)),
		longEntry(tagImageLength, uint32(g.Height)),
		shortsEntry(tagBitsPerSample, bits...),
		shortsEntry(tagCompression, compressionDeflate),
		shortsEntry(tagPhotometric, 1), // MinIsBlack
		shortsEntry(tagSamplesPerPixel, uint16(bands)),
		shortsEntry(tagPlanarConfig, 2),
		longEntry(tagTileWidth, uint32(ts)),
		longEntry(tagTileLength, uint32(ts)),
		offsetsEntry(tagTileOffsets, offsets, big),
		offsetsEntry(tagTileByteCounts, counts, big),
		shortsEntry(tagSampleFormat, formats...),
		doublesEntry(tagModelPixelScaleTag, a, e, 0),
		doublesEntry(tagModelTiepointTag, 0, 0, 0, g.Transform.C, g.Transform.F, 0),
		shortsEntry(tagGeoKeyDirectoryTag, geoKeyDirectory(g.CRS, coord.IsGeographic(g.CRS))...),
	}
	if bands > 1 {
		entries = append(entries, shortsEntry(tagExtraSamples, make([]uint16, bands-1)...))
	}
	if g.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(g.NoData, 'g', -1, 64)))
	}
	sortEntries(entries)
	return entries
}

// sortEntries orders entries by tag, as TIFF requires.
func sortEntries(entries []ifdEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
}

// tiffWriter tracks the output offset of a little-endian TIFF stream.
type tiffWriter struct {
	w      *bufio.Writer
	off    uint64
	big    bool
	ifdOff uint64
}

func (t *tiffWriter) write(b []byte) error {
	n, err := t.w.Write(b)
	t.off += uint64(n)
	if err != nil {
		return fmt.Errorf("writing TIFF data: %w", err)
	}
	return nil
}

// writeHeader writes the header with a zero IFD offset, patched later.
func (t *tiffWriter) writeHeader() error {
	if t.big {
		return t.write([]byte{'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	}
	return t.write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
}

// writeIFD writes the directory at the current (word-aligned) offset,
// followed by the out-of-line values it references.
func (t *tiffWriter) writeIFD(entries []ifdEntry) error {
	if t.off%2 == 1 {
		if err := t.write([]byte{0}); err != nil {
			return err
		}
	}
	t.ifdOff = t.off

	countSize, entrySize, inline, nextSize := 2, 12, 4, 4
	if t.big {
		countSize, entrySize, inline, nextSize = 8, 20, 8, 8
	}
	extOff := t.ifdOff + uint64(countSize+entrySize*len(entries)+nextSize)

	var dir, ext []byte
	if t.big {
		dir = binary.LittleEndian.AppendUint64(dir, uint64(len(entries)))
	} else {
		dir = binary.LittleEndian.AppendUint16(dir, uint16(len(entries)))
	}
	for _, e := range entries {
		dir = binary.LittleEndian.AppendUint16(dir, e.tag)
		dir = binary.LittleEndian.AppendUint16(dir, e.dataType)
		if t.big {
			dir = binary.LittleEndian.AppendUint64(dir, e.count)
		} else {
			dir = binary.LittleEndian.AppendUint32(dir, uint32(e.count))
		}
		if len(e.data) <= inline {
			v := make([]byte, inline)
			copy(v, e.data)
			dir = append(dir, v...)
			continue
		}
		ptr := extOff + uint64(len(ext))
		if t.big {
			dir = binary.LittleEndian.AppendUint64(dir, ptr)
		} else {
			dir = binary.LittleEndian.AppendUint32(dir, uint32(ptr))
		}
		ext = append(ext, e.data...)
		if len(ext)%2 == 1 {
			ext = append(ext, 0)
		}
	}
	dir = append(dir, make([]byte, nextSize)...) // no next IFD
	if err := t.write(dir); err != nil {
		return err
	}
	return t.write(ext)
}
