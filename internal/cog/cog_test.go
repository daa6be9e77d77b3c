package cog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
)

func patternedMemory(g grid.GridGeometry) *raster.Memory {
	m := raster.NewMemory(g)
	for band := 0; band < g.Bands; band++ {
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				m.Block().SetValue(band, c, r, float64((c*31+r*17+band*101)%1000-300))
			}
		}
	}
	return m
}

func TestWriteGeoTIFF_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		geo  grid.GridGeometry
		opts WriteOptions
	}{
		{
			name: "uint8 single band",
			geo: grid.GridGeometry{CRS: 32637, Transform: grid.NorthUp(300000, 1000000, 30, 30),
				Width: 300, Height: 170, Bands: 1, DType: grid.Uint8, NoData: 255, HasNoData: true},
		},
		{
			name: "int16 two bands bigtiff",
			geo: grid.GridGeometry{CRS: 2056, Transform: grid.NorthUp(2600000, 1200000, 10, 10),
				Width: 70, Height: 40, Bands: 2, DType: grid.Int16, NoData: -9999, HasNoData: true},
			opts: WriteOptions{TileSize: 32, BigTIFF: true},
		},
		{
			name: "float32 geographic no nodata",
			geo: grid.GridGeometry{CRS: 4326, Transform: grid.NorthUp(-10, 50, 0.01, 0.01),
				Width: 33, Height: 65, Bands: 1, DType: grid.Float32},
			opts: WriteOptions{TileSize: 16},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := patternedMemory(tt.geo)
			path := filepath.Join(t.TempDir(), "out.tif")
			tiles := 0
			if err := WriteGeoTIFF(path, src, tt.opts, func() { tiles++ }); err != nil {
				t.Fatalf("WriteGeoTIFF: %v", err)
			}
			if tiles == 0 {
				t.Error("progress callback never called")
			}

			r, err := Open(path, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer r.Close()

			if got := r.Geometry(); got != tt.geo {
				t.Errorf("geometry:\n got %v\nwant %v", got, tt.geo)
			}
			if info := r.Info(); info.BigTIFF != tt.opts.BigTIFF || !info.Tiled || info.PlanarConfig != 2 {
				t.Errorf("unexpected layout %+v", info)
			}
			for _, w := range []grid.Window{tt.geo.Full(), {ColOff: 3, RowOff: 5, Width: 20, Height: 11}} {
				got, err := r.ReadWindow(w)
				if err != nil {
					t.Fatalf("ReadWindow(%v): %v", w, err)
				}
				want, _ := src.ReadWindow(w)
				if !got.Equal(want) {
					t.Errorf("ReadWindow(%v): pixels differ", w)
				}
			}
		})
	}
}

func TestWriteGeoTIFF_NoTempOnError(t *testing.T) {
	g := grid.GridGeometry{CRS: 4326, Transform: grid.NorthUp(0, 0, 1, 1), Width: 4, Height: 4, Bands: 1, DType: grid.Uint8}
	dir := t.TempDir()
	err := WriteGeoTIFF(filepath.Join(dir, "x.tif"), raster.NewMemory(g), WriteOptions{TileSize: 17}, nil)
	if err == nil {
		t.Fatal("expected error for odd tile size")
	}
	if m, _ := filepath.Glob(filepath.Join(dir, "*")); len(m) != 0 {
		t.Errorf("files left behind: %v", m)
	}
}

// stripTIFF describes a hand-built, little-endian, stripped TIFF.
type stripTIFF struct {
	width, height, spp, rowsPerStrip int
	compression                      uint16
	predictor                        uint16
	transform                        []float64 // ModelTransformation; nil for none
	pixelIsPoint                     bool
	epsg                             int
	samples                          []uint16 // chunky, row-major
}

func (s stripTIFF) build(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := &tiffWriter{w: bufio.NewWriter(&buf)}
	if err := tw.writeHeader(); err != nil {
		t.Fatal(err)
	}

	var offsets, counts []uint64
	rowBytes := s.width * s.spp * 2
	for r0 := 0; r0 < s.height; r0 += s.rowsPerStrip {
		rows := min(s.rowsPerStrip, s.height-r0)
		raw := make([]byte, rows*rowBytes)
		for i := range raw[:len(raw)/2] {
			binary.LittleEndian.PutUint16(raw[i*2:], s.samples[r0*s.width*s.spp+i])
		}
		if s.predictor == 2 {
			applyPredictor(raw, s.width, rows, s.spp)
		}
		var payload []byte
		switch s.compression {
		case compressionLZW:
			payload = compressTIFFLZW(raw)
		case compressionPackBits:
			payload = packBitsLiteral(raw)
		default:
			payload = raw
		}
		offsets = append(offsets, tw.off)
		counts = append(counts, uint64(len(payload)))
		if err := tw.write(payload); err != nil {
			t.Fatal(err)
		}
	}

	bits := make([]uint16, s.spp)
	for i := range bits {
		bits[i] = 16
	}
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(s.width)),
		longEntry(tagImageLength, uint32(s.height)),
		shortsEntry(tagBitsPerSample, bits...),
		shortsEntry(tagCompression, s.compression),
		shortsEntry(tagPhotometric, 1),
		offsetsEntry(tagStripOffsets, offsets, false),
		shortsEntry(tagSamplesPerPixel, uint16(s.spp)),
		longEntry(tagRowsPerStrip, uint32(s.rowsPerStrip)),
		offsetsEntry(tagStripByteCounts, counts, false),
		shortsEntry(tagPlanarConfig, 1),
	}
	if s.predictor != 0 {
		entries = append(entries, shortsEntry(tagPredictor, s.predictor))
	}
	if s.transform != nil {
		entries = append(entries, doublesEntry(tagModelTransformation, s.transform...))
		rasterType := uint16(rasterPixelIsArea)
		if s.pixelIsPoint {
			rasterType = rasterPixelIsPoint
		}
		entries = append(entries, shortsEntry(tagGeoKeyDirectoryTag,
			1, 1, 0, 2,
			gkRasterTypeGeoKey, 0, 1, rasterType,
			gkProjectedCSTypeGeoKey, 0, 1, uint16(s.epsg)))
	}
	sortEntries(entries)
	if err := tw.writeIFD(entries); err != nil {
		t.Fatal(err)
	}
	if err := tw.w.Flush(); err != nil {
		t.Fatal(err)
	}
	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[4:], uint32(tw.ifdOff))
	return out
}

func applyPredictor(buf []byte, width, rows, spp int) {
	stride := width * spp * 2
	for r := 0; r < rows; r++ {
		row := buf[r*stride : (r+1)*stride]
		for i := width*spp - 1; i >= spp; i-- {
			v := binary.LittleEndian.Uint16(row[i*2:]) - binary.LittleEndian.Uint16(row[(i-spp)*2:])
			binary.LittleEndian.PutUint16(row[i*2:], v)
		}
	}
}

// packBitsLiteral encodes data using literal runs and one repeat run per
// 128-byte chunk that starts with a repeated byte.
func packBitsLiteral(data []byte) []byte {
	var out []byte
	for i := 0; i < len(data); {
		if i+2 < len(data) && data[i] == data[i+1] && data[i] == data[i+2] {
			n := 3
			for i+n < len(data) && n < 128 && data[i+n] == data[i] {
				n++
			}
			out = append(out, byte(int8(1-n)), data[i])
			i += n
			continue
		}
		n := min(128, len(data)-i)
		out = append(out, byte(n-1))
		out = append(out, data[i:i+n]...)
		i += n
	}
	return out
}

func stripSamples(w, h, spp int) []uint16 {
	s := make([]uint16, w*h*spp)
	for i := range s {
		s[i] = uint16((i * 2654435761) >> 7)
		if (i/spp)%5 == 0 {
			s[i] = 7 // runs for PackBits
		}
	}
	return s
}

func TestReader_StrippedLayouts(t *testing.T) {
	const w, h, spp = 23, 11, 2
	samples := stripSamples(w, h, spp)
	tests := []struct {
		name        string
		compression uint16
		predictor   uint16
	}{
		{"none", compressionNone, 0},
		{"lzw predictor", compressionLZW, 2},
		{"lzw", compressionLZW, 0},
		{"packbits", compressionPackBits, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stripTIFF{
				width: w, height: h, spp: spp, rowsPerStrip: 4,
				compression: tt.compression, predictor: tt.predictor,
				transform: []float64{10, 0, 0, 500000, 0, -10, 0, 4000000, 0, 0, 1, 0, 0, 0, 0, 1},
				epsg:      32632,
				samples:   samples,
			}
			path := filepath.Join(t.TempDir(), "strip.tif")
			if err := os.WriteFile(path, s.build(t), 0o644); err != nil {
				t.Fatal(err)
			}
			r, err := Open(path, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer r.Close()

			g := r.Geometry()
			if g.CRS != 32632 || g.Bands != spp || g.DType != grid.Uint16 {
				t.Fatalf("unexpected geometry %v", g)
			}
			if g.Transform != grid.NorthUp(500000, 4000000, 10, 10) {
				t.Errorf("transform: got %+v", g.Transform)
			}
			b, err := r.ReadWindow(grid.Window{ColOff: 2, RowOff: 3, Width: 19, Height: 7})
			if err != nil {
				t.Fatalf("ReadWindow: %v", err)
			}
			for row := 0; row < 7; row++ {
				for col := 0; col < 19; col++ {
					for band := 0; band < spp; band++ {
						want := float64(samples[((row+3)*w+col+2)*spp+band])
						if got := b.Value(band, col, row); got != want {
							t.Fatalf("(%d,%d,b%d): got %v, want %v", col, row, band, got, want)
						}
					}
				}
			}
		})
	}
}

func TestReader_PixelIsPoint(t *testing.T) {
	s := stripTIFF{
		width: 4, height: 4, spp: 1, rowsPerStrip: 4, compression: compressionNone,
		transform:    []float64{2, 0, 0, 100, 0, -2, 0, 200, 0, 0, 1, 0, 0, 0, 0, 1},
		pixelIsPoint: true, epsg: 2056,
		samples: make([]uint16, 16),
	}
	path := filepath.Join(t.TempDir(), "point.tif")
	if err := os.WriteFile(path, s.build(t), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got, want := r.Geometry().Transform, grid.NorthUp(99, 201, 2, 2); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReader_TFWFallback(t *testing.T) {
	s := stripTIFF{
		width: 8, height: 8, spp: 1, rowsPerStrip: 8, compression: compressionNone,
		samples: stripSamples(8, 8, 1),
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.tif")
	if err := os.WriteFile(path, s.build(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, nil); err == nil {
		t.Fatal("Open without georeferencing succeeded")
	}

	tfw := "0.5\n0\n0\n-0.5\n2600000.25\n1200000.25\n"
	if err := os.WriteFile(filepath.Join(dir, "plain.tfw"), []byte(tfw), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open with .tfw: %v", err)
	}
	defer r.Close()
	g := r.Geometry()
	if g.CRS != 2056 {
		t.Errorf("inferred CRS: got %d, want 2056", g.CRS)
	}
	if g.Transform != grid.NorthUp(2600000, 1200000.5, 0.5, 0.5) {
		t.Errorf("transform: got %+v", g.Transform)
	}
	if r.Info().WorldFile == "" {
		t.Error("Info().WorldFile not set")
	}
}

func TestLZW_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty": {},
		"short": []byte("TOBEORNOTTOBEORTOBEORNOT"),
		"runs":  bytes.Repeat([]byte{0, 0, 0, 1}, 5000),
		"table fill": func() []byte {
			b := make([]byte, 200000)
			for i := range b {
				b[i] = byte((i * 7919) >> 5)
			}
			return b
		}(),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			enc := compressTIFFLZW(in)
			out, err := decompressTIFFLZW(enc, len(in))
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(out, in) && !(len(in) == 0 && len(out) == 0) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(out), len(in))
			}
		})
	}
}

func TestToLittleEndian(t *testing.T) {
	buf := []byte{0x12, 0x34, 0x56, 0x78}
	toLittleEndian(buf, 4, binary.BigEndian)
	if binary.LittleEndian.Uint32(buf) != 0x12345678 {
		t.Errorf("got %x", buf)
	}
}

func TestParseGeoInfo_NoData(t *testing.T) {
	ifd := &IFD{GDALNoData: "nan"}
	info, err := parseGeoInfo(ifd)
	if err != nil {
		t.Fatal(err)
	}
	if !info.HasNoData || !math.IsNaN(info.NoData) {
		t.Errorf("got %v/%v, want NaN", info.NoData, info.HasNoData)
	}
	if _, err := parseGeoInfo(&IFD{GDALNoData: "abc"}); err == nil {
		t.Error("invalid nodata accepted")
	}
}
