package cog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// Reader provides windowed access to a GeoTIFF file.
// The file is memory-mapped for lock-free concurrent access where the
// platform allows it; otherwise chunks are read with ReadAt.
type Reader struct {
	data  []byte   // memory-mapped file contents, nil when not mapped
	file  *os.File // open only when not mapped
	size  int64
	bo    binary.ByteOrder
	ifds  []IFD
	geo   GeoInfo
	grid  grid.GridGeometry
	path  string
	cache *raster.BlockCache
	owner uint64

	bigTIFF bool
	tfwPath string
}

// Open opens a GeoTIFF file by memory-mapping it and parsing its structure.
// cache holds decoded tiles and strips and may be shared between readers;
// nil gives the reader a private cache.
func Open(path string, cache *raster.BlockCache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: empty file", path)
	}

	r := &Reader{path: path, size: size, cache: cache}
	if r.cache == nil {
		r.cache = raster.NewBlockCache(0)
	}
	r.owner = r.cache.Register()

	// Memory-map the entire file read-only. The fd can be closed after mmap.
	if data, err := mmapFile(f.Fd(), int(size)); err == nil {
		r.data = data
		f.Close()
	} else {
		r.file = f
	}

	if err := r.parse(); err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (r *Reader) parse() error {
	var hdr [4]byte
	if _, err := r.readAt(hdr[:], 0); err != nil {
		return fmt.Errorf("reading TIFF header: %w", err)
	}
	ifds, bo, err := parseTIFF(r.readSeeker())
	if err != nil {
		return err
	}
	if len(ifds) == 0 {
		return fmt.Errorf("no IFDs found")
	}
	r.ifds = ifds
	r.bo = bo
	r.bigTIFF = bo.Uint16(hdr[2:]) == 43

	first := &r.ifds[0]
	offsets, counts := first.ChunkOffsets()
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return fmt.Errorf("missing tile/strip offsets")
	}
	dt, err := sampleDType(first)
	if err != nil {
		return err
	}
	if first.PlanarConfig != 1 && first.PlanarConfig != 2 {
		return fmt.Errorf("unsupported planar configuration %d", first.PlanarConfig)
	}
	if first.Predictor == 3 {
		return fmt.Errorf("floating-point predictor is not supported")
	}
	perBand := first.ChunksAcross() * first.ChunksDown()
	want := perBand
	if first.PlanarConfig == 2 {
		want *= int(first.SamplesPerPixel)
	}
	if len(offsets) < want {
		return fmt.Errorf("expected %d chunks, found %d", want, len(offsets))
	}

	geo, err := parseGeoInfo(first)
	if err != nil {
		return err
	}
	if !geo.Georef {
		tfwPath := findTFW(r.path)
		if tfwPath == "" {
			return fmt.Errorf("no georeferencing (GeoTIFF tags or .tfw world file)")
		}
		tfw, err := parseTFW(tfwPath)
		if err != nil {
			return err
		}
		geo.Transform = tfw.affine()
		geo.Georef = true
		r.tfwPath = tfwPath
	}
	if geo.EPSG == 0 {
		geo.EPSG = inferEPSG(geo.Transform, first.Width, first.Height)
	}
	r.geo = geo
	r.grid = grid.GridGeometry{
		CRS:       geo.EPSG,
		Transform: geo.Transform,
		Width:     int(first.Width),
		Height:    int(first.Height),
		Bands:     int(first.SamplesPerPixel),
		DType:     dt,
		NoData:    geo.NoData,
		HasNoData: geo.HasNoData,
	}
	return r.grid.Validate()
}

// sampleDType maps BitsPerSample and SampleFormat to a pixel dtype. All
// samples of a pixel must share the same type.
func sampleDType(ifd *IFD) (grid.DType, error) {
	if len(ifd.BitsPerSample) == 0 {
		return grid.DTypeInvalid, fmt.Errorf("missing BitsPerSample")
	}
	bits := ifd.BitsPerSample[0]
	for _, b := range ifd.BitsPerSample {
		if b != bits {
			return grid.DTypeInvalid, fmt.Errorf("mixed BitsPerSample %v", ifd.BitsPerSample)
		}
	}
	format := uint16(sampleFormatUint)
	if len(ifd.SampleFormat) > 0 {
		format = ifd.SampleFormat[0]
	}
	type key struct{ bits, format uint16 }
	dt, ok := map[key]grid.DType{
		{8, sampleFormatUint}:   grid.Uint8,
		{8, sampleFormatInt}:    grid.Int8,
		{16, sampleFormatUint}:  grid.Uint16,
		{16, sampleFormatInt}:   grid.Int16,
		{32, sampleFormatUint}:  grid.Uint32,
		{32, sampleFormatInt}:   grid.Int32,
		{32, sampleFormatFloat}: grid.Float32,
		{64, sampleFormatFloat}: grid.Float64,
	}[key{bits, format}]
	if !ok {
		return grid.DTypeInvalid, fmt.Errorf("unsupported sample type: %d bits, format %d", bits, format)
	}
	return dt, nil
}

// Close releases the mapping or file handle.
func (r *Reader) Close() error {
	r.cache.Evict(r.owner)
	if r.data != nil {
		err := munmapFile(r.data)
		r.data = nil
		return err
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// Geometry returns the raster's grid.
func (r *Reader) Geometry() grid.GridGeometry {
	return r.grid
}

// GeoInfo returns the parsed geographic metadata.
func (r *Reader) GeoInfo() GeoInfo {
	return r.geo
}

// Info describes the file layout.
type Info struct {
	BigTIFF      bool
	Tiled        bool
	ChunkWidth   int
	ChunkHeight  int
	Compression  uint16
	Predictor    uint16
	PlanarConfig uint16
	Overviews    int
	WorldFile    string
}

// Info returns layout details of the full-resolution image.
func (r *Reader) Info() Info {
	first := &r.ifds[0]
	cw, ch := first.ChunkSize()
	return Info{
		BigTIFF:      r.bigTIFF,
		Tiled:        first.Tiled(),
		ChunkWidth:   cw,
		ChunkHeight:  ch,
		Compression:  first.Compression,
		Predictor:    first.Predictor,
		PlanarConfig: first.PlanarConfig,
		Overviews:    len(r.ifds) - 1,
		WorldFile:    r.tfwPath,
	}
}

// ReadWindow reads a window of the full-resolution image as raw samples.
// This is safe for concurrent use.
func (r *Reader) ReadWindow(w grid.Window) (*raster.Block, error) {
	if w.Empty() || !r.grid.Full().Contains(w) {
		return nil, fmt.Errorf("%s: window %v outside %dx%d grid", r.path, w, r.grid.Width, r.grid.Height)
	}
	ifd := &r.ifds[0]
	cw, ch := ifd.ChunkSize()
	across := ifd.ChunksAcross()
	perBand := across * ifd.ChunksDown()
	planar := ifd.PlanarConfig == 2
	bands := r.grid.Bands
	size := r.grid.DType.Size()

	out := raster.NewBlock(w, r.grid.DType, bands)
	for cr := w.RowOff / ch; cr <= (w.RowEnd()-1)/ch; cr++ {
		for cc := w.ColOff / cw; cc <= (w.ColEnd()-1)/cw; cc++ {
			chunkWin := grid.Window{ColOff: cc * cw, RowOff: cr * ch, Width: cw, Height: ch}
			ov := chunkWin.Intersect(w)
			idx := cr*across + cc

			if planar {
				for band := 0; band < bands; band++ {
					data, err := r.chunk(band*perBand+idx, 1)
					if err != nil {
						out.Release()
						return nil, err
					}
					for row := ov.RowOff; row < ov.RowEnd(); row++ {
						src := ((row-chunkWin.RowOff)*cw + ov.ColOff - chunkWin.ColOff) * size
						dst := out.Offset(band, ov.ColOff-w.ColOff, row-w.RowOff)
						copy(out.Data[dst:dst+ov.Width*size], data[src:src+ov.Width*size])
					}
				}
				continue
			}

			data, err := r.chunk(idx, bands)
			if err != nil {
				out.Release()
				return nil, err
			}
			for row := ov.RowOff; row < ov.RowEnd(); row++ {
				for col := ov.ColOff; col < ov.ColEnd(); col++ {
					src := (((row-chunkWin.RowOff)*cw + col - chunkWin.ColOff) * bands) * size
					for band := 0; band < bands; band++ {
						dst := out.Offset(band, col-w.ColOff, row-w.RowOff)
						copy(out.Data[dst:dst+size], data[src+band*size:src+(band+1)*size])
					}
				}
			}
		}
	}
	return out, nil
}

// chunk returns the decoded, little-endian samples of one tile or strip,
// padded to the full chunk size. spp is the number of interleaved samples.
func (r *Reader) chunk(idx, spp int) ([]byte, error) {
	if data := r.cache.Get(r.owner, idx); data != nil {
		return data, nil
	}
	ifd := &r.ifds[0]
	cw, ch := ifd.ChunkSize()
	sampleSize := r.grid.DType.Size()
	size := cw * ch * spp * sampleSize

	offsets, counts := ifd.ChunkOffsets()
	off, n := offsets[idx], counts[idx]
	var data []byte
	if n == 0 {
		// Sparse chunk: GDAL convention is nodata, or zero without one.
		data = make([]byte, size)
		if r.grid.HasNoData {
			b := &raster.Block{Window: grid.Window{Width: cw * ch * spp, Height: 1}, DType: r.grid.DType, Bands: 1, Data: data}
			b.Fill(r.grid.NoData)
		}
		r.cache.Put(r.owner, idx, data)
		return data, nil
	}
	if off+n > uint64(r.size) {
		return nil, fmt.Errorf("%s: chunk %d data [%d:%d] exceeds file size %d", r.path, idx, off, off+n, r.size)
	}
	raw, err := r.slice(int64(off), int64(n))
	if err != nil {
		return nil, err
	}
	data, err = decompressChunk(ifd.Compression, raw, size)
	if err != nil {
		return nil, fmt.Errorf("%s: chunk %d: %w", r.path, idx, err)
	}
	if ifd.Predictor == 2 {
		if err := undoHorizontalPredictor(data, cw, ch, spp, sampleSize, r.bo); err != nil {
			return nil, err
		}
	}
	toLittleEndian(data, sampleSize, r.bo)
	r.cache.Put(r.owner, idx, data)
	return data, nil
}

// slice returns n bytes at off. Mapped files are sliced without copying.
func (r *Reader) slice(off, n int64) ([]byte, error) {
	if r.data != nil {
		return r.data[off : off+n], nil
	}
	buf := make([]byte, n)
	if _, err := r.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%s: reading %d bytes at %d: %w", r.path, n, off, err)
	}
	return buf, nil
}

func (r *Reader) readAt(p []byte, off int64) (int, error) {
	return r.readSeeker().(io.ReaderAt).ReadAt(p, off)
}

// readSeeker exposes the file for IFD parsing.
func (r *Reader) readSeeker() io.ReadSeeker {
	if r.data != nil {
		return bytes.NewReader(r.data)
	}
	return io.NewSectionReader(r.file, 0, r.size)
}

// OpenAll opens multiple GeoTIFF files and returns their readers.
func OpenAll(paths []string, cache *raster.BlockCache) ([]*Reader, error) {
	readers := make([]*Reader, 0, len(paths))
	for _, p := range paths {
		r, err := Open(p, cache)
		if err != nil {
			// Close any already-opened readers.
			for _, rr := range readers {
				rr.Close()
			}
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}
