package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pspoerri/rasterprep/internal/grid"
)

// Store is an opened, committed block store.
type Store struct {
	path      string
	f         *os.File
	geo       grid.GridGeometry
	blockSize int
	codec     Codec
	blocks    []blockRef
	cols      int
	cache     *BlockCache
	owner     uint64
}

// OpenStore opens a committed store. cache may be nil, in which case a
// private cache is used.
func OpenStore(path string, cache *BlockCache) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := readStore(f, path)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cache == nil {
		cache = NewBlockCache(0)
	}
	s.cache = cache
	s.owner = cache.Register()
	return s, nil
}

func readStore(f *os.File, path string) (*Store, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < storeHeaderLen+storeTrailer {
		return nil, fmt.Errorf("file too small for a block store (%d bytes)", size)
	}

	hdr := make([]byte, storeHeaderLen)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if string(hdr[:4]) != storeMagic {
		return nil, fmt.Errorf("not a block store (magic %q)", hdr[:4])
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != storeVersion {
		return nil, fmt.Errorf("unsupported block store version %d", v)
	}

	trailer := make([]byte, storeTrailer)
	if _, err := f.ReadAt(trailer, size-storeTrailer); err != nil {
		return nil, fmt.Errorf("reading trailer: %w", err)
	}
	if !bytes.Equal(trailer[8:], []byte(storeEndMagic)) {
		return nil, fmt.Errorf("missing end marker; store is incomplete")
	}
	flen := int64(binary.LittleEndian.Uint64(trailer))
	if flen <= 0 || flen > size-storeHeaderLen-storeTrailer {
		return nil, fmt.Errorf("invalid footer length %d", flen)
	}
	raw := make([]byte, flen)
	if _, err := f.ReadAt(raw, size-storeTrailer-flen); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	var ft storeFooter
	if err := decMode.Unmarshal(raw, &ft); err != nil {
		return nil, fmt.Errorf("decoding footer: %w", err)
	}
	if err := ft.Geometry.Validate(); err != nil {
		return nil, err
	}
	p, err := grid.NewPlanner(ft.Geometry.Width, ft.Geometry.Height, ft.BlockSize)
	if err != nil {
		return nil, err
	}
	if len(ft.Blocks) != p.Len() {
		return nil, fmt.Errorf("footer lists %d blocks, partition has %d", len(ft.Blocks), p.Len())
	}
	cols, _ := p.Grid()
	return &Store{
		path:      path,
		f:         f,
		geo:       ft.Geometry,
		blockSize: ft.BlockSize,
		codec:     ft.Codec,
		blocks:    ft.Blocks,
		cols:      cols,
	}, nil
}

func (s *Store) Geometry() grid.GridGeometry { return s.geo }

// BlockSize returns the edge length of stored blocks.
func (s *Store) BlockSize() int { return s.blockSize }

// Codec returns the codec requested when the store was written.
func (s *Store) Codec() Codec { return s.codec }

// Path returns the file path.
func (s *Store) Path() string { return s.path }

// ReadWindow assembles w from every stored block it overlaps.
func (s *Store) ReadWindow(w grid.Window) (*Block, error) {
	if err := checkWindow(s.geo, w); err != nil {
		return nil, err
	}
	out := NewBlock(w, s.geo.DType, s.geo.Bands)
	bs := s.blockSize
	for br := w.RowOff / bs; br <= (w.RowEnd()-1)/bs; br++ {
		for bc := w.ColOff / bs; bc <= (w.ColEnd()-1)/bs; bc++ {
			idx := br*s.cols + bc
			ref := s.blocks[idx]
			if ref.Uniform != nil {
				fillUniform(out, ref.Window.Intersect(w), ref.Uniform)
				continue
			}
			data, err := s.decodeBlock(idx)
			if err != nil {
				out.Release()
				return nil, err
			}
			out.CopyFrom(&Block{Window: ref.Window, DType: s.geo.DType, Bands: s.geo.Bands, Data: data})
		}
	}
	return out, nil
}

func (s *Store) decodeBlock(idx int) ([]byte, error) {
	if data := s.cache.Get(s.owner, idx); data != nil {
		return data, nil
	}
	ref := s.blocks[idx]
	payload := make([]byte, ref.Length)
	if _, err := s.f.ReadAt(payload, ref.Offset); err != nil {
		return nil, fmt.Errorf("reading block %v: %w", ref.Window, err)
	}
	size := int(ref.Window.Area()) * s.geo.PixelBytes()
	data, err := decompress(payload, ref.Codec, size)
	if err != nil {
		return nil, fmt.Errorf("block %v: %w", ref.Window, err)
	}
	s.cache.Put(s.owner, idx, data)
	return data, nil
}

// fillUniform writes per-band constant samples into the part ov of b.
func fillUniform(b *Block, ov grid.Window, samples []byte) {
	size := b.DType.Size()
	for band := 0; band < b.Bands; band++ {
		s := samples[band*size : (band+1)*size]
		for r := ov.RowOff; r < ov.RowEnd(); r++ {
			o := b.Offset(band, ov.ColOff-b.Window.ColOff, r-b.Window.RowOff)
			fillSamples(b.Data[o:o+ov.Width*size], s)
		}
	}
}

// Close releases the file and the store's cached blocks.
func (s *Store) Close() error {
	s.cache.Evict(s.owner)
	return s.f.Close()
}
