package raster

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/pspoerri/rasterprep/internal/grid"
)

// Block store layout:
//
//	"RBLK" uint32(version)            header, 8 bytes
//	block payloads                    back to back
//	CBOR footer                       storeFooter
//	uint64(footer length) "RBKE"      trailer, 12 bytes
//
// All integers are little-endian.
const (
	storeMagic     = "RBLK"
	storeEndMagic  = "RBKE"
	storeVersion   = 1
	storeHeaderLen = 8
	storeTrailer   = 12
)

// blockRef locates one stored block.
type blockRef struct {
	Window  grid.Window `cbor:"1,keyasint"`
	Codec   Codec       `cbor:"2,keyasint"`
	Offset  int64       `cbor:"3,keyasint"`
	Length  int64       `cbor:"4,keyasint"`
	Uniform []byte      `cbor:"5,keyasint,omitempty"` // per-band sample when the block is constant
}

type storeFooter struct {
	Geometry  grid.GridGeometry `cbor:"1,keyasint"`
	BlockSize int               `cbor:"2,keyasint"`
	Codec     Codec             `cbor:"3,keyasint"`
	Blocks    []blockRef        `cbor:"4,keyasint"`
}

// IncompleteError reports a Commit before every planned block was written.
type IncompleteError struct {
	Path    string
	Written int
	Planned int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: only %d of %d planned blocks written", e.Path, e.Written, e.Planned)
}

// StoreWriter writes a block store. Blocks must match the row-major
// partition of the grid by BlockSize and each must be written exactly once.
// Data goes to a temporary file next to the target that is renamed into
// place by Commit; until then the target path is never touched.
//
// WriteBlock is safe for concurrent use.
type StoreWriter struct {
	path      string
	geo       grid.GridGeometry
	blockSize int
	codec     Codec
	planner   *grid.Planner

	mu      sync.Mutex
	tmp     *os.File
	offset  int64
	refs    []blockRef
	written []bool
	count   int
	dedup   map[uint64]int // payload hash → index into refs
	closed  bool

	dedupHits int
	uniform   int
}

// CreateStore starts a new store at path.
func CreateStore(path string, g grid.GridGeometry, blockSize int, codec Codec) (*StoreWriter, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	p, err := grid.NewPlanner(g.Width, g.Height, blockSize)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	hdr := make([]byte, storeHeaderLen)
	copy(hdr, storeMagic)
	binary.LittleEndian.PutUint32(hdr[4:], storeVersion)
	if _, err := tmp.Write(hdr); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing store header: %w", err)
	}
	return &StoreWriter{
		path:      path,
		geo:       g,
		blockSize: blockSize,
		codec:     codec,
		planner:   p,
		tmp:       tmp,
		offset:    storeHeaderLen,
		refs:      make([]blockRef, p.Len()),
		written:   make([]bool, p.Len()),
		dedup:     make(map[uint64]int),
	}, nil
}

// Geometry returns the grid being written.
func (w *StoreWriter) Geometry() grid.GridGeometry { return w.geo }

// Planner returns a fresh planner matching the store's partition.
func (w *StoreWriter) Planner() *grid.Planner {
	p, _ := grid.NewPlanner(w.geo.Width, w.geo.Height, w.blockSize)
	return p
}

// Path returns the final artifact path.
func (w *StoreWriter) Path() string { return w.path }

// blockIndex maps a window to its slot in the partition.
func (w *StoreWriter) blockIndex(win grid.Window) (int, error) {
	if win.ColOff%w.blockSize != 0 || win.RowOff%w.blockSize != 0 {
		return 0, fmt.Errorf("block %v is not aligned to block size %d", win, w.blockSize)
	}
	cols, rows := w.planner.Grid()
	bc, br := win.ColOff/w.blockSize, win.RowOff/w.blockSize
	if bc >= cols || br >= rows {
		return 0, fmt.Errorf("block %v outside grid", win)
	}
	i := br*cols + bc
	if w.planner.At(i) != win {
		return 0, fmt.Errorf("block %v does not match planned window %v", win, w.planner.At(i))
	}
	return i, nil
}

// WriteBlock stores b. Compression happens outside the lock.
func (w *StoreWriter) WriteBlock(b *Block) error {
	if b.DType != w.geo.DType || b.Bands != w.geo.Bands {
		return fmt.Errorf("block %v does not match store layout %s×%d", b, w.geo.DType, w.geo.Bands)
	}
	idx, err := w.blockIndex(b.Window)
	if err != nil {
		return err
	}

	ref := blockRef{Window: b.Window}
	var payload []byte
	if u, ok := b.Uniform(); ok {
		ref.Uniform = u
	} else {
		payload, ref.Codec, err = compress(b.Data, w.codec)
		if err != nil {
			return fmt.Errorf("compressing block %v: %w", b.Window, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("store %s already closed", w.path)
	}
	if w.written[idx] {
		return fmt.Errorf("block %v written twice", b.Window)
	}

	if ref.Uniform != nil {
		w.uniform++
	} else {
		h := payloadHash(payload)
		if j, ok := w.dedup[h]; ok && w.refs[j].Length == int64(len(payload)) && w.refs[j].Codec == ref.Codec {
			ref.Offset, ref.Length = w.refs[j].Offset, w.refs[j].Length
			w.dedupHits++
		} else {
			n, err := w.tmp.Write(payload)
			if err != nil {
				return fmt.Errorf("writing block %v: %w", b.Window, err)
			}
			ref.Offset, ref.Length = w.offset, int64(n)
			w.offset += int64(n)
			w.dedup[h] = idx
		}
	}
	w.refs[idx] = ref
	w.written[idx] = true
	w.count++
	return nil
}

func payloadHash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// Written returns how many blocks have been stored so far.
func (w *StoreWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Commit writes the footer and atomically renames the store into place.
// It fails with *IncompleteError unless every planned block was written,
// in which case the temporary file is removed.
func (w *StoreWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("store %s already closed", w.path)
	}
	if w.count != len(w.refs) {
		w.abortLocked()
		return &IncompleteError{Path: w.path, Written: w.count, Planned: len(w.refs)}
	}

	footer, err := encMode.Marshal(storeFooter{
		Geometry:  w.geo,
		BlockSize: w.blockSize,
		Codec:     w.codec,
		Blocks:    w.refs,
	})
	if err != nil {
		w.abortLocked()
		return fmt.Errorf("encoding store footer: %w", err)
	}
	trailer := make([]byte, storeTrailer)
	binary.LittleEndian.PutUint64(trailer, uint64(len(footer)))
	copy(trailer[8:], storeEndMagic)

	if _, err := w.tmp.Write(append(footer, trailer...)); err != nil {
		w.abortLocked()
		return fmt.Errorf("writing store footer: %w", err)
	}
	if err := w.tmp.Sync(); err != nil {
		w.abortLocked()
		return fmt.Errorf("syncing store: %w", err)
	}
	tmpPath := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		w.closed = true
		os.Remove(tmpPath)
		return fmt.Errorf("closing store: %w", err)
	}
	w.closed = true
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming store into place: %w", err)
	}
	return nil
}

// Abort discards everything written so far. It is safe to call after
// Commit, in which case it does nothing.
func (w *StoreWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.abortLocked()
	}
}

func (w *StoreWriter) abortLocked() {
	tmpPath := w.tmp.Name()
	w.tmp.Close()
	os.Remove(tmpPath)
	w.closed = true
}

// Stats summarises what was written.
func (w *StoreWriter) Stats() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fmt.Sprintf("%d blocks (%d uniform, %d deduplicated), %d payload bytes",
		w.count, w.uniform, w.dedupHits, w.offset-storeHeaderLen)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("raster: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("raster: CBOR decoder initialization failed: " + err.Error())
	}
}
