package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
	"github.com/pspoerri/rasterprep/internal/vector"
)

// OverlapPolicy decides which tile supplies a pixel covered by several.
type OverlapPolicy string

const (
	// LastWins lets later tiles overwrite earlier ones.
	LastWins OverlapPolicy = "last-wins"
	// FirstWins keeps the first tile's value.
	FirstWins OverlapPolicy = "first-wins"
)

func (p OverlapPolicy) validate() (OverlapPolicy, error) {
	switch p {
	case "":
		return LastWins, nil
	case LastWins, FirstWins:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q", p)
	}
}

// MosaicOptions configures Mosaic.
type MosaicOptions struct {
	Policy OverlapPolicy
	// ReprojectMismatched resamples tiles that are not on the first tile's
	// pixel lattice instead of failing with *TileAlignmentError.
	ReprojectMismatched bool
	// TempDir holds resampled tiles; defaults to the output's directory.
	TempDir string
}

// placedTile is a tile with its window in mosaic pixel space.
type placedTile struct {
	Tile
	win    grid.Window
	nodata raster.NoData
}

// MosaicGeometry returns the grid covering the union of tiles on the first
// tile's pixel lattice and each tile's window in it. Tiles must share CRS,
// resolution, dtype and band count and lie on the same lattice.
func MosaicGeometry(tiles []Tile) (grid.GridGeometry, []grid.Window, error) {
	if len(tiles) == 0 {
		return grid.GridGeometry{}, nil, &NoInputDataError{Stage: "mosaic", Detail: "no tiles"}
	}
	ref := tiles[0].Source.Geometry()
	type offset struct{ col, row int }
	offs := make([]offset, len(tiles))
	c0, r0, c1, r1 := 0, 0, ref.Width, ref.Height
	for i, t := range tiles {
		g := t.Source.Geometry()
		if g.DType != ref.DType || g.Bands != ref.Bands {
			return grid.GridGeometry{}, nil, &TileAlignmentError{Path: t.Path,
				Reason: fmt.Sprintf("layout %s×%d differs from %s×%d", g.DType, g.Bands, ref.DType, ref.Bands)}
		}
		if !ref.SameResolution(g) {
			return grid.GridGeometry{}, nil, &TileAlignmentError{Path: t.Path,
				Reason: fmt.Sprintf("CRS or resolution differs (%s vs %s)", g, ref)}
		}
		col, row, ok := ref.AlignedOffset(g)
		if !ok {
			return grid.GridGeometry{}, nil, &TileAlignmentError{Path: t.Path,
				Reason: "origin is not a whole number of pixels from the first tile"}
		}
		offs[i] = offset{col, row}
		c0, r0 = min(c0, col), min(r0, row)
		c1, r1 = max(c1, col+g.Width), max(r1, row+g.Height)
	}

	out := ref
	out.Transform = ref.Transform.Offset(c0, r0)
	out.Width, out.Height = c1-c0, r1-r0
	if !out.HasNoData {
		for _, t := range tiles {
			if g := t.Source.Geometry(); g.HasNoData {
				out.NoData, out.HasNoData = g.NoData, true
				break
			}
		}
	}
	wins := make([]grid.Window, len(tiles))
	for i, t := range tiles {
		g := t.Source.Geometry()
		wins[i] = grid.Window{ColOff: offs[i].col - c0, RowOff: offs[i].row - r0, Width: g.Width, Height: g.Height}
	}
	return out, wins, nil
}

// Mosaic combines tiles into one block store at out. Pixels covered by no
// tile, or only by nodata pixels, hold the mosaic's nodata (or 0). Source
// pixels equal to their tile's nodata are never copied.
func Mosaic(ctx context.Context, tiles []Tile, out string, mopts MosaicOptions, opts Options) (Report, error) {
	rep := Report{Stage: "mosaic", Artifact: out}
	log := opts.log()
	policy, err := mopts.Policy.validate()
	if err != nil {
		return rep, err
	}
	if len(tiles) == 0 {
		return rep, &NoInputDataError{Stage: "mosaic", Detail: "no tiles"}
	}

	if mopts.ReprojectMismatched {
		var cleanup func()
		tiles, cleanup, err = alignTiles(ctx, tiles, out, mopts.TempDir, opts, &rep)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			return rep, err
		}
	}

	g, wins, err := MosaicGeometry(tiles)
	if err != nil {
		return rep, err
	}
	placed := make([]placedTile, len(tiles))
	bounds := make([]orb.Bound, len(tiles))
	for i, t := range tiles {
		placed[i] = placedTile{Tile: t, win: wins[i], nodata: raster.NoDataFor(t.Source.Geometry())}
		bounds[i] = windowBound(wins[i])
	}
	index := vector.NewIndex(bounds)

	w, err := createStore(out, g, opts)
	if err != nil {
		return rep, err
	}
	rep.Blocks = w.Planner().Len()
	log.Info("Mosaicking", "tiles", len(tiles), "grid", g.String(), "policy", string(policy), "blocks", rep.Blocks)

	fill := 0.0
	if g.HasNoData {
		fill = g.NoData
	}
	work := func(win grid.Window) (*raster.Block, error) {
		dst := raster.NewFilledBlock(win, g.DType, g.Bands, fill)
		var written []bool
		if policy == FirstWins {
			written = make([]bool, win.Area())
		}
		for _, i := range index.Search(windowBound(win)) {
			if err := placed[i].paint(dst, written); err != nil {
				dst.Release()
				return nil, fmt.Errorf("%s: %w", placed[i].Path, err)
			}
		}
		return dst, nil
	}
	if err := writeStore(ctx, rep.Stage, w, opts, work); err != nil {
		return rep, err
	}
	return rep, nil
}

// paint copies the tile's non-nodata pixels into dst. With written set,
// pixels already taken by an earlier tile are left alone.
func (t *placedTile) paint(dst *raster.Block, written []bool) error {
	ov := dst.Window.Intersect(t.win)
	if ov.Empty() {
		return nil
	}
	src, err := t.Source.ReadWindow(ov.Translate(-t.win.ColOff, -t.win.RowOff))
	if err != nil {
		return err
	}
	defer src.Release()

	if !t.nodata.Set() && written == nil {
		src.Window = ov
		dst.CopyFrom(src)
		return nil
	}
	dc0, dr0 := ov.ColOff-dst.Window.ColOff, ov.RowOff-dst.Window.RowOff
	for r := 0; r < ov.Height; r++ {
		for c := 0; c < ov.Width; c++ {
			k := (dr0+r)*dst.Window.Width + dc0 + c
			if written != nil && written[k] {
				continue
			}
			if t.nodata.Pixel(src, c, r) {
				continue
			}
			dst.CopyPixel(dc0+c, dr0+r, src, c, r)
			if written != nil {
				written[k] = true
			}
		}
	}
	return nil
}

// windowBound is w as an envelope in pixel space, shrunk by half a pixel
// so windows that only share an edge do not intersect.
func windowBound(w grid.Window) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(w.ColOff) + 0.5, float64(w.RowOff) + 0.5},
		Max: orb.Point{float64(w.ColEnd()) - 0.5, float64(w.RowEnd()) - 0.5},
	}
}

// alignTiles resamples every tile that is not on the first tile's lattice
// onto it. Resampled tiles are block stores in tempDir; cleanup closes and
// removes them.
func alignTiles(ctx context.Context, tiles []Tile, out, tempDir string, opts Options, rep *Report) ([]Tile, func(), error) {
	ref := tiles[0].Source.Geometry()
	if tempDir == "" {
		tempDir = filepath.Dir(out)
	}
	var temps []Tile
	cleanup := func() {
		for _, t := range temps {
			t.Source.Close()
			os.Remove(t.Path)
		}
	}

	aligned := make([]Tile, len(tiles))
	for i, t := range tiles {
		g := t.Source.Geometry()
		if _, _, ok := ref.AlignedOffset(g); ok {
			aligned[i] = t
			continue
		}
		dst, err := alignedGrid(ref, g)
		if err != nil {
			return nil, cleanup, fmt.Errorf("%s: %w", t.Path, err)
		}
		if dst.Empty() {
			return nil, cleanup, &TileAlignmentError{Path: t.Path, Reason: "tile vanishes on the mosaic grid"}
		}
		f, err := os.CreateTemp(tempDir, "aligned-*.rbk")
		if err != nil {
			return nil, cleanup, err
		}
		path := f.Name()
		f.Close()
		os.Remove(path)

		opts.log().Info("Resampling mismatched tile", "path", t.Path, "from", g.String(), "to", dst.String())
		if _, err := Reproject(ctx, t.Source, dst, path, opts); err != nil {
			return nil, cleanup, fmt.Errorf("%s: %w", t.Path, err)
		}
		st, err := raster.OpenStore(path, opts.Cache)
		if err != nil {
			os.Remove(path)
			return nil, cleanup, err
		}
		at := Tile{Path: path, Source: st}
		temps = append(temps, at)
		aligned[i] = at
	}
	if n := len(temps); n > 0 {
		rep.warn(CrsMismatchResolved, n, len(tiles), "tiles resampled onto the first tile's grid")
	}
	return aligned, cleanup, nil
}
