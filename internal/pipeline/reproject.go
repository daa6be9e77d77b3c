package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/pspoerri/rasterprep/internal/coord"
	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// DestinationGrid returns the north-up grid in crs at resolution that
// fully contains src. A resolution <= 0 keeps the source pixel count along
// the diagonal. When crs and resolution match the source, src is returned
// unchanged.
func DestinationGrid(src grid.GridGeometry, crs int, resolution float64) (grid.GridGeometry, error) {
	tr, err := coord.NewTransformer(src.CRS, crs)
	if err != nil {
		return grid.GridGeometry{}, err
	}
	sx, sy := src.Transform.PixelSize()
	if tr.Identity() && (resolution <= 0 || (resolution == sx && resolution == sy)) {
		return src, nil
	}

	b := tr.TransformBound(src.Bounds())
	bw, bh := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if resolution <= 0 {
		resolution = math.Hypot(bw, bh) / math.Hypot(float64(src.Width), float64(src.Height))
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return grid.GridGeometry{}, fmt.Errorf("cannot derive a resolution for %s in EPSG:%d", src, crs)
	}

	dst := src
	dst.CRS = crs
	dst.Transform = grid.NorthUp(b.Min[0], b.Max[1], resolution, resolution)
	dst.Width = cellsCovering(bw, resolution)
	dst.Height = cellsCovering(bh, resolution)
	if err := dst.Validate(); err != nil {
		return grid.GridGeometry{}, err
	}
	return dst, nil
}

// cellsCovering returns how many cells of size res cover extent. Extents
// that are a whole number of cells up to rounding do not gain a cell.
func cellsCovering(extent, res float64) int {
	n := extent / res
	return int(math.Ceil(n - 1e-9*math.Max(n, 1)))
}

// alignedGrid returns the smallest grid on ref's pixel lattice that
// contains src, with src's band layout.
func alignedGrid(ref, src grid.GridGeometry) (grid.GridGeometry, error) {
	tr, err := coord.NewTransformer(src.CRS, ref.CRS)
	if err != nil {
		return grid.GridGeometry{}, err
	}
	b := tr.TransformBound(src.Bounds())
	c0, r0 := ref.Transform.Invert(b.Min[0], b.Max[1])
	c1, r1 := ref.Transform.Invert(b.Max[0], b.Min[1])
	col0, row0 := int(math.Floor(c0+1e-6)), int(math.Floor(r0+1e-6))
	col1, row1 := int(math.Ceil(c1-1e-6)), int(math.Ceil(r1-1e-6))

	out := src
	out.CRS = ref.CRS
	out.Transform = ref.Transform.Offset(col0, row0)
	out.Width = max(col1-col0, 0)
	out.Height = max(row1-row0, 0)
	return out, nil
}

// reprojector resamples one source raster onto a destination grid by
// nearest neighbour.
type reprojector struct {
	src       raster.Source
	sg, dg    grid.GridGeometry
	tr        *coord.Transformer // destination → source
	fill      float64
	maxPixels int64
	congruent bool
}

func newReprojector(src raster.Source, dst grid.GridGeometry, blockSize int) (*reprojector, error) {
	sg := src.Geometry()
	if sg.DType != dst.DType || sg.Bands != dst.Bands {
		return nil, fmt.Errorf("destination layout %s×%d differs from source %s×%d", dst.DType, dst.Bands, sg.DType, sg.Bands)
	}
	tr, err := coord.NewTransformer(dst.CRS, sg.CRS)
	if err != nil {
		return nil, err
	}
	fill := 0.0
	if dst.HasNoData {
		fill = dst.NoData
	}
	return &reprojector{
		src:       src,
		sg:        sg,
		dg:        dst,
		tr:        tr,
		fill:      fill,
		maxPixels: 4 * int64(blockSize) * int64(blockSize),
		congruent: tr.Identity() && sg.Congruent(dst),
	}, nil
}

// block produces destination window w. Every destination pixel centre is
// mapped into the source grid; the pixel containing it supplies the value.
// Centres outside the source keep the fill value.
func (r *reprojector) block(w grid.Window) (*raster.Block, error) {
	if r.congruent {
		return r.src.ReadWindow(w)
	}
	out := raster.NewFilledBlock(w, r.dg.DType, r.dg.Bands, r.fill)
	n := int(w.Area())
	cols := make([]int, n)
	rows := make([]int, n)
	bt := r.dg.BlockTransform(w)
	for j := 0; j < w.Height; j++ {
		for i := 0; i < w.Width; i++ {
			k := j*w.Width + i
			x, y := bt.PixelCenter(i, j)
			sx, sy := r.tr.Forward(x, y)
			cols[k] = -1
			if math.IsNaN(sx) || math.IsNaN(sy) || math.IsInf(sx, 0) || math.IsInf(sy, 0) {
				continue
			}
			c, rr := r.sg.WorldToPixel(sx, sy)
			if c < 0 || rr < 0 || c >= r.sg.Width || rr >= r.sg.Height {
				continue
			}
			cols[k], rows[k] = c, rr
		}
	}
	if err := r.sampleRows(out, cols, rows, 0, w.Height); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// sampleRows fills local rows [j0, j1) of out from the smallest source
// window holding their sample points. Strips whose source window is too
// large are halved so a block never pulls in an unbounded source region.
func (r *reprojector) sampleRows(out *raster.Block, cols, rows []int, j0, j1 int) error {
	width := out.Window.Width
	c0, r0, c1, r1 := math.MaxInt, math.MaxInt, -1, -1
	for k := j0 * width; k < j1*width; k++ {
		if cols[k] < 0 {
			continue
		}
		c0, c1 = min(c0, cols[k]), max(c1, cols[k])
		r0, r1 = min(r0, rows[k]), max(r1, rows[k])
	}
	if c1 < 0 {
		return nil
	}
	win := grid.Window{ColOff: c0, RowOff: r0, Width: c1 - c0 + 1, Height: r1 - r0 + 1}
	if win.Area() > r.maxPixels && j1-j0 > 1 {
		mid := (j0 + j1) / 2
		if err := r.sampleRows(out, cols, rows, j0, mid); err != nil {
			return err
		}
		return r.sampleRows(out, cols, rows, mid, j1)
	}

	src, err := r.src.ReadWindow(win)
	if err != nil {
		return err
	}
	defer src.Release()
	for j := j0; j < j1; j++ {
		for i := 0; i < width; i++ {
			k := j*width + i
			if cols[k] >= 0 {
				out.CopyPixel(i, j, src, cols[k]-win.ColOff, rows[k]-win.RowOff)
			}
		}
	}
	return nil
}

// Reproject resamples src onto dst by nearest neighbour and writes the
// result as a block store at out.
func Reproject(ctx context.Context, src raster.Source, dst grid.GridGeometry, out string, opts Options) (Report, error) {
	rep := Report{Stage: "reproject", Artifact: out}
	rp, err := newReprojector(src, dst, opts.blockSize())
	if err != nil {
		return rep, err
	}
	w, err := createStore(out, dst, opts)
	if err != nil {
		return rep, err
	}
	rep.Blocks = w.Planner().Len()
	opts.log().Info("Reprojecting", "from", src.Geometry().String(), "to", dst.String(), "blocks", rep.Blocks)
	if err := writeStore(ctx, rep.Stage, w, opts, rp.block); err != nil {
		return rep, err
	}
	return rep, nil
}
