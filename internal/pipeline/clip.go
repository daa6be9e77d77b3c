package pipeline

import (
	"context"
	"fmt"

	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
	"github.com/pspoerri/rasterprep/internal/vector"
)

// PrepareBoundaries brings boundaries into crs and repairs them. Features
// with nothing valid left are dropped. Repairs, drops and reprojections
// are recorded in rep. It fails with *NoInputDataError for an empty input
// and *NoValidBoundaryError when every feature was dropped.
func PrepareBoundaries(bs []vector.Boundary, crs int, rep *Report, opts Options) ([]vector.Boundary, error) {
	log := opts.log()
	if len(bs) == 0 {
		return nil, &NoInputDataError{Stage: rep.Stage, Detail: "no boundary features"}
	}
	moved, n, err := vector.ReprojectAll(bs, crs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rep.Stage, err)
	}
	if n > 0 {
		rep.warn(CrsMismatchResolved, n, len(bs), fmt.Sprintf("boundaries reprojected to EPSG:%d", crs))
		log.Info("Reprojected boundaries to raster CRS", "count", n, "crs", crs)
	}

	out := make([]vector.Boundary, 0, len(moved))
	repaired, dropped := 0, 0
	for _, b := range moved {
		rb, st := vector.RepairBoundary(b)
		switch st {
		case vector.Repaired:
			repaired++
			log.Debug("Repaired boundary", "id", b.ID)
		case vector.Dropped:
			dropped++
			log.Debug("Dropped invalid boundary", "id", b.ID)
			continue
		}
		out = append(out, rb)
	}
	if repaired > 0 {
		rep.warn(InvalidGeometryRepaired, repaired, len(bs), "")
		log.Warn(fmt.Sprintf("%d/%d boundary features repaired", repaired, len(bs)))
	}
	if dropped > 0 {
		rep.warn(InvalidGeometryDropped, dropped, len(bs), "")
		log.Warn(fmt.Sprintf("%d/%d boundary features dropped", dropped, len(bs)))
	}
	if len(out) == 0 {
		return nil, &NoValidBoundaryError{Stage: rep.Stage, Dropped: dropped}
	}
	return out, nil
}

// ClipGeometry returns the output grid of clipping a raster with grid g to
// the envelope b, and the window of g it covers. The output keeps g's
// pixel lattice and records the nodata value used for masked pixels: g's
// own, or 0 when g has none. An empty window means no overlap.
func ClipGeometry(g grid.GridGeometry, r *vector.Rasterizer) (grid.GridGeometry, grid.Window) {
	var win grid.Window
	if !r.Empty() && r.Bound().Intersects(g.Bounds()) {
		win = g.WindowForBounds(r.Bound())
	}
	out := g.Sub(win)
	if !out.HasNoData {
		out.NoData, out.HasNoData = 0, true
	}
	return out, win
}

// Clip writes the pixels of src inside boundaries to a block store at out.
// The output covers the smallest window containing the boundaries'
// envelope; pixels whose centre lies outside every boundary are set to
// nodata. When the boundaries miss the raster a valid empty store is
// written and a NoIntersection warning reported.
func Clip(ctx context.Context, src raster.Source, boundaries []vector.Boundary, out string, opts Options) (Report, error) {
	rep := Report{Stage: "clip", Artifact: out}
	log := opts.log()
	g := src.Geometry()

	valid, err := PrepareBoundaries(boundaries, g.CRS, &rep, opts)
	if err != nil {
		return rep, err
	}
	r := vector.NewRasterizer(vector.Union("clip", valid).Geometry)
	og, win := ClipGeometry(g, r)

	w, err := createStore(out, og, opts)
	if err != nil {
		return rep, err
	}
	if win.Empty() {
		rep.warn(NoIntersection, 0, 0, "boundaries do not intersect the raster")
		log.Warn("Boundaries do not intersect the raster; writing empty output", "raster", g.String())
		if err := w.Commit(); err != nil {
			return rep, &PartialWriteError{Stage: rep.Stage, Path: out, Err: err}
		}
		return rep, nil
	}

	rep.Blocks = w.Planner().Len()
	log.Info("Clipping", "window", win.String(), "features", len(valid), "blocks", rep.Blocks)

	nodata := og.DType.EncodeValue(og.NoData)
	work := func(bw grid.Window) (*raster.Block, error) {
		sw := bw.Translate(win.ColOff, win.RowOff)
		b, err := src.ReadWindow(sw)
		if err != nil {
			return nil, err
		}
		b.Window = bw
		maskBlock(b, r.Mask(g.BlockTransform(sw), sw.Width, sw.Height), nodata)
		return b, nil
	}
	if err := writeStore(ctx, rep.Stage, w, opts, work); err != nil {
		return rep, err
	}
	return rep, nil
}

// maskBlock sets every band of the pixels outside m to the raw sample nodata.
func maskBlock(b *raster.Block, m *vector.Mask, nodata []byte) {
	size := len(nodata)
	for row := 0; row < m.Height; row++ {
		for col := 0; col < m.Width; col++ {
			if m.At(col, row) {
				continue
			}
			for band := 0; band < b.Bands; band++ {
				copy(b.Data[b.Offset(band, col, row):], nodata[:size])
			}
		}
	}
}
