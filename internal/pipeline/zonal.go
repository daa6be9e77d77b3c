package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/paulmach/orb"

	"github.com/pspoerri/rasterprep/internal/coord"
	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
	"github.com/pspoerri/rasterprep/internal/vector"
)

// Predicate selects the pixels Aggregate counts. A pixel matches when its
// value on Band is not nodata and is one of Classes or lies within
// [Min, Max]. With neither set every valid pixel matches.
type Predicate struct {
	Band    int       `yaml:"band" cbor:"1,keyasint"`
	Classes []float64 `yaml:"classes" cbor:"2,keyasint"`
	Min     *float64  `yaml:"min" cbor:"3,keyasint,omitempty"`
	Max     *float64  `yaml:"max" cbor:"4,keyasint,omitempty"`
}

// Validate checks the predicate on its own; the band is checked against
// the raster by Aggregate.
func (p Predicate) Validate() error {
	if p.Band < 0 {
		return fmt.Errorf("band must not be negative, got %d", p.Band)
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return fmt.Errorf("min %g is above max %g", *p.Min, *p.Max)
	}
	return nil
}

// Match reports whether v is selected.
func (p Predicate) Match(v float64) bool {
	if len(p.Classes) == 0 && p.Min == nil && p.Max == nil {
		return true
	}
	if slices.Contains(p.Classes, v) {
		return true
	}
	if p.Min == nil && p.Max == nil {
		return false
	}
	return (p.Min == nil || v >= *p.Min) && (p.Max == nil || v <= *p.Max)
}

// ZoneAccumulator is the result for one zone.
type ZoneAccumulator struct {
	ZoneID     string
	PixelCount int64
	AreaM2     float64
}

// zoneState collects matching-pixel counts per raster row for one zone.
// Areas are only formed at the end, summing rows in order, so the result
// does not depend on block size or on the order blocks complete in.
type zoneState struct {
	id     string
	rast   *vector.Rasterizer
	rowOff int
	rows   []int64
}

// zonalPartial holds one block's counts: zone index → count per local row.
type zonalPartial struct {
	win    grid.Window
	counts map[int][]int64
}

// Aggregate counts, per zone, the pixels of src whose centre lies in the
// zone and that match pred, and converts the counts to ground area. Zones
// are reprojected to the raster CRS and repaired first; zones dropped by
// repair are reported and left out of the result.
func Aggregate(ctx context.Context, src raster.Source, zones []vector.Boundary, pred Predicate, opts Options) ([]ZoneAccumulator, Report, error) {
	rep := Report{Stage: "zonal"}
	log := opts.log()
	g := src.Geometry()
	if err := pred.Validate(); err != nil {
		return nil, rep, err
	}
	if pred.Band >= g.Bands {
		return nil, rep, fmt.Errorf("zonal: band %d out of range for %d-band raster", pred.Band, g.Bands)
	}

	valid, err := PrepareBoundaries(zones, g.CRS, &rep, opts)
	if err != nil {
		return nil, rep, err
	}
	states := make([]*zoneState, len(valid))
	bounds := make([]orb.Bound, len(valid))
	for i, z := range valid {
		r := vector.NewRasterizer(z.Geometry)
		rows := grid.Window{}
		if r.Bound().Intersects(g.Bounds()) {
			rows = g.WindowForBounds(r.Bound())
		}
		states[i] = &zoneState{id: z.ID, rast: r, rowOff: rows.RowOff, rows: make([]int64, rows.Height)}
		bounds[i] = z.Bound()
	}
	index := vector.NewIndex(bounds)

	p, err := grid.NewPlanner(g.Width, g.Height, opts.blockSize())
	if err != nil {
		return nil, rep, err
	}
	rep.Blocks = p.Len()
	log.Info("Aggregating", "zones", len(states), "blocks", rep.Blocks)

	nd := raster.NoDataFor(g)
	work := func(w grid.Window) (zonalPartial, error) {
		part := zonalPartial{win: w}
		hits := index.Search(g.WindowBounds(w))
		if len(hits) == 0 {
			return part, nil
		}
		b, err := src.ReadWindow(w)
		if err != nil {
			return part, err
		}
		defer b.Release()
		match := make([]bool, w.Area())
		for row := 0; row < w.Height; row++ {
			for col := 0; col < w.Width; col++ {
				s := b.Sample(pred.Band, col, row)
				match[row*w.Width+col] = !nd.Match(s) && pred.Match(g.DType.Decode(s))
			}
		}
		bt := g.BlockTransform(w)
		part.counts = make(map[int][]int64, len(hits))
		for _, z := range hits {
			m := states[z].rast.Mask(bt, w.Width, w.Height)
			var rows []int64
			for row := 0; row < w.Height; row++ {
				var n int64
				for col := 0; col < w.Width; col++ {
					k := row*w.Width + col
					if m.Bits[k] && match[k] {
						n++
					}
				}
				if n == 0 {
					continue
				}
				if rows == nil {
					rows = make([]int64, w.Height)
				}
				rows[row] = n
			}
			if rows != nil {
				part.counts[z] = rows
			}
		}
		return part, nil
	}
	consume := func(part zonalPartial) error {
		for z, rows := range part.counts {
			st := states[z]
			for j, n := range rows {
				if n == 0 {
					continue
				}
				k := part.win.RowOff + j - st.rowOff
				if k < 0 || k >= len(st.rows) {
					return fmt.Errorf("zone %q: row %d outside its envelope", st.id, part.win.RowOff+j)
				}
				st.rows[k] += n
			}
		}
		return nil
	}

	bar := opts.progress(rep.Stage, p.Len())
	err = runBlocks(ctx, p, opts.workers(g), bar, work, consume, nil)
	bar.Finish()
	if err != nil {
		return nil, rep, fmt.Errorf("zonal: %w", err)
	}

	out := make([]ZoneAccumulator, len(states))
	for i, st := range states {
		out[i] = st.finish(g)
	}
	return out, rep, nil
}

func (st *zoneState) finish(g grid.GridGeometry) ZoneAccumulator {
	acc := ZoneAccumulator{ZoneID: st.id}
	dx, dy := g.Transform.PixelSize()
	for j, n := range st.rows {
		if n == 0 {
			continue
		}
		row := st.rowOff + j
		lat := g.Transform.E*(float64(row)+0.5) + g.Transform.F
		acc.PixelCount += n
		acc.AreaM2 += float64(n) * coord.PixelAreaM2(g.CRS, dx, dy, lat)
	}
	return acc
}

// ZoneResult is the exported form of one zone.
type ZoneResult struct {
	PixelCount int64   `json:"pixel_count"`
	AreaM2     float64 `json:"area_m2"`
	AreaHa     float64 `json:"area_ha"`
}

// ZoneResults groups accumulators by zone id. Zones sharing an id are
// summed in input order.
func ZoneResults(accs []ZoneAccumulator) map[string]ZoneResult {
	out := make(map[string]ZoneResult, len(accs))
	for _, a := range accs {
		r := out[a.ZoneID]
		r.PixelCount += a.PixelCount
		r.AreaM2 += a.AreaM2
		r.AreaHa = r.AreaM2 / 1e4
		out[a.ZoneID] = r
	}
	return out
}

// WriteZonalJSON writes {zone_id: {pixel_count, area_m2, area_ha}} to path
// through a temporary file.
func WriteZonalJSON(path string, accs []ZoneAccumulator) error {
	data, err := json.MarshalIndent(ZoneResults(accs), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
