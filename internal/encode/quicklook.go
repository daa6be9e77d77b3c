package encode

import (
	"fmt"
	"image"
	"math"

	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// DefaultQuickLookSize is the default longest side of a quick-look.
const DefaultQuickLookSize = 1024

// QuickLookOptions controls Render.
type QuickLookOptions struct {
	MaxSize int // longest output side in pixels
	Band    int
}

// QuickLook is a rendered preview and the value range it was stretched over.
type QuickLook struct {
	Image *image.NRGBA
	Min   float64
	Max   float64
	Valid int // sampled pixels that were not nodata
}

// Render draws one band of src as a grayscale image whose longest side is
// at most MaxSize. Each output pixel takes the source pixel under its
// centre. Values are stretched linearly over the sampled range; nodata is
// transparent. Only the sampled source rows are read, one at a time.
func Render(src raster.Source, opts QuickLookOptions) (*QuickLook, error) {
	g := src.Geometry()
	if g.Empty() {
		return nil, fmt.Errorf("quick-look: raster is empty")
	}
	if opts.Band < 0 || opts.Band >= g.Bands {
		return nil, fmt.Errorf("quick-look: band %d out of range for %d-band raster", opts.Band, g.Bands)
	}
	size := opts.MaxSize
	if size <= 0 {
		size = DefaultQuickLookSize
	}
	w, h := g.Width, g.Height
	if longest := max(w, h); longest > size {
		w = max(1, int(int64(w)*int64(size)/int64(longest)))
		h = max(1, int(int64(h)*int64(size)/int64(longest)))
	}

	cols := make([]int, w)
	for x := range cols {
		cols[x] = min(int((float64(x)+0.5)*float64(g.Width)/float64(w)), g.Width-1)
	}
	vals := make([]float64, w*h)
	valid := make([]bool, w*h)
	nd := raster.NoDataFor(g)
	ql := &QuickLook{Min: math.Inf(1), Max: math.Inf(-1)}
	for y := 0; y < h; y++ {
		sr := min(int((float64(y)+0.5)*float64(g.Height)/float64(h)), g.Height-1)
		row, err := src.ReadWindow(grid.Window{RowOff: sr, Width: g.Width, Height: 1})
		if err != nil {
			return nil, fmt.Errorf("quick-look: reading row %d: %w", sr, err)
		}
		for x, c := range cols {
			s := row.Sample(opts.Band, c, 0)
			if nd.Match(s) {
				continue
			}
			v := g.DType.Decode(s)
			if math.IsNaN(v) {
				continue
			}
			k := y*w + x
			vals[k], valid[k] = v, true
			ql.Min, ql.Max = math.Min(ql.Min, v), math.Max(ql.Max, v)
			ql.Valid++
		}
		row.Release()
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	span := ql.Max - ql.Min
	for k, ok := range valid {
		if !ok {
			continue
		}
		level := uint8(255)
		if span > 0 {
			level = uint8(math.Round((vals[k] - ql.Min) / span * 255))
		}
		p := img.Pix[k*4 : k*4+4]
		p[0], p[1], p[2], p[3] = level, level, level, 255
	}
	if ql.Valid == 0 {
		ql.Min, ql.Max = 0, 0
	}
	ql.Image = img
	return ql, nil
}
