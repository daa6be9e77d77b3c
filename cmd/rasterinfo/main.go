package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/pspoerri/rasterprep/internal/cog"
	"github.com/pspoerri/rasterprep/internal/coord"
	"github.com/pspoerri/rasterprep/internal/encode"
	"github.com/pspoerri/rasterprep/internal/grid"
	"github.com/pspoerri/rasterprep/internal/raster"
)

func main() {
	var (
		preview string
		band    int
		size    int
		quality int
	)
	flag.StringVar(&preview, "preview", "", "Write a quick-look image (.png or .webp)")
	flag.IntVar(&band, "band", 0, "Band rendered in the quick-look")
	flag.IntVar(&size, "size", encode.DefaultQuickLookSize, "Longest quick-look side in pixels")
	flag.IntVar(&quality, "quality", 0, "WebP quality 1-100 (0 = lossless)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rasterinfo [flags] <file.tif|file.rbk>\n\n")
		fmt.Fprintf(os.Stderr, "Print the grid of a GeoTIFF or block store artifact.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	src, err := open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	g := src.Geometry()
	fmt.Printf("File: %s\n", path)
	if fi, err := os.Stat(path); err == nil {
		fmt.Printf("Size on disk: %s\n", humanize.IBytes(uint64(fi.Size())))
	}
	fmt.Printf("EPSG: %d\n", g.CRS)
	fmt.Printf("Shape: %d x %d, %d band(s) of %s (%s uncompressed)\n",
		g.Width, g.Height, g.Bands, g.DType, humanize.IBytes(uint64(g.Bytes())))
	dx, dy := g.Transform.PixelSize()
	fmt.Printf("Pixel size (CRS units): %g x %g\n", dx, dy)
	fmt.Printf("Origin: X=%f, Y=%f\n", g.Transform.C, g.Transform.F)
	if g.HasNoData {
		fmt.Printf("NoData: %g\n", g.NoData)
	} else {
		fmt.Printf("NoData: none\n")
	}
	if g.Empty() {
		fmt.Printf("Empty raster (no pixels)\n")
		return
	}
	b := g.Bounds()
	fmt.Printf("Bounds (CRS): X=[%f, %f], Y=[%f, %f]\n", b.Min[0], b.Max[0], b.Min[1], b.Max[1])
	if tr, err := coord.NewTransformer(g.CRS, 4326); err == nil && !tr.Identity() {
		wb := tr.TransformBound(b)
		fmt.Printf("Bounds (WGS84): lon [%.6f, %.6f], lat [%.6f, %.6f]\n", wb.Min[0], wb.Max[0], wb.Min[1], wb.Max[1])
	}

	switch s := src.(type) {
	case *raster.Store:
		fmt.Printf("Block store: %dpx blocks, %s codec\n", s.BlockSize(), s.Codec())
	case *cog.Reader:
		info := s.Info()
		layout := "stripped"
		if info.Tiled {
			layout = "tiled"
		}
		fmt.Printf("TIFF: %s %dx%d chunks, compression %d, predictor %d, planar %d, BigTIFF %v, %d overview(s)\n",
			layout, info.ChunkWidth, info.ChunkHeight, info.Compression, info.Predictor,
			info.PlanarConfig, info.BigTIFF, info.Overviews)
		if info.WorldFile != "" {
			fmt.Printf("Georeferencing from world file: %s\n", info.WorldFile)
		}
	}
	samplePixels(src, g, 5)

	if preview != "" {
		if err := writePreview(src, preview, band, size, quality); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func open(path string) (raster.Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rbk":
		return raster.OpenStore(path, nil)
	case ".tif", ".tiff":
		return cog.Open(path, nil)
	default:
		return nil, fmt.Errorf("%s: unsupported raster format", path)
	}
}

// samplePixels prints a few pixels along the diagonal.
func samplePixels(src raster.Source, g grid.GridGeometry, count int) {
	step := max(min(g.Width, g.Height)/(count+1), 1)
	fmt.Printf("Sample pixels (diagonal):\n")
	for i := 0; i < count; i++ {
		x, y := (i+1)*step, (i+1)*step
		if x >= g.Width || y >= g.Height {
			break
		}
		blk, err := src.ReadWindow(grid.Window{ColOff: x, RowOff: y, Width: 1, Height: 1})
		if err != nil {
			fmt.Printf("  (%d,%d): ERROR: %v\n", x, y, err)
			continue
		}
		vals := make([]string, g.Bands)
		for band := range vals {
			vals[band] = fmt.Sprintf("%g", blk.Value(band, 0, 0))
		}
		blk.Release()
		fmt.Printf("  (%d,%d): %s\n", x, y, strings.Join(vals, " "))
	}
}

func writePreview(src raster.Source, path string, band, size, quality int) error {
	enc, err := encode.ForPath(path, quality)
	if err != nil {
		return err
	}
	ql, err := encode.Render(src, encode.QuickLookOptions{MaxSize: size, Band: band})
	if err != nil {
		return err
	}
	data, err := enc.Encode(ql.Image)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", enc.Format(), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	bnd := ql.Image.Bounds()
	fmt.Printf("Quick-look: %s (%dx%d, band %d stretched over [%g, %g], %s)\n",
		path, bnd.Dx(), bnd.Dy(), band, ql.Min, ql.Max, humanize.IBytes(uint64(len(data))))
	return nil
}
