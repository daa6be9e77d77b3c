package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pspoerri/rasterprep/internal/cog"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// Export writes src as a tiled, deflate-compressed GeoTIFF. An empty raster
// has no valid GeoTIFF form; it is reported with a NoIntersection warning
// and nothing is written.
func Export(src raster.Source, path string, cfg ExportConfig, opts Options) (Report, error) {
	rep := Report{Stage: "export", Artifact: path}
	g := src.Geometry()
	if g.Empty() {
		rep.warn(NoIntersection, 0, 0, "raster is empty; GeoTIFF not written")
		opts.log().Warn("Skipping GeoTIFF export of empty raster", "path", path)
		return rep, nil
	}
	ts := cfg.TileSize
	if ts <= 0 {
		ts = DefaultTileSize
	}
	across, down := (g.Width+ts-1)/ts, (g.Height+ts-1)/ts
	rep.Blocks = across * down
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rep, err
	}

	opts.log().Info("Exporting GeoTIFF", "path", path, "grid", g.String(), "tiles", rep.Blocks)
	bar := opts.progress(rep.Stage, rep.Blocks)
	err := cog.WriteGeoTIFF(path, src, cog.WriteOptions{TileSize: ts, BigTIFF: cfg.BigTIFF}, bar.Increment)
	bar.Finish()
	if err != nil {
		return rep, &PartialWriteError{Stage: rep.Stage, Path: path, Err: fmt.Errorf("writing GeoTIFF: %w", err)}
	}
	return rep, nil
}
