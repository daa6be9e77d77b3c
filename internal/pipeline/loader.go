package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pspoerri/rasterprep/internal/cog"
	"github.com/pspoerri/rasterprep/internal/raster"
)

// Tile is an opened input raster.
type Tile struct {
	Path   string
	Source raster.Source
}

// CloseTiles closes every tile source.
func CloseTiles(tiles []Tile) {
	for _, t := range tiles {
		t.Source.Close()
	}
}

// rasterExts are the file extensions LoadTiles opens.
var rasterExts = []string{".tif", ".tiff", ".rbk"}

// ExpandInputs resolves glob patterns and directories into raster file
// paths. The result keeps the pattern order; matches of one pattern are
// sorted and duplicates are dropped.
func ExpandInputs(patterns []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] && slices.Contains(rasterExts, strings.ToLower(filepath.Ext(p))) {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, pat := range patterns {
		if st, err := os.Stat(pat); err == nil && st.IsDir() {
			entries, err := os.ReadDir(pat)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if !e.IsDir() {
					add(filepath.Join(pat, e.Name()))
				}
			}
			continue
		}
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pat, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

// OpenRaster opens a GeoTIFF or a block store by extension.
func OpenRaster(path string, cache *raster.BlockCache) (raster.Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rbk":
		return raster.OpenStore(path, cache)
	case ".tif", ".tiff":
		return cog.Open(path, cache)
	default:
		return nil, fmt.Errorf("%s: unsupported raster format", path)
	}
}

// LoadTiles opens every raster matched by patterns. Tiles that fail to
// open are logged and skipped. It fails with *NoInputDataError when
// nothing could be opened.
func LoadTiles(patterns []string, opts Options) ([]Tile, Report, error) {
	log := opts.log()
	rep := Report{Stage: "load"}
	paths, err := ExpandInputs(patterns)
	if err != nil {
		return nil, rep, err
	}
	if len(paths) == 0 {
		return nil, rep, &NoInputDataError{Stage: "load", Detail: fmt.Sprintf("no raster matches %v", patterns)}
	}

	var tiles []Tile
	for _, p := range paths {
		src, err := OpenRaster(p, opts.Cache)
		if err == nil {
			err = src.Geometry().Validate()
			if err != nil {
				src.Close()
			}
		}
		if err != nil {
			log.Warn("Skipping tile", "path", p, "error", err)
			continue
		}
		log.Debug("Opened tile", "path", p, "grid", src.Geometry().String())
		tiles = append(tiles, Tile{Path: p, Source: src})
	}
	if skipped := len(paths) - len(tiles); skipped > 0 {
		rep.warn(TilesSkipped, skipped, len(paths), "")
		log.Warn(fmt.Sprintf("%d/%d tiles skipped", skipped, len(paths)))
	}
	if len(tiles) == 0 {
		return nil, rep, &NoInputDataError{Stage: "load", Detail: fmt.Sprintf("none of %d tiles could be opened", len(paths))}
	}
	log.Info("Loaded tiles", "count", len(tiles))
	return tiles, rep, nil
}
