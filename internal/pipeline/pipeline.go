// Package pipeline runs the block-wise raster stages: mosaic, reproject,
// clip, GeoTIFF export and zonal aggregation. Each stage reads the previous
// stage's artifact and writes its own, and is skipped when its artifact is
// still valid for the same inputs and parameters.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/pspoerri/rasterprep/internal/logger"
	"github.com/pspoerri/rasterprep/internal/raster"
	"github.com/pspoerri/rasterprep/internal/vector"
)

// Pipeline runs the stages configured in a Config.
type Pipeline struct {
	cfg   *Config
	opts  Options
	cache *Cache
}

// New validates cfg and prepares a run. progress receives per-stage
// progress bars when cfg.Progress is set.
func New(cfg *Config, log *logger.Logger, progress io.Writer) (*Pipeline, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	opts := Options{
		BlockSize: cfg.BlockSize,
		Workers:   cfg.Workers,
		Codec:     cfg.codec(),
		Log:       log,
		Cache:     raster.NewBlockCache(256),
	}
	if cfg.Progress {
		opts.Progress = progress
	}
	return &Pipeline{cfg: cfg, opts: opts, cache: NewCache(cfg.Force, log)}, nil
}

// storeParams are the fingerprinted parameters of a block-store stage.
type storeParams struct {
	BlockSize int          `cbor:"1,keyasint"`
	Codec     raster.Codec `cbor:"2,keyasint"`
	Stage     any          `cbor:"3,keyasint"`
}

func (p *Pipeline) params(stage any) storeParams {
	return storeParams{BlockSize: p.opts.blockSize(), Codec: p.opts.Codec, Stage: stage}
}

// Run executes every configured stage in order and returns their reports.
// It stops at the first failing stage; artifacts of earlier stages stay
// valid.
func (p *Pipeline) Run(ctx context.Context) ([]Report, error) {
	var reports []Report
	run := func(stage, artifact string, params any, inputs []string, build func() (Report, error)) error {
		fp, err := Fingerprint(stage, params, inputs...)
		if err != nil {
			return err
		}
		rep := Report{Stage: stage, Artifact: artifact}
		hit, err := p.cache.Run(stage, artifact, fp, func() error {
			var err error
			rep, err = build()
			return err
		})
		rep.Cached = hit
		reports = append(reports, rep)
		for _, w := range rep.Warnings {
			p.opts.log().Warn("Stage warning", "stage", stage, "warning", w.String())
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		return nil
	}

	paths, err := ExpandInputs(p.cfg.Tiles)
	if err != nil {
		return reports, err
	}
	if len(paths) == 0 {
		return reports, &NoInputDataError{Stage: "load", Detail: fmt.Sprintf("no raster matches %v", p.cfg.Tiles)}
	}

	current := p.cfg.MosaicPath()
	err = run("mosaic", current, p.params(p.cfg.Mosaic), paths, func() (Report, error) {
		tiles, lrep, err := LoadTiles(paths, p.opts)
		if err != nil {
			return lrep, err
		}
		defer CloseTiles(tiles)
		rep, err := Mosaic(ctx, tiles, current, MosaicOptions{
			Policy:              p.cfg.Mosaic.Policy,
			ReprojectMismatched: p.cfg.Mosaic.ReprojectMismatched,
		}, p.opts)
		rep.Warnings = append(lrep.Warnings, rep.Warnings...)
		return rep, err
	})
	if err != nil {
		return reports, err
	}

	if p.cfg.Reproject.CRS != 0 {
		in, out := current, p.cfg.ReprojectPath()
		err = run("reproject", out, p.params(p.cfg.Reproject), []string{in}, func() (Report, error) {
			return withStore(in, p.opts, func(src raster.Source) (Report, error) {
				dst, err := DestinationGrid(src.Geometry(), p.cfg.Reproject.CRS, p.cfg.Reproject.Resolution)
				if err != nil {
					return Report{Stage: "reproject"}, err
				}
				return Reproject(ctx, src, dst, out, p.opts)
			})
		})
		if err != nil {
			return reports, err
		}
		current = out
	}

	if p.cfg.Clip.Boundaries != "" {
		in, out := current, p.cfg.ClipPath()
		err = run("clip", out, p.params(p.cfg.Clip), []string{in, p.cfg.Clip.Boundaries}, func() (Report, error) {
			bs, err := p.loadBoundaries(p.cfg.Clip.Boundaries, p.cfg.Clip.IDProperty, p.cfg.Clip.BoundaryCRS, p.cfg.Clip.Select)
			if err != nil {
				return Report{Stage: "clip"}, err
			}
			return withStore(in, p.opts, func(src raster.Source) (Report, error) {
				return Clip(ctx, src, bs, out, p.opts)
			})
		})
		if err != nil {
			return reports, err
		}
		current = out
	}

	if p.cfg.Export.Path != "" {
		in, out := current, p.cfg.Export.Path
		err = run("export", out, p.cfg.Export, []string{in}, func() (Report, error) {
			return withStore(in, p.opts, func(src raster.Source) (Report, error) {
				return Export(src, out, p.cfg.Export, p.opts)
			})
		})
		if err != nil {
			return reports, err
		}
	}

	if p.cfg.Zonal.Zones != "" {
		in, out := current, p.cfg.Zonal.Output
		err = run("zonal", out, p.cfg.Zonal, []string{in, p.cfg.Zonal.Zones}, func() (Report, error) {
			zs, err := p.loadBoundaries(p.cfg.Zonal.Zones, p.cfg.Zonal.IDProperty, p.cfg.Zonal.ZonesCRS, nil)
			if err != nil {
				return Report{Stage: "zonal"}, err
			}
			return withStore(in, p.opts, func(src raster.Source) (Report, error) {
				accs, rep, err := Aggregate(ctx, src, zs, p.cfg.Zonal.Predicate, p.opts)
				rep.Artifact = out
				if err != nil {
					return rep, err
				}
				return rep, WriteZonalJSON(out, accs)
			})
		})
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// loadBoundaries reads a GeoJSON file, keeping only the ids in sel when
// sel is not empty.
func (p *Pipeline) loadBoundaries(path, idProperty string, crs int, sel []string) ([]vector.Boundary, error) {
	res, err := vector.LoadGeoJSON(path, idProperty, crs)
	if err != nil {
		return nil, err
	}
	if res.Skipped > 0 {
		p.opts.log().Warn(fmt.Sprintf("%d/%d features without polygon geometry ignored", res.Skipped, res.Total), "path", path)
	}
	if len(sel) == 0 {
		return res.Boundaries, nil
	}
	var out []vector.Boundary
	for _, b := range res.Boundaries {
		if slices.Contains(sel, b.ID) {
			out = append(out, b)
		}
	}
	return out, nil
}

// withStore opens the block store at path for the duration of fn.
func withStore(path string, opts Options, fn func(raster.Source) (Report, error)) (Report, error) {
	src, err := raster.OpenStore(path, opts.Cache)
	if err != nil {
		return Report{}, err
	}
	defer src.Close()
	return fn(src)
}
