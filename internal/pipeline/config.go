package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pspoerri/rasterprep/internal/raster"
)

// Config is a pipeline definition, usually loaded from YAML.
type Config struct {
	WorkDir   string `yaml:"work_dir"`
	BlockSize int    `yaml:"block_size"`
	Workers   int    `yaml:"workers"`
	Codec     string `yaml:"codec"`
	Force     bool   `yaml:"force"`
	Progress  bool   `yaml:"progress"`

	Tiles     []string        `yaml:"tiles"`
	Mosaic    MosaicConfig    `yaml:"mosaic"`
	Reproject ReprojectConfig `yaml:"reproject"`
	Clip      ClipConfig      `yaml:"clip"`
	Export    ExportConfig    `yaml:"export"`
	Zonal     ZonalConfig     `yaml:"zonal"`
}

type MosaicConfig struct {
	Policy              OverlapPolicy `yaml:"policy" cbor:"1,keyasint"`
	ReprojectMismatched bool          `yaml:"reproject_mismatched" cbor:"2,keyasint"`
}

// ReprojectConfig enables the reprojection stage when CRS is set.
// Resolution is in target CRS units; 0 derives it from the source.
type ReprojectConfig struct {
	CRS        int     `yaml:"crs" cbor:"1,keyasint"`
	Resolution float64 `yaml:"resolution" cbor:"2,keyasint"`
}

// ClipConfig enables the clip stage when Boundaries is set.
type ClipConfig struct {
	Boundaries  string   `yaml:"boundaries" cbor:"1,keyasint"`
	IDProperty  string   `yaml:"id_property" cbor:"2,keyasint"`
	Select      []string `yaml:"select" cbor:"3,keyasint"`
	BoundaryCRS int      `yaml:"boundary_crs" cbor:"4,keyasint"`
}

// ExportConfig enables GeoTIFF export when Path is set.
type ExportConfig struct {
	Path     string `yaml:"path" cbor:"1,keyasint"`
	TileSize int    `yaml:"tile_size" cbor:"2,keyasint"`
	BigTIFF  bool   `yaml:"bigtiff" cbor:"3,keyasint"`
}

// ZonalConfig enables zonal aggregation when Zones is set.
type ZonalConfig struct {
	Zones      string    `yaml:"zones" cbor:"1,keyasint"`
	IDProperty string    `yaml:"id_property" cbor:"2,keyasint"`
	ZonesCRS   int       `yaml:"zones_crs" cbor:"3,keyasint"`
	Output     string    `yaml:"output" cbor:"4,keyasint"`
	Predicate  Predicate `yaml:",inline" cbor:"5,keyasint"`
}

// Defaults.
const (
	DefaultBlockSize = 1024
	DefaultTileSize  = 256
)

// LoadConfig reads a YAML pipeline file. Relative paths in it are resolved
// against the file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	cfg.resolvePaths(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.WorkDir = abs(c.WorkDir)
	for i, t := range c.Tiles {
		c.Tiles[i] = abs(t)
	}
	c.Clip.Boundaries = abs(c.Clip.Boundaries)
	c.Export.Path = abs(c.Export.Path)
	c.Zonal.Zones = abs(c.Zonal.Zones)
	c.Zonal.Output = abs(c.Zonal.Output)
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = "work"
	}
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Codec == "" {
		c.Codec = raster.CodecZstd.String()
	}
	if c.Mosaic.Policy == "" {
		c.Mosaic.Policy = LastWins
	}
	if c.Export.TileSize == 0 {
		c.Export.TileSize = DefaultTileSize
	}
	if c.Zonal.Zones != "" && c.Zonal.Output == "" {
		c.Zonal.Output = filepath.Join(c.WorkDir, "zonal.json")
	}
}

// Validate checks the configuration for errors that would otherwise
// surface mid-run.
func (c *Config) Validate() error {
	if len(c.Tiles) == 0 {
		return fmt.Errorf("config: no tiles configured")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("config: block_size must be positive, got %d", c.BlockSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if _, err := raster.ParseCodec(c.Codec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Mosaic.Policy.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Reproject.Resolution < 0 {
		return fmt.Errorf("config: reproject.resolution must not be negative")
	}
	if c.Export.TileSize%16 != 0 {
		return fmt.Errorf("config: export.tile_size %d is not a multiple of 16", c.Export.TileSize)
	}
	if c.Zonal.Zones != "" {
		if err := c.Zonal.Predicate.Validate(); err != nil {
			return fmt.Errorf("config: zonal: %w", err)
		}
	}
	return nil
}

// Artifact paths inside the work directory.
func (c *Config) MosaicPath() string    { return filepath.Join(c.WorkDir, "01_mosaic.rbk") }
func (c *Config) ReprojectPath() string { return filepath.Join(c.WorkDir, "02_reproject.rbk") }
func (c *Config) ClipPath() string      { return filepath.Join(c.WorkDir, "03_clip.rbk") }

// codec returns the parsed store codec. Validate has already checked it.
func (c *Config) codec() raster.Codec {
	codec, _ := raster.ParseCodec(c.Codec)
	return codec
}
