package pipeline

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/pspoerri/rasterprep/internal/logger"
)

// fingerprintSuffix names the sidecar that marks an artifact as complete.
const fingerprintSuffix = ".fp"

var paramsEncMode cbor.EncMode

func init() {
	var err error
	paramsEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("pipeline: CBOR encoder initialization failed: " + err.Error())
	}
}

// Fingerprint identifies one stage run: the stage name, its parameters
// and the identity (path, size, modification time) of every input file.
// Parameters are encoded as deterministic CBOR so equal values always hash
// equally.
func Fingerprint(stage string, params any, inputs ...string) (string, error) {
	enc, err := paramsEncMode.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding %s parameters: %w", stage, err)
	}
	h := blake3.New()
	writeField(h, []byte(stage))
	writeField(h, enc)
	for _, in := range inputs {
		st, err := os.Stat(in)
		if err != nil {
			return "", fmt.Errorf("fingerprinting input: %w", err)
		}
		writeField(h, []byte(in))
		var meta [16]byte
		binary.LittleEndian.PutUint64(meta[:8], uint64(st.Size()))
		binary.LittleEndian.PutUint64(meta[8:], uint64(st.ModTime().UnixNano()))
		writeField(h, meta[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeField writes a length-prefixed field so adjacent fields cannot run
// into each other.
func writeField(h *blake3.Hasher, b []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// Cache decides whether a stage artifact can be reused. An artifact is
// valid when it exists, is not empty and its sidecar holds the current
// fingerprint. The sidecar is only written after the artifact is in place,
// so a crash at any point leaves either no sidecar or a complete artifact.
type Cache struct {
	force bool
	log   *logger.Logger
}

// NewCache returns a cache. With force set every lookup misses.
func NewCache(force bool, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{force: force, log: log}
}

// Valid reports whether artifact is complete and was built with fp.
func (c *Cache) Valid(artifact, fp string) bool {
	if c.force {
		return false
	}
	st, err := os.Stat(artifact)
	if err != nil || st.Size() == 0 || st.IsDir() {
		return false
	}
	got, err := os.ReadFile(artifact + fingerprintSuffix)
	if err != nil {
		return false
	}
	return string(bytes.TrimSpace(got)) == fp
}

// Record marks artifact as built with fp. The sidecar is written to a
// temporary file and renamed.
func (c *Cache) Record(artifact, fp string) error {
	side := artifact + fingerprintSuffix
	tmp, err := os.CreateTemp(filepath.Dir(side), filepath.Base(side)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating fingerprint: %w", err)
	}
	if _, err := tmp.WriteString(fp + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	if err := os.Rename(tmp.Name(), side); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	return nil
}

// Invalidate removes the sidecar, then the artifact.
func (c *Cache) Invalidate(artifact string) error {
	for _, p := range []string{artifact + fingerprintSuffix, artifact} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("invalidating %s: %w", p, err)
		}
	}
	return nil
}

// Run reuses artifact when it is valid for fp, otherwise invalidates it,
// calls build and records fp once build succeeded and the artifact exists.
// It reports whether the artifact was reused.
func (c *Cache) Run(stage, artifact, fp string, build func() error) (bool, error) {
	if c.Valid(artifact, fp) {
		c.log.Info("Stage cached", "stage", stage, "artifact", artifact)
		return true, nil
	}
	if err := c.Invalidate(artifact); err != nil {
		return false, err
	}
	if err := build(); err != nil {
		return false, err
	}
	if _, err := os.Stat(artifact); err != nil {
		// The stage legitimately produced nothing.
		return false, nil
	}
	if err := c.Record(artifact, fp); err != nil {
		return false, err
	}
	return false, nil
}
