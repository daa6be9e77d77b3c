package pipeline

import (
	"fmt"
	"strings"
)

// NoInputDataError means a stage had nothing to work on: no tile matched,
// no tile could be opened, or no boundary was supplied.
type NoInputDataError struct {
	Stage  string
	Detail string
}

func (e *NoInputDataError) Error() string {
	return fmt.Sprintf("%s: no input data: %s", e.Stage, e.Detail)
}

// TileAlignmentError means a tile cannot be placed on the mosaic's pixel
// lattice without resampling.
type TileAlignmentError struct {
	Path   string
	Reason string
}

func (e *TileAlignmentError) Error() string {
	return fmt.Sprintf("tile %s is not aligned with the mosaic grid: %s", e.Path, e.Reason)
}

// NoValidBoundaryError means every boundary was dropped by repair.
type NoValidBoundaryError struct {
	Stage   string
	Dropped int
}

func (e *NoValidBoundaryError) Error() string {
	return fmt.Sprintf("%s: all %d boundary features are invalid after repair", e.Stage, e.Dropped)
}

// PartialWriteError means a stage failed after it started writing its
// artifact. The artifact was discarded.
type PartialWriteError struct {
	Stage string
	Path  string
	Err   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s: writing %s failed, output discarded: %v", e.Stage, e.Path, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// WarningKind classifies recoverable conditions.
type WarningKind int

const (
	NoIntersection WarningKind = iota
	InvalidGeometryRepaired
	InvalidGeometryDropped
	CrsMismatchResolved
	TilesSkipped
)

var warningNames = [...]string{
	NoIntersection:          "no_intersection",
	InvalidGeometryRepaired: "invalid_geometry_repaired",
	InvalidGeometryDropped:  "invalid_geometry_dropped",
	CrsMismatchResolved:     "crs_mismatch_resolved",
	TilesSkipped:            "tiles_skipped",
}

func (k WarningKind) String() string {
	if int(k) < len(warningNames) {
		return warningNames[k]
	}
	return fmt.Sprintf("warning(%d)", int(k))
}

// Warning is a recoverable condition with the number of affected items
// out of Total.
type Warning struct {
	Kind   WarningKind
	Count  int
	Total  int
	Detail string
}

func (w Warning) String() string {
	var sb strings.Builder
	sb.WriteString(w.Kind.String())
	if w.Total > 0 {
		fmt.Fprintf(&sb, " %d/%d", w.Count, w.Total)
	}
	if w.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(w.Detail)
	}
	return sb.String()
}

// Report summarises one stage run.
type Report struct {
	Stage    string
	Artifact string
	Cached   bool
	Blocks   int
	Warnings []Warning
}

func (r *Report) warn(kind WarningKind, count, total int, detail string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Count: count, Total: total, Detail: detail})
}

// Warning returns the first warning of kind k.
func (r *Report) Warning(k WarningKind) (Warning, bool) {
	for _, w := range r.Warnings {
		if w.Kind == k {
			return w, true
		}
	}
	return Warning{}, false
}
