package pipeline

import (
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/pspoerri/rasterprep/internal/logger"
)

// MemoryBudgetFraction is the share of physical RAM the block buffers of
// all workers may occupy.
const MemoryBudgetFraction = 0.5

// blocksInFlight is how many block buffers one worker can hold at a time:
// its source read, its output and one queued for the writer.
const blocksInFlight = 3

// WorkerLimit returns how many workers to run for blocks of blockSize²
// pixels of pixelBytes each. requested <= 0 means one per CPU. The result
// is capped so workers × blockSize² × pixelBytes × 3 stays within
// MemoryBudgetFraction of RAM, and is never below 1. When RAM cannot be
// detected the request is returned unchanged.
func WorkerLimit(requested, blockSize, pixelBytes int, log *logger.Logger) int {
	if requested <= 0 {
		requested = runtime.NumCPU()
	}
	totalRAM, err := totalSystemRAM()
	if err != nil {
		if log != nil {
			log.Debug("Cannot detect system RAM; worker count not capped", "error", err)
		}
		return requested
	}
	perWorker := uint64(blockSize) * uint64(blockSize) * uint64(max(pixelBytes, 1)) * blocksInFlight
	budget := uint64(float64(totalRAM) * MemoryBudgetFraction)
	limit := max(int(budget/max(perWorker, 1)), 1)
	if limit < requested {
		if log != nil {
			log.Warn("Capping workers to fit memory budget",
				"requested", requested, "workers", limit,
				"ram", humanize.IBytes(totalRAM), "per_worker", humanize.IBytes(perWorker))
		}
		return limit
	}
	return requested
}
