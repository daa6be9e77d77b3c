package pipeline

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// progressBar renders an in-place terminal progress bar for a stage. It
// refreshes at a fixed interval and supports concurrent Increment calls.
// A nil *progressBar is valid and does nothing.
type progressBar struct {
	out       io.Writer
	total     int64
	processed atomic.Int64
	label     string
	barWidth  int
	start     time.Time
	done      chan struct{}
	stopped   chan struct{}
	mu        sync.Mutex
}

func newProgressBar(out io.Writer, label string, total int64) *progressBar {
	pb := &progressBar{
		out:      out,
		total:    total,
		label:    label,
		barWidth: 30,
		start:    time.Now(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go pb.run()
	return pb
}

// Increment marks one more block as processed.
func (pb *progressBar) Increment() {
	if pb == nil {
		return
	}
	pb.processed.Add(1)
}

// Finish stops the refresh loop and prints the final state.
func (pb *progressBar) Finish() {
	if pb == nil {
		return
	}
	close(pb.done)
	<-pb.stopped
	pb.draw()
	fmt.Fprint(pb.out, "\n")
}

func (pb *progressBar) run() {
	defer close(pb.stopped)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-pb.done:
			return
		case <-ticker.C:
			pb.draw()
		}
	}
}

func (pb *progressBar) draw() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	processed := pb.processed.Load()
	var frac float64
	if pb.total > 0 {
		frac = min(float64(processed)/float64(pb.total), 1)
	}

	filled := int(float64(pb.barWidth) * frac)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.barWidth-filled)

	elapsed := time.Since(pb.start)
	rate := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(processed) / secs
	}

	fmt.Fprintf(pb.out, "\r%-10s [%s] %3.0f%%  %d/%d blocks  %.1f/s  %s\033[K",
		pb.label, bar, frac*100, processed, pb.total, rate, formatDuration(elapsed))
}

// formatDuration formats a duration concisely (e.g. "1m23s", "45s", "0s").
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}
