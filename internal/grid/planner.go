package grid

import "fmt"

// Planner partitions a W×H grid into row-major blocks of at most B×B
// pixels. Right and bottom remainder blocks are sized to the leftover
// pixels. The sequence is deterministic and can be restarted with Reset.
type Planner struct {
	origin Window
	block  int
	cols   int
	rows   int
	next   int
}

// NewPlanner plans blocks over a width×height grid.
func NewPlanner(width, height, blockSize int) (*Planner, error) {
	return NewWindowPlanner(Window{Width: width, Height: height}, blockSize)
}

// NewWindowPlanner plans blocks over a sub-window of a larger grid. The
// returned windows are in the parent grid's pixel space.
func NewWindowPlanner(w Window, blockSize int) (*Planner, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	if w.Width < 0 || w.Height < 0 || w.ColOff < 0 || w.RowOff < 0 {
		return nil, fmt.Errorf("invalid planning window %v", w)
	}
	p := &Planner{origin: w, block: blockSize}
	if !w.Empty() {
		p.cols = (w.Width + blockSize - 1) / blockSize
		p.rows = (w.Height + blockSize - 1) / blockSize
	}
	return p, nil
}

// Len returns the number of blocks.
func (p *Planner) Len() int { return p.cols * p.rows }

// BlockSize returns the nominal block edge length.
func (p *Planner) BlockSize() int { return p.block }

// Grid returns the number of block columns and rows.
func (p *Planner) Grid() (cols, rows int) { return p.cols, p.rows }

// At returns the i-th block in row-major order.
func (p *Planner) At(i int) Window {
	bc, br := i%p.cols, i/p.cols
	c0 := bc * p.block
	r0 := br * p.block
	return Window{
		ColOff: p.origin.ColOff + c0,
		RowOff: p.origin.RowOff + r0,
		Width:  min(p.block, p.origin.Width-c0),
		Height: min(p.block, p.origin.Height-r0),
	}
}

// Windows returns all blocks in order.
func (p *Planner) Windows() []Window {
	out := make([]Window, p.Len())
	for i := range out {
		out[i] = p.At(i)
	}
	return out
}

// Next returns the next block, or false once the plan is exhausted.
func (p *Planner) Next() (Window, bool) {
	if p.next >= p.Len() {
		return Window{}, false
	}
	w := p.At(p.next)
	p.next++
	return w, true
}

// Reset rewinds Next to the first block.
func (p *Planner) Reset() { p.next = 0 }
