package world

import (
	"math"

	"github.com/talgya/contagion/internal/config"
)

// Index answers "who is unsafe-close to agent i" for one tick.
// Rebuild freezes the tick's post-movement positions; Nearby then reads
// only that frozen snapshot. Implementations must agree exactly: every j != i
// with Distance(points[i], points[j]) < radius, in any order.
type Index interface {
	Rebuild(points []Point)
	Nearby(i int, dst []int) []int
}

// NewIndex builds the index kind selected by cfg.
func NewIndex(cfg *config.Config) Index {
	area := Area{Width: cfg.Width, Height: cfg.Height}
	switch cfg.Index {
	case config.IndexGrid:
		return NewGridIndex(area, cfg.UnsafeDistance)
	default:
		return NewNaiveIndex(cfg.UnsafeDistance)
	}
}

// NaiveIndex compares every pair. O(n) per query, O(n²) per tick.
type NaiveIndex struct {
	radius float64
	points []Point
}

// NewNaiveIndex creates a pairwise index for the given unsafe distance.
func NewNaiveIndex(radius float64) *NaiveIndex {
	return &NaiveIndex{radius: radius}
}

// Rebuild stores the snapshot.
func (n *NaiveIndex) Rebuild(points []Point) {
	n.points = points
}

// Nearby appends the indices unsafe-close to point i onto dst.
func (n *NaiveIndex) Nearby(i int, dst []int) []int {
	p := n.points[i]
	for j, q := range n.points {
		if j == i {
			continue
		}
		if Unsafe(p, q, n.radius) {
			dst = append(dst, j)
		}
	}
	return dst
}

// maxAxisCells bounds the grid along each axis. Past it cells grow wider than
// radius, which keeps the 3×3 scan exact but holds cell coordinates well
// inside int range.
const maxAxisCells = 1 << 20

// GridIndex buckets points into square cells at least radius wide, so a query
// only inspects the 3×3 block of cells around the query point. Buckets are
// keyed sparsely, so memory follows the population rather than the area.
// The final test is the same strict Unsafe comparison the naive index uses.
type GridIndex struct {
	radius float64
	cell   float64
	cols   int
	rows   int
	points []Point
	cells  map[[2]int][]int // keyed by {col, row}
}

// NewGridIndex creates a bucket index over area for the given unsafe distance.
func NewGridIndex(area Area, radius float64) *GridIndex {
	// Cells are a hair wider than radius so rounding in the division below
	// never puts an unsafe pair more than one cell apart.
	cell := radius * (1 + 1e-9)
	cell = math.Max(cell, area.Width/maxAxisCells)
	cell = math.Max(cell, area.Height/maxAxisCells)
	cols := axisCells(area.Width, cell)
	rows := axisCells(area.Height, cell)
	return &GridIndex{
		radius: radius,
		cell:   cell,
		cols:   cols,
		rows:   rows,
		cells:  make(map[[2]int][]int),
	}
}

func axisCells(size, cell float64) int {
	n := math.Ceil(size / cell)
	if !(n >= 1) {
		return 1
	}
	if n > maxAxisCells {
		return maxAxisCells
	}
	return int(n)
}

// Rebuild clears every bucket and re-inserts the snapshot.
func (g *GridIndex) Rebuild(points []Point) {
	g.points = points
	clear(g.cells)
	for i, p := range points {
		c, r := g.cellOf(p)
		k := [2]int{c, r}
		g.cells[k] = append(g.cells[k], i)
	}
}

// Nearby appends the indices unsafe-close to point i onto dst.
func (g *GridIndex) Nearby(i int, dst []int) []int {
	p := g.points[i]
	c0, r0 := g.cellOf(p)
	for r := r0 - 1; r <= r0+1; r++ {
		for c := c0 - 1; c <= c0+1; c++ {
			for _, j := range g.cells[[2]int{c, r}] {
				if j == i {
					continue
				}
				if Unsafe(p, g.points[j], g.radius) {
					dst = append(dst, j)
				}
			}
		}
	}
	return dst
}

// cellOf clamps so that a point on or past the far edge still lands in a cell.
func (g *GridIndex) cellOf(p Point) (int, int) {
	c := math.Max(0, math.Min(math.Floor(p.X/g.cell), float64(g.cols-1)))
	r := math.Max(0, math.Min(math.Floor(p.Y/g.cell), float64(g.rows-1)))
	return int(c), int(r)
}
