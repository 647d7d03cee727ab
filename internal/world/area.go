// Package world provides the toroidal area agents move in and the spatial
// queries over it.
package world

import "math"

// Area is a width × height rectangle whose edges wrap (a torus).
type Area struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a position inside an Area.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Wrap maps any coordinate onto [0, size): ((v mod size) + size) mod size.
// An agent leaving one edge re-enters at the opposite edge with the same offset.
func Wrap(v, size float64) float64 {
	return math.Mod(math.Mod(v, size)+size, size)
}

// Wrap returns p relocated into the area.
func (a Area) Wrap(p Point) Point {
	return Point{X: Wrap(p.X, a.Width), Y: Wrap(p.Y, a.Height)}
}

// Contains reports whether p lies in [0, Width) × [0, Height).
func (a Area) Contains(p Point) bool {
	return p.X >= 0 && p.X < a.Width && p.Y >= 0 && p.Y < a.Height
}

// Distance is the straight-line Euclidean distance between two points.
// Contact is judged on this distance; it does not wrap across edges.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Unsafe reports whether two points are strictly closer than radius.
func Unsafe(a, b Point, radius float64) bool {
	return Distance(a, b) < radius
}
