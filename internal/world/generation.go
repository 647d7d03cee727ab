// Population density fields from layered simplex noise. Used to seed
// clustered populations instead of a uniform scatter.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/contagion/internal/entropy"
)

// maxPlacementTries bounds rejection sampling; after that the last candidate
// is accepted so placement always terminates.
const maxPlacementTries = 64

// DensityField is a smooth [0, 1) intensity over an Area. High values attract
// agents at placement time.
type DensityField struct {
	Area  Area
	Scale float64 // feature size in area units
	noise opensimplex.Noise
}

// NewDensityField builds a noise-backed field. Scale is the approximate
// diameter of a cluster.
func NewDensityField(area Area, scale float64, seed int64) *DensityField {
	return &DensityField{
		Area:  area,
		Scale: scale,
		noise: opensimplex.NewNormalized(seed),
	}
}

// At returns the density at p.
func (f *DensityField) At(p Point) float64 {
	return octaveNoise(f.noise, p.X/f.Scale, p.Y/f.Scale, 3, 1, 0.5)
}

// Sample draws a point with probability proportional to the squared density,
// which sharpens the clusters.
func (f *DensityField) Sample(src entropy.Source) Point {
	var p Point
	for i := 0; i < maxPlacementTries; i++ {
		p = UniformPoint(f.Area, src)
		d := f.At(p)
		if src.Float64() < d*d {
			return p
		}
	}
	return p
}

// UniformPoint draws a point uniformly over the area. A product landing on
// the far edge re-enters at 0.
func UniformPoint(a Area, src entropy.Source) Point {
	p := Point{X: src.Float64() * a.Width, Y: src.Float64() * a.Height}
	if !a.Contains(p) {
		p = a.Wrap(p)
	}
	return p
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return math.Min(total/maxVal, math.Nextafter(1, 0))
}
