// Package synth generates synthetic visual mesh records for smoke tests and
// demos. Records carry every field the reference plugins read.
package synth

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"

	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
)

// Generator produces synthetic records. It is not safe for concurrent use.
type Generator struct {
	// Configuration
	Width, Height int     // image size in pixels
	MinNodes      int     // smallest mesh per view
	MaxNodes      int     // largest mesh per view
	Degree        int     // neighbours per node
	Classes       int     // label classes; -1 marks unlabelled nodes
	Stereo        bool    // write left/ and right/ views
	EmptyFraction float64 // probability that a view has no nodes

	rng *rand.Rand
}

// NewGenerator returns a generator with a fixed seed so output is
// reproducible.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		Width:    32,
		Height:   24,
		MinNodes: 4,
		MaxNodes: 48,
		Degree:   6,
		Classes:  2,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Prefixes returns the view prefixes the generator writes.
func (g *Generator) Prefixes() []string {
	if g.Stereo {
		return []string{"left/", "right/"}
	}
	return []string{""}
}

// NextRecord generates one record. Every view also gets its own Hoc, and a
// shared Hoc is written once for configurations that redirect to it.
func (g *Generator) NextRecord() (*l1records.Example, error) {
	ex := &l1records.Example{Features: make(map[string]l1records.Feature)}
	hoc := g.hoc()
	ex.Features["Hoc"] = l1records.FloatFeature(hoc...)

	for _, p := range g.Prefixes() {
		n := 0
		if g.rng.Float64() >= g.EmptyFraction {
			n = g.MinNodes + g.rng.Intn(g.MaxNodes-g.MinNodes+1)
		}
		img, err := g.image()
		if err != nil {
			return nil, err
		}
		x, gs, px, class := g.mesh(n)
		ex.Features[p+"Hoc"] = l1records.FloatFeature(hoc...)
		ex.Features[p+"image"] = l1records.BytesFeature(img)
		ex.Features[p+"mesh/X"] = l1records.FloatFeature(x...)
		ex.Features[p+"mesh/G"] = l1records.Int64Feature(gs...)
		ex.Features[p+"mesh/px"] = l1records.FloatFeature(px...)
		ex.Features[p+"mesh/class"] = l1records.Int64Feature(class...)
	}
	return ex, nil
}

// hoc is a camera 1 to 2 metres above the observation plane, row-major.
func (g *Generator) hoc() []float32 {
	h := float32(1 + g.rng.Float64())
	return []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, h,
		0, 0, 0, 1,
	}
}

// mesh lays n nodes out on a grid. Missing neighbours are written as n,
// the off-mesh marker stored datasets use.
func (g *Generator) mesh(n int) (x []float32, gs []int64, px []float32, class []int64) {
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	steps := [][2]int{{0, -1}, {1, -1}, {1, 0}, {0, 1}, {-1, 1}, {-1, 0}}
	for i := 0; i < n; i++ {
		c, r := i%cols, i/cols
		theta := float64(c) / float64(cols+1) * math.Pi / 2
		phi := float64(r) / float64(cols+1) * math.Pi
		x = append(x,
			float32(math.Sin(theta)*math.Cos(phi)),
			float32(math.Sin(theta)*math.Sin(phi)),
			float32(-math.Cos(theta)))

		for k := 0; k < g.Degree; k++ {
			s := steps[k%len(steps)]
			nc, nr := c+s[0], r+s[1]
			j := nr*cols + nc
			if nc < 0 || nc >= cols || nr < 0 || j >= n {
				j = n
			}
			gs = append(gs, int64(j))
		}

		// Spread a little past the image edge so some nodes are not visible.
		px = append(px,
			float32(c)*float32(g.Width+4)/float32(cols)-2,
			float32(r)*float32(g.Height+4)/float32(cols)-2)
		class = append(class, int64(g.rng.Intn(g.Classes+1))-1)
	}
	return x, gs, px, class
}

func (g *Generator) image() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	base := uint8(g.rng.Intn(256))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / g.Width), G: uint8(y * 255 / g.Height), B: base, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
