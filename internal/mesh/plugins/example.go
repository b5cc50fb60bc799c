package plugins

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math"

	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
)

// FieldImage is the stored encoded image of a view.
const FieldImage = "image"

// MaxImagePixels bounds the decoded size of a single view image.
const MaxImagePixels = 64 << 20

// ImageExample decodes the view's image and samples a colour for every mesh
// node at its pixel coordinate.
type ImageExample struct{}

func (ImageExample) Features() l2features.Request {
	return l2features.Request{FieldImage: l2features.Bytes}
}

// Input decodes the image. The encoded bytes are kept as the view's opaque
// payload.
func (ImageExample) Input(args l3views.Args) (l3views.Values, error) {
	raw, err := args.Features.Blob(FieldImage)
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxImagePixels {
		return nil, fmt.Errorf("%s image is %dx%d, outside supported bounds", format, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", format, err)
	}
	return l3views.Values{
		FieldImage:     img,
		l3views.KeyJpg: raw,
	}, nil
}

// Output samples C (RGB in [0, 1]) and sets V to 1 for nodes whose pixel
// falls inside the image. Nodes outside get a zero colour and V = 0.
func (ImageExample) Output(args l3views.Args) (l3views.Values, error) {
	img, err := upstream[image.Image](args, FieldImage)
	if err != nil {
		return nil, err
	}
	px, err := upstream[[][2]float32](args, KeyPx)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	C := make([][]float32, len(px))
	V := make([]float32, len(px))
	for i, p := range px {
		x := b.Min.X + int(math.Floor(float64(p[0])))
		y := b.Min.Y + int(math.Floor(float64(p[1])))
		if !image.Pt(x, y).In(b) {
			C[i] = []float32{0, 0, 0}
			continue
		}
		r, g, bl, _ := img.At(x, y).RGBA()
		C[i] = []float32{float32(r) / 0xffff, float32(g) / 0xffff, float32(bl) / 0xffff}
		V[i] = 1
	}
	return l3views.Values{
		l3views.KeyC: C,
		l3views.KeyV: V,
	}, nil
}
