// Package corrupt provides image corruption transforms used to generate
// synthetic near-OOD images from in-distribution ones when no real OOD
// reference data exists.
package corrupt

import (
	"image"
	"image/color"
	"math/rand"
)

// Transform is a pure image-to-image corruption. Implementations must
// not modify the input image.
type Transform interface {
	Apply(img image.Image) image.Image
}

// DefaultCutoutFraction is the fraction of each image dimension covered
// by the default cutout patch. The corruption is deliberately strong:
// near-OOD images should be close to the training distribution yet
// clearly damaged.
const DefaultCutoutFraction = 0.5

// Cutout masks a randomly placed rectangular region of the image with
// uniform pixel noise.
type Cutout struct {
	fraction float64
	rng      *rand.Rand
}

// NewCutout creates a cutout transform whose patch covers the given
// fraction of each image dimension. Fractions outside (0,1] fall back
// to DefaultCutoutFraction. The rng drives patch placement and noise;
// pass a seeded source for reproducible output, or nil for a fixed
// default seed.
func NewCutout(fraction float64, rng *rand.Rand) *Cutout {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultCutoutFraction
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Cutout{fraction: fraction, rng: rng}
}

// Apply returns a copy of img with a noise-filled rectangle cut out.
func (c *Cutout) Apply(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}

	w := bounds.Dx()
	h := bounds.Dy()
	pw := int(c.fraction * float64(w))
	ph := int(c.fraction * float64(h))
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}

	x0 := bounds.Min.X
	y0 := bounds.Min.Y
	if w > pw {
		x0 += c.rng.Intn(w - pw + 1)
	}
	if h > ph {
		y0 += c.rng.Intn(h - ph + 1)
	}

	for y := y0; y < y0+ph; y++ {
		for x := x0; x < x0+pw; x++ {
			out.Set(x, y, color.RGBA{
				R: uint8(c.rng.Intn(256)),
				G: uint8(c.rng.Intn(256)),
				B: uint8(c.rng.Intn(256)),
				A: 255,
			})
		}
	}
	return out
}

var _ Transform = (*Cutout)(nil)
