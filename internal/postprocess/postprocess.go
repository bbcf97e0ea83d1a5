// Package postprocess cleans up baked ambient occlusion maps before they
// are written.
package postprocess

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/imgio"
	"golang.org/x/image/draw"
)

// Options selects the optional steps of Apply.
type Options struct {
	// Resolution is the target edge size. A larger input is downsampled.
	Resolution int
	// SmoothRadius enables a box blur when positive.
	SmoothRadius float64
}

// Apply runs AlphaFill, then Downsample and Smooth when configured.
func Apply(img *image.RGBA, opts Options) *image.RGBA {
	out := AlphaFill(img)
	if opts.Resolution > 0 && out.Bounds().Dx() != opts.Resolution {
		out = Downsample(out, opts.Resolution)
	}
	if opts.SmoothRadius > 0 {
		out = Smooth(out, opts.SmoothRadius)
	}
	return out
}

// AlphaFill pads UV island borders. Every fully transparent texel takes the
// average red value of its opaque 8-neighbours, or white when it has none.
// Neighbour coordinates are clamped at the image border. The result is
// fully opaque.
func AlphaFill(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	at := func(x, y int) color.RGBA {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return src.RGBAAt(b.Min.X+x, b.Min.Y+y)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := at(x, y)
			if c.A != 0 {
				dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
				continue
			}

			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					if nc := at(x+dx, y+dy); nc.A > 0 {
						sum += int(nc.R)
						n++
					}
				}
			}

			v := uint8(255)
			if n > 0 {
				v = uint8(sum / n)
			}
			dst.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return dst
}

// Downsample scales src to size x size with bilinear filtering.
func Downsample(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Smooth applies a box blur of the given radius.
func Smooth(src image.Image, radius float64) *image.RGBA {
	return blur.Box(clone.AsRGBA(src), radius)
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	return imgio.Save(path, img, imgio.PNGEncoder())
}

// ReadImage decodes the image at path.
func ReadImage(path string) (*image.RGBA, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, err
	}
	return clone.AsRGBA(img), nil
}
