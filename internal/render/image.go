package render

import (
	"image"
	"image/color"

	"voxeltrace/internal/geom"
	"voxeltrace/internal/trace"
)

var lightDir = geom.Vec3{0.4, 0.8, 0.3}.Normalize()

// Image holds the nearest hit for every pixel of a frame.
type Image struct {
	Width  int
	Height int
	Hits   []trace.Hit
}

func NewImage(width, height int) *Image {
	hits := make([]trace.Hit, width*height)
	for i := range hits {
		hits[i] = trace.NoHit
	}
	return &Image{Width: width, Height: height, Hits: hits}
}

// At returns the hit for pixel (x, y).
func (img *Image) At(x, y int) trace.Hit {
	return img.Hits[y*img.Width+x]
}

// Coverage is the fraction of pixels that hit a surface.
func (img *Image) Coverage() float64 {
	if len(img.Hits) == 0 {
		return 0
	}
	n := 0
	for _, h := range img.Hits {
		if h.Ok() {
			n++
		}
	}
	return float64(n) / float64(len(img.Hits))
}

// Gray shades the frame with a single directional light. Misses are black.
func (img *Image) Gray() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			h := img.At(x, y)
			if !h.Ok() {
				continue
			}
			lambert := h.Normal.Dot(lightDir)
			if lambert < 0 {
				lambert = 0
			}
			out.SetGray(x, y, color.Gray{Y: uint8(48 + 207*lambert)})
		}
	}
	return out
}
