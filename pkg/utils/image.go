// Package utils provides frame decoding and pixel statistics used by the
// quality and liveness checks
package utils

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Frame is a decoded, row-major RGB pixel matrix
type Frame struct {
	img *image.NRGBA
}

// NewFrame wraps an arbitrary image as a Frame, copying it into NRGBA layout
func NewFrame(img image.Image) *Frame {
	return &Frame{img: imaging.Clone(img)}
}

// Image returns the underlying pixel buffer
func (f *Frame) Image() *image.NRGBA {
	return f.img
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	return f.img.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	return f.img.Bounds().Dy()
}

// Area returns width * height
func (f *Frame) Area() int {
	return f.Width() * f.Height()
}

// Empty reports whether the frame has no pixels
func (f *Frame) Empty() bool {
	return f == nil || f.img == nil || f.Area() == 0
}

// Crop returns the region (x, y, width, height) clamped to the frame bounds.
// The result may be empty when the region lies outside the frame.
func (f *Frame) Crop(x, y, width, height int) *Frame {
	rect := ClampRect(x, y, width, height, f.Width(), f.Height())
	if rect.Empty() {
		return &Frame{img: image.NewNRGBA(image.Rect(0, 0, 0, 0))}
	}
	return &Frame{img: imaging.Crop(f.img, rect)}
}

// ClampRect intersects (x, y, width, height) with a frameW x frameH frame
func ClampRect(x, y, width, height, frameW, frameH int) image.Rectangle {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return image.Rect(x, y, x+width, y+height).Intersect(image.Rect(0, 0, frameW, frameH))
}

// GrayMatrix is an 8-bit luminance plane stored row-major
type GrayMatrix struct {
	Width  int
	Height int
	Pix    []float64
}

// Gray converts the frame to luminance using 0.299 R + 0.587 G + 0.114 B
func (f *Frame) Gray() *GrayMatrix {
	w, h := f.Width(), f.Height()
	g := &GrayMatrix{Width: w, Height: h, Pix: make([]float64, w*h)}
	if w == 0 || h == 0 {
		return g
	}

	gray := imaging.Grayscale(f.img)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			g.Pix[y*w+x] = float64(row[x*4])
		}
	}
	return g
}

// MeanStdDev returns the mean and population standard deviation of the plane
func (g *GrayMatrix) MeanStdDev() (float64, float64) {
	n := len(g.Pix)
	if n == 0 {
		return 0, 0
	}

	var sum, sumSq float64
	for _, v := range g.Pix {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// LaplacianVariance applies the 4-neighbour Laplacian kernel
//
//	0  1  0
//	1 -4  1
//	0  1  0
//
// with reflect-101 borders and returns the variance of the response.
func (g *GrayMatrix) LaplacianVariance() float64 {
	w, h := g.Width, g.Height
	if w == 0 || h == 0 {
		return 0
	}

	at := func(x, y int) float64 {
		return g.Pix[reflect101(y, h)*w+reflect101(x, w)]
	}

	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := at(x, y-1) + at(x-1, y) + at(x+1, y) + at(x, y+1) - 4*at(x, y)
			sum += v
			sumSq += v * v
		}
	}

	n := float64(w * h)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

// reflect101 mirrors an out-of-range index without repeating the edge pixel
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// MeanSaturation returns the mean HSV saturation on a 0-255 scale
func (f *Frame) MeanSaturation() float64 {
	w, h := f.Width(), f.Height()
	if w == 0 || h == 0 {
		return 0
	}

	var sum float64
	for y := 0; y < h; y++ {
		row := f.img.Pix[y*f.img.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			maxC := max(r, g, b)
			minC := min(r, g, b)
			if maxC > 0 {
				sum += 255 * float64(maxC-minC) / float64(maxC)
			}
		}
	}
	return sum / float64(w*h)
}

// Clamp clamps a value between min and max
func Clamp(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
