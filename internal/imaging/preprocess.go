package imaging

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
)

// Pixel values used by normalized images.
const (
	// Ink marks grid strokes and glyph strokes.
	Ink uint8 = 0
	// Paper marks background.
	Paper uint8 = 255
	// InkCutoff is the intensity below which a gray sample counts as ink.
	InkCutoff uint8 = 128
)

// darkTheme is the mean intensity below which an image is inverted. It sits
// exactly between Ink and Paper, so an inverted image never qualifies again.
const darkTheme = 127.5

// ThresholdMethod selects how Normalize separates ink from paper.
type ThresholdMethod string

const (
	// ThresholdAdaptive compares each pixel with the mean of its neighbourhood.
	// It copes with coloured header rows and uneven backgrounds.
	ThresholdAdaptive ThresholdMethod = "adaptive"

	// ThresholdOtsu picks one global level from the intensity histogram.
	ThresholdOtsu ThresholdMethod = "otsu"
)

// PreprocessOptions tunes Normalize.
type PreprocessOptions struct {
	// MaxDimension caps the longer image side. Larger images are downscaled
	// before any other step. Zero disables resizing.
	MaxDimension int `yaml:"max_dimension" json:"max_dimension"`

	// NoiseRadius is the Gaussian blur radius used to suppress compression
	// artifacts. Zero disables blurring.
	NoiseRadius float64 `yaml:"noise_radius" json:"noise_radius"`

	// Threshold selects the binarization method.
	Threshold ThresholdMethod `yaml:"threshold" json:"threshold"`

	// BlockSize is the side of the adaptive threshold window, in pixels.
	BlockSize int `yaml:"block_size" json:"block_size"`

	// Offset is how much darker than its neighbourhood mean a pixel must be
	// to count as ink under adaptive thresholding.
	Offset int `yaml:"offset" json:"offset"`

	// Despeckle clears isolated single ink pixels after thresholding.
	Despeckle bool `yaml:"despeckle" json:"despeckle"`
}

// DefaultPreprocessOptions returns the settings used for typical timetable
// screenshots.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		MaxDimension: 1500,
		NoiseRadius:  1.0,
		Threshold:    ThresholdAdaptive,
		BlockSize:    15,
		Offset:       10,
		Despeckle:    true,
	}
}

// Normalize converts an image into a bilevel gray image where grid lines and
// glyph strokes are Ink and everything else is Paper.
//
// The steps run in a fixed order:
//  1. Flatten transparency onto white and downscale to MaxDimension.
//  2. Reduce color to intensity.
//  3. Invert dark-themed images so ink is darker than the background.
//  4. Suppress noise with a Gaussian blur.
//  5. Threshold (adaptive or Otsu), then optionally despeckle.
//
// An image that is already bilevel skips steps 4 and 5, which makes
// Normalize a fixed point on its own output: Normalize(Normalize(x)) has the
// same pixels as Normalize(x).
//
// Normalize never fails. Pathological input yields a blank or noisy result
// that grid detection later rejects. The source image is not modified.
func Normalize(src *RasterImage, opts PreprocessOptions) *RasterImage {
	img := flatten(src.Image())

	if opts.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension {
			img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		}
	}

	gray := intensity(img)
	bilevel := isBilevel(gray)

	if meanIntensity(gray) < darkTheme {
		gray = redChannel(effect.Invert(gray))
	}

	if bilevel {
		return &RasterImage{img: gray, path: src.path, format: "gray"}
	}

	if opts.NoiseRadius > 0 {
		gray = redChannel(blur.Gaussian(gray, opts.NoiseRadius))
	}

	var out *image.Gray
	switch opts.Threshold {
	case ThresholdOtsu:
		out = rebase(segment.Threshold(gray, otsuLevel(gray)))
	default:
		out = adaptiveThreshold(gray, opts.BlockSize, opts.Offset)
	}

	if opts.Despeckle {
		out = despeckle(out)
	}

	// Ink is never the majority of a table image. If it is, the threshold
	// picked the background.
	if meanIntensity(out) < darkTheme {
		out = redChannel(effect.Invert(out))
	}

	return &RasterImage{img: out, path: src.path, format: "gray"}
}

// flatten composites images with transparency onto a white background so
// transparent regions read as paper rather than black.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// intensity returns a private gray copy of img anchored at the origin.
func intensity(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		b := g.Bounds()
		out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return out
	}
	return ToGray(img)
}

// ToGray converts img to luminance, anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	return redChannel(effect.Grayscale(img))
}

// redChannel extracts the red samples of an RGBA image produced from a gray
// source. bild returns RGBA from most filters; for gray input R == G == B,
// so this is exact and avoids a second luminance rounding.
func redChannel(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = src.Pix[row+x*4]
		}
	}
	return out
}

// rebase moves a gray image's origin to (0,0) without copying pixels.
func rebase(g *image.Gray) *image.Gray {
	if g.Rect.Min == (image.Point{}) {
		return g
	}
	return &image.Gray{Pix: g.Pix, Stride: g.Stride, Rect: image.Rect(0, 0, g.Rect.Dx(), g.Rect.Dy())}
}

func isBilevel(g *image.Gray) bool {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			if v != Ink && v != Paper {
				return false
			}
		}
	}
	return true
}

func meanIntensity(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return float64(Paper)
	}
	var sum uint64
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			sum += uint64(v)
		}
	}
	return float64(sum) / float64(w*h)
}

// adaptiveThreshold marks a pixel as ink when it is darker than the mean of
// its block x block neighbourhood by more than offset. The window is clipped
// at the image border. Means come from an integral image so the cost does
// not depend on the block size.
func adaptiveThreshold(g *image.Gray, block, offset int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if block < 3 {
		block = 3
	}
	half := block / 2

	stride := w + 1
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(g.Pix[y*g.Stride+x])
			integral[(y+1)*stride+x+1] = integral[y*stride+x+1] + rowSum
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h, y+half+1)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w, x+half+1)
			sum := integral[y1*stride+x1] - integral[y0*stride+x1] - integral[y1*stride+x0] + integral[y0*stride+x0]
			count := int64((x1 - x0) * (y1 - y0))
			v := int64(g.Pix[y*g.Stride+x])
			if v*count < sum-int64(offset)*count {
				out.Pix[y*out.Stride+x] = Ink
			} else {
				out.Pix[y*out.Stride+x] = Paper
			}
		}
	}
	return out
}

// otsuLevel returns the threshold that maximizes between-class variance.
// The returned level is the first intensity that belongs to the paper class,
// matching segment.Threshold which keeps values >= level as white.
func otsuLevel(g *image.Gray) uint8 {
	var hist [256]int
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}

	total := w * h
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var sumB float64
	var wB int
	best, level := -1.0, 0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = t
		}
	}
	if level >= 255 {
		return 255
	}
	return uint8(level + 1)
}

// despeckle clears ink pixels that have no ink among their 8 neighbours.
func despeckle(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(g.Rect)
	copy(out.Pix, g.Pix)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if g.Pix[y*g.Stride+x] != Ink {
				continue
			}
			isolated := true
			for dy := -1; dy <= 1 && isolated; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					if g.Pix[ny*g.Stride+nx] == Ink {
						isolated = false
						break
					}
				}
			}
			if isolated {
				out.Pix[y*out.Stride+x] = Paper
			}
		}
	}
	return out
}

// InkCount returns the number of ink pixels of g inside r.
func InkCount(g *image.Gray, r image.Rectangle) int {
	r = r.Intersect(g.Rect)
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := g.PixOffset(r.Min.X, y)
		for _, v := range g.Pix[off : off+r.Dx()] {
			if v < InkCutoff {
				n++
			}
		}
	}
	return n
}
