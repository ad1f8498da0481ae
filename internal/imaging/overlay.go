package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Default overlay colors.
const (
	DefaultRowColor = "#FF0000"
)

// OverlayOptions controls BoundaryOverlay rendering.
type OverlayOptions struct {
	// RowColor is the hex color ("#RRGGBB") used for row boundaries.
	// Invalid or empty values fall back to DefaultRowColor.
	RowColor string `json:"row_color,omitempty"`

	// ColumnColor is the hex color used for column boundaries. When empty
	// the complementary hue of RowColor is used.
	ColumnColor string `json:"column_color,omitempty"`

	// Labels draws the boundary index next to each line.
	Labels bool `json:"labels,omitempty"`
}

// BoundaryOverlay draws detected row and column boundaries on top of img.
//
// Parameters:
//   - img: The image to annotate. It is copied, never modified.
//   - rows: Row boundary y-coordinates.
//   - cols: Column boundary x-coordinates.
//   - opts: Colors and labelling.
//
// Returns:
//   - *image.RGBA: The annotated copy, anchored at the origin.
//
// Boundaries outside the image are skipped.
func BoundaryOverlay(img image.Image, rows, cols []int, opts OverlayOptions) *image.RGBA {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	rowColor, colColor := overlayColors(opts)

	result := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(result, result.Bounds(), img, bounds.Min, draw.Src)

	for _, y := range rows {
		if y < 0 || y >= height {
			continue
		}
		for x := 0; x < width; x++ {
			result.Set(x, y, rowColor)
		}
	}

	for _, x := range cols {
		if x < 0 || x >= width {
			continue
		}
		for y := 0; y < height; y++ {
			result.Set(x, y, colColor)
		}
	}

	if opts.Labels {
		labelColor := color.RGBA{255, 255, 255, 255}
		for i, y := range rows {
			drawLabel(result, 2, y+2, strconv.Itoa(i), labelColor, rowColor)
		}
		for i, x := range cols {
			drawLabel(result, x+2, 2, strconv.Itoa(i), labelColor, colColor)
		}
	}

	return result
}

// overlayColors resolves the row and column colors for opts.
func overlayColors(opts OverlayOptions) (color.RGBA, color.RGBA) {
	row, err := parseHexColor(opts.RowColor)
	if err != nil {
		row, _ = parseHexColor(DefaultRowColor)
	}

	col, err := parseHexColor(opts.ColumnColor)
	if err != nil {
		col = complement(row)
	}

	return toRGBA(row), toRGBA(col)
}

// parseHexColor parses a hex color string like "#FF0000".
func parseHexColor(hex string) (colorful.Color, error) {
	if len(hex) == 0 {
		return colorful.Color{}, fmt.Errorf("empty color string")
	}
	if hex[0] != '#' {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return c, nil
}

// complement rotates the hue of c by 180 degrees.
func complement(c colorful.Color) colorful.Color {
	h, s, v := c.Hsv()
	return colorful.Hsv(math.Mod(h+180, 360), s, v).Clamped()
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// drawLabel draws text on a filled box whose top-left corner is (x, y).
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	face := basicfont.Face7x13
	box := image.Rect(x-1, y-1, x+font.MeasureString(face, text).Ceil()+1, y+face.Height)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(text)
}
