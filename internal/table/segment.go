package table

import (
	"errors"
	"fmt"
	"image"

	"github.com/ironsheep/timetable-ocr/internal/detection"
	"github.com/ironsheep/timetable-ocr/internal/imaging"
)

// ErrDegenerateCell marks a cell whose inset rectangle has no area.
var ErrDegenerateCell = errors.New("degenerate cell region")

// CellRegion is the part of the normalized image that holds one cell.
type CellRegion struct {
	Row int `json:"row"`
	Col int `json:"col"`

	// Rect is the inset cell rectangle; Min inclusive, Max exclusive. It
	// is empty when Degenerate is set.
	Rect image.Rectangle `json:"rect"`

	Degenerate bool  `json:"degenerate,omitempty"`
	Err        error `json:"-"`

	src *imaging.RasterImage
}

// Source returns the image the region refers to.
func (c CellRegion) Source() *imaging.RasterImage { return c.src }

// Image returns a view of the cell pixels without copying, or nil for a
// degenerate region.
func (c CellRegion) Image() image.Image {
	if c.Degenerate || c.src == nil {
		return nil
	}
	if s, ok := c.src.Image().(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(c.Rect)
	}
	return nil
}

// SegmentOptions controls how far cell rectangles are pulled in from the
// grid lines.
type SegmentOptions struct {
	// Margin is a fixed inset in pixels. When negative the inset follows
	// the detected stroke width of each boundary instead.
	Margin int `yaml:"margin" json:"margin"`

	// Padding is added to the stroke width when Margin is negative.
	Padding int `yaml:"padding" json:"padding"`
}

// DefaultSegmentOptions returns stroke-relative insets with 2 pixels of
// padding.
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{Margin: -1, Padding: 2}
}

// Segment partitions img along lines into (rows-1)x(cols-1) regions in
// row-major order.
//
// Each rectangle spans [Rows[i], Rows[i+1]) x [Columns[j], Columns[j+1])
// pulled in on every side by the inset. A region that collapses is still
// returned, with Degenerate set and Err wrapping ErrDegenerateCell, so the
// caller can record an empty cell and carry on.
//
// lines is not validated here; boundaries that are out of order simply
// produce degenerate regions.
func Segment(img *imaging.RasterImage, lines *detection.LineSet, opts SegmentOptions) []CellRegion {
	rows, cols := lines.RowCount(), lines.ColumnCount()
	regions := make([]CellRegion, 0, rows*cols)

	for i := 0; i < rows; i++ {
		top := lines.Rows[i] + opts.inset(lines.RowWidth(i))
		bottom := lines.Rows[i+1] - opts.inset(lines.RowWidth(i+1))

		for j := 0; j < cols; j++ {
			left := lines.Columns[j] + opts.inset(lines.ColumnWidth(j))
			right := lines.Columns[j+1] - opts.inset(lines.ColumnWidth(j+1))

			region := CellRegion{Row: i, Col: j, src: img}
			rect := image.Rect(left, top, right, bottom).Intersect(img.Bounds())
			if left >= right || top >= bottom || rect.Empty() {
				region.Degenerate = true
				region.Err = fmt.Errorf("%w: row %d col %d: (%d,%d)-(%d,%d) after inset",
					ErrDegenerateCell, i, j, left, top, right, bottom)
			} else {
				region.Rect = rect
			}
			regions = append(regions, region)
		}
	}

	return regions
}

// inset returns how far to move in from a boundary of the given stroke
// width.
func (o SegmentOptions) inset(width int) int {
	if o.Margin >= 0 {
		return o.Margin
	}
	return width + max(o.Padding, 0)
}
