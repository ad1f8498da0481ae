package detection

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/ironsheep/timetable-ocr/internal/imaging"
)

// ErrGridNotFound is returned when an axis has fewer than two boundaries,
// meaning the image has no detectable table structure.
var ErrGridNotFound = errors.New("no table grid detected")

// ErrInvalidLineSet is returned by LineSet.Validate.
var ErrInvalidLineSet = errors.New("invalid line set")

// Axis names one detection pass.
type Axis string

const (
	// AxisRows is the horizontal pass; it yields row boundaries (y values).
	AxisRows Axis = "rows"
	// AxisColumns is the vertical pass; it yields column boundaries (x values).
	AxisColumns Axis = "columns"
)

// LineSet holds the grid boundaries of one table.
//
// Rows are ascending y-coordinates and Columns ascending x-coordinates.
// N row boundaries define N-1 table rows. RowWidths and ColumnWidths hold
// the detected stroke thickness of each boundary, parallel to Rows and
// Columns; they may be nil for hand-built line sets.
type LineSet struct {
	Rows         []int `json:"rows"`
	Columns      []int `json:"columns"`
	RowWidths    []int `json:"row_widths,omitempty"`
	ColumnWidths []int `json:"column_widths,omitempty"`
	Width        int   `json:"image_width"`
	Height       int   `json:"image_height"`
}

// RowCount returns the number of table rows.
func (l *LineSet) RowCount() int { return max(0, len(l.Rows)-1) }

// ColumnCount returns the number of table columns.
func (l *LineSet) ColumnCount() int { return max(0, len(l.Columns)-1) }

// RowWidth returns the stroke thickness of row boundary i, or 1 if unknown.
func (l *LineSet) RowWidth(i int) int { return widthAt(l.RowWidths, i) }

// ColumnWidth returns the stroke thickness of column boundary i, or 1 if unknown.
func (l *LineSet) ColumnWidth(i int) int { return widthAt(l.ColumnWidths, i) }

func widthAt(widths []int, i int) int {
	if i < 0 || i >= len(widths) || widths[i] < 1 {
		return 1
	}
	return widths[i]
}

// Validate checks that both axes have at least two strictly increasing
// boundaries inside the image extent.
func (l *LineSet) Validate() error {
	if err := validateAxis(AxisRows, l.Rows, l.RowWidths, l.Height); err != nil {
		return err
	}
	return validateAxis(AxisColumns, l.Columns, l.ColumnWidths, l.Width)
}

func validateAxis(axis Axis, bounds, widths []int, extent int) error {
	if len(bounds) < 2 {
		return fmt.Errorf("%w: %s: need at least 2 boundaries, have %d", ErrInvalidLineSet, axis, len(bounds))
	}
	if widths != nil && len(widths) != len(bounds) {
		return fmt.Errorf("%w: %s: %d widths for %d boundaries", ErrInvalidLineSet, axis, len(widths), len(bounds))
	}
	for i, b := range bounds {
		if b < 0 || (extent > 0 && b >= extent) {
			return fmt.Errorf("%w: %s: boundary %d outside image extent %d", ErrInvalidLineSet, axis, b, extent)
		}
		if i > 0 && b <= bounds[i-1] {
			return fmt.Errorf("%w: %s: boundaries not strictly increasing at index %d", ErrInvalidLineSet, axis, i)
		}
	}
	return nil
}

// Options tunes grid detection. Distances are in pixels of the normalized
// image.
type Options struct {
	// RelativeThreshold is the fraction of the strongest profile value a
	// position must reach to be a boundary candidate.
	RelativeThreshold float64 `yaml:"relative_threshold" json:"relative_threshold"`

	// MinSpacing merges candidates closer than this many pixels into one
	// boundary, so a thick or doubled line is reported once.
	MinSpacing int `yaml:"min_spacing" json:"min_spacing"`

	// RunFraction is the minimum length of an ink run, as a fraction of the
	// scanned extent, for it to count towards the profile. Glyph strokes are
	// shorter than this and drop out.
	RunFraction float64 `yaml:"run_fraction" json:"run_fraction"`

	// RunGap is the number of paper pixels a run may bridge. It tolerates
	// antialiasing breaks and slight skew.
	RunGap int `yaml:"run_gap" json:"run_gap"`
}

// DefaultOptions returns detection settings suited to timetable screenshots
// at a working resolution of about 1500 pixels.
func DefaultOptions() Options {
	return Options{
		RelativeThreshold: 0.5,
		MinSpacing:        5,
		RunFraction:       0.05,
		RunGap:            2,
	}
}

// GridDetector finds table grid lines with projection profiles.
//
// Each axis is handled by an independent pass. For the row pass every image
// row is reduced to one number: the count of ink pixels that lie on long
// horizontal runs. Grid lines span most of the table and score high; text
// rows consist of short strokes and score low. Local maxima above
// RelativeThreshold of the peak become candidates, and candidates closer
// than MinSpacing collapse into one boundary. The column pass is the same
// with x and y swapped.
//
// The image border is never added as a boundary on its own. A table drawn
// without an outer frame therefore yields fewer rows or columns.
type GridDetector struct {
	opts Options
}

// NewGridDetector creates a detector. Zero or out-of-range fields in opts
// fall back to DefaultOptions, except RunGap where zero disables bridging.
func NewGridDetector(opts Options) *GridDetector {
	def := DefaultOptions()
	if opts.RelativeThreshold <= 0 || opts.RelativeThreshold > 1 {
		opts.RelativeThreshold = def.RelativeThreshold
	}
	if opts.MinSpacing <= 0 {
		opts.MinSpacing = def.MinSpacing
	}
	if opts.RunFraction <= 0 || opts.RunFraction > 1 {
		opts.RunFraction = def.RunFraction
	}
	if opts.RunGap < 0 {
		opts.RunGap = def.RunGap
	}
	return &GridDetector{opts: opts}
}

// Options returns the effective settings.
func (d *GridDetector) Options() Options { return d.opts }

// Detect returns the row and column boundaries of the table in img.
//
// img should be the output of imaging.Normalize. Other images are reduced
// to gray and read with imaging.InkCutoff as the ink level.
//
// Returns an error wrapping ErrGridNotFound when either axis has fewer
// than two boundaries. The result is deterministic for identical input.
func (d *GridDetector) Detect(img *imaging.RasterImage) (*LineSet, error) {
	g := img.Gray()
	if g == nil {
		g = imaging.ToGray(img.Image())
	}

	rows, rowWidths := d.detectAxis(g, AxisRows)
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: found %d row boundaries, need at least 2", ErrGridNotFound, len(rows))
	}

	cols, colWidths := d.detectAxis(g, AxisColumns)
	if len(cols) < 2 {
		return nil, fmt.Errorf("%w: found %d column boundaries, need at least 2", ErrGridNotFound, len(cols))
	}

	return &LineSet{
		Rows:         rows,
		Columns:      cols,
		RowWidths:    rowWidths,
		ColumnWidths: colWidths,
		Width:        g.Rect.Dx(),
		Height:       g.Rect.Dy(),
	}, nil
}

// detectAxis runs one pass and returns boundary positions and thicknesses.
func (d *GridDetector) detectAxis(g *image.Gray, axis Axis) ([]int, []int) {
	profile := Profile(g, axis, d.opts.RunFraction, d.opts.RunGap)
	return d.boundaries(profile)
}

// boundaries turns a projection profile into merged boundary positions.
func (d *GridDetector) boundaries(profile []int) ([]int, []int) {
	peak := 0
	for _, v := range profile {
		peak = max(peak, v)
	}
	if peak == 0 {
		return nil, nil
	}
	threshold := math.Max(d.opts.RelativeThreshold*float64(peak), 1)

	candidates := localMaxima(profile, threshold)
	if len(candidates) == 0 {
		return nil, nil
	}

	var positions, widths []int
	best := candidates[0]
	last := candidates[0]
	flush := func() {
		positions = append(positions, best)
		widths = append(widths, strokeWidth(profile, best, threshold))
	}
	for _, c := range candidates[1:] {
		if c-last < d.opts.MinSpacing {
			// Strictly greater keeps the earlier position on ties.
			if profile[c] > profile[best] {
				best = c
			}
			last = c
			continue
		}
		flush()
		best, last = c, c
	}
	flush()

	return positions, widths
}

// localMaxima returns, in ascending order, the positions whose value is at
// least threshold and not smaller than either neighbour. Every position of
// a flat top qualifies; merging picks one later.
func localMaxima(profile []int, threshold float64) []int {
	var out []int
	for i, v := range profile {
		if float64(v) < threshold {
			continue
		}
		if i > 0 && profile[i-1] > v {
			continue
		}
		if i < len(profile)-1 && profile[i+1] > v {
			continue
		}
		out = append(out, i)
	}
	return out
}

// strokeWidth counts the contiguous positions around pos that stay at or
// above threshold.
func strokeWidth(profile []int, pos int, threshold float64) int {
	lo, hi := pos, pos
	for lo > 0 && float64(profile[lo-1]) >= threshold {
		lo--
	}
	for hi < len(profile)-1 && float64(profile[hi+1]) >= threshold {
		hi++
	}
	return hi - lo + 1
}
