package detection

import (
	"image"
	"math"

	"github.com/ironsheep/timetable-ocr/internal/imaging"
)

// Profile computes the projection profile of g for one axis.
//
// For AxisRows the result has one entry per image row; each entry is the
// number of ink pixels in that row that belong to a horizontal run at least
// runFraction of the image width long. Runs may bridge up to gap paper
// pixels. AxisColumns is the same with columns and vertical runs.
func Profile(g *image.Gray, axis Axis, runFraction float64, gap int) []int {
	b := g.Rect
	w, h := b.Dx(), b.Dy()

	lines, length := h, w
	ink := func(line, pos int) bool {
		return g.Pix[g.PixOffset(b.Min.X+pos, b.Min.Y+line)] < imaging.InkCutoff
	}
	if axis == AxisColumns {
		lines, length = w, h
		ink = func(line, pos int) bool {
			return g.Pix[g.PixOffset(b.Min.X+line, b.Min.Y+pos)] < imaging.InkCutoff
		}
	}

	minRun := max(1, int(math.Ceil(runFraction*float64(length))))

	profile := make([]int, lines)
	for line := 0; line < lines; line++ {
		profile[line] = runDensity(length, func(pos int) bool { return ink(line, pos) }, minRun, gap)
	}
	return profile
}

// runDensity scans one line and sums the ink of every run spanning at least
// minRun pixels. A run continues across at most gap consecutive paper
// pixels; bridged paper counts towards the span but not the ink.
func runDensity(length int, ink func(int) bool, minRun, gap int) int {
	total := 0
	inRun := false
	runInk, runSpan, paper := 0, 0, 0

	for pos := 0; pos < length; pos++ {
		if ink(pos) {
			if !inRun {
				inRun = true
				runInk, runSpan = 0, 0
			} else {
				runSpan += paper
			}
			paper = 0
			runInk++
			runSpan++
			continue
		}
		if !inRun {
			continue
		}
		paper++
		if paper > gap {
			if runSpan >= minRun {
				total += runInk
			}
			inRun = false
			paper = 0
		}
	}
	if inRun && runSpan >= minRun {
		total += runInk
	}
	return total
}
