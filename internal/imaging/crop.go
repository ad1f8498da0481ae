package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
)

// EncodedImage is a PNG rendered as base64 for transport in JSON payloads.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// CellImageOptions controls how a cell is prepared for OCR.
type CellImageOptions struct {
	// Scale is the upscaling factor applied after cropping. OCR engines read
	// small labels poorly; values below 1 are treated as 1.
	Scale float64 `yaml:"scale" json:"scale"`

	// Border is the width of the white margin added around the crop, in
	// source pixels, so glyphs never touch the image edge.
	Border int `yaml:"border" json:"border"`
}

// CropCell materializes one cell of a normalized image as a private buffer
// ready for OCR.
//
// Parameters:
//   - src: The normalized image. It is only read.
//   - rect: The cell rectangle, (Min) inclusive and (Max) exclusive.
//   - opts: Scale and border settings.
//
// Returns:
//   - *image.NRGBA: A new image; modifying it does not affect src.
//   - error: Non-nil if rect is empty or outside the image.
//
// Cells whose content is mostly ink (highlighted header cells rendered with
// a dark fill) are inverted so text is always dark on light.
func CropCell(src *RasterImage, rect image.Rectangle, opts CellImageOptions) (*image.NRGBA, error) {
	bounds := src.Bounds()

	if !rect.In(bounds) {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if rect.Empty() {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	cropped := imaging.Crop(src.Image(), rect)

	if g := src.Gray(); g != nil && 2*InkCount(g, rect) > rect.Dx()*rect.Dy() {
		cropped = imaging.Invert(cropped)
	}

	if opts.Border > 0 {
		w, h := cropped.Bounds().Dx(), cropped.Bounds().Dy()
		bg := imaging.New(w+2*opts.Border, h+2*opts.Border, color.White)
		cropped = imaging.PasteCenter(bg, cropped)
	}

	if opts.Scale > 1 {
		newWidth := int(float64(cropped.Bounds().Dx()) * opts.Scale)
		newHeight := int(float64(cropped.Bounds().Dy()) * opts.Scale)
		cropped = imaging.Resize(cropped, newWidth, newHeight, imaging.Lanczos)
	}

	return cropped, nil
}

// EncodePNG renders img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode renders img as a base64 PNG payload.
func Encode(img image.Image) (*EncodedImage, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return &EncodedImage{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MimeType:    "image/png",
	}, nil
}
