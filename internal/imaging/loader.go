package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// ErrDecode is returned when an image file cannot be turned into pixels.
//
// It covers unreadable files, empty files, unknown formats, corrupt data and
// images with a zero dimension. Callers match it with errors.Is.
var ErrDecode = errors.New("image decode failed")

// RasterImage is a decoded raster together with where it came from.
//
// A RasterImage is never modified after construction. Transforms such as
// Normalize return a new RasterImage and leave the receiver untouched, so a
// single value may be read from many goroutines at once.
type RasterImage struct {
	img    image.Image
	path   string
	format string
}

// NewRasterImage wraps an in-memory image.
//
// Parameters:
//   - img: The pixel data. The caller must not modify it afterwards.
//   - format: A short format name such as "png" or "gray". May be empty.
//
// Returns nil if img is nil.
func NewRasterImage(img image.Image, format string) *RasterImage {
	if img == nil {
		return nil
	}
	return &RasterImage{img: img, format: format}
}

// Image returns the underlying pixel data. It must be treated as read-only.
func (r *RasterImage) Image() image.Image { return r.img }

// Path returns the file the image was loaded from, or "" for in-memory images.
func (r *RasterImage) Path() string { return r.path }

// Format returns the decoder name reported by image.Decode ("png", "jpeg", ...).
func (r *RasterImage) Format() string { return r.format }

// Bounds returns the pixel rectangle of the image.
func (r *RasterImage) Bounds() image.Rectangle { return r.img.Bounds() }

// Width returns the image width in pixels.
func (r *RasterImage) Width() int { return r.img.Bounds().Dx() }

// Height returns the image height in pixels.
func (r *RasterImage) Height() int { return r.img.Bounds().Dy() }

// Channels reports the number of samples per pixel of the underlying buffer.
//
// Gray images report 1 and YCbCr (baseline JPEG) reports 3. Everything else
// is treated as RGBA and reports 4.
func (r *RasterImage) Channels() int {
	switch r.img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr:
		return 3
	default:
		return 4
	}
}

// Gray returns the image as *image.Gray if it already is one, or nil.
//
// Normalized images are always gray, so detection code uses this to read
// the Pix slice directly.
func (r *RasterImage) Gray() *image.Gray {
	g, _ := r.img.(*image.Gray)
	return g
}

// Load reads and decodes the image file at path.
//
// Parameters:
//   - path: Absolute or relative file path. Supported formats are PNG, JPEG,
//     GIF, BMP, TIFF and WebP.
//
// Returns:
//   - *RasterImage: The decoded image, guaranteed to be at least 1x1.
//   - error: Wraps ErrDecode for every failure.
//
// # Errors
//
//   - The file does not exist or cannot be read
//   - The file is empty
//   - The content is not a registered raster format or is corrupt
//   - The decoded image has a zero width or height
func Load(path string) (*RasterImage, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open image: %w", ErrDecode, err)
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrDecode, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open image: %w", ErrDecode, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %w", ErrDecode, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s has zero dimension (%dx%d)", ErrDecode, path, bounds.Dx(), bounds.Dy())
	}

	return &RasterImage{img: img, path: path, format: format}, nil
}

// ImageInfo contains metadata about a loaded image file.
//
// This struct provides essential information about an image without requiring
// the caller to analyze the image data directly.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the decoder that accepted the file: "png", "jpeg", "gif",
	// "bmp", "tiff" or "webp". Detection is based on content, not extension.
	Format string `json:"format"`

	// ColorDepth indicates the bit depth per channel: "8-bit" or "16-bit".
	ColorDepth string `json:"color_depth"`

	// Channels is the number of samples per pixel (see RasterImage.Channels).
	Channels int `json:"channels"`

	// HasAlpha indicates whether the image has an alpha (transparency) channel.
	HasAlpha bool `json:"has_alpha"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads an image and returns metadata about it.
//
// Parameters:
//   - path: Path to the image file.
//
// Returns:
//   - *ImageInfo: Metadata about the image.
//   - error: Non-nil if the image cannot be loaded or the file cannot be stat'd.
//
// # Color Depth Detection
//
// Color depth is determined by the Go image type:
//   - *image.RGBA64, *image.NRGBA64, *image.Gray16 -> "16-bit"
//   - All other types -> "8-bit"
func LoadImageInfo(path string) (*ImageInfo, error) {
	raster, err := Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	hasAlpha := false
	colorDepth := "8-bit"
	switch raster.img.(type) {
	case *image.RGBA, *image.NRGBA:
		hasAlpha = true
	case *image.RGBA64, *image.NRGBA64:
		hasAlpha = true
		colorDepth = "16-bit"
	case *image.Gray16:
		colorDepth = "16-bit"
	}

	return &ImageInfo{
		Width:         raster.Width(),
		Height:        raster.Height(),
		Format:        raster.format,
		ColorDepth:    colorDepth,
		Channels:      raster.Channels(),
		HasAlpha:      hasAlpha,
		FileSizeBytes: stat.Size(),
	}, nil
}
