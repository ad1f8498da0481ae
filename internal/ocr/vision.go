package ocr

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/ironsheep/timetable-ocr/internal/imaging"
)

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// Vision recognizes text with Google Cloud Vision DOCUMENT_TEXT_DETECTION.
type Vision struct {
	annotate annotateFunc
	release  func() error

	once     sync.Once
	closeErr error
}

// NewVision creates an engine with its own API client.
func NewVision(ctx context.Context, opts Options) (*Vision, error) {
	client, err := newVisionClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Vision{
		annotate: clientAnnotate(client),
		release:  client.Close,
	}, nil
}

// newVisionClient resolves credentials in order: the configured file,
// GOOGLE_CREDENTIALS JSON, GOOGLE_APPLICATION_CREDENTIALS, then default
// credentials.
func newVisionClient(ctx context.Context, opts Options) (*vision.ImageAnnotatorClient, error) {
	const op = "vision.New"

	if opts.VisionCredentialsFile != "" {
		client, err := vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(opts.VisionCredentialsFile))
		if err != nil {
			return nil, wrapError(op, err, "failed to create client with "+opts.VisionCredentialsFile)
		}
		return client, nil
	}

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err := vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, wrapError(op, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
		return client, nil
	}

	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err := vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
		if err != nil {
			return nil, wrapError(op, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
		return client, nil
	}

	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, wrapError(op, ErrMissingCredentials, "no credentials found in environment")
	}
	return client, nil
}

func clientAnnotate(client *vision.ImageAnnotatorClient) annotateFunc {
	return func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		return client.BatchAnnotateImages(ctx, req)
	}
}

// Recognize sends img to the Vision API and parses the document text.
func (v *Vision) Recognize(img image.Image) (Result, error) {
	const op = "vision.Recognize"

	data, err := imaging.EncodePNG(img)
	if err != nil {
		return Result{}, wrapError(op, err, "failed to encode cell image")
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.annotate(context.Background(), req)
	if err != nil {
		return Result{}, wrapError(op, ErrRecognitionFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.GetResponses()) == 0 {
		return Result{}, wrapError(op, ErrRecognitionFailed, "no response from Vision API")
	}

	r := resp.GetResponses()[0]
	if r.GetError() != nil {
		return Result{}, wrapError(op, ErrRecognitionFailed, fmt.Sprintf("Vision API error: %s", r.GetError().GetMessage()))
	}

	return parseVisionResponse(r), nil
}

// Close releases this engine's hold on the API client.
func (v *Vision) Close() error {
	v.once.Do(func() {
		if v.release != nil {
			v.closeErr = v.release()
		}
	})
	return v.closeErr
}

// parseVisionResponse extracts text and word confidences. A response with
// no text annotation is an empty cell, not an error.
func parseVisionResponse(r *visionpb.AnnotateImageResponse) Result {
	full := r.GetFullTextAnnotation()
	if full == nil {
		return Result{}
	}

	var words []Word
	for _, page := range full.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				for _, w := range para.GetWords() {
					var sb strings.Builder
					for _, s := range w.GetSymbols() {
						sb.WriteString(s.GetText())
					}
					if sb.Len() == 0 {
						continue
					}
					words = append(words, Word{
						Text:       sb.String(),
						Confidence: float64(w.GetConfidence()),
						Box:        polyBounds(w.GetBoundingBox()),
					})
				}
			}
		}
	}

	return Result{
		Text:       full.GetText(),
		Confidence: meanConfidence(words),
		Words:      words,
	}
}

func polyBounds(poly *visionpb.BoundingPoly) image.Rectangle {
	var r image.Rectangle
	for i, v := range poly.GetVertices() {
		p := image.Pt(int(v.GetX()), int(v.GetY()))
		if i == 0 {
			r = image.Rectangle{Min: p, Max: p}
			continue
		}
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	return r
}

// visionShare lets every engine from one factory use a single API client.
// The client is created on first use and closed when the last engine
// closes.
type visionShare struct {
	opts Options

	mu     sync.Mutex
	client *vision.ImageAnnotatorClient
	refs   int
}

func (s *visionShare) engine() (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		client, err := newVisionClient(context.Background(), s.opts)
		if err != nil {
			return nil, err
		}
		s.client = client
	}
	s.refs++

	return &Vision{
		annotate: clientAnnotate(s.client),
		release:  s.release,
	}, nil
}

func (s *visionShare) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs > 0 || s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
