package image

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImagePreprocessor transforms one image into another.
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// Chain runs preprocessors in order.
type Chain []ImagePreprocessor

func (c Chain) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	var err error
	result := img
	for _, p := range c {
		result, err = p.Process(result)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return result, nil
}

// SharpenProcessor applies an unsharp mask of the given sigma.
type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	if p.strength <= 0 {
		return img, nil
	}
	return imaging.Sharpen(img, p.strength), nil
}

// ContrastProcessor changes contrast by a percentage in [-100, 100].
type ContrastProcessor struct {
	percentage float64
}

func NewContrastProcessor(percentage float64) *ContrastProcessor {
	return &ContrastProcessor{percentage: percentage}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	if p.percentage < -100 || p.percentage > 100 {
		return nil, fmt.Errorf("contrast percentage out of range: %v", p.percentage)
	}
	return imaging.AdjustContrast(img, p.percentage), nil
}

// RotateProcessor turns the image a quarter turn counter-clockwise, growing the canvas.
type RotateProcessor struct{}

func NewRotateProcessor() *RotateProcessor {
	return &RotateProcessor{}
}

func (p *RotateProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Rotate90(img), nil
}

// CropBandProcessor keeps a full-width horizontal band between two height fractions.
type CropBandProcessor struct {
	top, bottom float64
}

func NewCropBandProcessor(top, bottom float64) *CropBandProcessor {
	return &CropBandProcessor{top: top, bottom: bottom}
}

func (p *CropBandProcessor) Process(img image.Image) (image.Image, error) {
	if p.top < 0 || p.bottom > 1 || p.top >= p.bottom {
		return nil, fmt.Errorf("invalid crop band %.2f-%.2f", p.top, p.bottom)
	}
	b := img.Bounds()
	h := b.Dy()
	if h <= 0 {
		return nil, fmt.Errorf("cannot crop an image of height %d", h)
	}
	y0 := b.Min.Y + int(float64(h)*p.top)
	y1 := b.Min.Y + int(float64(h)*p.bottom)
	// very short images still get a one-pixel band
	if y0 >= b.Max.Y {
		y0 = b.Max.Y - 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return imaging.Crop(img, image.Rect(b.Min.X, y0, b.Max.X, y1)), nil
}
