package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// VariantName identifies a derived image.
type VariantName string

const (
	VariantOriginal        VariantName = "orig"
	VariantEnhanced        VariantName = "enh"
	VariantRotated         VariantName = "rot90"
	VariantEnhancedRotated VariantName = "enh_rot90"
	VariantCropTop         VariantName = "crop_top"
	VariantCropMiddle      VariantName = "crop_mid"
	VariantCropBottom      VariantName = "crop_bot"
)

const (
	defaultJPEGQuality     = 92
	defaultLandscapeRatio  = 1.15
	defaultContrastPercent = 35
	defaultSharpenStrength = 0.5
)

// Band is a horizontal crop expressed as height fractions.
type Band struct {
	Name        VariantName
	Top, Bottom float64
}

// ProcessOptions tunes variant generation.
type ProcessOptions struct {
	ContrastPercent float64
	SharpenStrength float64
	LandscapeRatio  float64
	Bands           []Band
	JPEGQuality     int
}

func DefaultOptions() *ProcessOptions {
	return &ProcessOptions{
		ContrastPercent: defaultContrastPercent,
		SharpenStrength: defaultSharpenStrength,
		LandscapeRatio:  defaultLandscapeRatio,
		Bands: []Band{
			{Name: VariantCropTop, Top: 0, Bottom: 0.40},
			{Name: VariantCropMiddle, Top: 0.30, Bottom: 0.75},
			{Name: VariantCropBottom, Top: 0.60, Bottom: 1.0},
		},
		JPEGQuality: defaultJPEGQuality,
	}
}

// Variant is one derived image.
type Variant struct {
	Name  VariantName
	Image image.Image
}

// VariantSet is the ordered set of variants derived from one photo.
type VariantSet struct {
	variants []Variant
}

func (s *VariantSet) Names() []VariantName {
	out := make([]VariantName, len(s.variants))
	for i, v := range s.variants {
		out[i] = v.Name
	}
	return out
}

func (s *VariantSet) Get(name VariantName) (Variant, bool) {
	for _, v := range s.variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

func (s *VariantSet) Len() int { return len(s.variants) }

// Select returns the variants named in order that exist, capped at limit.
func (s *VariantSet) Select(order []VariantName, limit int) []Variant {
	out := make([]Variant, 0, limit)
	for _, name := range order {
		if len(out) >= limit {
			break
		}
		if v, ok := s.Get(name); ok {
			out = append(out, v)
		}
	}
	return out
}

// Processor derives the deterministic variant set from a source photo.
type Processor struct {
	logger   logger.Logger
	config   *ProcessOptions
	enhancer ImagePreprocessor
	rotator  ImagePreprocessor
}

func NewProcessor(log logger.Logger, opts *ProcessOptions) (*Processor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	if opts.LandscapeRatio <= 0 {
		opts.LandscapeRatio = defaultLandscapeRatio
	}
	return &Processor{
		logger: log.Named("variants"),
		config: opts,
		enhancer: Chain{
			NewContrastProcessor(opts.ContrastPercent),
			NewSharpenProcessor(opts.SharpenStrength),
		},
		rotator: NewRotateProcessor(),
	}, nil
}

// Open decodes an image file, applying its EXIF orientation.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	return img, nil
}

// Landscape reports whether the image is wide enough to warrant rotated variants.
func (p *Processor) Landscape(img image.Image) bool {
	b := img.Bounds()
	return float64(b.Dx()) > float64(b.Dy())*p.config.LandscapeRatio
}

// BuildVariants produces original, enhanced, optional rotations, then crop bands of the enhanced image.
func (p *Processor) BuildVariants(src image.Image) (*VariantSet, error) {
	if src == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	orig := imaging.Clone(src)
	set := &VariantSet{variants: []Variant{{Name: VariantOriginal, Image: orig}}}

	enh, err := p.enhancer.Process(orig)
	if err != nil {
		return nil, fmt.Errorf("failed to enhance image: %w", err)
	}
	set.variants = append(set.variants, Variant{Name: VariantEnhanced, Image: enh})

	if p.Landscape(orig) {
		rot, err := p.rotator.Process(orig)
		if err != nil {
			return nil, fmt.Errorf("failed to rotate image: %w", err)
		}
		enhRot, err := p.rotator.Process(enh)
		if err != nil {
			return nil, fmt.Errorf("failed to rotate enhanced image: %w", err)
		}
		set.variants = append(set.variants,
			Variant{Name: VariantRotated, Image: rot},
			Variant{Name: VariantEnhancedRotated, Image: enhRot},
		)
	}

	for _, band := range p.config.Bands {
		cropped, err := NewCropBandProcessor(band.Top, band.Bottom).Process(enh)
		if err != nil {
			return nil, fmt.Errorf("failed to crop %s: %w", band.Name, err)
		}
		set.variants = append(set.variants, Variant{Name: band.Name, Image: cropped})
	}

	p.logger.Debug("variants built",
		logger.Int("count", set.Len()),
		logger.Int("width", orig.Bounds().Dx()),
		logger.Int("height", orig.Bounds().Dy()),
	)
	return set, nil
}

// BuildFromFile opens path and builds its variants.
func (p *Processor) BuildFromFile(path string) (*VariantSet, error) {
	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	return p.BuildVariants(img)
}

// EncodeJPEG encodes variants concurrently, preserving order.
func (p *Processor) EncodeJPEG(ctx context.Context, variants []Variant) ([][]byte, error) {
	out := make([][]byte, len(variants))
	g, ctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf := new(bytes.Buffer)
			if err := jpeg.Encode(buf, v.Image, &jpeg.Options{Quality: p.config.JPEGQuality}); err != nil {
				return fmt.Errorf("failed to encode %s: %w", v.Name, err)
			}
			out[i] = buf.Bytes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dump writes every variant as <dir>/<base>.<name>.jpg and returns the paths in set order.
func (p *Processor) Dump(ctx context.Context, set *VariantSet, dir, base string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create variant dir: %w", err)
	}
	encoded, err := p.EncodeJPEG(ctx, set.variants)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(encoded))
	for i, data := range encoded {
		path := filepath.Join(dir, fmt.Sprintf("%s.%s.jpg", base, set.variants[i].Name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write variant: %w", err)
		}
		paths[i] = path
	}
	return paths, nil
}
