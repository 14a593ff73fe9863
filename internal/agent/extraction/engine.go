package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	stdimage "image"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/agent/document/image"
	"github.com/feichai0017/waybill-processor/internal/agent/document/vision"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/metrics"
)

// Variant orders per pass. Names absent from a set (rotations of portrait photos) are skipped.
var (
	Pass1Order = []image.VariantName{
		image.VariantOriginal,
		image.VariantEnhanced,
		image.VariantEnhancedRotated,
		image.VariantRotated,
	}
	Pass2Order = []image.VariantName{
		image.VariantEnhanced,
		image.VariantEnhancedRotated,
		image.VariantCropTop,
		image.VariantCropMiddle,
		image.VariantCropBottom,
		image.VariantOriginal,
		image.VariantRotated,
	}
)

// Result is a finished extraction.
type Result struct {
	Fields    *models.OcrFields
	Raw       json.RawMessage
	Escalated bool
}

// Engine runs the two-pass extraction against a vision model.
type Engine struct {
	model     vision.Model
	processor *image.Processor
	cfg       config.ExtractionConfig
	metrics   *metrics.Metrics
	logger    logger.Logger
}

func NewEngine(model vision.Model, processor *image.Processor, cfg config.ExtractionConfig, m *metrics.Metrics, log logger.Logger) *Engine {
	if cfg.EscalateBelow <= 0 {
		cfg.EscalateBelow = 0.85
	}
	if cfg.Pass1Images <= 0 {
		cfg.Pass1Images = 3
	}
	if cfg.Pass2Images <= 0 {
		cfg.Pass2Images = 6
	}
	return &Engine{
		model:     model,
		processor: processor,
		cfg:       cfg,
		metrics:   m,
		logger:    log.Named("extraction"),
	}
}

// ExtractFile opens a photo and extracts it. When dumpDir is set the variants are written there too.
func (e *Engine) ExtractFile(ctx context.Context, path, dumpDir string) (*Result, error) {
	set, err := e.processor.BuildFromFile(path)
	if err != nil {
		return nil, err
	}
	if dumpDir != "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := e.processor.Dump(ctx, set, dumpDir, base); err != nil {
			e.logger.Warn("variant dump failed", logger.String("path", path), logger.Error(err))
		}
	}
	return e.extract(ctx, set)
}

// Extract runs pass 1 and, when needed, pass 2 over variants of img.
func (e *Engine) Extract(ctx context.Context, img stdimage.Image) (*Result, error) {
	set, err := e.processor.BuildVariants(img)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, set)
}

func (e *Engine) extract(ctx context.Context, set *image.VariantSet) (*Result, error) {
	first, raw1, err := e.runPass(ctx, set, 1, Pass1Order, e.cfg.Pass1Images, vision.Pass1Prompt)
	if err != nil {
		return nil, err
	}

	if !ShouldEscalate(first, e.cfg.EscalateBelow) {
		first.Missing = first.RequiredMissing()
		first.NeedSecondPass = false
		first.SecondPassHints = nil
		raw, err := rawPayload(raw1, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Fields: first, Raw: raw}, nil
	}

	e.metrics.Escalated()
	e.logger.Info("extraction escalated",
		logger.Float64("confidence", first.Confidence),
		logger.Bool("need_second_pass", first.NeedSecondPass),
		logger.Strings("missing", first.Missing),
	)

	second, raw2, err := e.runPass(ctx, set, 2, Pass2Order, e.cfg.Pass2Images, pass2Prompt(raw1, first))
	if err != nil {
		return nil, err
	}
	raw, err := rawPayload(raw1, raw2)
	if err != nil {
		return nil, err
	}
	return &Result{Fields: Merge(first, second), Raw: raw, Escalated: true}, nil
}

func (e *Engine) runPass(ctx context.Context, set *image.VariantSet, pass int, order []image.VariantName, limit int, prompt string) (*models.OcrFields, json.RawMessage, error) {
	variants := set.Select(order, limit)
	images, err := e.processor.EncodeJPEG(ctx, variants)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode pass %d images: %w", pass, err)
	}

	start := time.Now()
	content, err := e.model.Complete(ctx, vision.Request{
		Pass:   pass,
		System: vision.SystemPrompt,
		Prompt: prompt,
		Images: images,
	})
	if err == nil {
		var fields *models.OcrFields
		var raw json.RawMessage
		fields, raw, err = vision.ParseFields(pass, content)
		e.metrics.ObservePass(pass, time.Since(start), err)
		if err == nil {
			e.logger.Debug("pass complete",
				logger.Int("pass", pass),
				logger.Int("images", len(images)),
				logger.Float64("confidence", fields.Confidence),
			)
			return fields, raw, nil
		}
	} else {
		e.metrics.ObservePass(pass, time.Since(start), err)
	}

	e.logger.Error("pass failed", logger.Int("pass", pass), logger.String("model", e.model.Name()), logger.Error(err))
	return nil, nil, err
}

// ShouldEscalate decides whether a pass 1 result needs a second pass.
func ShouldEscalate(f *models.OcrFields, threshold float64) bool {
	return f.NeedSecondPass || f.Confidence < threshold || len(f.Missing) > 0
}

func pass2Prompt(raw1 json.RawMessage, first *models.OcrFields) string {
	var b strings.Builder
	b.WriteString(vision.Pass2Prompt)
	b.WriteString("\n\nРезультат первого прохода:\n")
	b.Write(raw1)
	if missing := first.RequiredMissing(); len(missing) > 0 {
		b.WriteString("\nНе найдено: ")
		b.WriteString(strings.Join(missing, ", "))
	}
	if len(first.SecondPassHints) > 0 {
		b.WriteString("\nПодсказки: ")
		b.WriteString(strings.Join(first.SecondPassHints, "; "))
	}
	return b.String()
}

func rawPayload(pass1, pass2 json.RawMessage) (json.RawMessage, error) {
	payload := map[string]json.RawMessage{"pass1": pass1}
	if pass2 != nil {
		payload["pass2"] = pass2
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw payload: %w", err)
	}
	return raw, nil
}
