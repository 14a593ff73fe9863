package formatter

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/utils/validator"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// BaseResolver maps an extracted (name, address) to its canonical name and city.
type BaseResolver interface {
	Resolve(ctx context.Context, name, address string) (string, string, error)
}

// Formatter renders documents for the operator and for the CRM.
type Formatter struct {
	bases         BaseResolver
	minConfidence float64
	logger        logger.Logger
}

func New(bases BaseResolver, minConfidence float64, log logger.Logger) *Formatter {
	if minConfidence <= 0 {
		minConfidence = validator.DefaultMinConfidence
	}
	return &Formatter{bases: bases, minConfidence: minConfidence, logger: log.Named("formatter")}
}

// Render produces the operator message for doc.
func (f *Formatter) Render(ctx context.Context, doc *models.Document) string {
	fields := doc.Fields
	lines := []string{f.header(doc), ""}

	lines = append(lines, row("Базис погрузки", f.baseLine(ctx, fields)))
	if addr := fields.BaseAddress(); addr != "" {
		lines = append(lines, row("Адрес", addr))
	}
	lines = append(lines,
		row("Дата погрузки", orPlaceholder(NormalizeDate(fields.Date()))),
		row("ФИО водителя", orPlaceholder(NormalizeDriverName(fields.Driver()))),
		row("Вес продукции", FormatWeight(weightOf(fields), true)),
		row("Вид продукции", orPlaceholder(fields.Product())),
	)
	if doc.Status == models.StatusDeliveryError && doc.Delivery.Error != "" {
		lines = append(lines, "", "❌ Ошибка отправки в Битрикс: "+doc.Delivery.Error)
	}
	return strings.Join(lines, "\n")
}

// RenderDelivery produces the CRM message. An operator-entered weight is sent in kg only.
func (f *Formatter) RenderDelivery(ctx context.Context, doc *models.Document) string {
	fields := doc.Fields
	lines := []string{
		fmt.Sprintf("✅ Транспортная накладная #%d", doc.ID),
		"Базис погрузки: " + f.baseLine(ctx, fields),
		"Адрес: " + orPlaceholder(fields.BaseAddress()),
		"Дата погрузки: " + orPlaceholder(NormalizeDate(fields.Date())),
		"ФИО водителя: " + orPlaceholder(NormalizeDriverName(fields.Driver())),
		"Вес: " + FormatWeight(weightOf(fields), !fields.WeightEdited()),
		"Вид продукции: " + orPlaceholder(fields.Product()),
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) header(doc *models.Document) string {
	switch doc.Status {
	case models.StatusConfirmed:
		return fmt.Sprintf("✅ Накладная #%d подтверждена", doc.ID)
	case models.StatusSent:
		return fmt.Sprintf("✅ Накладная #%d отправлена в Битрикс24", doc.ID)
	case models.StatusDeliveryError:
		return fmt.Sprintf("⚠️ Накладная #%d подтверждена, но не отправлена", doc.ID)
	case models.StatusNeedReshoot:
		return fmt.Sprintf("📸 Накладная #%d ожидает пересъёмки", doc.ID)
	case models.StatusEdited:
		return fmt.Sprintf("✅ Накладная #%d (исправлена)", doc.ID)
	}

	res := validator.Validate(doc.Fields, f.minConfidence)
	if !res.OK {
		reason := res.Reason
		if doc.Fields == nil && doc.Reason != "" {
			reason = doc.Reason
		}
		return fmt.Sprintf("⚠️ Документ распознан с ошибками (#%d)\nПричина: %s", doc.ID, reason)
	}
	h := fmt.Sprintf("✅ Документ распознан (#%d)", doc.ID)
	if res.Confidence > 0 {
		h += fmt.Sprintf(" · уверенность %d%%", int(math.Round(res.Confidence*100)))
	}
	return h
}

// baseLine resolves the base through the directory and appends the city when known.
func (f *Formatter) baseLine(ctx context.Context, fields *models.OcrFields) string {
	name, address := fields.BaseName(), fields.BaseAddress()
	city := fields.BaseCity()

	if f.bases != nil {
		canonical, dirCity, err := f.bases.Resolve(ctx, name, address)
		if err != nil {
			f.logger.Warn("base lookup failed", logger.String("name", name), logger.Error(err))
		} else {
			if canonical != "" && canonical != Placeholder {
				name = canonical
			}
			if city == "" {
				city = dirCity
			}
		}
	}

	switch {
	case name != "" && city != "":
		return fmt.Sprintf("%s (%s)", name, city)
	case city != "":
		return fmt.Sprintf("(%s)", city)
	default:
		return orPlaceholder(name)
	}
}

func weightOf(f *models.OcrFields) *models.WeightTotal {
	if f == nil {
		return nil
	}
	return f.WeightTotal
}

func row(label, value string) string {
	return label + "\t" + value
}
