package validator

import (
	"fmt"
	"strings"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// DefaultMinConfidence is the confidence threshold used when none is configured.
const DefaultMinConfidence = 0.70

// missingLabels are the operator-facing names of the required fields.
var missingLabels = map[string]string{
	models.MissingBaseName:    "база (название)",
	models.MissingLoadingDate: "дата погрузки",
	models.MissingDriverName:  "ФИО водителя",
	models.MissingProductType: "вид продукции",
	models.MissingWeight:      "вес",
}

// Result is the outcome of the validation gate. A failed Result is a value, not an error.
type Result struct {
	OK         bool    `json:"ok"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Status maps the result onto the document status it implies.
func (r Result) Status() models.Status {
	if r.OK {
		return models.StatusOcrOK
	}
	return models.StatusOcrError
}

// Confidence is the minimum over the positive per-group confidences of f.
// When no group reports one, the overall model confidence is used instead.
func Confidence(f *models.OcrFields) float64 {
	if f == nil {
		return 0
	}
	lowest := 0.0
	for _, v := range f.GroupConfidences() {
		if v <= 0 {
			continue
		}
		if lowest == 0 || v < lowest {
			lowest = v
		}
	}
	if lowest == 0 {
		lowest = f.Confidence
	}
	return models.Clamp01(lowest)
}

// Validate checks required fields in fixed order, then the confidence threshold.
func Validate(f *models.OcrFields, threshold float64) Result {
	conf := Confidence(f)

	missing := f.RequiredMissing()
	if len(missing) > 0 {
		labels := make([]string, len(missing))
		for i, key := range missing {
			labels[i] = missingLabels[key]
		}
		return Result{Reason: "Не найдено: " + strings.Join(labels, ", "), Confidence: conf}
	}

	if conf < threshold {
		return Result{Reason: fmt.Sprintf("Низкая уверенность распознавания (%.2f)", conf), Confidence: conf}
	}
	return Result{OK: true, Confidence: conf}
}
