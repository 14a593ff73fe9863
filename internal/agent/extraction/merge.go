package extraction

import (
	"strings"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// Merge combines two passes field by field: a non-empty pass 2 value wins,
// otherwise the pass 1 value is kept. Missing is recomputed from the result.
func Merge(first, second *models.OcrFields) *models.OcrFields {
	if first == nil {
		first = &models.OcrFields{}
	}
	if second == nil {
		second = &models.OcrFields{}
	}

	out := &models.OcrFields{
		LoadingBase: mergeBase(first.LoadingBase, second.LoadingBase),
		LoadingDate: mergeDate(first.LoadingDate, second.LoadingDate),
		DriverName:  mergeDriver(first.DriverName, second.DriverName),
		ProductType: mergeProduct(first.ProductType, second.ProductType),
		WeightTotal: mergeWeight(first.WeightTotal, second.WeightTotal),
		Evidence:    mergeEvidence(first.Evidence, second.Evidence),
		Confidence:  models.Clamp01(max(first.Confidence, second.Confidence)),
		Notes:       pickString(first.Notes, second.Notes),
	}
	out.Missing = out.RequiredMissing()
	return out
}

func pickText(a, b *string) *string {
	if b != nil && strings.TrimSpace(*b) != "" {
		return b
	}
	return a
}

func pickString(a, b string) string {
	if strings.TrimSpace(b) != "" {
		return b
	}
	return a
}

func pick[T any](a, b *T) *T {
	if b != nil {
		return b
	}
	return a
}

func pickSlice(a, b []string) []string {
	if len(b) > 0 {
		return b
	}
	return a
}

func mergeBase(a, b *models.LoadingBase) *models.LoadingBase {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &models.LoadingBase{}
	}
	if b == nil {
		b = &models.LoadingBase{}
	}
	return &models.LoadingBase{
		Name:       pickText(a.Name, b.Name),
		Address:    pickText(a.Address, b.Address),
		City:       pickText(a.City, b.City),
		Confidence: pick(a.Confidence, b.Confidence),
	}
}

func mergeDate(a, b *models.LoadingDate) *models.LoadingDate {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &models.LoadingDate{}
	}
	if b == nil {
		b = &models.LoadingDate{}
	}
	return &models.LoadingDate{
		Value:       pickText(a.Value, b.Value),
		SourceLabel: pickText(a.SourceLabel, b.SourceLabel),
		Confidence:  pick(a.Confidence, b.Confidence),
	}
}

func mergeDriver(a, b *models.DriverName) *models.DriverName {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &models.DriverName{}
	}
	if b == nil {
		b = &models.DriverName{}
	}
	return &models.DriverName{
		Value:       pickText(a.Value, b.Value),
		SourceLabel: pickText(a.SourceLabel, b.SourceLabel),
		Confidence:  pick(a.Confidence, b.Confidence),
	}
}

func mergeProduct(a, b *models.ProductType) *models.ProductType {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &models.ProductType{}
	}
	if b == nil {
		b = &models.ProductType{}
	}
	return &models.ProductType{
		Value:       pickText(a.Value, b.Value),
		Method:      pickText(a.Method, b.Method),
		Items:       pickSlice(a.Items, b.Items),
		SourceLabel: pickText(a.SourceLabel, b.SourceLabel),
		Confidence:  pick(a.Confidence, b.Confidence),
	}
}

// mergeWeight keeps an operator override sticky: EditedByUser survives any merge.
func mergeWeight(a, b *models.WeightTotal) *models.WeightTotal {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &models.WeightTotal{}
	}
	if b == nil {
		b = &models.WeightTotal{}
	}
	return &models.WeightTotal{
		Kg:           pick(a.Kg, b.Kg),
		ValueTons:    pick(a.ValueTons, b.ValueTons),
		EditedByUser: a.EditedByUser || b.EditedByUser,
		SourceLabel:  pickText(a.SourceLabel, b.SourceLabel),
		Confidence:   pick(a.Confidence, b.Confidence),
	}
}

func mergeEvidence(a, b *models.Evidence) *models.Evidence {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &models.Evidence{}
	}
	if b == nil {
		b = &models.Evidence{}
	}
	return &models.Evidence{
		Base:    pickText(a.Base, b.Base),
		Date:    pickText(a.Date, b.Date),
		Driver:  pickText(a.Driver, b.Driver),
		Weight:  pickText(a.Weight, b.Weight),
		Product: pickText(a.Product, b.Product),
	}
}
