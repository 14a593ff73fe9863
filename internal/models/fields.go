package models

import "strings"

// Keys reported in OcrFields.Missing, in the fixed required order.
const (
	MissingBaseName    = "loading_base.name"
	MissingLoadingDate = "loading_date.value"
	MissingDriverName  = "driver_name.value"
	MissingProductType = "product_type.value"
	MissingWeight      = "weight_total"
)

// RequiredKeys lists the required field groups in validation order.
var RequiredKeys = []string{
	MissingBaseName,
	MissingLoadingDate,
	MissingDriverName,
	MissingProductType,
	MissingWeight,
}

type LoadingBase struct {
	Name       *string  `json:"name" yaml:"name"`
	Address    *string  `json:"address" yaml:"address"`
	City       *string  `json:"city" yaml:"city"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

type LoadingDate struct {
	Value       *string  `json:"value" yaml:"value"`
	SourceLabel *string  `json:"source_label" yaml:"source_label"`
	Confidence  *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

type DriverName struct {
	Value       *string  `json:"value" yaml:"value"`
	SourceLabel *string  `json:"source_label" yaml:"source_label"`
	Confidence  *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

type ProductType struct {
	Value       *string  `json:"value" yaml:"value"`
	Method      *string  `json:"method" yaml:"method"`
	Items       []string `json:"items" yaml:"items"`
	SourceLabel *string  `json:"source_label" yaml:"source_label"`
	Confidence  *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

type WeightTotal struct {
	Kg           *int64   `json:"kg" yaml:"kg"`
	ValueTons    *float64 `json:"value_tons" yaml:"value_tons"`
	EditedByUser bool     `json:"edited_by_user,omitempty" yaml:"edited_by_user,omitempty"`
	SourceLabel  *string  `json:"source_label" yaml:"source_label"`
	Confidence   *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Evidence holds short snippets of document text backing each field.
type Evidence struct {
	Base    *string `json:"base" yaml:"base"`
	Date    *string `json:"date" yaml:"date"`
	Driver  *string `json:"driver" yaml:"driver"`
	Weight  *string `json:"weight" yaml:"weight"`
	Product *string `json:"product" yaml:"product"`
}

// OcrFields is the structured extraction result for one waybill.
type OcrFields struct {
	LoadingBase     *LoadingBase `json:"loading_base" yaml:"loading_base"`
	LoadingDate     *LoadingDate `json:"loading_date" yaml:"loading_date"`
	DriverName      *DriverName  `json:"driver_name" yaml:"driver_name"`
	ProductType     *ProductType `json:"product_type" yaml:"product_type"`
	WeightTotal     *WeightTotal `json:"weight_total" yaml:"weight_total"`
	Evidence        *Evidence    `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Missing         []string     `json:"missing" yaml:"missing"`
	Confidence      float64      `json:"confidence" yaml:"confidence"`
	NeedSecondPass  bool         `json:"need_second_pass" yaml:"need_second_pass"`
	SecondPassHints []string     `json:"second_pass_hints,omitempty" yaml:"second_pass_hints,omitempty"`
	Notes           string       `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Text returns the trimmed value of p, or "" for nil.
func Text(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func (f *OcrFields) BaseName() string {
	if f == nil || f.LoadingBase == nil {
		return ""
	}
	return Text(f.LoadingBase.Name)
}

func (f *OcrFields) BaseAddress() string {
	if f == nil || f.LoadingBase == nil {
		return ""
	}
	return Text(f.LoadingBase.Address)
}

func (f *OcrFields) BaseCity() string {
	if f == nil || f.LoadingBase == nil {
		return ""
	}
	return Text(f.LoadingBase.City)
}

func (f *OcrFields) Date() string {
	if f == nil || f.LoadingDate == nil {
		return ""
	}
	return Text(f.LoadingDate.Value)
}

func (f *OcrFields) Driver() string {
	if f == nil || f.DriverName == nil {
		return ""
	}
	return Text(f.DriverName.Value)
}

func (f *OcrFields) Product() string {
	if f == nil || f.ProductType == nil {
		return ""
	}
	return Text(f.ProductType.Value)
}

// HasWeight reports whether either a kg or a tons value is present.
func (f *OcrFields) HasWeight() bool {
	if f == nil || f.WeightTotal == nil {
		return false
	}
	return f.WeightTotal.Kg != nil || f.WeightTotal.ValueTons != nil
}

// WeightEdited reports whether an operator has overridden the weight.
func (f *OcrFields) WeightEdited() bool {
	return f != nil && f.WeightTotal != nil && f.WeightTotal.EditedByUser
}

// RequiredMissing computes the unresolved required keys from the current values.
func (f *OcrFields) RequiredMissing() []string {
	missing := make([]string, 0, len(RequiredKeys))
	if f.BaseName() == "" {
		missing = append(missing, MissingBaseName)
	}
	if f.Date() == "" {
		missing = append(missing, MissingLoadingDate)
	}
	if f.Driver() == "" {
		missing = append(missing, MissingDriverName)
	}
	if f.Product() == "" {
		missing = append(missing, MissingProductType)
	}
	if !f.HasWeight() {
		missing = append(missing, MissingWeight)
	}
	return missing
}

// GroupConfidences returns the per-group confidences the model reported, in required order.
func (f *OcrFields) GroupConfidences() []float64 {
	if f == nil {
		return nil
	}
	var out []float64
	add := func(p *float64) {
		if p != nil {
			out = append(out, *p)
		}
	}
	if f.LoadingBase != nil {
		add(f.LoadingBase.Confidence)
	}
	if f.LoadingDate != nil {
		add(f.LoadingDate.Confidence)
	}
	if f.DriverName != nil {
		add(f.DriverName.Confidence)
	}
	if f.ProductType != nil {
		add(f.ProductType.Confidence)
	}
	if f.WeightTotal != nil {
		add(f.WeightTotal.Confidence)
	}
	return out
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
