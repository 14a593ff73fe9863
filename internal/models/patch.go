package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldKind enumerates the operator-patchable fields. FieldNote is the
// extension point: any key not recognised is recorded as a free-text note.
type FieldKind int

const (
	FieldNote FieldKind = iota
	FieldBaseName
	FieldBaseAddress
	FieldLoadingDate
	FieldDriverName
	FieldProductType
	FieldWeight
)

var fieldAliases = map[string]FieldKind{
	"base":                 FieldBaseName,
	"base_name":            FieldBaseName,
	"loading_base":         FieldBaseName,
	"loading_base.name":    FieldBaseName,
	"base_addr":            FieldBaseAddress,
	"base_address":         FieldBaseAddress,
	"address":              FieldBaseAddress,
	"loading_base.address": FieldBaseAddress,
	"date":                 FieldLoadingDate,
	"loading_date":         FieldLoadingDate,
	"loading_date.value":   FieldLoadingDate,
	"driver":               FieldDriverName,
	"driver_name":          FieldDriverName,
	"driver_name.value":    FieldDriverName,
	"product":              FieldProductType,
	"product_type":         FieldProductType,
	"product_type.value":   FieldProductType,
	"weight":               FieldWeight,
	"weight_kg":            FieldWeight,
	"weight_total":         FieldWeight,
	"weight_total.kg":      FieldWeight,
}

var fieldKeys = map[FieldKind]string{
	FieldBaseName:    "base_name",
	FieldBaseAddress: "base_address",
	FieldLoadingDate: "loading_date",
	FieldDriverName:  "driver_name",
	FieldProductType: "product_type",
	FieldWeight:      "weight_kg",
}

// EditableFields are the fields offered in the operator edit menu, in display order.
var EditableFields = []FieldKind{
	FieldBaseName,
	FieldLoadingDate,
	FieldDriverName,
	FieldWeight,
	FieldProductType,
}

// Field identifies a patch target. Key keeps the caller's original key for notes.
type Field struct {
	Kind FieldKind
	Key  string
}

// ParseField maps a field key (or any of its aliases) to a Field.
func ParseField(key string) Field {
	k := strings.ToLower(strings.TrimSpace(key))
	if kind, ok := fieldAliases[k]; ok {
		return Field{Kind: kind, Key: fieldKeys[kind]}
	}
	return Field{Kind: FieldNote, Key: strings.TrimSpace(key)}
}

// String returns the canonical key, or the raw key for notes.
func (f Field) String() string {
	if key, ok := fieldKeys[f.Kind]; ok {
		return key
	}
	return f.Key
}

// Patch is a single operator correction.
type Patch struct {
	Field Field
	Value string
}

var weightCleaner = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".")

// ParseWeightKg parses operator weight text such as "27 328" or "27328,5".
func ParseWeightKg(raw string) (int64, bool) {
	s := weightCleaner.Replace(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	// the upper bound is exclusive: float64(math.MaxInt64) rounds up to 2^63
	if err != nil || math.IsNaN(v) || v < 0 || v >= math.MaxInt64 {
		return 0, false
	}
	return int64(v), true
}

// ApplyPatch applies p to f in place and returns it; a nil f starts a fresh record.
// Missing is recomputed afterwards so it always reflects current values.
func ApplyPatch(f *OcrFields, p Patch) *OcrFields {
	if f == nil {
		f = &OcrFields{}
	}
	value := strings.TrimSpace(p.Value)

	switch p.Field.Kind {
	case FieldBaseName:
		if f.LoadingBase == nil {
			f.LoadingBase = &LoadingBase{}
		}
		f.LoadingBase.Name = Ptr(value)
	case FieldBaseAddress:
		if f.LoadingBase == nil {
			f.LoadingBase = &LoadingBase{}
		}
		f.LoadingBase.Address = Ptr(value)
	case FieldLoadingDate:
		if f.LoadingDate == nil {
			f.LoadingDate = &LoadingDate{}
		}
		f.LoadingDate.Value = Ptr(value)
	case FieldDriverName:
		if f.DriverName == nil {
			f.DriverName = &DriverName{}
		}
		f.DriverName.Value = Ptr(value)
	case FieldProductType:
		if f.ProductType == nil {
			f.ProductType = &ProductType{}
		}
		f.ProductType.Value = Ptr(value)
	case FieldWeight:
		if f.WeightTotal == nil {
			f.WeightTotal = &WeightTotal{}
		}
		w := f.WeightTotal
		w.EditedByUser = true
		w.ValueTons = nil
		if kg, ok := ParseWeightKg(value); ok {
			w.Kg = Ptr(kg)
		} else {
			// non-numeric input is kept as a sticky override for review
			w.Kg = nil
			w.SourceLabel = Ptr("user:" + value)
		}
	case FieldNote:
		line := fmt.Sprintf("user_edit %s=%s", p.Field.Key, value)
		if !containsLine(f.Notes, line) {
			if f.Notes == "" {
				f.Notes = line
			} else {
				f.Notes += "\n" + line
			}
		}
	}

	f.Missing = f.RequiredMissing()
	return f
}

func containsLine(text, line string) bool {
	for _, l := range strings.Split(text, "\n") {
		if l == line {
			return true
		}
	}
	return false
}
