package models

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseFieldAliases(t *testing.T) {
	cases := map[string]FieldKind{
		"base":                 FieldBaseName,
		"loading_base.name":    FieldBaseName,
		" Base_Addr ":          FieldBaseAddress,
		"loading_base.address": FieldBaseAddress,
		"date":                 FieldLoadingDate,
		"driver_name.value":    FieldDriverName,
		"product":              FieldProductType,
		"weight_total.kg":      FieldWeight,
		"weight_kg":            FieldWeight,
		"seal_number":          FieldNote,
	}
	for key, want := range cases {
		if got := ParseField(key).Kind; got != want {
			t.Errorf("ParseField(%q) = %v, want %v", key, got, want)
		}
	}
	if got := ParseField("seal_number").String(); got != "seal_number" {
		t.Fatalf("note field should keep raw key, got %q", got)
	}
	if got := ParseField("weight").String(); got != "weight_kg" {
		t.Fatalf("canonical weight key = %q", got)
	}
}

func TestApplyPatchWeight(t *testing.T) {
	for _, in := range []string{"27 328", "27328", "27\u00a0328", "27328,9"} {
		f := &OcrFields{WeightTotal: &WeightTotal{Kg: Ptr(int64(1)), ValueTons: Ptr(27.3)}}
		f = ApplyPatch(f, Patch{Field: ParseField("weight"), Value: in})
		w := f.WeightTotal
		if w.Kg == nil || *w.Kg != 27328 {
			t.Fatalf("%q: expected kg=27328, got %v", in, w.Kg)
		}
		if w.ValueTons != nil || !w.EditedByUser {
			t.Fatalf("%q: expected tons cleared and edited flag, got %+v", in, w)
		}
	}
}

func TestApplyPatchWeightUnparseable(t *testing.T) {
	for _, in := range []string{"abc", "1e30", "-5", "9223372036854775808"} {
		f := ApplyPatch(nil, Patch{Field: ParseField("weight"), Value: in})
		w := f.WeightTotal
		if w.Kg != nil || w.ValueTons != nil {
			t.Fatalf("%q: expected no numeric weight, got %+v", in, w)
		}
		if !w.EditedByUser {
			t.Fatalf("%q: expected edited_by_user to be set", in)
		}
		if w.SourceLabel == nil || !strings.Contains(*w.SourceLabel, in) {
			t.Fatalf("%q: expected source label with raw text, got %v", in, w.SourceLabel)
		}
		if !reflect.DeepEqual(f.Missing, RequiredKeys) {
			t.Fatalf("%q: expected every required key missing, got %v", in, f.Missing)
		}
	}
}

func TestParseWeightKgRange(t *testing.T) {
	cases := []struct {
		in string
		kg int64
		ok bool
	}{
		{"0", 0, true},
		{"27 328,9", 27328, true},
		{"-5", 0, false},
		{"1e30", 0, false},
		{"+Inf", 0, false},
		{"NaN", 0, false},
	}
	for _, tc := range cases {
		kg, ok := ParseWeightKg(tc.in)
		if kg != tc.kg || ok != tc.ok {
			t.Fatalf("ParseWeightKg(%q) = %d, %v; want %d, %v", tc.in, kg, ok, tc.kg, tc.ok)
		}
	}
}

func TestApplyPatchTextFields(t *testing.T) {
	f := &OcrFields{}
	f = ApplyPatch(f, Patch{Field: ParseField("base"), Value: "Нефтебаза Южная"})
	f = ApplyPatch(f, Patch{Field: ParseField("address"), Value: "г. Краснодар, ул. Мира 1"})
	f = ApplyPatch(f, Patch{Field: ParseField("date"), Value: "2026-02-03"})
	f = ApplyPatch(f, Patch{Field: ParseField("driver"), Value: "ИВАНОВ И.И."})
	f = ApplyPatch(f, Patch{Field: ParseField("product"), Value: "АИ-95"})

	if f.BaseName() != "Нефтебаза Южная" || f.BaseAddress() != "г. Краснодар, ул. Мира 1" {
		t.Fatalf("unexpected base: %+v", f.LoadingBase)
	}
	if f.Date() != "2026-02-03" {
		t.Fatalf("date must be stored raw, got %q", f.Date())
	}
	if f.Driver() != "ИВАНОВ И.И." || f.Product() != "АИ-95" {
		t.Fatalf("unexpected driver/product: %q %q", f.Driver(), f.Product())
	}
	if !reflect.DeepEqual(f.Missing, []string{MissingWeight}) {
		t.Fatalf("expected only weight missing, got %v", f.Missing)
	}
}

func TestApplyPatchNoteIsIdempotent(t *testing.T) {
	f := &OcrFields{}
	p := Patch{Field: ParseField("seal"), Value: "12345"}
	f = ApplyPatch(f, p)
	f = ApplyPatch(f, p)
	f = ApplyPatch(f, Patch{Field: ParseField("trailer"), Value: "АА1234"})

	want := "user_edit seal=12345\nuser_edit trailer=АА1234"
	if f.Notes != want {
		t.Fatalf("notes = %q, want %q", f.Notes, want)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusReceived, StatusOcrOK, true},
		{StatusReceived, StatusOcrError, true},
		{StatusOcrOK, StatusOcrError, false},
		{StatusOcrOK, StatusNeedReshoot, true},
		{StatusOcrError, StatusNeedReshoot, true},
		{StatusReceived, StatusNeedReshoot, false},
		{StatusOcrError, StatusEdited, true},
		{StatusEdited, StatusEdited, true},
		{StatusNeedReshoot, StatusEdited, false},
		{StatusOcrOK, StatusConfirmed, true},
		{StatusEdited, StatusConfirmed, true},
		{StatusOcrError, StatusConfirmed, false},
		{StatusConfirmed, StatusSent, true},
		{StatusConfirmed, StatusDeliveryError, true},
		{StatusDeliveryError, StatusSent, true},
		{StatusDeliveryError, StatusDeliveryError, true},
		{StatusOcrOK, StatusSent, false},
		{StatusNeedReshoot, StatusOcrOK, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if !StatusNeedReshoot.Terminal() || StatusSent.Terminal() {
		t.Fatalf("unexpected terminal states")
	}
}
