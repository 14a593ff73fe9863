package formatter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/internal/service/basedir"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"2026-02-03":                 "03.02.2026",
		"03.02.2026":                 "03.02.2026",
		"3.2.2026":                   "03.02.2026",
		"03/02/2026":                 "03.02.2026",
		"03-02-2026":                 "03.02.2026",
		"03.02.26":                   "03.02.2026",
		"2026-02-03T08:15:00Z":       "03.02.2026",
		"2026-02-03T10:00:00+0300":   "03.02.2026",
		"2026-02-03T10:00:00.5-0100": "03.02.2026",
		"2026-2-3":                   "03.02.2026",
		" 2026-02-03 ":               "03.02.2026",
		"not a date":                 "not a date",
		"":                           "",
	}
	for in, want := range cases {
		if got := NormalizeDate(in); got != want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDriverName(t *testing.T) {
	cases := map[string]string{
		"ИВАНОВ ИВАН ИВАНОВИЧ": "Иванов Иван Иванович",
		"Иванов И.И.":          "Иванов И.И.",
		"ПЕТРОВ-ВОДКИН П.":     "Петров-Водкин П.",
		"иванов":               "иванов",
		"":                     "",
	}
	for in, want := range cases {
		if got := NormalizeDriverName(in); got != want {
			t.Errorf("NormalizeDriverName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatWeight(t *testing.T) {
	kg := models.Ptr[int64](27328)
	cases := []struct {
		name   string
		w      *models.WeightTotal
		derive bool
		want   string
	}{
		{"kg and tons", &models.WeightTotal{Kg: kg, ValueTons: models.Ptr(27.328)}, false, "27 328 кг (≈ 27,328 т)"},
		{"derived tons", &models.WeightTotal{Kg: kg}, true, "27 328 кг (≈ 27,328 т)"},
		{"kg only", &models.WeightTotal{Kg: kg}, false, "27 328 кг"},
		{"tons only", &models.WeightTotal{ValueTons: models.Ptr(12.5)}, true, "12,5 т"},
		{"small", &models.WeightTotal{Kg: models.Ptr[int64](950)}, true, "950 кг (≈ 0,95 т)"},
		{"millions", &models.WeightTotal{Kg: models.Ptr[int64](1234567)}, false, "1 234 567 кг"},
		{"empty", &models.WeightTotal{}, true, Placeholder},
		{"nil", nil, true, Placeholder},
	}
	for _, tc := range cases {
		if got := FormatWeight(tc.w, tc.derive); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func sampleDoc() *models.Document {
	return &models.Document{
		ID:     12,
		Status: models.StatusOcrOK,
		Fields: &models.OcrFields{
			LoadingBase: &models.LoadingBase{Name: models.Ptr("Нефтебаза Южная"), Address: models.Ptr("г. Краснодар, ул. Мира 1")},
			LoadingDate: &models.LoadingDate{Value: models.Ptr("2026-02-03")},
			DriverName:  &models.DriverName{Value: models.Ptr("ИВАНОВ ИВАН")},
			ProductType: &models.ProductType{Value: models.Ptr("АИ-95")},
			WeightTotal: &models.WeightTotal{Kg: models.Ptr[int64](27328)},
			Confidence:  0.92,
		},
	}
}

func newFormatter() (*Formatter, *repository.MemoryBaseRepo) {
	store := repository.NewMemoryBaseRepo()
	return New(basedir.NewDirectory(store, logger.NewNop()), 0.70, logger.NewNop()), store
}

func TestRenderSuccess(t *testing.T) {
	f, store := newFormatter()
	got := f.Render(context.Background(), sampleDoc())

	want := strings.Join([]string{
		"✅ Документ распознан (#12) · уверенность 92%",
		"",
		"Базис погрузки\tНефтебаза Южная (Краснодар)",
		"Адрес\tг. Краснодар, ул. Мира 1",
		"Дата погрузки\t03.02.2026",
		"ФИО водителя\tИванов Иван",
		"Вес продукции\t27 328 кг (≈ 27,328 т)",
		"Вид продукции\tАИ-95",
	}, "\n")
	if got != want {
		t.Fatalf("unexpected render:\n%s\nwant:\n%s", got, want)
	}

	e, err := store.Get(context.Background(), basedir.DeriveKey("Нефтебаза Южная", "г. Краснодар, ул. Мира 1"))
	if err != nil || e.ExamplesCount != 1 {
		t.Fatalf("render must record the base sighting: %+v %v", e, err)
	}
}

func TestRenderValidationFailure(t *testing.T) {
	f, _ := newFormatter()
	doc := sampleDoc()
	doc.Status = models.StatusOcrError
	doc.Fields.DriverName = nil

	got := f.Render(context.Background(), doc)
	if !strings.HasPrefix(got, "⚠️ Документ распознан с ошибками (#12)\nПричина: Не найдено: ФИО водителя") {
		t.Fatalf("unexpected header:\n%s", got)
	}
	if !strings.Contains(got, "ФИО водителя\t—") {
		t.Fatalf("missing placeholder:\n%s", got)
	}
}

func TestRenderExtractionFailure(t *testing.T) {
	f, _ := newFormatter()
	doc := &models.Document{ID: 3, Status: models.StatusOcrError, Reason: "pass 1: invalid extraction response"}
	got := f.Render(context.Background(), doc)
	if !strings.Contains(got, "Причина: pass 1: invalid extraction response") {
		t.Fatalf("expected stored reason:\n%s", got)
	}
	if !strings.Contains(got, "Базис погрузки\t—") {
		t.Fatalf("expected base placeholder:\n%s", got)
	}
}

func TestRenderDeliveryEditedWeight(t *testing.T) {
	f, _ := newFormatter()
	doc := sampleDoc()
	doc.Status = models.StatusConfirmed
	doc.Fields = models.ApplyPatch(doc.Fields, models.Patch{Field: models.ParseField("weight_kg"), Value: "27 000"})

	got := f.RenderDelivery(context.Background(), doc)
	if !strings.Contains(got, "Вес: 27 000 кг\n") {
		t.Fatalf("edited weight must be kg only:\n%s", got)
	}
	if !strings.HasPrefix(got, "✅ Транспортная накладная #12\nБазис погрузки: Нефтебаза Южная (Краснодар)") {
		t.Fatalf("unexpected delivery text:\n%s", got)
	}

	op := f.Render(context.Background(), doc)
	if !strings.HasPrefix(op, "✅ Накладная #12 подтверждена") || !strings.Contains(op, "27 000 кг (≈ 27 т)") {
		t.Fatalf("unexpected operator render:\n%s", op)
	}
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string, string) (string, string, error) {
	return "", "", errors.New("db down")
}

func TestRenderFallsBackWhenDirectoryFails(t *testing.T) {
	f := New(brokenResolver{}, 0, logger.NewNop())
	doc := sampleDoc()
	doc.Fields.LoadingBase.City = models.Ptr("Краснодар")
	got := f.Render(context.Background(), doc)
	if !strings.Contains(got, "Базис погрузки\tНефтебаза Южная (Краснодар)") {
		t.Fatalf("expected raw base with extracted city:\n%s", got)
	}
}
