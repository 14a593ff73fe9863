package formatter

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// Placeholder stands in for an absent value.
const Placeholder = "—"

const dateLayout = "02.01.2006"

var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.06",
	"2.1.06",
	"02/01/06",
	"02-01-06",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// NormalizeDate renders any recognised date as DD.MM.YYYY. Unparseable input is returned unchanged.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout)
		}
	}
	return raw
}

// NormalizeDriverName title-cases a name written mostly in capitals.
func NormalizeDriverName(raw string) string {
	s := strings.TrimSpace(raw)
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 || float64(upper)/float64(letters) <= 0.8 {
		return s
	}
	return cases.Title(language.Russian).String(strings.ToLower(s))
}

// GroupThousands formats n with a space between groups of three digits.
func GroupThousands(n int64) string {
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	return sign + b.String()
}

// FormatTons renders tons with at most three decimals and a decimal comma.
func FormatTons(v float64) string {
	v = math.Round(v*1000) / 1000
	return strings.Replace(strconv.FormatFloat(v, 'f', -1, 64), ".", ",", 1)
}

// FormatWeight renders a weight group. With deriveTons, a missing tons value is computed from kg.
func FormatWeight(w *models.WeightTotal, deriveTons bool) string {
	if w == nil {
		return Placeholder
	}
	switch {
	case w.Kg != nil:
		out := GroupThousands(*w.Kg) + " кг"
		switch {
		case w.ValueTons != nil:
			out += " (≈ " + FormatTons(*w.ValueTons) + " т)"
		case deriveTons:
			out += " (≈ " + FormatTons(float64(*w.Kg)/1000) + " т)"
		}
		return out
	case w.ValueTons != nil:
		return FormatTons(*w.ValueTons) + " т"
	default:
		return Placeholder
	}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}
