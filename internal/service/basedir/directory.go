package basedir

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// maxKeyLen bounds a derived key, in characters.
const maxKeyLen = 240

// Placeholder is the canonical name recorded when the extracted name is blank.
const Placeholder = "—"

var stopwords = map[string]bool{
	"Г": true, "ГОР": true, "ГОРОД": true,
	"УЛ": true, "УЛИЦА": true,
	"Д": true, "ДОМ": true, "СТР": true, "СТРОЕНИЕ": true,
	"ОБЛ": true, "ОБЛАСТЬ": true,
	"РФ": true, "РОССИЯ": true,
	"МУНИЦИПАЛЬНЫЙ": true, "ОКРУГ": true,
	"ТЕР": true, "ВН": true, "ВНУТР": true,
}

var (
	nonWord = regexp.MustCompile(`[^A-ZА-ЯЁ0-9]+`)
	// a city marker must not be the tail of another word ("Волгоград, ...")
	cityMarker  = regexp.MustCompile(`(?:^|[^А-ЯЁа-яёA-Za-z0-9])(?:г\.?|город)\s*([А-ЯЁA-Z][А-ЯЁа-яёA-Za-z\-]+)`)
	leadingCity = regexp.MustCompile(`^\s*([А-ЯЁA-Z][А-ЯЁа-яёA-Za-z\-]+)\s*,`)
)

// Store persists directory entries. Upsert inserts a new entry with a count of one,
// or increments the count of the existing entry and returns it unchanged otherwise.
type Store interface {
	Upsert(ctx context.Context, key, canonicalName, city string) (*models.BaseEntry, error)
	Get(ctx context.Context, key string) (*models.BaseEntry, error)
}

// DeriveKey normalizes a (name, address) pair into a stable lookup key.
func DeriveKey(name, address string) string {
	s := strings.ToUpper(strings.TrimSpace(name) + " " + strings.TrimSpace(address))
	s = strings.TrimSpace(nonWord.ReplaceAllString(s, " "))

	tokens := make([]string, 0, 8)
	for _, tok := range strings.Fields(s) {
		if stopwords[tok] || len([]rune(tok)) < 3 {
			continue
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return truncate(s, maxKeyLen)
	}
	return truncate(strings.Join(tokens, " "), maxKeyLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ExtractCity finds a city in an address: a "г."/"город" marker first, then a leading
// capitalized token followed by a comma. It returns "" when neither matches.
func ExtractCity(address string) string {
	a := strings.TrimSpace(address)
	if a == "" {
		return ""
	}
	if m := cityMarker.FindStringSubmatch(a); m != nil {
		return m[1]
	}
	if m := leadingCity.FindStringSubmatch(a); m != nil {
		return m[1]
	}
	return ""
}

// Directory is the auto-built canonical loading base lookup.
type Directory struct {
	store  Store
	logger logger.Logger
}

func NewDirectory(store Store, log logger.Logger) *Directory {
	return &Directory{store: store, logger: log.Named("basedir")}
}

// Resolve returns the canonical name and city for a (name, address) pair,
// recording the sighting. The first-seen name and city win for a key.
func (d *Directory) Resolve(ctx context.Context, name, address string) (string, string, error) {
	name, address = strings.TrimSpace(name), strings.TrimSpace(address)
	if name == "" && address == "" {
		return "", "", nil
	}

	key := DeriveKey(name, address)
	if key == "" {
		return name, ExtractCity(address), nil
	}
	canonical := name
	if canonical == "" {
		canonical = Placeholder
	}

	entry, err := d.store.Upsert(ctx, key, canonical, ExtractCity(address))
	if err != nil {
		return "", "", fmt.Errorf("failed to upsert base %q: %w", key, err)
	}
	d.logger.Debug("base resolved",
		logger.String("base_key", key),
		logger.String("canonical", entry.CanonicalName),
		logger.Int64("examples", entry.ExamplesCount),
	)
	return entry.CanonicalName, entry.City, nil
}
