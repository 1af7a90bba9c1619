package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidParam marks a missing or malformed request parameter.
var ErrInvalidParam = errors.New("invalid parameter")

// CanonicalKeyPattern defines the stored canonical key format: lowercase
// ASCII alphanumerics separated by single underscores.
var CanonicalKeyPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

var keySeparators = regexp.MustCompile(`[^a-z0-9]+`)

// Bounds for batch and query sizes.
const (
	MinBatchLimit     = 1
	MaxBatchLimit     = 500
	DefaultBatchLimit = 100

	MaxCanonicalKeyLen = 100
)

// NormalizeCanonicalKey lowercases a classifier-proposed key and collapses
// every run of non-alphanumeric characters into one underscore. Diacritics
// are folded so "Café" and "cafe" share a key. Returns "" when
// nothing usable remains.
func NormalizeCanonicalKey(key string) string {
	key = foldDiacritics(strings.ToLower(strings.TrimSpace(key)))
	key = keySeparators.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if len(key) > MaxCanonicalKeyLen {
		key = strings.TrimRight(key[:MaxCanonicalKeyLen], "_")
	}
	return key
}

// ValidateCanonicalKey checks a key is already in normalized form.
func ValidateCanonicalKey(key string) bool {
	if key == "" || len(key) > MaxCanonicalKeyLen {
		return false
	}
	return CanonicalKeyPattern.MatchString(key)
}

// NormalizeDisplayName trims and collapses whitespace.
func NormalizeDisplayName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// foldDiacritics strips combining marks after canonical decomposition and
// maps the Latin letters that have no decomposition to their base letters.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return latinLigatures.Replace(folded)
}

var latinLigatures = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "œ", "oe", "ø", "o", "ł", "l", "đ", "d", "ð", "d", "þ", "th", "ı", "i",
)

// ClampLimit bounds n to [min, max], substituting def when n is not positive.
func ClampLimit(n, def, min, max int) int {
	if n <= 0 {
		n = def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// ParseLimit parses an optional integer query parameter and clamps it.
func ParseLimit(raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ClampLimit(def, def, min, max), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit %q is not an integer", ErrInvalidParam, raw)
	}
	return ClampLimit(n, def, min, max), nil
}

// ParseCount is ParseLimit for values where zero is meaningful: an empty
// value selects def, negatives become zero and the result is capped at max.
func ParseCount(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	n := def
	if raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidParam, raw)
		}
		n = v
	}
	if n < 0 {
		return 0, nil
	}
	if n > max {
		return max, nil
	}
	return n, nil
}

// ParseUUID parses a required identifier.
func ParseUUID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", ErrInvalidParam, field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", ErrInvalidParam, field)
	}
	return id, nil
}

// ParseOptionalUUID parses an identifier that may be omitted.
func ParseOptionalUUID(field, raw string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := ParseUUID(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ParseOptionalTime accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func ParseOptionalTime(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", ErrInvalidParam, field)
}

// ParseBool accepts the usual truthy spellings; anything else is false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
