package forms

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
)

// Category is the kind of value a field expects.
type Category string

const (
	CategoryPhone    Category = "phone"
	CategoryEmail    Category = "email"
	CategoryPassword Category = "password"
	CategoryName     Category = "name"
	CategoryNumeric  Category = "numeric"
	CategoryText     Category = "text"
)

var (
	numericHint = regexp.MustCompile(`(^|[^a-z])(age|zip|postal|pin|otp|code|qty|quantity|amount|number|count|year)`)
	telHint     = regexp.MustCompile(`(^|[^a-z])tel`)
)

// Classify infers a field's category from its type, name and id.
func Classify(f Field) Category {
	typ := strings.ToLower(f.Type)
	ident := strings.ToLower(f.Name + " " + f.ID)

	switch {
	case typ == "email" || strings.Contains(ident, "email") || strings.Contains(ident, "mail"):
		return CategoryEmail
	case typ == "password" || strings.Contains(ident, "pass"):
		return CategoryPassword
	case typ == "tel" || strings.Contains(ident, "phone") || strings.Contains(ident, "mobile") || telHint.MatchString(ident):
		return CategoryPhone
	case typ == "number" || typ == "range" || numericHint.MatchString(ident):
		return CategoryNumeric
	case strings.Contains(ident, "name") || strings.Contains(ident, "user") || strings.Contains(ident, "login"):
		return CategoryName
	}
	return CategoryText
}

// Pool is a set of synthetic values, one per category.
type Pool map[Category]string

// NewPool generates a pool. A zero seed picks a random one.
func NewPool(seed int64) Pool {
	f := gofakeit.New(seed)
	return Pool{
		CategoryPhone:    f.Numerify("9#########"),
		CategoryEmail:    strings.ToLower(f.Email()),
		CategoryPassword: f.Password(true, true, true, true, false, 14),
		CategoryName:     f.Name(),
		CategoryNumeric:  strconv.Itoa(f.Number(1, 999)),
		CategoryText:     f.Sentence(4),
	}
}

// Values resolves the value typed into each field.
type Values struct {
	custom    map[string]string
	synthetic bool
	fallback  string
	seed      int64
}

// NewValues builds a resolver. Custom keys are matched case-insensitively
// against field names and ids.
func NewValues(custom map[string]string, synthetic bool, fallback string) *Values {
	m := make(map[string]string, len(custom))
	for k, v := range custom {
		m[strings.ToLower(k)] = v
	}
	if fallback == "" {
		fallback = DefaultFallbackValue
	}
	return &Values{custom: m, synthetic: synthetic, fallback: fallback}
}

// NewPool returns the pool for one processing call, or nil when synthetic
// data is off.
func (v *Values) NewPool() Pool {
	if !v.synthetic {
		return nil
	}
	return NewPool(v.seed)
}

// Resolve picks the value for f: custom value, then pool, then fallback.
func (v *Values) Resolve(f Field, pool Pool) string {
	if f.Name != "" {
		if val, ok := v.custom[strings.ToLower(f.Name)]; ok {
			return val
		}
	}
	if f.ID != "" {
		if val, ok := v.custom[strings.ToLower(f.ID)]; ok {
			return val
		}
	}
	if pool != nil {
		if val, ok := pool[Classify(f)]; ok {
			return val
		}
	}
	return v.fallback
}
