// Package identity canonicalizes the (set_code, number, lang) triple that
// keys every catalog row and queue item. Normalization must run before any
// uniqueness check or external fetch so the same logical card never produces
// two distinct queue items or catalog rows.
package identity

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/grookai/vault-engine/internal/model"
)

// setAlias is one provider aliasing rule: a legacy set code combined with a
// number prefix remaps to a different canonical set code.
type setAlias struct {
	setCodes     []string
	numberPrefix string
	canonical    string
}

// Known provider aliasing. The "me" subset with RC-numbered cards is the
// Radiant Collection, which catalog providers file under g1.
var setAliases = []setAlias{
	{setCodes: []string{"me", "me01", "me1"}, numberPrefix: "rc", canonical: "g1"},
}

// NormalizeSetCode resolves known provider set-code aliasing. The number is
// required because some aliases only apply to a number prefix. Unmatched
// input is returned unchanged, case preserved.
func NormalizeSetCode(setCode, number string) string {
	s := strings.ToLower(strings.TrimSpace(setCode))
	n := strings.ToLower(strings.TrimSpace(number))
	for _, a := range setAliases {
		for _, code := range a.setCodes {
			if s == code && strings.HasPrefix(n, a.numberPrefix) {
				return a.canonical
			}
		}
	}
	return setCode
}

// NumberVariants holds the spellings of a card number that providers use
// interchangeably. Lookups try each variant against the stored number.
type NumberVariants struct {
	Raw     string // lowercased, stripped of separators: "025a" -> "025a"
	Pad3    string // numeric core zero-padded to 3: "25a" -> "025a"
	IntLike string // numeric core without padding: "025a" -> "25a"
}

// NormalizeNumber derives the variant spellings of a card number. The part
// after "/" (the set total) is discarded.
func NormalizeNumber(number string) NumberVariants {
	left := strings.TrimSpace(strings.SplitN(number, "/", 2)[0])
	var core strings.Builder
	for _, r := range strings.ToLower(left) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			core.WriteRune(r)
		}
	}
	raw := core.String()

	digits, suffix := splitNumericCore(raw)
	if digits == "" {
		return NumberVariants{Raw: raw, Pad3: raw, IntLike: raw}
	}

	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	pad3 := trimmed
	for len(pad3) < 3 {
		pad3 = "0" + pad3
	}
	return NumberVariants{
		Raw:     raw,
		Pad3:    pad3 + suffix,
		IntLike: trimmed + suffix,
	}
}

// splitNumericCore splits "25a" into ("25", "a"). Returns empty digits when
// the value does not start with a digit run.
func splitNumericCore(s string) (digits, suffix string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return "", s
	}
	return s[:i], s[i:]
}

// NormalizeLang canonicalizes a language code, defaulting to "en". Parseable
// tags are reduced to their base language; anything else falls back to the
// trimmed lowercase input.
func NormalizeLang(lang string) string {
	v := strings.ToLower(strings.TrimSpace(lang))
	if v == "" {
		return "en"
	}
	tag, err := language.Parse(v)
	if err != nil {
		return v
	}
	base, conf := tag.Base()
	if conf == language.No {
		return v
	}
	return base.String()
}

// Normalize canonicalizes a full identity triple.
func Normalize(setCode, number, lang string) model.Identity {
	return model.Identity{
		SetCode: NormalizeSetCode(setCode, number),
		Number:  strings.TrimSpace(number),
		Lang:    NormalizeLang(lang),
	}
}
