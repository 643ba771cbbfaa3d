// Package scan ranks card identification candidates. A candidate carries an
// embedding-similarity score plus hint matches extracted from the scanned
// image (collector number, name, language); scoring fuses them into a single
// confidence the way the price engine fuses sources.
package scan

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grookai/vault-engine/internal/identity"
)

// Fusion weights for the confidence score. The strict promotion rewards an
// exact (number, language) match on top of its weight since that pair almost
// uniquely identifies a print.
const (
	embeddingWeight   = 0.70
	numberMatchWeight = 0.25
	nameMatchWeight   = 0.05
	strictPromotion   = 0.08
)

// maxAlternatives bounds the runners-up returned beside the best match.
const maxAlternatives = 3

// ErrNoCandidates indicates an empty candidate set.
var ErrNoCandidates = eris.New("scan: no candidates")

// Candidate is one catalog print under consideration, with its
// embedding-similarity score and hint-match flags already evaluated.
type Candidate struct {
	CardID  string `json:"card_id"`
	SetCode string `json:"set_code"`
	Number  string `json:"number"`
	Lang    string `json:"lang"`
	Name    string `json:"name"`

	// Embedding is the image-similarity score in [0,1].
	Embedding float64 `json:"embedding"`
	// NumberLangMatch holds when the candidate's collector number and
	// language both exactly match the scan hints.
	NumberLangMatch bool `json:"number_lang_match"`
	// NameLangMatch holds when the scanned name text appears in the
	// candidate's name for the hinted language.
	NameLangMatch bool `json:"name_lang_match"`
}

// Match is a scored candidate.
type Match struct {
	Candidate
	Confidence float64 `json:"confidence"`
}

// Result is the ranked outcome of one identification.
type Result struct {
	Best         Match   `json:"best"`
	Alternatives []Match `json:"alternatives,omitempty"`
}

// Score fuses a candidate's evidence into a confidence in [0,1].
func Score(c Candidate) float64 {
	s := embeddingWeight * clamp01(c.Embedding)
	if c.NumberLangMatch {
		s += numberMatchWeight + strictPromotion
	}
	if c.NameLangMatch {
		s += nameMatchWeight
	}
	return clamp01(s)
}

// Rank scores and sorts the candidates, returning the best match and up to
// three runners-up.
func Rank(candidates []Candidate) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, Match{Candidate: c, Confidence: Score(c)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Embedding > matches[j].Embedding
	})

	res := Result{Best: matches[0]}
	rest := matches[1:]
	if len(rest) > maxAlternatives {
		rest = rest[:maxAlternatives]
	}
	if len(rest) > 0 {
		res.Alternatives = rest
	}
	return res, nil
}

// NumberLangMatches reports whether the candidate's number and language both
// match the hints. Any spelling variant of the hinted number counts.
func NumberLangMatches(number, lang, numberHint, langHint string) bool {
	if numberHint == "" || langHint == "" {
		return false
	}
	if identity.NormalizeLang(lang) != identity.NormalizeLang(langHint) {
		return false
	}
	have := identity.NormalizeNumber(number)
	want := identity.NormalizeNumber(numberHint)
	return have.Raw == want.Raw || have.Pad3 == want.Pad3 || have.IntLike == want.IntLike
}

// NameLangMatches reports whether the hinted name text appears in the
// candidate's name, case-insensitive, for the hinted language.
func NameLangMatches(name, lang, nameHint, langHint string) bool {
	if nameHint == "" {
		return false
	}
	if langHint != "" && identity.NormalizeLang(lang) != identity.NormalizeLang(langHint) {
		return false
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(strings.TrimSpace(nameHint)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
