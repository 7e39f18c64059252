package risk

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const countryBonus = 0.02

// normalizeName folds case and diacritics, drops punctuation and sorts the
// tokens, so "Smith, John" and "JOHN SMITH" compare equal.
func normalizeName(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// "O'Brien" and "OBrien" must match; hyphens separate tokens.
			if r == '-' || r == '/' {
				b.WriteRune(' ')
			}
		}
	}
	tokens := strings.Fields(b.String())
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// jaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1].
func jaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
	}

	matchDistance := max(la, lb)/2 - 1
	matchDistance = max(matchDistance, 0)
	matchedA := make([]bool, la)
	matchedB := make([]bool, lb)

	matches := 0
	for i := range ra {
		lo := max(0, i-matchDistance)
		hi := min(lb, i+matchDistance+1)
		for j := lo; j < hi; j++ {
			if matchedB[j] || ra[i] != rb[j] {
				continue
			}
			matchedA[i], matchedB[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range ra {
		if !matchedA[i] {
			continue
		}
		for !matchedB[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	jaro := (m/float64(la) + m/float64(lb) + (m-float64(transpositions)/2)/m) / 3

	prefix := 0
	for i := 0; i < min(4, la, lb) && ra[i] == rb[i]; i++ {
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

type screenResult struct {
	similarity float64
	list       string
	decision   Decision
}

// screen finds the best match of name across all loaded entries. Bands
// compare with >=, so a similarity on a boundary takes the stricter class.
func screen(ref *ReferenceData, name, country string) screenResult {
	target := normalizeName(name)
	country = strings.ToUpper(strings.TrimSpace(country))

	best := screenResult{decision: DecisionClear}
	for _, e := range ref.entries {
		sim := jaroWinkler(target, e.normalized)
		if country != "" && e.country == country {
			sim = math.Min(1, sim+countryBonus)
		}
		if sim > best.similarity {
			best.similarity = sim
			best.list = e.list
		}
	}

	s := ref.Screening
	switch {
	case best.similarity >= s.BlockThreshold:
		best.decision = DecisionBlock
	case best.similarity >= s.ReviewThreshold:
		best.decision = DecisionReview
	}
	return best
}

// screeningScore maps a similarity onto the band of its decision:
// clear 0-39, review 70-89, block 90-100.
func screeningScore(ref *ReferenceData, r screenResult) int {
	s := ref.Screening
	switch r.decision {
	case DecisionBlock:
		return 90 + scale(r.similarity, s.BlockThreshold, 1, 10)
	case DecisionReview:
		return 70 + scale(r.similarity, s.ReviewThreshold, s.BlockThreshold, 19)
	default:
		return scale(r.similarity, 0, s.ReviewThreshold, 39)
	}
}

// scale maps v in [lo, hi) onto 0..span, clamped.
func scale(v, lo, hi float64, span int) int {
	if hi <= lo {
		return span
	}
	f := (v - lo) / (hi - lo)
	n := int(math.Floor(f * float64(span+1)))
	return min(max(n, 0), span)
}
