package matcher

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// WRatio is a weighted similarity score in [0, 100]. It blends the plain
// ratio with token-sorted, token-set and partial comparisons, scaling the
// partial variants down as the lengths diverge.
func WRatio(a, b string) int {
	pa, pb := normalize(a), normalize(b)
	if pa == "" || pb == "" {
		return 0
	}

	best := ratio(pa, pb)
	la, lb := float64(runeLen(pa)), float64(runeLen(pb))
	lenRatio := math.Max(la, lb) / math.Min(la, lb)

	if lenRatio < 1.5 {
		best = math.Max(best, tokenSortRatio(pa, pb)*0.95)
		best = math.Max(best, tokenSetRatio(pa, pb)*0.95)
		return int(best)
	}

	scale := 0.9
	if lenRatio > 8 {
		scale = 0.6
	}
	best = math.Max(best, partialRatio(pa, pb)*scale)
	best = math.Max(best, partialRatio(sortedTokens(pa), sortedTokens(pb))*0.95*scale)
	best = math.Max(best, partialTokenSetRatio(pa, pb)*0.95*scale)
	return int(best)
}

// normalize lowercases s and turns every non-alphanumeric rune into a single space.
func normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func runeLen(s string) int {
	return len([]rune(s))
}

func ratio(a, b string) float64 {
	la, lb := runeLen(a), runeLen(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// partialRatio compares the shorter string against every equally long window
// of the longer one.
func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func tokenSortRatio(a, b string) float64 {
	return ratio(sortedTokens(a), sortedTokens(b))
}

func tokenSets(a, b string) (sect, onlyA, onlyB []string) {
	setA, setB := map[string]bool{}, map[string]bool{}
	for _, t := range strings.Fields(a) {
		setA[t] = true
	}
	for _, t := range strings.Fields(b) {
		setB[t] = true
	}
	for t := range setA {
		if setB[t] {
			sect = append(sect, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(sect)
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	return sect, onlyA, onlyB
}

func tokenSetRatio(a, b string) float64 {
	sect, onlyA, onlyB := tokenSets(a, b)
	if len(sect) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	s := strings.Join(sect, " ")
	da := strings.Join(onlyA, " ")
	db := strings.Join(onlyB, " ")
	if s == "" {
		return ratio(da, db)
	}

	combinedA := s + " " + da
	combinedB := s + " " + db
	return math.Max(ratio(s, combinedA), math.Max(ratio(s, combinedB), ratio(combinedA, combinedB)))
}

func partialTokenSetRatio(a, b string) float64 {
	sect, onlyA, onlyB := tokenSets(a, b)
	if len(sect) > 0 {
		return 100
	}
	return partialRatio(strings.Join(onlyA, " "), strings.Join(onlyB, " "))
}
