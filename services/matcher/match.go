// Package matcher scores a canonical filename against the archive of existing
// CAD files.
package matcher

import (
	"sort"
	"strings"

	"slsdispatch/services/naming"
)

const (
	// PositionalLimit caps positional results.
	PositionalLimit = 10
	// SimilarityLimit caps similarity results.
	SimilarityLimit = 3
	// PlaceholderPath marks the synthetic "start a new file" suggestion.
	PlaceholderPath = "/new"

	positionalHit   = 20
	presentHit      = 10
	equalLengthBump = 5
)

// Entry is one archived file.
type Entry struct {
	Filename string
	Path     string
	Size     int64
}

// Match is a scored suggestion.
type Match struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Score    int    `json:"score"`
	TempLink string `json:"temp_link,omitempty"`
}

// Placeholder is returned when similarity search finds nothing.
func Placeholder(target string) Match {
	return Match{Filename: target, Path: PlaceholderPath, Size: 0, Score: 0}
}

func parts(name string) []string {
	return strings.Split(naming.StripExtension(name), "_")
}

// PositionalScore scores one candidate: +20 per target part at the same index,
// +10 per part present elsewhere, +5 when both have the same number of parts.
func PositionalScore(target, candidate string) int {
	tp, cp := parts(target), parts(candidate)
	score := 0
	for i, p := range tp {
		switch {
		case i < len(cp) && cp[i] == p:
			score += positionalHit
		case contains(cp, p):
			score += presentHit
		}
	}
	if len(tp) == len(cp) {
		score += equalLengthBump
	}
	return score
}

// ScorePositional ranks the corpus against target. Candidates scoring zero are
// dropped; ties keep corpus order.
func ScorePositional(target string, corpus []Entry) []Match {
	var out []Match
	for _, e := range corpus {
		score := PositionalScore(target, e.Filename)
		if score <= 0 {
			continue
		}
		out = append(out, Match{Filename: e.Filename, Path: e.Path, Size: e.Size, Score: score})
	}
	sortMatches(out)
	if len(out) > PositionalLimit {
		out = out[:PositionalLimit]
	}
	return out
}

// ScoreSimilarity de-duplicates candidates by path and ranks them by weighted
// ratio. An empty candidate set yields the placeholder.
func ScoreSimilarity(target string, candidates []Entry) []Match {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Match, 0, len(candidates))
	for _, e := range candidates {
		key := e.Path
		if key == "" {
			key = e.Filename
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Match{
			Filename: e.Filename,
			Path:     e.Path,
			Size:     e.Size,
			Score:    WRatio(target, e.Filename),
		})
	}
	if len(out) == 0 {
		return []Match{Placeholder(target)}
	}
	sortMatches(out)
	if len(out) > SimilarityLimit {
		out = out[:SimilarityLimit]
	}
	return out
}

func sortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool { return m[i].Score > m[j].Score })
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
