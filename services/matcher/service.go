package matcher

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"slsdispatch/services/fleet"
	"slsdispatch/services/naming"
)

// Mode names the scoring strategy used for a suggestion list.
type Mode string

const (
	ModeSimilarity  Mode = "similarity"
	ModePositional  Mode = "positional"
	ModePlaceholder Mode = "placeholder"
)

// Service picks a scoring mode from the configured collaborators and enriches
// the results with download links.
type Service struct {
	searcher Searcher
	corpus   Corpus
	links    LinkResolver
	log      zerolog.Logger
}

// Config wires the collaborators. Any of them may be nil.
type Config struct {
	Searcher Searcher
	Corpus   Corpus
	Links    LinkResolver
}

// NewService builds a Service.
func NewService(cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		searcher: cfg.Searcher,
		corpus:   cfg.Corpus,
		links:    cfg.Links,
		log:      logger.With().Str("component", "matcher").Logger(),
	}
}

// Suggest returns scored suggestions for filename. It never fails: search
// errors and missing collaborators degrade to fewer or placeholder results.
func (s *Service) Suggest(ctx context.Context, filename string) ([]Match, Mode) {
	var (
		matches []Match
		mode    Mode
	)
	switch {
	case s.searcher != nil:
		mode = ModeSimilarity
		matches = ScoreSimilarity(filename, s.search(ctx, filename))
	case s.corpus != nil:
		mode = ModePositional
		entries, err := s.corpus.Entries(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("corpus unavailable")
		}
		matches = ScorePositional(filename, entries)
		if len(matches) == 0 {
			s.log.Debug().Int("corpus", len(entries)).Str("filename", filename).Msg("no positional matches")
		}
	default:
		mode = ModePlaceholder
		s.log.Debug().Err(fleet.ErrConfiguration).Msg("no archive configured")
		matches = []Match{Placeholder(filename)}
	}

	s.enrich(ctx, matches)
	return matches, mode
}

// search runs the exact query and the category+design prefix query.
func (s *Service) search(ctx context.Context, filename string) []Entry {
	var out []Entry
	for _, q := range Queries(filename) {
		found, err := s.searcher.Search(ctx, q)
		if err != nil {
			s.log.Warn().Err(err).Str("query", q).Msg("archive search failed")
			continue
		}
		out = append(out, found...)
	}
	return out
}

// Queries returns the search terms for filename: the name itself and the
// prefix made of its first two parts.
func Queries(filename string) []string {
	queries := []string{filename}
	p := strings.Split(naming.StripExtension(filename), "_")
	if len(p) > 2 {
		p = p[:2]
	}
	if prefix := strings.Join(p, "_"); prefix != "" && prefix != filename {
		queries = append(queries, prefix)
	}
	return queries
}

// enrich attaches temp links after scoring; failures leave the link empty.
func (s *Service) enrich(ctx context.Context, matches []Match) {
	if s.links == nil {
		return
	}
	for i := range matches {
		if matches[i].Path == "" || matches[i].Path == PlaceholderPath {
			continue
		}
		link, err := s.links.TempLink(ctx, matches[i].Path)
		if err != nil {
			s.log.Debug().Err(err).Str("path", matches[i].Path).Msg("temp link unavailable")
			continue
		}
		matches[i].TempLink = link
	}
}
