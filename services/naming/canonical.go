// Package naming turns order attributes into canonical CAD filenames.
package naming

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"slsdispatch/pkg/metrics"
	"slsdispatch/services/fleet"
)

const (
	// Extension is appended to every canonical filename.
	Extension = ".3dm"
	separator = "_"
)

// Attributes are the order fields that make up a filename, in filename order.
type Attributes struct {
	Category string   `json:"category"`
	Design   string   `json:"design,omitempty"`
	Stone    string   `json:"stone,omitempty"`
	Metal    string   `json:"metal"`
	Size     *float64 `json:"size,omitempty"`
}

// Validate checks the mandatory attributes.
func (a Attributes) Validate() error {
	if strings.TrimSpace(a.Category) == "" {
		return fmt.Errorf("%w: category is required", fleet.ErrValidation)
	}
	if strings.TrimSpace(a.Metal) == "" {
		return fmt.Errorf("%w: metal is required", fleet.ErrValidation)
	}
	if a.Size != nil && *a.Size < 0 {
		return fmt.Errorf("%w: size must not be negative", fleet.ErrValidation)
	}
	return nil
}

// Canonicalizer maps attributes through cached rule tables. Reads are lock
// free; Reload swaps the whole rule set.
type Canonicalizer struct {
	rules  atomic.Pointer[RuleSet]
	loader Loader
	log    zerolog.Logger
}

// New loads the rules once and returns a ready Canonicalizer.
func New(ctx context.Context, loader Loader, logger zerolog.Logger) (*Canonicalizer, error) {
	if loader == nil {
		loader = BaselineLoader{}
	}
	c := &Canonicalizer{
		loader: loader,
		log:    logger.With().Str("component", "naming").Logger(),
	}
	if _, err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewWithRules returns a Canonicalizer over a fixed rule set.
func NewWithRules(rs *RuleSet) *Canonicalizer {
	c := &Canonicalizer{loader: staticLoader{rs}, log: zerolog.Nop()}
	c.rules.Store(rs)
	return c
}

// Reload re-reads the rule sources. On failure the previous rules stay active.
func (c *Canonicalizer) Reload(ctx context.Context) (map[Bucket]int, error) {
	rs, err := c.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	c.rules.Store(rs)

	counts := rs.Counts()
	ev := c.log.Info()
	for _, b := range sortedBuckets(counts) {
		metrics.RuleEntries.WithLabelValues(string(b)).Set(float64(counts[b]))
		ev = ev.Int(string(b), counts[b])
	}
	ev.Msg("filename rules loaded")
	return counts, nil
}

// Rules returns the active rule set.
func (c *Canonicalizer) Rules() *RuleSet {
	return c.rules.Load()
}

// Canonicalize builds the filename for a. Empty attributes are skipped.
func (c *Canonicalizer) Canonicalize(a Attributes) string {
	rs := c.rules.Load()
	parts := make([]string, 0, 5)
	for _, field := range []struct {
		bucket Bucket
		value  string
	}{
		{BucketCategory, a.Category},
		{BucketDesign, a.Design},
		{BucketStone, a.Stone},
		{BucketMetal, a.Metal},
	} {
		if code := Code(rs, field.bucket, field.value); code != "" {
			parts = append(parts, code)
		}
	}
	if a.Size != nil && *a.Size > 0 {
		parts = append(parts, FormatSize(*a.Size))
	}
	return strings.Join(parts, separator) + Extension
}

// Code resolves one attribute value to its short code.
func Code(rs *RuleSet, bucket Bucket, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if code, ok := rs.Table(bucket).Lookup(value); ok {
		return code
	}
	if bucket == BucketMetal {
		return metalHeuristic(value)
	}
	return prefix(strings.ToLower(value), 3)
}

func metalHeuristic(value string) string {
	v := strings.ToLower(value)
	v = strings.ReplaceAll(v, " ", "")
	return strings.ReplaceAll(v, "gold", "g")
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// FormatSize renders a ring size the way filenames carry it: 6.5 → "6_5", 7 → "7_0".
func FormatSize(size float64) string {
	s := strconv.FormatFloat(size, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return strings.ReplaceAll(s, ".", separator)
}

// StripExtension removes the canonical extension, case-insensitively.
func StripExtension(name string) string {
	if len(name) >= len(Extension) && strings.EqualFold(name[len(name)-len(Extension):], Extension) {
		return name[:len(name)-len(Extension)]
	}
	return name
}

var errNoRules = errors.New("nil rule set")

type staticLoader struct{ rs *RuleSet }

func (s staticLoader) Load(context.Context) (*RuleSet, error) {
	if s.rs == nil {
		return nil, errNoRules
	}
	return s.rs, nil
}
